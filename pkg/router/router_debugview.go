//go:build debugview

package router

import (
	"net/http"

	"github.com/Mindburn-Labs/enclave/pkg/api"
	"github.com/Mindburn-Labs/enclave/pkg/errs"
)

// registerDebugRoutes wires GET /view_data only in builds tagged
// debugview. spec.md §4.7 requires this route be "compiled out or gated
// behind a build flag for production"; several of the reference sources
// mark it for removal entirely, so the default build (no tag) omits it.
func registerDebugRoutes(r *Router) {
	r.mux.HandleFunc("GET /view_data", r.handleViewData)
}

func (r *Router) handleViewData(w http.ResponseWriter, req *http.Request) {
	poolID := req.URL.Query().Get("pool_id")
	if poolID == "" {
		api.WriteErrorKind(w, http.StatusBadRequest, string(errs.Format), "pool_id is required")
		return
	}

	pool, err := r.eng.ViewPool(req.Context(), poolID)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

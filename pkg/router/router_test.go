package router_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/enclave/pkg/artifacts"
	"github.com/Mindburn-Labs/enclave/pkg/drt"
	"github.com/Mindburn-Labs/enclave/pkg/engine"
	"github.com/Mindburn-Labs/enclave/pkg/poolstore"
	"github.com/Mindburn-Labs/enclave/pkg/router"
	"github.com/Mindburn-Labs/enclave/pkg/sealing"
)

// testHarness wires a full Engine + Router over an httptest.Server,
// fronted by an artifact origin server the Fetcher is pointed at via
// UseClientForTest (the same pattern pkg/artifacts' own tests use so the
// origin's self-signed certificate is trusted). NewFetcher still reads the
// host's system trust store; the harness skips the test when it is missing.
type testHarness struct {
	srv     *httptest.Server
	authz   *drt.StubAuthorizer
	fetcher *artifacts.Fetcher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	root, err := sealing.NewRoot([]byte("0123456789abcdef"))
	require.NoError(t, err)
	sealer := sealing.NewCore(root)

	pools, err := poolstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fetcher, err := artifacts.NewFetcher(t.TempDir())
	if err != nil {
		t.Skipf("system trust store unavailable in this environment: %v", err)
	}

	authz := drt.NewStubAuthorizer()
	eng := engine.New(sealer, pools, fetcher, authz)

	srv := httptest.NewServer(router.New(eng))
	t.Cleanup(srv.Close)

	return &testHarness{srv: srv, authz: authz, fetcher: fetcher}
}

// withOrigin starts a TLS origin serving body and points the harness's
// Fetcher at its certificate, the same way pkg/artifacts' own tests do.
func (h *testHarness) withOrigin(t *testing.T, body []byte) string {
	t.Helper()
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(origin.Close)
	h.fetcher.UseClientForTest(origin.Client())
	return origin.URL
}

func (h *testHarness) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreatePoolRequiresAuthorization(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, "/create_data_pool", map[string]any{
		"pool_id": "p1",
		"data":    map[string]any{"A": []float64{1, 2, 3}},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem map[string]any
	decodeBody(t, resp, &problem)
	assert.Equal(t, "authorization", problem["error_kind"])
}

func TestCreateThenAppend(t *testing.T) {
	h := newHarness(t)
	h.authz.Grant("p1", drt.Append, 2)

	schema := map[string]any{
		"properties": map[string]any{
			"A": map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
		},
	}

	createResp := h.post(t, "/create_data_pool", map[string]any{
		"pool_id":     "p1",
		"data":        map[string]any{"A": []float64{1, 2, 3}},
		"json_schema": schema,
	})
	require.Equal(t, http.StatusOK, createResp.StatusCode)

	appendResp := h.post(t, "/append_data", map[string]any{
		"pool_id":     "p1",
		"data":        map[string]any{"A": []float64{4, 5}},
		"json_schema": schema,
	})
	assert.Equal(t, http.StatusOK, appendResp.StatusCode)
}

// TestAppendDataRejectsIncompatibleSchema exercises the append_data
// schema-compatibility gate end to end: a pool created with a recorded
// schema rejects an append carrying a structurally different one with a
// 400 problem whose error_kind is "format".
func TestAppendDataRejectsIncompatibleSchema(t *testing.T) {
	h := newHarness(t)
	h.authz.Grant("p1", drt.Append, 2)

	createResp := h.post(t, "/create_data_pool", map[string]any{
		"pool_id": "p1",
		"data":    map[string]any{"A": []float64{1, 2}},
		"json_schema": map[string]any{
			"properties": map[string]any{
				"A": map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
			},
		},
	})
	require.Equal(t, http.StatusOK, createResp.StatusCode)

	appendResp := h.post(t, "/append_data", map[string]any{
		"pool_id": "p1",
		"data":    map[string]any{"A": []string{"x"}},
		"json_schema": map[string]any{
			"properties": map[string]any{
				"A": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, appendResp.StatusCode)

	var problem map[string]any
	decodeBody(t, appendResp, &problem)
	assert.Equal(t, "format", problem["error_kind"])
}

func TestCreatePoolRejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.authz.Grant("p1", drt.Append, 2)

	body := map[string]any{"pool_id": "p1", "data": map[string]any{"A": []float64{1}}}
	first := h.post(t, "/create_data_pool", body)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := h.post(t, "/create_data_pool", body)
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)
}

func TestExecuteWasmHashMismatch(t *testing.T) {
	h := newHarness(t)
	h.authz.Grant("p1", drt.Append, 1)
	h.authz.Grant("p1", drt.WasmAggregate, 1)

	h.post(t, "/create_data_pool", map[string]any{
		"pool_id": "p1",
		"data":    map[string]any{"A": []float64{1, 2, 3}},
	})

	moduleURL := h.withOrigin(t, buildModuleWithFunc(successModuleBody([]byte(`{"A":1}`))))
	wrongSum := sha256.Sum256([]byte("not the module bytes"))

	resp := h.post(t, "/execute_wasm", map[string]any{
		"pool_id":       "p1",
		"github_url":    moduleURL,
		"expected_hash": hex.EncodeToString(wrongSum[:]),
		"json_schema":   map[string]any{},
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var problem map[string]any
	decodeBody(t, resp, &problem)
	assert.Equal(t, "integrity_verification", problem["error_kind"])
}

func TestExecuteWasmAggregates(t *testing.T) {
	h := newHarness(t)
	h.authz.Grant("p1", drt.Append, 1)
	h.authz.Grant("p1", drt.WasmAggregate, 1)

	h.post(t, "/create_data_pool", map[string]any{
		"pool_id": "p1",
		"data":    map[string]any{"A": []float64{1, 2, 3}},
	})

	payload := []byte(`{"A":{"Average":2.0}}`)
	moduleBytes := buildModuleWithFunc(successModuleBody(payload))
	sum := sha256.Sum256(moduleBytes)
	moduleURL := h.withOrigin(t, moduleBytes)

	resp := h.post(t, "/execute_wasm", map[string]any{
		"pool_id":       "p1",
		"github_url":    moduleURL,
		"expected_hash": hex.EncodeToString(sum[:]),
		"json_schema": map[string]any{
			"properties": map[string]any{
				"A": map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
			},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var aggregate map[string]any
	decodeBody(t, resp, &aggregate)
	inner := aggregate["A"].(map[string]any)
	assert.Equal(t, float64(2), inner["Average"])
}

func TestExecuteScriptWrongKindUnauthorized(t *testing.T) {
	h := newHarness(t)
	h.authz.Grant("p1", drt.Append, 1)
	// No ScriptAggregate grant: the DRT kind must match the operation.

	h.post(t, "/create_data_pool", map[string]any{
		"pool_id": "p1",
		"data":    map[string]any{"A": []float64{1}},
	})

	resp := h.post(t, "/execute_python", map[string]any{
		"pool_id":       "p1",
		"github_url":    "https://example.invalid/script.js",
		"expected_hash": "0000000000000000000000000000000000000000000000000000000000000000",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

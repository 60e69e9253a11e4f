//go:build !debugview

package router

// registerDebugRoutes is a no-op in the default build: /view_data does
// not exist unless the binary is built with -tags debugview.
func registerDebugRoutes(r *Router) {}

// Package handlers contains reusable HTTP building blocks for the API server:
// the composite health checker and generic middleware.
//
// # Health Checks
//
// Checks run in parallel, each under its own timeout. A failing required
// check marks the service unhealthy and not ready; a failing optional check
// only marks it degraded:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(db))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
// Middleware share the func(http.Handler) http.Handler shape and compose
// with Chain:
//
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(1<<20),
//	)
package handlers

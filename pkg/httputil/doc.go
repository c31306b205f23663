// Package httputil provides the JSON request and response helpers and the
// middleware shared by the gatekeeper HTTP API.
//
// Error responses carry a human-readable message and a stable code:
//
//	httputil.WriteError(w, http.StatusForbidden, "permission_denied", err.Error())
//
// Request bodies are decoded strictly:
//
//	var req AuthorizeRequest
//	if !httputil.DecodeJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Middleware:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil

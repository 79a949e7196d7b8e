// Package httputil provides HTTP helpers shared by the API and the access gate.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "limit must be positive")
//	httputil.WriteUnauthorized(w, "invalid or expired session")
//
// Every error body has the shape {"error": "..."} with optional message,
// details and request_id fields.
//
// # Requests
//
//	var req AccessCheckRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // 400 already written
//	}
//
// DecodeAndValidate runs go-playground/validator struct tags after decoding
// and reports every failing field.
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.AccessLogMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil

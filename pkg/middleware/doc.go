// Package middleware provides HTTP middleware for the velo dev server:
// Prometheus metrics and OpenTelemetry tracing.
//
// Both are plain func(http.Handler) http.Handler constructors, so they
// slot into any chi router or stdlib mux.
package middleware

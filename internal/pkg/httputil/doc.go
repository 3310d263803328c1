// Package httputil provides shared HTTP response/request utilities for the
// mailflow API handlers.
//
// Handlers use these helpers instead of raw http.ResponseWriter calls so
// every endpoint returns the same JSON envelope for errors.
package httputil

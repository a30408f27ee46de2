package middleware

import (
	"net/http"
	"strings"
)

// CaseInsensitiveMiddleware lowercases the URL path so /API/Products and
// /api/products reach the same route. Query strings are left alone, so SKU
// filters keep their case.
func CaseInsensitiveMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.ToLower(r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

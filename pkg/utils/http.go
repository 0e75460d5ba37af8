// Package utils provides common utility functions.
package utils

import (
	"net/http"
	"sort"
	"strings"
)

// HTTPHelper builds the headers every platform call carries.
type HTTPHelper struct {
	userAgent string
}

// NewHTTPHelper creates a new HTTP helper.
func NewHTTPHelper(userAgent string) *HTTPHelper {
	return &HTTPHelper{userAgent: userAgent}
}

// CookieHeader renders name=value pairs in a stable order.
func CookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}

	return strings.Join(parts, "; ")
}

// BuildHeaders creates HTTP headers with defaults. contentType may be empty
// for bodiless requests.
func (h *HTTPHelper) BuildHeaders(cookies map[string]string, contentType string) http.Header {
	headers := http.Header{}

	headers.Set("User-Agent", h.userAgent)
	headers.Set("Accept", "application/json")
	headers.Set("X-Requested-With", "XMLHttpRequest")

	if len(cookies) > 0 {
		headers.Set("Cookie", CookieHeader(cookies))
	}

	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	return headers
}

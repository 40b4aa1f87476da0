// Package transport defines the minimal request/response surface the OAuth
// flow handlers run over, decoupling them from any particular HTTP host.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
)

// Request is the read side of the adapter.
type Request interface {
	// Method returns the HTTP method.
	Method() string

	// Query returns the first query parameter value for name.
	Query(name string) string

	// FormValue returns the first form or query value for name, parsing the
	// body on demand.
	FormValue(name string) string

	// Header returns the first header value for name.
	Header(name string) string

	// Context returns the request context.
	Context() context.Context
}

// ResponseWriter is the write side of the adapter. Exactly one of WriteJSON
// or Redirect terminates a request.
type ResponseWriter interface {
	// SetHeader sets a response header. Must be called before WriteJSON or
	// Redirect.
	SetHeader(name, value string)

	// WriteJSON writes a JSON body with the given status code.
	WriteJSON(status int, body any) error

	// Redirect sends a 302 redirect to url.
	Redirect(url string) error
}

// HTTPRequest adapts a *http.Request.
type HTTPRequest struct {
	req *http.Request
}

// NewRequest wraps a *http.Request.
func NewRequest(req *http.Request) *HTTPRequest {
	return &HTTPRequest{req: req}
}

// Method returns the HTTP method.
func (r *HTTPRequest) Method() string {
	return r.req.Method
}

// Query returns the first query parameter value for name.
func (r *HTTPRequest) Query(name string) string {
	return r.req.URL.Query().Get(name)
}

// FormValue returns the first form or query value for name.
func (r *HTTPRequest) FormValue(name string) string {
	return r.req.FormValue(name)
}

// Header returns the first header value for name.
func (r *HTTPRequest) Header(name string) string {
	return r.req.Header.Get(name)
}

// Context returns the request context.
func (r *HTTPRequest) Context() context.Context {
	return r.req.Context()
}

// HTTPResponseWriter adapts an http.ResponseWriter.
type HTTPResponseWriter struct {
	w   http.ResponseWriter
	req *http.Request
}

// NewResponseWriter wraps an http.ResponseWriter. The request is needed for
// redirects.
func NewResponseWriter(w http.ResponseWriter, req *http.Request) *HTTPResponseWriter {
	return &HTTPResponseWriter{w: w, req: req}
}

// SetHeader sets a response header.
func (w *HTTPResponseWriter) SetHeader(name, value string) {
	w.w.Header().Set(name, value)
}

// WriteJSON writes a JSON body with the given status code.
func (w *HTTPResponseWriter) WriteJSON(status int, body any) error {
	w.w.Header().Set("Content-Type", "application/json")
	w.w.WriteHeader(status)
	return json.NewEncoder(w.w).Encode(body)
}

// Redirect sends a 302 redirect to url.
func (w *HTTPResponseWriter) Redirect(url string) error {
	http.Redirect(w.w, w.req, url, http.StatusFound)
	return nil
}

// Compile-time interface compliance checks
var (
	_ Request        = (*HTTPRequest)(nil)
	_ ResponseWriter = (*HTTPResponseWriter)(nil)
)

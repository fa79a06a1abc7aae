// Package strata is a composable middleware stack for HTTP services.
//
// A Stack is an ordered registry of middleware registrations that is
// mutated during application boot (Use, Prepend, InsertBefore, Swap, ...)
// and then compiled exactly once into a single Handler with Build. The
// compiled handler wraps the terminal application handler in every
// registered layer, outermost first.
package strata

import (
	"context"
	"encoding/json"
	"net/http"
)

// Handler takes context and request, returns a Response
type Handler func(ctx context.Context, r *http.Request) Response

// Response knows how to write itself to http.ResponseWriter
type Response interface {
	Write(ctx context.Context, w http.ResponseWriter) error
}

// --- Request Helpers

func DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Response implementations ---

type JSONResponse struct {
	StatusCode int
	Data       any
}

func (r JSONResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.StatusCode)
	return json.NewEncoder(w).Encode(r.Data)
}

func JSON(statusCode int, data any) Response {
	return JSONResponse{StatusCode: statusCode, Data: data}
}

func Error(data any) Response {
	return JSONResponse{StatusCode: 500, Data: data}
}

// headerResponse decorates another Response with extra headers.
type headerResponse struct {
	resp   Response
	header http.Header
}

func (r headerResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	for key, values := range r.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	return r.resp.Write(ctx, w)
}

// WithHeaders returns a Response that writes the given headers before
// delegating to resp. Middleware that needs to attach response headers
// (CORS, request IDs) uses this instead of touching the ResponseWriter.
func WithHeaders(resp Response, header http.Header) Response {
	return headerResponse{resp: resp, header: header}
}

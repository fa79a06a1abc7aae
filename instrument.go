package strata

import (
	"context"
	"net/http"
)

// EventMiddlewareCall is the event published around each middleware
// invocation when the pipeline is compiled with instrumentation. The
// payload carries the middleware name under the "middleware" key.
const EventMiddlewareCall = "middleware.call"

// Notifier is the event sink the stack reports into. Build asks Listening
// once per compile to decide whether the pipeline should be instrumented;
// Instrument must run fn exactly once, record the event (name, payload,
// timing) for subscribers, and complete that bookkeeping even when fn
// panics. The notify package provides the standard implementation.
type Notifier interface {
	Listening(event string) bool
	Instrument(event string, payload map[string]any, fn func())
}

// buildInstrumented constructs the entry's middleware and wraps it in a
// transparent shim that publishes EventMiddlewareCall around every
// invocation. The shim forwards the request, response and any panic
// unchanged; only the side-channel event differs from a plain build.
func buildInstrumented(e *Entry, next Handler, n Notifier) Handler {
	h := e.build(next)
	payload := map[string]any{"middleware": e.Name()}

	return func(ctx context.Context, r *http.Request) (resp Response) {
		n.Instrument(EventMiddlewareCall, payload, func() {
			resp = h(ctx, r)
		})
		return resp
	}
}

package strata

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Built-in middleware constructors. Each is a Constructor suitable for
// registration on a Stack; they also serve as worked examples for writing
// your own.

const requestIDKey contextKey = "requestID"

// RequestIDHeader is the response header set by the RequestID middleware.
const RequestIDHeader = "X-Request-Id"

// Logger logs one line per request with method, path and duration.
// An optional *log.Logger argument redirects output; by default the
// standard logger is used.
//
//	stack.Use(strata.Logger)
//	stack.Use(strata.Logger, myLogger)
func Logger(next Handler, args []any, block Block) Handler {
	logger := log.Default()
	if len(args) > 0 {
		logger = args[0].(*log.Logger)
	}

	return func(ctx context.Context, r *http.Request) Response {
		start := time.Now()
		resp := next(ctx, r)
		logger.Printf("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
		return resp
	}
}

// Recovery converts a panic anywhere further down the pipeline into a 500
// JSON response, so one bad request cannot take the worker down. Register
// it before (outside) anything that might panic.
func Recovery(next Handler, args []any, block Block) Handler {
	return func(ctx context.Context, r *http.Request) (resp Response) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				resp = JSON(http.StatusInternalServerError, map[string]string{
					"error": "internal server error",
				})
			}
		}()
		return next(ctx, r)
	}
}

// RequestID assigns each request a random ID, exposes it to downstream
// handlers via the context (GetRequestID) and echoes it in the
// X-Request-Id response header. An incoming X-Request-Id header is
// trusted and propagated instead of generating a new one.
func RequestID(next Handler, args []any, block Block) Handler {
	return func(ctx context.Context, r *http.Request) Response {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		ctx = context.WithValue(ctx, requestIDKey, id)

		header := http.Header{}
		header.Set(RequestIDHeader, id)
		return WithHeaders(next(ctx, r), header)
	}
}

// GetRequestID extracts the request ID assigned by the RequestID
// middleware. Returns false if the middleware is not in the pipeline.
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS config for development
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// CORS answers preflight requests and attaches CORS headers to every
// response. The config is taken from the first registration argument
// (falling back to DefaultCORSConfig); a registration Block receives a
// pointer to the effective config for last-minute adjustment.
//
//	stack.Use(strata.CORS, myCORSConfig)
//	stack.Use(strata.CORS, strata.Block(func(v any) {
//	    v.(*strata.CORSConfig).AllowCredentials = true
//	}))
func CORS(next Handler, args []any, block Block) Handler {
	cfg := DefaultCORSConfig()
	if len(args) > 0 {
		cfg = args[0].(CORSConfig)
	}
	if block != nil {
		block(&cfg)
	}

	// The non-origin headers never vary per request; compute them once.
	static := http.Header{}
	if len(cfg.AllowedMethods) > 0 {
		static.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	}
	if len(cfg.AllowedHeaders) > 0 {
		static.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
	}
	if len(cfg.ExposedHeaders) > 0 {
		static.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
	}
	if cfg.AllowCredentials {
		static.Set("Access-Control-Allow-Credentials", "true")
	}
	if cfg.MaxAge > 0 {
		static.Set("Access-Control-Max-Age", fmt.Sprintf("%d", cfg.MaxAge))
	}

	return func(ctx context.Context, r *http.Request) Response {
		header := http.Header{}
		for key, values := range static {
			header[key] = values
		}

		origin := r.Header.Get("Origin")
		for _, allowed := range cfg.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				if allowed == "*" {
					origin = "*"
				}
				header.Set("Access-Control-Allow-Origin", origin)
				break
			}
		}

		// Preflight requests short-circuit the rest of the pipeline.
		if r.Method == http.MethodOptions {
			return WithHeaders(noContentResponse{}, header)
		}

		return WithHeaders(next(ctx, r), header)
	}
}

type noContentResponse struct{}

func (noContentResponse) Write(ctx context.Context, w http.ResponseWriter) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

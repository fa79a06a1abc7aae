package strata

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Jack4Code/strata/config"
	"github.com/Jack4Code/strata/notify"
	"github.com/gorilla/mux"
)

// App interface
type App interface {
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	Routes() []Route
}

// Pipeliner is an optional interface for apps that provide an app-level
// middleware stack. Run wraps every route in it.
type Pipeliner interface {
	Middleware() *Stack
}

// Route represents an HTTP route
type Route struct {
	Method     string
	Path       string
	Handler    Handler
	Middleware *Stack // Optional per-route middleware stack
}

// Run starts the application. If app implements Pipeliner, its stack is
// compiled once at startup and every route is served through it.
func Run(app App, cfg config.BaseConfig) error {
	stack := NewStack()
	if p, ok := app.(Pipeliner); ok && p.Middleware() != nil {
		stack = p.Middleware()
	}
	return RunWithStack(app, cfg, stack)
}

// RunWithStack starts the application with an explicit app-level stack.
//
// The boot sequence enforces the stack's phase separation: the stack may
// be mutated up to and including OnStart; route registration then compiles
// it, and the compiled pipelines serve until shutdown.
func RunWithStack(app App, cfg config.BaseConfig, stack *Stack) error {
	ctx := context.Background()

	// Create health status tracker
	healthStatus := newHealthStatus()

	// Start health server BEFORE calling OnStart
	// This way Nomad/K8s can see the container is alive
	healthServer := startHealthServer(strconv.Itoa(cfg.HealthPort), healthStatus)

	// Call app.OnStart()
	if err := app.OnStart(ctx); err != nil {
		return fmt.Errorf("failed to start app: %w", err)
	}

	// OnStart succeeded, mark as healthy
	healthStatus.SetHealthy(true)

	// In debug mode, attach a notification listener that logs per-layer
	// timings. Subscribing before the first Build is what switches the
	// compiled pipelines into their instrumented form.
	if cfg.LogLevel == "debug" && !stack.sealed && stack.notifier == nil {
		bus := notify.NewBus()
		bus.Subscribe(EventMiddlewareCall, func(ev notify.Event) {
			log.Printf("middleware %v took %v", ev.Payload["middleware"], ev.Duration)
		})
		stack.SetNotifier(bus)
	}

	routes := app.Routes()

	if len(routes) == 0 {
		// No HTTP routes, but health server is running
		log.Println("No HTTP routes, running in background mode")

		// Mark as ready (no HTTP server to wait for)
		healthStatus.SetReady(true)

		// Wait for shutdown signal
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("Shutting down...")

		// Shutdown health server
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		healthServer.Shutdown(shutdownCtx)

		// Call app.OnStop()
		if err := app.OnStop(ctx); err != nil {
			log.Printf("Error during OnStop: %v", err)
		}

		return nil
	}

	// Create main HTTP server
	router := mux.NewRouter()

	// Compile each route's pipeline exactly once: per-route stack first
	// (innermost), then the app-level stack around it.
	for _, route := range routes {
		terminal := route.Handler
		if route.Middleware != nil {
			terminal = route.Middleware.Build(terminal)
		}
		handler := stack.Build(terminal)

		router.HandleFunc(route.Path, func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			response := handler(ctx, req)
			if err := response.Write(ctx, w); err != nil {
				http.Error(w, "Internal Server Error", 500)
			}
		}).Methods(route.Method)

		// Route OPTIONS through the same pipeline so a registered CORS
		// layer can answer preflight requests.
		preflight := stack.Build(func(ctx context.Context, r *http.Request) Response {
			return noContentResponse{}
		})
		router.HandleFunc(route.Path, func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			response := preflight(ctx, req)
			if err := response.Write(ctx, w); err != nil {
				http.Error(w, "Internal Server Error", 500)
			}
		}).Methods("OPTIONS")
	}

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: router,
	}

	// Start main server
	go func() {
		log.Printf("Starting server on :%d", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Server is up, mark as ready
	healthStatus.SetReady(true)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down servers...")

	// Mark as not ready (stop accepting new traffic)
	healthStatus.SetReady(false)

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown main server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Main server forced to shutdown: %v", err)
	}

	// Shutdown health server
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Health server forced to shutdown: %v", err)
	}

	// Call app.OnStop()
	if err := app.OnStop(ctx); err != nil {
		log.Printf("Error during OnStop: %v", err)
	}

	log.Println("Servers stopped")
	return nil
}

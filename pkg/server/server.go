package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/autarcostatus/pkg/log"
	"github.com/raterudder/autarcostatus/pkg/status"
)

// Server is the read-only HTTP front end of the status cache.
type Server struct {
	cache *status.Cache

	listenAddr  string
	metricsAddr string
	serverName  string
}

// Configured initializes the Server with the cache it serves.
// It uses lflag to register command-line flags for configuration.
func Configured(cache *status.Cache) *Server {
	srv := New(cache, "", "")

	// get the port from PORT when running in a container
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	metricsAddr := lflag.String("metrics-listen", "", "Listen address for Prometheus metrics (disabled if empty)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.metricsAddr = *metricsAddr
	})

	return srv
}

// New returns a Server listening on listenAddr. metricsAddr may be empty to
// disable the metrics listener.
func New(cache *status.Cache, listenAddr, metricsAddr string) *Server {
	return &Server{
		cache:       cache,
		listenAddr:  listenAddr,
		metricsAddr: metricsAddr,
		serverName:  "autarcostatus",
	}
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleStatus)
	return s.headersMiddleware(gziphandler.GzipHandler(mux))
}

type listener struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done. Failing to
// listen is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	listeners := []listener{{
		name: "status",
		srv: &http.Server{
			Handler:      s.setupHandler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  15 * time.Second,
		},
		ln: ln,
	}}

	if s.metricsAddr != "" {
		mln, err := net.Listen("tcp", s.metricsAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.metricsAddr, err)
		}
		listeners = append(listeners, listener{
			name: "metrics",
			srv: &http.Server{
				Handler:     metricsHandler(),
				ReadTimeout: 15 * time.Second,
				IdleTimeout: 15 * time.Second,
			},
			ln: mln,
		})
	}

	// use a channel to capturing server errors
	errChan := make(chan error, len(listeners))
	for _, l := range listeners {
		go func() {
			log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("name", l.name), slog.String("addr", l.ln.Addr().String()))
			if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("%s server error: %w", l.name, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
	case runErr = <-errChan:
		log.Ctx(ctx).ErrorContext(ctx, "server failed, shutting down", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, l := range listeners {
		if err := l.srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("%s server shutdown failed: %w", l.name, err)
		}
	}
	return runErr
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// Package dashboard serves the hub's HTTP API and the websocket event stream
// the scoreboard page listens on.
package dashboard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
	"github.com/chaz8081/s3-scoreboard/internal/events"
	"github.com/chaz8081/s3-scoreboard/internal/hub"
)

// Backend is the hub surface the dashboard needs.
type Backend interface {
	Devices() []events.Device
	SendCommand(id string, cmd protocol.Command) error
	AddSimulated(id, name, gameName string, score int) events.Device
	SetScore(id string, score int) (events.Device, bool)
	Remove(id string) bool
}

// Options configures the dashboard.
type Options struct {
	Backend Backend
	Bus     *events.Bus
	// Info is called per request so the adapter address stays current.
	Info          func() hub.Info
	TestEndpoints bool
	StaticDir     string
}

// Server is the dashboard HTTP handler.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New builds the route table.
func New(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /api/devices", s.handleDevices)
	s.mux.HandleFunc("GET /api/server/info", s.handleInfo)
	s.mux.HandleFunc("POST /api/devices/{id}/send", s.handleSend)
	s.mux.HandleFunc("GET /ws", s.handleWS)

	if opts.TestEndpoints {
		s.mux.HandleFunc("POST /api/test/add", s.handleTestAdd)
		s.mux.HandleFunc("POST /api/test/score", s.handleTestScore)
		s.mux.HandleFunc("POST /api/test/remove", s.handleTestRemove)
		slog.Warn("[HTTP] test endpoints enabled")
	}

	if opts.StaticDir != "" {
		s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
		s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filepath.Join(opts.StaticDir, "index.html"))
		})
	}
	return s
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return requestLogger(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[HTTP] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("[HTTP] shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("dashboard: response does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		slog.Debug("[HTTP] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

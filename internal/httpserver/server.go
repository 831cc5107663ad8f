package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/origin"
)

// ErrServerClosed is returned by Serve once Shutdown or Close has run.
var ErrServerClosed = http.ErrServerClosed

// BuildInfo is reported verbatim by GET /version.
type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Server hosts the operational endpoints of the data channel service and
// whatever the caller mounts on Mux, typically the signaling WebSocket.
type Server struct {
	log     *slog.Logger
	cfg     config.Config
	build   BuildInfo
	metrics *metrics.Metrics
	origins origin.Policy

	// serving flips to true in Serve and back in Shutdown/Close; /readyz
	// follows it.
	serving atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

// New builds the HTTP surface. With a nil m, /metrics answers 500.
func New(cfg config.Config, logger *slog.Logger, build BuildInfo, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		metrics: m,
		origins: origin.NewPolicy(cfg.AllowedOrigins),
		mux:     http.NewServeMux(),
	}
	s.routes()

	s.srv = &http.Server{
		Addr: cfg.ListenAddr,
		Handler: wrap(s.mux,
			recoverPanics(s.log),
			tagRequest,
			accessLog(s.log),
		),
		// Only the header read is bounded. Signaling sockets stay open for
		// the life of a session.
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Mux is where the signaling endpoint gets mounted. Register before Serve.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Handler is the mux behind the middleware stack, for tests that drive the
// server without a listener.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Serve(l net.Listener) error {
	s.serving.Store(true)
	s.log.Info("listening", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked signaling sockets are not tracked here; the session engine
// closes those.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serving.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.serving.Store(false)
	return s.srv.Close()
}

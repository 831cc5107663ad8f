// Package server assembles the data channel service: the pion transport, the
// coordination engine, the signaling WebSocket endpoint and the HTTP surface.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/channel"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/session"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/webrtcpeer"
)

// SignalPath is the dedicated signaling endpoint. Signaling is also served at
// "/" for clients that dial ws://host:port.
const SignalPath = "/webrtc/signal"

type Config struct {
	Settings config.Config
	Logger   *slog.Logger
	Build    httpserver.BuildInfo
	Factory  channel.Factory

	// API replaces the pion API normally built from Settings.
	API     *webrtc.API
	Metrics *metrics.Metrics
}

type Server struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	transport *webrtcpeer.Transport
	engine    *session.Engine
	signaling *signaling.Server
	http      *httpserver.Server

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func New(cfg Config) (*Server, error) {
	if cfg.Factory == nil {
		return nil, session.ErrMissingFactory
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	api := cfg.API
	if api == nil {
		var err error
		api, err = webrtcpeer.NewAPI(cfg.Settings, log)
		if err != nil {
			return nil, err
		}
	}

	transport := webrtcpeer.NewTransport(webrtcpeer.TransportConfig{
		API:        api,
		ICEServers: cfg.Settings.ICEServers,
		Logger:     log,
		Metrics:    m,
	})

	engine, err := session.NewEngine(session.Config{
		Transport:      transport,
		Factory:        cfg.Factory,
		Options:        cfg.Settings.ChannelOptions(),
		MaxSessions:    cfg.Settings.MaxSessions,
		ConnectTimeout: cfg.Settings.SessionConnectTimeout,
		Logger:         log,
		Metrics:        m,
	})
	if err != nil {
		transport.Close()
		return nil, err
	}

	sig, err := signaling.NewServer(signaling.Config{
		Sink:                 engine,
		Logger:               log,
		Metrics:              m,
		AllowedOrigins:       cfg.Settings.AllowedOrigins,
		MaxMessageBytes:      cfg.Settings.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.Settings.MaxSignalingMessagesPerSecond,
		IdleTimeout:          cfg.Settings.SignalingWSIdleTimeout,
		PingInterval:         cfg.Settings.SignalingWSPingInterval,
	})
	if err != nil {
		transport.Close()
		return nil, err
	}

	httpSrv := httpserver.New(cfg.Settings, log, cfg.Build, m)
	mux := httpSrv.Mux()
	mux.Handle("GET /{$}", sig)
	mux.Handle("GET "+SignalPath, sig)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		log:       log,
		metrics:   m,
		transport: transport,
		engine:    engine,
		signaling: sig,
		http:      httpSrv,
		cancel:    cancel,
	}
	go func() {
		_ = engine.Run(ctx)
	}()
	return s, nil
}

// Handler returns the full HTTP handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.http.Handler()
}

// Serve accepts connections on l until Shutdown or Close. It returns
// httpserver.ErrServerClosed after a clean stop.
func (s *Server) Serve(l net.Listener) error {
	return s.http.Serve(l)
}

// ActiveSessions returns the number of sessions the engine currently tracks.
func (s *Server) ActiveSessions() int {
	return s.engine.ActiveSessions()
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Shutdown stops accepting HTTP requests, closes every signaling connection,
// lets the engine remove the resulting sessions, then releases the transport.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.signaling.Close()
	if flushErr := s.engine.Flush(ctx); flushErr != nil && !errors.Is(flushErr, session.ErrClosed) && err == nil {
		err = flushErr
	}
	s.stop(ctx)
	return err
}

// Close stops everything immediately.
func (s *Server) Close() error {
	err := s.http.Close()
	s.signaling.Close()
	s.stop(context.Background())
	return err
}

func (s *Server) stop(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.cancel()
		select {
		case <-s.engine.Done():
		case <-ctx.Done():
			s.log.Warn("engine did not stop before shutdown deadline")
		}
		s.transport.Close()
	})
}

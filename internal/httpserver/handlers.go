package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/metrics"
)

type healthBody struct {
	OK bool `json:"ok"`
}

type readyBody struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

type iceBody struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.HandleFunc("GET /version", s.handleVersion)
	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.metrics))
	s.mux.HandleFunc("GET /webrtc/ice", s.withOriginPolicy(s.handleICE))
}

// handleHealth is liveness only: the process is up and answering.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, healthBody{OK: true})
}

// handleReady reports whether new sessions can be negotiated: the listener
// is up and the ICE server list parsed.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.serving.Load() {
		WriteJSON(w, http.StatusServiceUnavailable, readyBody{})
		return
	}
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, readyBody{Error: err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, readyBody{Ready: true})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, s.build)
}

// handleICE hands browsers the ICE servers to pass to RTCPeerConnection.
func (s *Server) handleICE(w http.ResponseWriter, _ *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	WriteJSON(w, http.StatusOK, iceBody{ICEServers: servers})
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package vnettest connects pion APIs through an in-memory virtual network so
// WebRTC tests run without touching real interfaces.
package vnettest

import (
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

const (
	cidr = "10.0.0.0/24"
	IPA  = "10.0.0.1"
	IPB  = "10.0.0.2"
)

// Pair is two pion APIs on the same virtual LAN.
type Pair struct {
	Router *vnet.Router
	A      *webrtc.API
	B      *webrtc.API
}

// NewPair starts a router with two hosts and returns an API bound to each.
// The router is stopped when the test ends.
func NewPair(t testing.TB) *Pair {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{IPA}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{IPB}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	apiA, err := NewAPI(netA)
	if err != nil {
		t.Fatalf("new api A: %v", err)
	}
	apiB, err := NewAPI(netB)
	if err != nil {
		t.Fatalf("new api B: %v", err)
	}
	return &Pair{Router: router, A: apiA, B: apiB}
}

// NewAPI returns a pion API whose sockets live on n.
func NewAPI(n *vnet.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

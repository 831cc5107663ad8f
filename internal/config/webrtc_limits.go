package config

import "fmt"

// minWebRTCSCTPReceiveBufferBytes is the smallest SCTP receive buffer pion/sctp
// accepts during association setup. Smaller values break INIT/INIT-ACK
// validation.
const minWebRTCSCTPReceiveBufferBytes = 1500

// validateSCTPMaxReceiveBufferBytes accepts 0 (pion default) or a size pion can
// negotiate with.
func validateSCTPMaxReceiveBufferBytes(n int) error {
	if n == 0 {
		return nil
	}
	if n < 0 {
		return fmt.Errorf("must be >= 0, got %d", n)
	}
	if n < minWebRTCSCTPReceiveBufferBytes {
		return fmt.Errorf("must be 0 or >= %d, got %d", minWebRTCSCTPReceiveBufferBytes, n)
	}
	return nil
}

package session

type eventKind uint8

const (
	evSignalingOpened eventKind = iota
	evSignalingMessage
	evSignalingClosed
	evTransportOpened
	evTransportClosed
	evTransportSignaling
	evTransportData
	evSend
	evClose
	evConnectTimeout
	evFlush
)

func (k eventKind) String() string {
	switch k {
	case evSignalingOpened:
		return "signaling_opened"
	case evSignalingMessage:
		return "signaling_message"
	case evSignalingClosed:
		return "signaling_closed"
	case evTransportOpened:
		return "transport_opened"
	case evTransportClosed:
		return "transport_closed"
	case evTransportSignaling:
		return "transport_signaling"
	case evTransportData:
		return "transport_data"
	case evSend:
		return "send"
	case evClose:
		return "close"
	case evConnectTimeout:
		return "connect_timeout"
	case evFlush:
		return "flush"
	default:
		return "unknown"
	}
}

type event struct {
	kind eventKind
	id   ID
	conn SignalingConn
	data []byte
	done chan struct{}
}

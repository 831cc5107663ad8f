package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// MessageType is the "type" discriminator of a signaling message.
type MessageType string

const (
	MessageTypeOffer     MessageType = "offer"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypeCandidate MessageType = "candidate"
	MessageTypeClose     MessageType = "close"
	MessageTypeError     MessageType = "error"
)

// ErrorCodeSessionRejected is sent in an error message when the server
// refuses a new session before closing the socket.
const ErrorCodeSessionRejected = "session_rejected"

var ErrInvalidMessage = errors.New("invalid signaling message")

type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unsupported sdp type %q", ErrInvalidMessage, s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate mirrors the browser RTCIceCandidateInit dictionary.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is the JSON envelope exchanged over the signaling WebSocket.
//
//	{"type":"offer","sdp":{"type":"offer","sdp":"..."}}
//	{"type":"answer","sdp":{"type":"answer","sdp":"..."}}
//	{"type":"candidate","candidate":{"candidate":"...","sdpMid":"0","sdpMLineIndex":0}}
//	{"type":"close"}
//	{"type":"error","code":"...","message":"..."}
type Message struct {
	Type      MessageType `json:"type"`
	SDP       *SDP        `json:"sdp,omitempty"`
	Candidate *Candidate  `json:"candidate,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func OfferMessage(desc webrtc.SessionDescription) Message {
	s := SDPFromPion(desc)
	return Message{Type: MessageTypeOffer, SDP: &s}
}

func AnswerMessage(desc webrtc.SessionDescription) Message {
	s := SDPFromPion(desc)
	return Message{Type: MessageTypeAnswer, SDP: &s}
}

func CandidateMessage(init webrtc.ICECandidateInit) Message {
	c := CandidateFromPion(init)
	return Message{Type: MessageTypeCandidate, Candidate: &c}
}

func ErrorMessage(code, message string) Message {
	return Message{Type: MessageTypeError, Code: code, Message: message}
}

// Marshal encodes m after validating it.
func (m Message) Marshal() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// ParseMessage strictly decodes a single signaling message. Unknown fields
// and trailing data are rejected.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: unexpected trailing data", ErrInvalidMessage)
	}
	return msg, nil
}

func (m Message) validate() error {
	switch m.Type {
	case MessageTypeOffer, MessageTypeAnswer:
		if m.SDP == nil {
			return fmt.Errorf("%w: %s message missing sdp", ErrInvalidMessage, m.Type)
		}
		if m.SDP.Type != string(m.Type) {
			return fmt.Errorf("%w: %s message has sdp.type=%q", ErrInvalidMessage, m.Type, m.SDP.Type)
		}
		if m.Candidate != nil || m.Code != "" || m.Message != "" {
			return fmt.Errorf("%w: %s message has unexpected fields", ErrInvalidMessage, m.Type)
		}
	case MessageTypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: candidate message missing candidate", ErrInvalidMessage)
		}
		if m.SDP != nil || m.Code != "" || m.Message != "" {
			return fmt.Errorf("%w: candidate message has unexpected fields", ErrInvalidMessage)
		}
	case MessageTypeClose:
		if m.SDP != nil || m.Candidate != nil || m.Code != "" || m.Message != "" {
			return fmt.Errorf("%w: close message has unexpected fields", ErrInvalidMessage)
		}
	case MessageTypeError:
		if m.Code == "" || m.Message == "" {
			return fmt.Errorf("%w: error message missing code/message", ErrInvalidMessage)
		}
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("%w: error message has unexpected fields", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unsupported message type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

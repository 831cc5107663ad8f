package session

import (
	"errors"
	"testing"
	"time"
)

func TestRegistry_InsertGetRemove(t *testing.T) {
	r := NewRegistry()
	if !r.Insert(&Session{id: 2}) || !r.Insert(&Session{id: 0}) {
		t.Fatalf("Insert failed")
	}
	if r.Insert(&Session{id: 2}) {
		t.Fatalf("Insert accepted duplicate id")
	}
	if got := r.IDs(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("IDs=%v, want [0 2]", got)
	}

	s, ok := r.Remove(2)
	if !ok || s.ID() != 2 {
		t.Fatalf("Remove(2)=%v,%v", s, ok)
	}
	if _, ok := r.Remove(2); ok {
		t.Fatalf("second Remove(2) reported ok")
	}
	if _, ok := r.Get(2); ok {
		t.Fatalf("Get(2) after Remove reported ok")
	}
	if r.Len() != 1 {
		t.Fatalf("Len=%d, want 1", r.Len())
	}
}

func TestChannelOptions_Validate(t *testing.T) {
	d := 500 * time.Millisecond
	neg := -time.Millisecond
	huge := 70 * time.Second
	n := uint16(2)

	if err := DefaultChannelOptions().Validate(); err != nil {
		t.Fatalf("default options: %v", err)
	}
	if err := (ChannelOptions{MaxRetransmitTime: &d}).Validate(); err != nil {
		t.Fatalf("max retransmit time only: %v", err)
	}
	if err := (ChannelOptions{MaxRetransmits: &n}).Validate(); err != nil {
		t.Fatalf("max retransmits only: %v", err)
	}
	for _, o := range []ChannelOptions{
		{MaxRetransmitTime: &d, MaxRetransmits: &n},
		{MaxRetransmitTime: &neg},
		{MaxRetransmitTime: &huge},
	} {
		if err := o.Validate(); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("Validate(%+v)=%v, want ErrInvalidOptions", o, err)
		}
	}
}

func TestState_String(t *testing.T) {
	if StateActive.String() != "active" || State(9).String() != "state(9)" {
		t.Fatalf("unexpected State strings")
	}
}

package cast

import (
	"testing"
)

// newTestReader builds a reader for unit-testing handleHeartbeat directly,
// without starting its pump/dispatch goroutines (run is never called, so
// there is nothing to Stop).
func newTestReader(t *testing.T, sendEnvelope func(Envelope) error) *reader {
	t.Helper()
	return newReader(nil, newRequestRegistry(), NopListener{}, testLogger(), "sender-test", DefaultReceiverID, sendEnvelope)
}

// TestReaderHandleHeartbeatReplyOnPing covers spec.md §4.5 bullet 2: an
// inbound PING gets an immediate PONG reply.
func TestReaderHandleHeartbeatReplyOnPing(t *testing.T) {
	var sent []Envelope
	r := newTestReader(t, func(env Envelope) error {
		sent = append(sent, env)
		return nil
	})

	env := Envelope{SourceID: DefaultReceiverID, Namespace: NamespaceHeartbeat, PayloadUTF8: heartbeatJSON(typePing)}
	if err := r.handleHeartbeat(env); err != nil {
		t.Fatalf("handleHeartbeat: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("got %d replies, want 1 PONG", len(sent))
	}
	if sent[0].Namespace != NamespaceHeartbeat {
		t.Fatalf("got reply on namespace %q, want heartbeat", sent[0].Namespace)
	}
}

// TestReaderHandleHeartbeatNotesLivenessOnPong covers spec.md §4.5 bullet 3:
// an inbound PONG notes liveness and draws no reply.
func TestReaderHandleHeartbeatNotesLivenessOnPong(t *testing.T) {
	var sent []Envelope
	r := newTestReader(t, func(env Envelope) error {
		sent = append(sent, env)
		return nil
	})

	if !r.lastPong().IsZero() {
		t.Fatal("expected no liveness before any PONG observed")
	}

	env := Envelope{SourceID: DefaultReceiverID, Namespace: NamespaceHeartbeat, PayloadUTF8: heartbeatJSON(typePong)}
	if err := r.handleHeartbeat(env); err != nil {
		t.Fatalf("handleHeartbeat: %v", err)
	}
	if len(sent) != 0 {
		t.Fatalf("got %d replies to a PONG, want 0", len(sent))
	}
	if r.lastPong().IsZero() {
		t.Fatal("expected liveness to be noted after a PONG")
	}
}

// TestReaderHandleHeartbeatIgnoresUnknownType covers spec.md §4.5's
// catch-all: any heartbeat responseType other than PING/PONG is logged and
// ignored, not treated as an error.
func TestReaderHandleHeartbeatIgnoresUnknownType(t *testing.T) {
	var sent []Envelope
	r := newTestReader(t, func(env Envelope) error {
		sent = append(sent, env)
		return nil
	})

	env := Envelope{SourceID: DefaultReceiverID, Namespace: NamespaceHeartbeat, PayloadUTF8: heartbeatJSON("SOMETHING_ELSE")}
	if err := r.handleHeartbeat(env); err != nil {
		t.Fatalf("handleHeartbeat: %v", err)
	}
	if len(sent) != 0 {
		t.Fatalf("got %d replies to an unrecognised heartbeat type, want 0", len(sent))
	}
	if !r.lastPong().IsZero() {
		t.Fatal("an unrecognised heartbeat type must not be mistaken for a PONG")
	}
}

func heartbeatJSON(typ string) string {
	return `{"type":"` + typ + `"}`
}

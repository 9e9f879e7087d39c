package cast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/castlink/gocast/internal/fakereceiver"
)

// probeRequest reads just the fields channel_test.go's scripts need off an
// inbound request payload, without committing to a concrete request shape.
type probeRequest struct {
	Type      string `json:"type"`
	RequestID int64  `json:"requestId"`
	AppID     string `json:"appId"`
}

func probe(payload []byte) probeRequest {
	var p probeRequest
	_ = json.Unmarshal(payload, &p)
	return p
}

// funcScript adapts a plain function to fakereceiver.Script, mirroring the
// registry's own funcScript-free style elsewhere in this package's tests.
type funcScript func(namespace, destinationID, sourceID string, payload []byte, isBinary bool) [][]byte

func (f funcScript) Handle(namespace, destinationID, sourceID string, payload []byte, isBinary bool) [][]byte {
	return f(namespace, destinationID, sourceID, payload, isBinary)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(noopWriter{}, nil))
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestChannel(t *testing.T, addr string, cfg Config) *Channel {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split receiver address %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse receiver port %q: %v", portStr, err)
	}
	cfg.Host = host
	cfg.Port = port
	if cfg.RemoteName == "" {
		cfg.RemoteName = "test-receiver"
	}
	if cfg.SenderID == "" {
		cfg.SenderID = "sender-test"
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	ch, err := NewChannel(cfg)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return ch
}

// TestChannelHappyPathStatus covers spec.md §8 scenario 1: GET_STATUS round
// trips through the registry and returns the echoed status.
func TestChannelHappyPathStatus(t *testing.T) {
	recv, err := fakereceiver.NewReceiver(funcScript(func(namespace, destinationID, sourceID string, payload []byte, isBinary bool) [][]byte {
		if namespace != NamespaceReceiver {
			return nil
		}
		p := probe(payload)
		if p.Type != typeGetStatus {
			return nil
		}
		reply, _ := json.Marshal(map[string]any{
			"type":      responseTypeReceiverStatus,
			"requestId": p.RequestID,
			"status": map[string]any{
				"applications": []any{},
			},
		})
		return [][]byte{reply}
	}))
	if err != nil {
		t.Fatalf("fakereceiver.NewReceiver: %v", err)
	}
	defer recv.Close()

	ch := newTestChannel(t, recv.Addr(), Config{})
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	status, err := ch.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status == nil {
		t.Fatal("GetStatus returned nil status")
	}
	if len(status.Applications) != 0 {
		t.Fatalf("got %d applications, want 0", len(status.Applications))
	}
}

// TestChannelAuthFailure covers spec.md §8 scenario 2: an error field in the
// device-auth response fails Connect and leaves the channel DISCONNECTED.
func TestChannelAuthFailure(t *testing.T) {
	recv, err := fakereceiver.NewReceiver(nil)
	if err != nil {
		t.Fatalf("fakereceiver.NewReceiver: %v", err)
	}
	defer recv.Close()
	recv.AuthErrorType = 1

	var stateCalls []ConnectionState
	var mu sync.Mutex
	listener := &recordingListener{onState: func(s ConnectionState, _ error) {
		mu.Lock()
		defer mu.Unlock()
		stateCalls = append(stateCalls, s)
	}}

	ch := newTestChannel(t, recv.Addr(), Config{Listener: listener})
	err = ch.Connect()
	if err == nil {
		t.Fatal("expected Connect to fail")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %v (%T), want *AuthError", err, err)
	}
	if ch.State() != StateDisconnected {
		t.Fatalf("got state %s, want DISCONNECTED", ch.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stateCalls) != 0 {
		t.Fatalf("expected no connection-state callbacks on auth failure, got %v", stateCalls)
	}
}

// TestChannelRequestTimeout covers spec.md §8 scenario 3: a request that
// never gets a reply fails with ErrRequestTimeout and leaves the channel
// CONNECTED with no leftover registry entry.
func TestChannelRequestTimeout(t *testing.T) {
	recv, err := fakereceiver.NewReceiver(funcScript(func(string, string, string, []byte, bool) [][]byte {
		return nil // never reply
	}))
	if err != nil {
		t.Fatalf("fakereceiver.NewReceiver: %v", err)
	}
	defer recv.Close()

	ch := newTestChannel(t, recv.Addr(), Config{RequestTimeout: 100 * time.Millisecond})
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	start := time.Now()
	_, err = ch.GetStatus()
	elapsed := time.Since(start)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("got %v, want ErrRequestTimeout", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}
	if ch.State() != StateConnected {
		t.Fatalf("got state %s, want CONNECTED after a timed-out request", ch.State())
	}
	if len(ch.registry.pending) != 0 {
		t.Fatalf("registry still has %d pending entries after timeout", len(ch.registry.pending))
	}
}

// TestChannelSetRequestTimeout exercises the runtime-mutable timeout
// supplemented from original_source's Channel.setRequestTimeout: a request
// issued after narrowing the timeout sees the new value, not the one
// supplied at construction.
func TestChannelSetRequestTimeout(t *testing.T) {
	recv, err := fakereceiver.NewReceiver(funcScript(func(string, string, string, []byte, bool) [][]byte {
		return nil // never reply
	}))
	if err != nil {
		t.Fatalf("fakereceiver.NewReceiver: %v", err)
	}
	defer recv.Close()

	ch := newTestChannel(t, recv.Addr(), Config{RequestTimeout: 5 * time.Second})
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	ch.SetRequestTimeout(50 * time.Millisecond)
	if got := ch.RequestTimeout(); got != 50*time.Millisecond {
		t.Fatalf("got RequestTimeout() %v, want 50ms", got)
	}

	start := time.Now()
	_, err = ch.GetStatus()
	elapsed := time.Since(start)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("got %v, want ErrRequestTimeout", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("request honored the old 5s timeout instead of the narrowed 50ms one: %v", elapsed)
	}
}

// TestChannelHeartbeat covers spec.md §8 scenario 4: within a couple of
// periods the channel has sent at least one PING that the receiver observed.
func TestChannelHeartbeat(t *testing.T) {
	recv, err := fakereceiver.NewReceiver(nil)
	if err != nil {
		t.Fatalf("fakereceiver.NewReceiver: %v", err)
	}
	defer recv.Close()

	ch := newTestChannel(t, recv.Addr(), Config{
		HeartbeatFirstFire: 20 * time.Millisecond,
		HeartbeatPeriod:    40 * time.Millisecond,
	})
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	deadline := time.Now().Add(2 * time.Second)
	for recv.PingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if recv.PingCount() == 0 {
		t.Fatal("receiver never observed a PING from the channel")
	}
}

// TestChannelMultiplexOutOfOrder covers spec.md §8 scenario 5: concurrent
// requests all complete with their own response even when replies arrive in
// a different order than they were sent.
func TestChannelMultiplexOutOfOrder(t *testing.T) {
	const n = 10

	var mu sync.Mutex
	var pending []int64

	recv, err := fakereceiver.NewReceiver(funcScript(func(namespace, destinationID, sourceID string, payload []byte, isBinary bool) [][]byte {
		if namespace != NamespaceReceiver {
			return nil
		}
		p := probe(payload)
		if p.Type != typeGetStatus {
			return nil
		}
		mu.Lock()
		pending = append(pending, p.RequestID)
		// Reply only once n requests have arrived, then answer in a
		// fixed scrambled order regardless of arrival order.
		if len(pending) < n {
			mu.Unlock()
			return nil
		}
		ids := append([]int64(nil), pending...)
		pending = nil
		mu.Unlock()

		order := []int{0, 2, 4, 6, 8, 1, 3, 5, 7, 9}
		var replies [][]byte
		for _, idx := range order {
			reply, _ := json.Marshal(map[string]any{
				"type":      responseTypeReceiverStatus,
				"requestId": ids[idx],
				"status":    map[string]any{},
			})
			replies = append(replies, reply)
		}
		return replies
	}))
	if err != nil {
		t.Fatalf("fakereceiver.NewReceiver: %v", err)
	}
	defer recv.Close()

	ch := newTestChannel(t, recv.Addr(), Config{RequestTimeout: 5 * time.Second})
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ch.GetStatus()
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
}

// TestChannelReconnectOnSend covers spec.md §8 scenario 6: sending a request
// on an explicitly closed channel transparently reconnects before the
// request proceeds.
func TestChannelReconnectOnSend(t *testing.T) {
	recv, err := fakereceiver.NewReceiver(funcScript(func(namespace, destinationID, sourceID string, payload []byte, isBinary bool) [][]byte {
		if namespace != NamespaceReceiver {
			return nil
		}
		p := probe(payload)
		switch p.Type {
		case typeLaunch:
			reply, _ := json.Marshal(map[string]any{
				"type":      responseTypeReceiverStatus,
				"requestId": p.RequestID,
				"status": map[string]any{
					"applications": []any{
						map[string]any{"appId": p.AppID, "sessionId": "s1", "transportId": "s1"},
					},
				},
			})
			return [][]byte{reply}
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("fakereceiver.NewReceiver: %v", err)
	}
	defer recv.Close()

	ch := newTestChannel(t, recv.Addr(), Config{ReconnectBurst: 5, ReconnectEvery: 10 * time.Millisecond})
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.Close(); err != nil && !errors.Is(err, ErrNoOp) {
		t.Fatalf("Close: %v", err)
	}
	if !ch.IsClosed() {
		t.Fatal("expected channel to be closed after explicit Close")
	}

	status, err := ch.Launch("CC1AD845")
	if err != nil {
		t.Fatalf("Launch after close should transparently reconnect, got: %v", err)
	}
	if _, ok := status.HasApp("CC1AD845"); !ok {
		t.Fatal("expected launched app in returned status")
	}
	if ch.IsClosed() {
		t.Fatal("expected channel to be CONNECTED after reconnect-on-send")
	}
	ch.Close()
}

// genericPingRequest is an application-specific request for a namespace the
// core doesn't model, built the way an external caller would: embedding
// RequestBase rather than reaching for any cast-internal type.
type genericPingRequest struct {
	RequestBase
	Echo string `json:"echo"`
}

// TestChannelSendGeneric covers spec.md §4.6's send_generic operation
// (C6): an application-specific namespace round trips through SendGeneric
// and KindRaw hands back the reply's JSON uninterpreted.
func TestChannelSendGeneric(t *testing.T) {
	const customNamespace = "urn:x-cast:com.example.custom"

	recv, err := fakereceiver.NewReceiver(funcScript(func(namespace, destinationID, sourceID string, payload []byte, isBinary bool) [][]byte {
		if namespace != customNamespace {
			return nil // includes the receiver-0 CONNECT that Connect sends
		}
		p := probe(payload)
		var body struct {
			Echo string `json:"echo"`
		}
		_ = json.Unmarshal(payload, &body)
		reply, _ := json.Marshal(map[string]any{
			"type":      "CUSTOM_PONG",
			"requestId": p.RequestID,
			"echo":      body.Echo,
		})
		return [][]byte{reply}
	}))
	if err != nil {
		t.Fatalf("fakereceiver.NewReceiver: %v", err)
	}
	defer recv.Close()

	ch := newTestChannel(t, recv.Addr(), Config{})
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	req := &genericPingRequest{RequestBase: RequestBase{Type: "CUSTOM_PING"}, Echo: "hello"}
	result, err := ch.SendGeneric("receiver-0", customNamespace, req, KindRaw)
	if err != nil {
		t.Fatalf("SendGeneric: %v", err)
	}
	raw, ok := result.(*RawResponse)
	if !ok {
		t.Fatalf("got %T, want *RawResponse", result)
	}
	if raw.ResponseType != "CUSTOM_PONG" {
		t.Fatalf("got ResponseType %q, want CUSTOM_PONG", raw.ResponseType)
	}
	var body struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(raw.Raw, &body); err != nil {
		t.Fatalf("unmarshal RawResponse.Raw: %v", err)
	}
	if body.Echo != "hello" {
		t.Fatalf("got echo %q, want %q", body.Echo, "hello")
	}
}

type recordingListener struct {
	NopListener
	onState func(ConnectionState, error)
}

func (l *recordingListener) OnConnectionState(s ConnectionState, err error) {
	if l.onState != nil {
		l.onState(s, err)
	}
}

package cast

// ConnectionState enumerates the Channel lifecycle states from spec.md §5.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateHandshaking  ConnectionState = "HANDSHAKING"
	StateConnected    ConnectionState = "CONNECTED"
	StateClosing      ConnectionState = "CLOSING"
)

// SpontaneousEvent is a standard-shaped inbound message that did not
// complete a pending request: an unsolicited RECEIVER_STATUS/MEDIA_STATUS
// push, or a CLOSE notification (spec.md §4.4 dispatcher step 3).
type SpontaneousEvent struct {
	Namespace    string
	ResponseType string
	Raw          []byte
}

// CustomEvent is an inbound STRING message that matched isCustomMessage: an
// application namespace payload with no recognised responseType and no
// requestId (spec.md §4.4 dispatcher step 2).
type CustomEvent struct {
	Namespace string
	Payload   string
}

// BinaryEvent is an inbound BINARY message received by the reader after the
// handshake, on any namespace, delivered to the caller uninterpreted
// (spec.md §4.4 dispatcher step 4).
type BinaryEvent struct {
	Namespace string
	Payload   []byte
}

// Listener receives the events a Channel cannot route to a pending request
// waiter, plus connection-state changes. OnSpontaneousEvent, OnCustomEvent
// and OnBinaryEvent are called from the reader's dispatch workers and must
// not block for long; a slow listener backs up the worker pool.
// OnConnectionState is called on the goroutine that runs Connect or tears
// the channel down.
type Listener interface {
	OnConnectionState(state ConnectionState, err error)
	OnSpontaneousEvent(event SpontaneousEvent)
	OnCustomEvent(event CustomEvent)
	OnBinaryEvent(event BinaryEvent)
}

// NopListener implements Listener with no-op methods, letting callers
// override only the callbacks they care about by embedding it.
type NopListener struct{}

func (NopListener) OnConnectionState(ConnectionState, error) {}
func (NopListener) OnSpontaneousEvent(SpontaneousEvent)       {}
func (NopListener) OnCustomEvent(CustomEvent)                 {}
func (NopListener) OnBinaryEvent(BinaryEvent)                 {}

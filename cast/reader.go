package cast

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// readerWorkerLimit bounds how many STRING dispatch callbacks may run
// concurrently, keeping one slow Listener method from starving the others
// while still taking it off the single reader goroutine (spec.md §4.4).
const readerWorkerLimit = 8

// reader owns the single goroutine that pumps frames off the connection and
// classifies each one, per spec.md §4.4. Heartbeat PING/PONG, and the JSON
// decode and waiter fulfilment of a reply that matches a pending request,
// run inline on the reader goroutine itself; only listener callbacks
// (binary, custom and spontaneous events) are handed to a bounded worker
// pool so a slow listener callback cannot stall the socket.
type reader struct {
	codec    *frameCodec
	registry *requestRegistry
	listener Listener
	logger   *slog.Logger

	sourceID      string
	destinationID string
	sendEnvelope  func(Envelope) error

	group *errgroup.Group
	ctx   context.Context
	stop  context.CancelFunc

	done chan struct{}

	// lastPongUnixNano is updated from the reader goroutine whenever an
	// inbound PONG is observed (spec.md §4.5: "note liveness"), and read
	// from any goroutine via lastPong().
	lastPongUnixNano atomic.Int64
}

// lastPong returns the time of the most recent inbound PONG, or the zero
// Time if none has been seen yet.
func (r *reader) lastPong() time.Time {
	nanos := r.lastPongUnixNano.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func newReader(codec *frameCodec, registry *requestRegistry, listener Listener, logger *slog.Logger, sourceID, destinationID string, sendEnvelope func(Envelope) error) *reader {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readerWorkerLimit)
	return &reader{
		codec:         codec,
		registry:      registry,
		listener:      listener,
		logger:        logger,
		sourceID:      sourceID,
		destinationID: destinationID,
		sendEnvelope:  sendEnvelope,
		group:         g,
		ctx:           gctx,
		stop:          cancel,
		done:          make(chan struct{}),
	}
}

// run pumps frames until the connection errors or stop is called. It
// reports the terminal error (nil on a clean stop) on the returned channel's
// single value once the pump and all in-flight dispatch workers have
// finished.
func (r *reader) run() <-chan error {
	result := make(chan error, 1)
	go func() {
		defer close(r.done)
		err := r.pump()
		waitErr := r.group.Wait()
		if err == nil {
			err = waitErr
		}
		result <- err
	}()
	return result
}

func (r *reader) pump() error {
	for {
		raw, err := r.codec.readFrame()
		if err != nil {
			return err
		}

		var env Envelope
		if err := env.Unmarshal(raw); err != nil {
			r.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}

		if err := r.handle(env); err != nil {
			return err
		}

		select {
		case <-r.ctx.Done():
			return nil
		default:
		}
	}
}

func (r *reader) handle(env Envelope) error {
	if env.PayloadType == PayloadTypeBinary {
		r.dispatchBinary(env)
		return nil
	}

	if env.Namespace == NamespaceHeartbeat {
		return r.handleHeartbeat(env)
	}

	rewritten := rewriteTypeKey(env.PayloadUTF8)
	raw := []byte(rewritten)
	responseType, requestID, hasRequestID := peekResponseType(raw)

	if hasRequestID && r.registry.fulfill(requestID, raw) {
		return nil
	}

	if isCustomMessage(responseType, hasRequestID) {
		r.dispatchCustom(env.Namespace, env.PayloadUTF8)
		return nil
	}

	r.dispatchSpontaneous(env.Namespace, responseType, raw)
	return nil
}

// handleHeartbeat replies to an inbound PING inline, on the reader
// goroutine, matching InputHandler's synchronous "send PONG" behaviour in
// the original (spec.md §4.5 bullet 2). A PONG notes liveness and needs no
// reply; any other heartbeat responseType is logged and ignored (spec.md
// §4.5 bullet 3).
func (r *reader) handleHeartbeat(env Envelope) error {
	rewritten := rewriteTypeKey(env.PayloadUTF8)
	responseType, _, _ := peekResponseType([]byte(rewritten))

	switch responseType {
	case typePing:
		payload, err := pongPayload()
		if err != nil {
			return err
		}
		return r.sendEnvelope(stringEnvelope(r.sourceID, env.SourceID, NamespaceHeartbeat, payload))
	case typePong:
		r.lastPongUnixNano.Store(time.Now().UnixNano())
		return nil
	default:
		r.logger.Debug("ignoring unrecognised heartbeat message", "responseType", responseType)
		return nil
	}
}

func (r *reader) dispatchBinary(env Envelope) {
	payload := env.PayloadBinary
	namespace := env.Namespace
	r.group.Go(func() error {
		r.listener.OnBinaryEvent(BinaryEvent{Namespace: namespace, Payload: payload})
		return nil
	})
}

func (r *reader) dispatchCustom(namespace, payload string) {
	r.group.Go(func() error {
		r.listener.OnCustomEvent(CustomEvent{Namespace: namespace, Payload: payload})
		return nil
	})
}

func (r *reader) dispatchSpontaneous(namespace, responseType string, raw []byte) {
	r.group.Go(func() error {
		r.listener.OnSpontaneousEvent(SpontaneousEvent{Namespace: namespace, ResponseType: responseType, Raw: raw})
		return nil
	})
}

// Stop signals the pump to exit its event-loop check and waits for the
// dispatch workers to drain. The socket itself must be closed by the caller
// to unblock a pending readFrame.
func (r *reader) Stop() {
	r.stop()
	<-r.done
}

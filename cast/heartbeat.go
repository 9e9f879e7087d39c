package cast

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Heartbeat timing constants from spec.md §4.5, matching PingTask's delay
// and period in the original Channel.java.
const (
	defaultHeartbeatFirstFire = 1 * time.Second
	defaultHeartbeatPeriod    = 10 * time.Second
)

// heartbeat owns the PING ticker for a single Channel connection. It is
// created fresh per connection and stopped on teardown; it never outlives
// the socket it was built for.
type heartbeat struct {
	period    time.Duration
	firstFire time.Duration
	send      func(Envelope) error
	logger    *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func newHeartbeat(period, firstFire time.Duration, send func(Envelope) error, logger *slog.Logger) *heartbeat {
	if period <= 0 {
		period = defaultHeartbeatPeriod
	}
	if firstFire <= 0 {
		firstFire = defaultHeartbeatFirstFire
	}
	return &heartbeat{
		period:    period,
		firstFire: firstFire,
		send:      send,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// start runs the timer loop in its own goroutine: it waits firstFire, sends
// one PING, then sends a PING every period until stop is closed.
func (h *heartbeat) start(sourceID, destinationID string) {
	go func() {
		defer close(h.done)

		timer := time.NewTimer(h.firstFire)
		defer timer.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-timer.C:
				if err := h.ping(sourceID, destinationID); err != nil {
					h.logger.Warn("heartbeat ping failed", "error", err)
				}
				timer.Reset(h.period)
			}
		}
	}()
}

func (h *heartbeat) ping(sourceID, destinationID string) error {
	payload, err := json.Marshal(newPingMessage())
	if err != nil {
		return err
	}
	return h.send(stringEnvelope(sourceID, destinationID, NamespaceHeartbeat, string(payload)))
}

// pongPayload builds the JSON body of the PONG the reader sends in reply to
// an inbound PING (spec.md §4.5 bullet 2); it does not send anything itself.
func pongPayload() (string, error) {
	payload, err := json.Marshal(newPongMessage())
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Stop halts the ticker and blocks until its goroutine has exited.
func (h *heartbeat) Stop() {
	close(h.stop)
	<-h.done
}

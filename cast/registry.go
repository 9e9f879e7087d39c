package cast

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
)

// waiter is a one-shot completion slot shared between the caller awaiting a
// response and the reader fulfilling it; its lifetime ends at whichever
// happens first (fulfilment, timeout, or cancelAll on teardown).
type waiter struct {
	expectedKind ResponseKind
	result       chan waiterResult
}

type waiterResult struct {
	value any
	err   error
}

// requestRegistry maps an allocated request id to its pending waiter. It is
// safe for concurrent registration by callers and concurrent fulfilment by
// the reader goroutine (spec.md §4.3).
type requestRegistry struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*waiter
}

func newRequestRegistry() *requestRegistry {
	r := &requestRegistry{
		pending: make(map[int64]*waiter),
	}
	r.nextID = randomStartID()
	return r
}

// randomStartID picks the initial counter value: a uniform random integer in
// [1, 65536], avoiding both 0 (meaning "no id") and a fixed restart value
// that could collide with a previous process's in-flight ids.
func randomStartID() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(65536))
	if err != nil {
		// crypto/rand failing is unrecoverable; fall back to the low end of
		// the range rather than panic, since any positive start is safe.
		return 1
	}
	return n.Int64() + 1
}

// allocate returns the next value of the monotonically increasing counter.
func (r *requestRegistry) allocate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// register inserts a pending waiter for id and returns it; the caller
// receives on its result channel. It fails with InternalError if id is already
// present, which would indicate a counter bug.
func (r *requestRegistry) register(id int64, expectedKind ResponseKind) (*waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		return nil, &InternalError{Reason: "request id already registered"}
	}
	w := &waiter{expectedKind: expectedKind, result: make(chan waiterResult, 1)}
	r.pending[id] = w
	return w, nil
}

// deregister removes id without completing its waiter; used after a timeout
// or an explicit cancel path that already delivered the result another way.
func (r *requestRegistry) deregister(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// fulfill looks up id; if present, removes it, decodes raw as the waiter's
// expected response kind, and hands the result to the waiter. A decode
// failure completes the waiter with a DecodeError rather than dropping the
// message; the receiver's INVALID_REQUEST, LAUNCH_ERROR and LOAD_FAILED
// replies complete it with their own typed errors instead. It reports whether a waiter was found — callers use this to
// decide whether to treat the message as a spontaneous event instead.
func (r *requestRegistry) fulfill(id int64, raw []byte) bool {
	r.mu.Lock()
	w, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	value, err := decodeResponse(w.expectedKind, raw)
	if err != nil {
		var badRequest *BadRequestError
		var launchErr *LaunchError
		if !errors.As(err, &badRequest) && !errors.As(err, &launchErr) && !errors.Is(err, ErrMediaLoadFailed) {
			err = &DecodeError{Kind: string(w.expectedKind), Err: err}
		}
		w.result <- waiterResult{err: err}
		return true
	}
	w.result <- waiterResult{value: value}
	return true
}

// cancelAll removes every pending entry and completes each waiter with err.
// Called on channel teardown (spec.md §4.3).
func (r *requestRegistry) cancelAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[int64]*waiter)
	r.mu.Unlock()

	for _, w := range pending {
		w.result <- waiterResult{err: err}
	}
}

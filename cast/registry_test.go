package cast

import (
	"errors"
	"strconv"
	"testing"
)

func TestRegistryAllocateIsMonotonic(t *testing.T) {
	r := newRequestRegistry()
	prev := r.allocate()
	for i := 0; i < 100; i++ {
		id := r.allocate()
		if id <= prev {
			t.Fatalf("allocate() not monotonic: %d then %d", prev, id)
		}
		prev = id
	}
}

func TestRegistryFulfillDecodesAndCompletesWaiter(t *testing.T) {
	r := newRequestRegistry()
	id := r.allocate()

	w, err := r.register(id, KindStatus)
	if err != nil {
		t.Fatal(err)
	}

	raw := []byte(`{"responseType":"RECEIVER_STATUS","requestId":` + strconv.FormatInt(id, 10) + `,"status":{}}`)
	if ok := r.fulfill(id, raw); !ok {
		t.Fatal("fulfill reported no waiter")
	}

	res := <-w.result
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if _, ok := res.value.(*StatusResponse); !ok {
		t.Fatalf("got %T, want *StatusResponse", res.value)
	}
}

func TestRegistryFulfillUnknownIDReturnsFalse(t *testing.T) {
	r := newRequestRegistry()
	if r.fulfill(12345, []byte(`{}`)) {
		t.Fatal("expected fulfill of unregistered id to report false")
	}
}

func TestRegistryFulfillBadJSONYieldsDecodeError(t *testing.T) {
	r := newRequestRegistry()
	id := r.allocate()
	w, err := r.register(id, KindStatus)
	if err != nil {
		t.Fatal(err)
	}

	r.fulfill(id, []byte(`not json`))
	res := <-w.result
	var decodeErr *DecodeError
	if !errors.As(res.err, &decodeErr) {
		t.Fatalf("got %v, want *DecodeError", res.err)
	}
}

func TestRegistryDoubleRegisterFails(t *testing.T) {
	r := newRequestRegistry()
	id := r.allocate()
	if _, err := r.register(id, KindStatus); err != nil {
		t.Fatal(err)
	}
	if _, err := r.register(id, KindStatus); err == nil {
		t.Fatal("expected second register of same id to fail")
	}
}

func TestRegistryCancelAllCompletesEveryWaiter(t *testing.T) {
	r := newRequestRegistry()
	var waiters []*waiter
	for i := 0; i < 5; i++ {
		id := r.allocate()
		w, err := r.register(id, KindStatus)
		if err != nil {
			t.Fatal(err)
		}
		waiters = append(waiters, w)
	}

	r.cancelAll(ErrChannelClosed)

	for _, w := range waiters {
		res := <-w.result
		if !errors.Is(res.err, ErrChannelClosed) {
			t.Fatalf("got %v, want ErrChannelClosed", res.err)
		}
	}
}

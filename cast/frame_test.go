package cast

import (
	"encoding/binary"
	"net"
	"testing"
)

func TestFrameCodecRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	writer := newFrameCodec(client)
	reader := newFrameCodec(server)

	payload := []byte("hello cast")
	done := make(chan error, 1)
	go func() { done <- writer.writeFrame(payload) }()

	got, err := reader.readFrame()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestFrameCodecShortReadIsProtocolError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 10)

	go func() {
		client.Write(header)
		client.Write([]byte("abc"))
		client.Close()
	}()

	reader := newFrameCodec(server)
	_, err := reader.readFrame()
	if err == nil {
		t.Fatal("expected an error on short read")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("got %T, want *ProtocolError", err)
	}
}

func TestFrameCodecRejectsOversizedLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, maxFrameSize+1)
	go client.Write(header)

	reader := newFrameCodec(server)
	_, err := reader.readFrame()
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("got %T (%v), want *ProtocolError", err, err)
	}
}

func TestFrameCodecConcurrentWritesDoNotInterleave(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	writer := newFrameCodec(client)
	reader := newFrameCodec(server)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- writer.writeFrame([]byte("payload")) }()
	}

	for i := 0; i < n; i++ {
		got, err := reader.readFrame()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "payload" {
			t.Fatalf("frame %d corrupted: %q", i, got)
		}
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
}

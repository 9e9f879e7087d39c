package cast

import "testing"

func TestEnvelopeRoundTripString(t *testing.T) {
	in := stringEnvelope("sender-1", DefaultReceiverID, NamespaceReceiver, `{"type":"GET_STATUS","requestId":7}`)

	data, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var out Envelope
	if err := out.Unmarshal(data); err != nil {
		t.Fatal(err)
	}

	if out.SourceID != in.SourceID || out.DestinationID != in.DestinationID || out.Namespace != in.Namespace {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if out.PayloadType != PayloadTypeString || out.PayloadUTF8 != in.PayloadUTF8 {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestEnvelopeRoundTripBinary(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x00, 0xff}
	in := binaryEnvelope("sender-1", DefaultReceiverID, NamespaceDeviceAuth, payload)

	data, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var out Envelope
	if err := out.Unmarshal(data); err != nil {
		t.Fatal(err)
	}

	if out.PayloadType != PayloadTypeBinary {
		t.Fatalf("got payload type %v, want BINARY", out.PayloadType)
	}
	if string(out.PayloadBinary) != string(payload) {
		t.Fatalf("got %v, want %v", out.PayloadBinary, payload)
	}
}

func TestEnvelopeMarshalRejectsBlankFields(t *testing.T) {
	cases := []Envelope{
		{SourceID: "", DestinationID: "d", Namespace: "n"},
		{SourceID: "s", DestinationID: "", Namespace: "n"},
		{SourceID: "s", DestinationID: "d", Namespace: ""},
	}
	for _, env := range cases {
		if _, err := env.Marshal(); err == nil {
			t.Fatalf("expected error for %+v", env)
		}
	}
}

func TestEnvelopeUnmarshalSkipsUnknownFields(t *testing.T) {
	in := stringEnvelope("sender-1", DefaultReceiverID, NamespaceReceiver, `{}`)
	data, err := in.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	// Append a well-formed but unrecognised field (number 10, varint type,
	// value 42): tag byte 0x50 = (10<<3)|0.
	data = append(data, 0x50, 0x2a)

	var out Envelope
	if err := out.Unmarshal(data); err != nil {
		t.Fatalf("unexpected error decoding with unknown trailing field: %v", err)
	}
}

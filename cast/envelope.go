package cast

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion enumerates the envelope's protocol_version field. CASTV2_1_0
// is the only value in use on the wire today.
type ProtocolVersion int32

const ProtocolVersionCastV2_1_0 ProtocolVersion = 0

// PayloadType selects which of PayloadUTF8/PayloadBinary is populated.
type PayloadType int32

const (
	PayloadTypeString PayloadType = 0
	PayloadTypeBinary PayloadType = 1
)

const DefaultReceiverID = "receiver-0"

// Envelope is the protocol envelope described in spec.md §3: source id,
// destination id, namespace, protocol version, and exactly one of a UTF-8 or
// binary payload. Field numbers mirror the real Cast CastMessage protobuf
// schema referenced by the original Java implementation.
type Envelope struct {
	ProtocolVersion ProtocolVersion
	SourceID        string
	DestinationID   string
	Namespace       string
	PayloadType     PayloadType
	PayloadUTF8     string
	PayloadBinary   []byte
}

const (
	fieldProtocolVersion protowire.Number = 1
	fieldSourceID        protowire.Number = 2
	fieldDestinationID   protowire.Number = 3
	fieldNamespace       protowire.Number = 4
	fieldPayloadType     protowire.Number = 5
	fieldPayloadUTF8     protowire.Number = 6
	fieldPayloadBinary   protowire.Number = 7
)

// Marshal encodes the envelope using the wire-compatible subset of protobuf
// encoding the device side expects: varint for the two enums, length-delimited
// for the strings/bytes.
func (e Envelope) Marshal() ([]byte, error) {
	if e.SourceID == "" {
		return nil, &InternalError{Reason: "envelope source id is empty"}
	}
	if e.DestinationID == "" {
		return nil, &InternalError{Reason: "envelope destination id is empty"}
	}
	if e.Namespace == "" {
		return nil, &InternalError{Reason: "envelope namespace is empty"}
	}

	var b []byte
	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.ProtocolVersion))
	b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, e.SourceID)
	b = protowire.AppendTag(b, fieldDestinationID, protowire.BytesType)
	b = protowire.AppendString(b, e.DestinationID)
	b = protowire.AppendTag(b, fieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, e.Namespace)
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.PayloadType))

	switch e.PayloadType {
	case PayloadTypeString:
		b = protowire.AppendTag(b, fieldPayloadUTF8, protowire.BytesType)
		b = protowire.AppendString(b, e.PayloadUTF8)
	case PayloadTypeBinary:
		b = protowire.AppendTag(b, fieldPayloadBinary, protowire.BytesType)
		b = protowire.AppendBytes(b, e.PayloadBinary)
	default:
		return nil, &InternalError{Reason: fmt.Sprintf("unknown payload type %d", e.PayloadType)}
	}

	return b, nil
}

// Unmarshal decodes an envelope from its wire representation. Unknown fields
// are skipped, matching protobuf's forward-compatibility rules.
func (e *Envelope) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return &ProtocolError{Reason: "malformed envelope tag"}
		}
		data = data[n:]

		switch num {
		case fieldProtocolVersion:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return &ProtocolError{Reason: "malformed protocol_version"}
			}
			e.ProtocolVersion = ProtocolVersion(v)
			data = data[n:]
		case fieldSourceID:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return &ProtocolError{Reason: "malformed source_id"}
			}
			e.SourceID = v
			data = data[n:]
		case fieldDestinationID:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return &ProtocolError{Reason: "malformed destination_id"}
			}
			e.DestinationID = v
			data = data[n:]
		case fieldNamespace:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return &ProtocolError{Reason: "malformed namespace"}
			}
			e.Namespace = v
			data = data[n:]
		case fieldPayloadType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return &ProtocolError{Reason: "malformed payload_type"}
			}
			e.PayloadType = PayloadType(v)
			data = data[n:]
		case fieldPayloadUTF8:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return &ProtocolError{Reason: "malformed payload_utf8"}
			}
			e.PayloadUTF8 = v
			data = data[n:]
		case fieldPayloadBinary:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return &ProtocolError{Reason: "malformed payload_binary"}
			}
			e.PayloadBinary = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return &ProtocolError{Reason: "malformed unknown field"}
			}
			data = data[n:]
		}
	}
	return nil
}

func stringEnvelope(sourceID, destinationID, namespace, payload string) Envelope {
	return Envelope{
		ProtocolVersion: ProtocolVersionCastV2_1_0,
		SourceID:        sourceID,
		DestinationID:   destinationID,
		Namespace:       namespace,
		PayloadType:     PayloadTypeString,
		PayloadUTF8:     payload,
	}
}

func binaryEnvelope(sourceID, destinationID, namespace string, payload []byte) Envelope {
	return Envelope{
		ProtocolVersion: ProtocolVersionCastV2_1_0,
		SourceID:        sourceID,
		DestinationID:   destinationID,
		Namespace:       namespace,
		PayloadType:     PayloadTypeBinary,
		PayloadBinary:   payload,
	}
}

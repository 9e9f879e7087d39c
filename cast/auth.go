package cast

import "google.golang.org/protobuf/encoding/protowire"

// Device-auth wire format: the BINARY payload of the deviceauth namespace is
// a DeviceAuthMessage carrying one of an (empty) challenge, a response we
// never need to inspect, or an error. Field numbers mirror the real
// CastChannel.DeviceAuthMessage schema (challenge=1, response=2, error=3);
// within AuthError, error_type is field 1.
const (
	fieldAuthChallenge protowire.Number = 1
	fieldAuthResponse  protowire.Number = 2
	fieldAuthError     protowire.Number = 3

	fieldAuthErrorType protowire.Number = 1
)

// marshalAuthChallenge builds the outbound DeviceAuthMessage{challenge:{}}
// payload sent to start the handshake (spec.md §4.6 step 2).
func marshalAuthChallenge() []byte {
	var challenge []byte // empty AuthChallenge message
	var b []byte
	b = protowire.AppendTag(b, fieldAuthChallenge, protowire.BytesType)
	b = protowire.AppendBytes(b, challenge)
	return b
}

// authErrorType extracts the error_type from a DeviceAuthMessage's BINARY
// payload, returning ok=false when no error field is present (the expected
// case on a successful handshake).
func authErrorType(data []byte) (errorType int64, ok bool, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, false, &ProtocolError{Reason: "malformed device auth message tag"}
		}
		data = data[n:]

		if num == fieldAuthError {
			errData, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, false, &ProtocolError{Reason: "malformed auth error field"}
			}
			data = data[n:]
			et, _ := parseAuthErrorType(errData)
			return et, true, nil
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return 0, false, &ProtocolError{Reason: "malformed device auth message field"}
		}
		data = data[n:]
	}
	return 0, false, nil
}

func parseAuthErrorType(data []byte) (int64, bool) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, false
		}
		data = data[n:]
		if num == fieldAuthErrorType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, false
			}
			return int64(v), true
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return 0, false
		}
		data = data[n:]
	}
	return 0, false
}

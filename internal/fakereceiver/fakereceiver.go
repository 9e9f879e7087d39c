// Package fakereceiver is an in-process stand-in for a Cast device: it
// speaks the BINARY device-auth handshake and the length-prefixed
// JSON/protobuf wire protocol well enough for cast.Channel's tests to
// exercise Connect/Close/SendRequest without a real network device.
//
// Adapted from ValiantChip-osp/server/server.go's self-signed ECDSA
// certificate bootstrap (ReturnWithExitCode's key/cert/tls.Config setup),
// rewritten for a plain TCP+TLS listener (this protocol's real transport)
// in place of QUIC, and for Cast's protobuf envelope + JSON control
// messages in place of Open Screen's CBOR messages.
package fakereceiver

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/json"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Receiver is a minimal test double: it serves each accepted connection on
// its own goroutine, completes the device-auth handshake, and answers GET_STATUS/heartbeat
// traffic with scripted or generated responses via Script.
type Receiver struct {
	listener net.Listener
	script   Script

	// AuthErrorType, when non-zero, makes every handshake fail with this
	// error_type instead of succeeding, for exercising cast.AuthError.
	AuthErrorType int64

	mu        sync.Mutex
	conns     []net.Conn
	closed    bool
	pingCount int
}

// Script lets a test customize how the fake receiver answers inbound
// frames; Handle is called once per decoded STRING/BINARY frame (excluding
// the initial auth handshake and heartbeat traffic, which Receiver answers
// itself) and returns zero or more raw JSON replies to send back on the
// same namespace/destination.
type Script interface {
	Handle(namespace, destinationID, sourceID string, payload []byte, isBinary bool) [][]byte
}

// NewReceiver generates a self-signed ECDSA certificate (mirroring
// server.go's bootstrap) and starts listening on a loopback port.
func NewReceiver(script Script) (*Receiver, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
	})
	if err != nil {
		return nil, err
	}

	r := &Receiver{listener: ln, script: script}
	go r.acceptLoop()
	return r, nil
}

// Addr returns the host:port a cast.Channel should dial.
func (r *Receiver) Addr() string {
	return r.listener.Addr().String()
}

func (r *Receiver) Close() error {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return r.listener.Close()
}

func (r *Receiver) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			conn.Close()
			return
		}
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
		go r.handle(conn)
	}
}

func (r *Receiver) handle(conn net.Conn) {
	defer conn.Close()

	// Device-auth handshake: one request, one reply.
	authRaw, err := readFrame(conn)
	if err != nil {
		return
	}
	var authReq wireEnvelope
	if err := authReq.unmarshal(authRaw); err != nil {
		return
	}
	authReply := marshalEmptyAuthResponse()
	if r.AuthErrorType != 0 {
		authReply = marshalAuthError(r.AuthErrorType)
	}
	authEnv := wireEnvelope{
		sourceID:      authReq.destinationID,
		destinationID: authReq.sourceID,
		namespace:     authReq.namespace,
		payloadBinary: authReply,
		isBinary:      true,
	}
	if err := writeFrame(conn, authEnv.marshal()); err != nil {
		return
	}
	if r.AuthErrorType != 0 {
		return
	}

	for {
		raw, err := readFrame(conn)
		if err != nil {
			return
		}
		var env wireEnvelope
		if err := env.unmarshal(raw); err != nil {
			return
		}

		if env.namespace == namespaceHeartbeat {
			r.replyPong(conn, env)
			continue
		}

		if r.script == nil {
			continue
		}
		for _, reply := range r.script.Handle(env.namespace, env.destinationID, env.sourceID, env.payload(), env.isBinary) {
			replyEnv := wireEnvelope{
				sourceID:      env.destinationID,
				destinationID: env.sourceID,
				namespace:     env.namespace,
				payloadUTF8:   string(reply),
			}
			if err := writeFrame(conn, replyEnv.marshal()); err != nil {
				return
			}
		}
	}
}

// PingCount reports how many PING frames the receiver has seen on the
// heartbeat namespace, for tests asserting the Channel's heartbeat timer
// actually fires (spec.md §8 scenario 4).
func (r *Receiver) PingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pingCount
}

func (r *Receiver) replyPong(conn net.Conn, env wireEnvelope) {
	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(env.payload(), &probe)
	if probe.Type != "PING" {
		return
	}
	r.mu.Lock()
	r.pingCount++
	r.mu.Unlock()
	pong, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: "PONG"})
	reply := wireEnvelope{
		sourceID:      env.destinationID,
		destinationID: env.sourceID,
		namespace:     namespaceHeartbeat,
		payloadUTF8:   string(pong),
	}
	writeFrame(conn, reply.marshal())
}

const namespaceHeartbeat = "urn:x-cast:com.google.cast.tp.heartbeat"

func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: "fakereceiver"},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		NotBefore:          time.Now(),
		NotAfter:           time.Now().AddDate(1, 0, 0),
		KeyUsage:           x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// --- minimal wire helpers, independent of the cast package under test ---

func readFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(conn net.Conn, payload []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// marshalEmptyAuthResponse builds a DeviceAuthMessage with an empty
// response field (field 2) and no error field, field numbers matching
// cast/auth.go.
func marshalEmptyAuthResponse() []byte {
	var b []byte
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, nil)
	return b
}

// marshalAuthError builds a DeviceAuthMessage carrying an error field (field
// 3) with the given error_type (field 1 within it), for AuthError tests.
func marshalAuthError(errorType int64) []byte {
	var errField []byte
	errField = protowire.AppendTag(errField, 1, protowire.VarintType)
	errField = protowire.AppendVarint(errField, uint64(errorType))

	var b []byte
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, errField)
	return b
}

type wireEnvelope struct {
	sourceID      string
	destinationID string
	namespace     string
	payloadType   int32
	payloadUTF8   string
	payloadBinary []byte
	isBinary      bool
}

func (e wireEnvelope) payload() []byte {
	if e.isBinary {
		return e.payloadBinary
	}
	return []byte(e.payloadUTF8)
}

func (e wireEnvelope) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, e.sourceID)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, e.destinationID)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, e.namespace)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	if e.isBinary {
		b = protowire.AppendVarint(b, 1)
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		return protowire.AppendBytes(b, e.payloadBinary)
	}
	b = protowire.AppendVarint(b, 0)
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, e.payloadUTF8)
	return b
}

func (e *wireEnvelope) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return io.ErrUnexpectedEOF
		}
		data = data[n:]
		switch num {
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return io.ErrUnexpectedEOF
			}
			e.sourceID = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return io.ErrUnexpectedEOF
			}
			e.destinationID = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return io.ErrUnexpectedEOF
			}
			e.namespace = v
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return io.ErrUnexpectedEOF
			}
			e.payloadType = int32(v)
			e.isBinary = v == 1
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return io.ErrUnexpectedEOF
			}
			e.payloadUTF8 = v
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return io.ErrUnexpectedEOF
			}
			e.payloadBinary = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return io.ErrUnexpectedEOF
			}
			data = data[n:]
		}
	}
	return nil
}

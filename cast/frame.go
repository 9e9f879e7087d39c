package cast

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameSize is the sanity limit spec.md §4.1 suggests implementers apply;
// the wire format itself carries no cap.
const maxFrameSize = 64 * 1024 * 1024

// frameCodec reads and writes length-prefixed frames over a single
// connection: a big-endian uint32 length followed by that many bytes of
// serialised envelope. Writes are serialised on writeMu so concurrent
// senders never interleave partial frames (spec.md §4.1, §5).
//
// Grounded on ValiantChip-osp/variable_int/variable_int.go's own
// length-prefix style and hongjun500-chat-go/internal/transport/frame.go's
// pooled read buffer.
type frameCodec struct {
	conn    net.Conn
	writeMu sync.Mutex
	bufPool *sync.Pool
}

func newFrameCodec(conn net.Conn) *frameCodec {
	return &frameCodec{
		conn: conn,
		bufPool: &sync.Pool{
			New: func() any {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}
}

// writeFrame emits len(payload) as a 4-byte big-endian length, then payload,
// atomically with respect to other writers on the same connection.
func (c *frameCodec) writeFrame(payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("cast: frame too large: %d bytes", len(payload))
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return err
	}
	return nil
}

// readFrame blocks for exactly one frame: 4 bytes of length, then that many
// bytes of body. A short read mid-body is reported as a ProtocolError per
// spec.md §4.1.
func (c *frameCodec) readFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length > maxFrameSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame length %d exceeds sanity limit", length)}
	}

	bufPtr := c.bufPool.Get().(*[]byte)
	buf := *bufPtr
	if cap(buf) < int(length) {
		buf = make([]byte, length)
	} else {
		buf = buf[:length]
	}

	n, err := io.ReadFull(c.conn, buf)
	if err != nil {
		c.bufPool.Put(bufPtr)
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, &ProtocolError{Reason: fmt.Sprintf("incomplete message: read %d of %d", n, length)}
		}
		return nil, err
	}

	out := make([]byte, length)
	copy(out, buf)
	*bufPtr = buf
	c.bufPool.Put(bufPtr)
	return out, nil
}

// wireFrame
package apocalypse

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FrameKind tags one wire frame. The values follow websocket opcodes so a
// frame stream maps one to one onto an upgraded socket.
type FrameKind byte

const (
	FrameText   FrameKind = 0x1
	FrameBinary FrameKind = 0x2
	FrameClose  FrameKind = 0x8
	FramePing   FrameKind = 0x9
	FramePong   FrameKind = 0xA
)

// maxFramePayload caps a single frame, refused before allocation so a bad
// length prefix cannot exhaust memory.
const maxFramePayload = 1 << 22

var errFrameTooLarge = errors.New("frame payload exceeds limit")

// Frame is one unit read from, or written to, a wire.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// TextFrame builds a text frame around s.
func TextFrame(s string) Frame {
	return Frame{Kind: FrameText, Payload: []byte(s)}
}

// FrameSource is the boundary a wire demon consumes: the next frame, or an
// error once the connection is gone. Any error is terminal and makes the
// demon vanquish itself gracefully.
type FrameSource interface {
	ReadFrame(ctx context.Context) (Frame, error)
}

// DecodeFrame reads one frame off the wire: a kind byte, a big-endian
// uint32 payload length, and the payload itself.
func DecodeFrame(r *bufio.Reader) (Frame, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFramePayload {
		return Frame{}, errors.Wrapf(errFrameTooLarge, "%d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Kind: FrameKind(kind), Payload: payload}, nil
}

// EncodeFrame writes one frame and flushes it.
func EncodeFrame(w *bufio.Writer, f Frame) error {
	if len(f.Payload) > maxFramePayload {
		return errors.Wrapf(errFrameTooLarge, "%d bytes", len(f.Payload))
	}
	if err := w.WriteByte(byte(f.Kind)); err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(f.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(f.Payload); err != nil {
		return err
	}
	return w.Flush()
}

// ConnFrameSource adapts a net.Conn carrying length-prefixed frames into a
// FrameSource. Cancelling the read context yanks the connection's read
// deadline into the past, which is the only portable way to interrupt a
// blocked socket read.
type ConnFrameSource struct {
	conn net.Conn
	r    *bufio.Reader

	mu sync.Mutex
	w  *bufio.Writer
}

func NewConnFrameSource(conn net.Conn) *ConnFrameSource {
	return &ConnFrameSource{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

func (s *ConnFrameSource) ReadFrame(ctx context.Context) (Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()
	frame, err := DecodeFrame(s.r)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		return Frame{}, err
	}
	return frame, nil
}

// Write sends one frame down the connection. Safe from any goroutine; the
// runtime itself only ever reads.
func (s *ConnFrameSource) Write(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EncodeFrame(s.w, f)
}

func (s *ConnFrameSource) Close() error {
	return s.conn.Close()
}

// Package wire frames collectd messages on a byte stream.
//
// A message is a sequence of typed items closed by an end-of-message
// marker. Each item starts with a one byte tag: integers follow as 8
// big-endian bytes, strings as a 4 byte big-endian length and the bytes.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	tagInt    byte = 1
	tagString byte = 2
	tagEOM    byte = 3
)

// MaxString bounds the length of a single string item.
const MaxString = 64 << 20

var (
	// ErrEndOfMessage is returned by a get when the next item is the
	// end-of-message marker. The marker is not consumed.
	ErrEndOfMessage = errors.New("end of message")
	// ErrModeMismatch is returned when reading in encode mode or writing
	// in decode mode.
	ErrModeMismatch = errors.New("wire: wrong mode")
	// ErrProtocol reports a malformed or unexpected item.
	ErrProtocol = errors.New("wire: protocol error")
)

// Mode is the direction a Conn is currently used in.
type Mode int

const (
	Decode Mode = iota
	Encode
)

// Conn is a framed connection. It is not safe for concurrent use.
type Conn struct {
	rwc  io.ReadWriteCloser
	r    *bufio.Reader
	w    *bufio.Writer
	mode Mode
}

// NewConn wraps rwc. The connection starts in decode mode.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		r:   bufio.NewReader(rwc),
		w:   bufio.NewWriter(rwc),
	}
}

func (c *Conn) Encode()    { c.mode = Encode }
func (c *Conn) Decode()    { c.mode = Decode }
func (c *Conn) Mode() Mode { return c.mode }

// Close closes the underlying stream without flushing.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

func (c *Conn) PutInt(v int64) error {
	if c.mode != Encode {
		return ErrModeMismatch
	}
	var buf [9]byte
	buf[0] = tagInt
	binary.BigEndian.PutUint64(buf[1:], uint64(v))
	_, err := c.w.Write(buf[:])
	return err
}

func (c *Conn) PutString(s string) error {
	if c.mode != Encode {
		return ErrModeMismatch
	}
	if len(s) > MaxString {
		return fmt.Errorf("%w: string of %d bytes exceeds limit", ErrProtocol, len(s))
	}
	var hdr [5]byte
	hdr[0] = tagString
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(s)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.w.WriteString(s)
	return err
}

// EndOfMessage closes the current message. In encode mode it writes the
// marker and flushes. In decode mode it discards any unread items up to
// and including the marker.
func (c *Conn) EndOfMessage() error {
	if c.mode == Encode {
		if err := c.w.WriteByte(tagEOM); err != nil {
			return err
		}
		return c.w.Flush()
	}
	for {
		tag, err := c.r.ReadByte()
		if err != nil {
			return err
		}
		switch tag {
		case tagEOM:
			return nil
		case tagInt:
			if _, err := c.r.Discard(8); err != nil {
				return err
			}
		case tagString:
			n, err := c.readLen()
			if err != nil {
				return err
			}
			if _, err := c.r.Discard(n); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: bad tag %d", ErrProtocol, tag)
		}
	}
}

// peekTag returns the tag of the next item, or ErrEndOfMessage without
// consuming the marker.
func (c *Conn) peekTag(want byte) error {
	if c.mode != Decode {
		return ErrModeMismatch
	}
	b, err := c.r.Peek(1)
	if err != nil {
		return err
	}
	switch b[0] {
	case want:
		_, err := c.r.ReadByte()
		return err
	case tagEOM:
		return ErrEndOfMessage
	}
	return fmt.Errorf("%w: expected tag %d, got %d", ErrProtocol, want, b[0])
}

func (c *Conn) GetInt() (int64, error) {
	if err := c.peekTag(tagInt); err != nil {
		return 0, err
	}
	var buf [8]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func (c *Conn) GetString() (string, error) {
	if err := c.peekTag(tagString); err != nil {
		return "", err
	}
	n, err := c.readLen()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (c *Conn) readLen() (int, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxString {
		return 0, fmt.Errorf("%w: string of %d bytes exceeds limit", ErrProtocol, n)
	}
	return int(n), nil
}

package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type buffer struct {
	bytes.Buffer
}

func (b *buffer) Close() error { return nil }

func TestRoundTrip(t *testing.T) {
	buf := &buffer{}
	c := NewConn(buf)
	c.Encode()
	if err := c.PutInt(-42); err != nil {
		t.Fatal(err)
	}
	if err := c.PutString("hello"); err != nil {
		t.Fatal(err)
	}
	if err := c.PutString(""); err != nil {
		t.Fatal(err)
	}
	if err := c.EndOfMessage(); err != nil {
		t.Fatal(err)
	}

	c.Decode()
	i, err := c.GetInt()
	if err != nil || i != -42 {
		t.Fatalf("GetInt = %d, %v", i, err)
	}
	s, err := c.GetString()
	if err != nil || s != "hello" {
		t.Fatalf("GetString = %q, %v", s, err)
	}
	s, err = c.GetString()
	if err != nil || s != "" {
		t.Fatalf("GetString = %q, %v", s, err)
	}
	if _, err := c.GetString(); !errors.Is(err, ErrEndOfMessage) {
		t.Fatalf("expected ErrEndOfMessage, got %v", err)
	}
	// marker is still there
	if err := c.EndOfMessage(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetInt(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestEndOfMessageSkipsUnread(t *testing.T) {
	buf := &buffer{}
	c := NewConn(buf)
	c.Encode()
	c.PutString("skip me")
	c.PutInt(7)
	c.EndOfMessage()
	c.PutInt(8)
	c.EndOfMessage()

	c.Decode()
	if err := c.EndOfMessage(); err != nil {
		t.Fatal(err)
	}
	i, err := c.GetInt()
	if err != nil || i != 8 {
		t.Fatalf("GetInt = %d, %v", i, err)
	}
}

func TestModeAndTypeErrors(t *testing.T) {
	buf := &buffer{}
	c := NewConn(buf)
	if err := c.PutInt(1); !errors.Is(err, ErrModeMismatch) {
		t.Errorf("PutInt in decode mode: %v", err)
	}
	c.Encode()
	if _, err := c.GetInt(); !errors.Is(err, ErrModeMismatch) {
		t.Errorf("GetInt in encode mode: %v", err)
	}
	c.PutString("x")
	c.EndOfMessage()
	c.Decode()
	if _, err := c.GetInt(); !errors.Is(err, ErrProtocol) {
		t.Errorf("GetInt on string: %v", err)
	}
}

func TestWireBytes(t *testing.T) {
	buf := &buffer{}
	c := NewConn(buf)
	c.Encode()
	c.PutInt(3)
	c.PutString("ab")
	c.EndOfMessage()
	want := []byte{
		tagInt, 0, 0, 0, 0, 0, 0, 0, 3,
		tagString, 0, 0, 0, 2, 'a', 'b',
		tagEOM,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("got % x, want % x", buf.Bytes(), want)
	}
}

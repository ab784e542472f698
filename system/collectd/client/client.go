package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/wire"
)

// ErrNotConnected is returned by operations on a client without a live
// connection.
var ErrNotConnected = api.NewError(api.ClientNotConnected, "client not connected to server")

// AckMode selects whether ad operations wait for an acknowledgement.
type AckMode int

const (
	WantAcks AckMode = iota
	DontWantAcks
)

// Options configures a Client.
type Options struct {
	Log     *slog.Logger  // Logger (optional)
	AckMode AckMode       // Ack mode for ad operations (default: WantAcks)
	Timeout time.Duration // Per-attempt dial timeout (default: 5s)
}

// Client speaks the collection protocol over one connection. Requests are
// strictly sequential; a Client may be shared between goroutines and
// cursors, which then take turns. A request made while a cursor's query
// reply is still arriving first reads the rest of that reply into the
// cursor.
type Client struct {
	addr string
	log  *slog.Logger

	mu       sync.Mutex
	nc       net.Conn
	conn     *wire.Conn
	ackMode  AckMode
	xactions map[string]*xaction
	current  string
	query    *stream // owner of the unfinished query reply, if any
}

type xaction struct {
	name    string
	local   bool
	pending bool
}

// Dial connects to the server at addr, retrying with backoff until it
// succeeds or ctx is done, and sends the Connect request.
func Dial(ctx context.Context, addr string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		addr:     addr,
		log:      log.With("component", "collectd-client"),
		ackMode:  opts.AckMode,
		xactions: map[string]*xaction{},
	}
	nc, err := dial(ctx, addr, timeout, c.log)
	if err != nil {
		return nil, err
	}
	c.nc = nc
	c.conn = wire.NewConn(nc)
	if err := c.putOp(api.OpConnect, nil); err != nil {
		nc.Close()
		return nil, err
	}
	c.log.Debug("connected", "addr", addr)
	return c, nil
}

// dial retries with exponential backoff until it connects or ctx is done.
func dial(ctx context.Context, addr string, timeout time.Duration, log *slog.Logger) (net.Conn, error) {
	backoff := 100 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		d := net.Dialer{Timeout: timeout}
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return nc, nil
		}
		log.Debug("failed to connect to collectd, retrying", "addr", addr, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

// SetAckMode changes the ack mode of subsequent ad operations.
func (c *Client) SetAckMode(mode AckMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackMode = mode
}

// Disconnect aborts the active transactions opened through c, says
// goodbye and closes the connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	for name, x := range c.xactions {
		if x.pending {
			continue
		}
		if _, err := c.send(api.OpAbortTransaction, xactionRec(name), false); err != nil {
			c.log.Warn("failed to abort transaction on disconnect", "xaction", name, "error", err)
		}
		delete(c.xactions, name)
	}
	c.current = ""
	err := c.putOp(api.OpDisconnect, nil)
	c.closeLocked()
	return err
}

// Close drops the connection without the Disconnect exchange.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	c.conn = nil
	c.query = nil
	return err
}

// putOp writes one request message, after settling any unfinished query
// reply.
func (c *Client) putOp(op api.Op, rec *classad.Ad) error {
	if c.query != nil {
		c.query.settleLocked()
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.Encode()
	if err := c.conn.PutInt(int64(op)); err != nil {
		return api.Errorf(api.CommunicationError, "failed to send %s: %v", op, err)
	}
	if rec != nil {
		if err := c.conn.PutString(classad.Unparse(rec)); err != nil {
			return api.Errorf(api.CommunicationError, "failed to send %s: %v", op, err)
		}
	}
	if err := c.conn.EndOfMessage(); err != nil {
		return api.Errorf(api.CommunicationError, "failed to send %s: %v", op, err)
	}
	return nil
}

// readAck reads one reply message and checks that it answers op.
func (c *Client) readAck(op api.Op) (*classad.Ad, error) {
	c.conn.Decode()
	got, err := c.conn.GetInt()
	if err != nil {
		return nil, api.Errorf(api.CommunicationError, "failed to read ack for %s: %v", op, err)
	}
	text, err := c.conn.GetString()
	if err != nil {
		return nil, api.Errorf(api.CommunicationError, "failed to read ack for %s: %v", op, err)
	}
	if err := c.conn.EndOfMessage(); err != nil {
		return nil, api.Errorf(api.CommunicationError, "failed to read ack for %s: %v", op, err)
	}
	if want := api.AckFor(op); api.Op(got) != want {
		return nil, api.Errorf(api.BadServerAck, "expected %s for %s, got %s", want, op, api.Op(got))
	}
	ad, err := classad.Parse(text)
	if err != nil {
		return nil, api.Errorf(api.BadServerAck, "unparsable ack for %s: %v", op, err)
	}
	return ad, nil
}

// send performs one request. With expectAck set it marks the request as
// wanting an ack, reads it and returns it with the error it reports; the
// ack is returned even when it reports an error. Transport failures return
// a nil ack.
func (c *Client) send(op api.Op, rec *classad.Ad, expectAck bool) (*classad.Ad, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if expectAck {
		rec.Insert(api.AttrWantAck, classad.Bool(true))
	}
	if err := c.putOp(op, rec); err != nil {
		c.closeLocked()
		return nil, err
	}
	if !expectAck {
		return nil, nil
	}
	ack, err := c.readAck(op)
	if err != nil {
		if api.CodeOf(err) == api.CommunicationError {
			c.closeLocked()
		}
		return nil, err
	}
	if e := api.ErrorFromAd(ack); e != nil {
		if cause, ok := ack.EvalAd(api.AttrErrorCause); ok {
			return ack, &CauseError{Err: e, Cause: cause}
		}
		return ack, e
	}
	return ack, nil
}

// CauseError is a server error that names the record that caused it.
type CauseError struct {
	Err   *api.Error
	Cause *classad.Ad
}

func (e *CauseError) Error() string {
	return fmt.Sprintf("%v (cause %s)", e.Err, classad.Unparse(e.Cause))
}

func (e *CauseError) Unwrap() error { return e.Err }

func xactionRec(name string) *classad.Ad {
	rec := classad.New()
	rec.Insert(api.AttrXactionName, classad.String(name))
	return rec
}

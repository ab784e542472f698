package server

import (
	"log/slog"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/storage"
	"github.com/signadot/adcoll/system/collectd/wire"
)

// Outcome tells the session what to do after a request.
type Outcome int

const (
	// Normal: wait for the next request.
	Normal Outcome = iota
	// Close: the client disconnected.
	Close
	// Error: the connection must be closed.
	Error
)

func (o Outcome) String() string {
	switch o {
	case Normal:
		return "normal"
	case Close:
		return "close"
	case Error:
		return "error"
	}
	return "unknown"
}

// Mutator applies a mutation request and writes whatever reply it is due.
type Mutator interface {
	Apply(op api.Op, rec *classad.Ad) error
}

// Dispatcher reads one request's payload and routes it.
type Dispatcher struct {
	conn    *wire.Conn
	store   *storage.Storage
	mutator Mutator
	log     *slog.Logger
}

func NewDispatcher(conn *wire.Conn, store *storage.Storage, m Mutator, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{conn: conn, store: store, mutator: m, log: log}
}

// Dispatch handles the request whose opcode has just been read.
func (d *Dispatcher) Dispatch(op api.Op) (Outcome, error) {
	switch op {
	case api.OpConnect, api.OpDisconnect:
		d.conn.Decode()
		if err := d.conn.EndOfMessage(); err != nil {
			return Error, api.Errorf(api.CommunicationError, "failed to read end of %s: %v", op, err)
		}
		if op == api.OpDisconnect {
			return Close, nil
		}
		return Normal, nil
	}

	d.conn.Decode()
	text, err := d.conn.GetString()
	if err != nil {
		return Error, api.Errorf(api.CommunicationError, "failed to read %s payload: %v", op, err)
	}
	if err := d.conn.EndOfMessage(); err != nil {
		return Error, api.Errorf(api.CommunicationError, "failed to read end of %s: %v", op, err)
	}
	rec, err := classad.Parse(text)
	if err != nil {
		return Error, api.Errorf(api.ParseError, "failed to parse %s payload: %v", op, err)
	}

	switch {
	case op == api.OpQueryView:
		err = d.handleQuery(rec)
	case op.IsReadOnly():
		err = d.handleReadOnly(op, rec)
	case op.IsMutation():
		err = d.mutator.Apply(op, rec)
	default:
		err = api.Errorf(api.InternalError, "unknown opcode %d", int64(op))
	}
	return d.outcome(op, err)
}

func (d *Dispatcher) outcome(op api.Op, err error) (Outcome, error) {
	if err == nil {
		return Normal, nil
	}
	if api.CodeOf(err).Closes() {
		return Error, err
	}
	d.log.Debug("request failed", "op", op.String(), "error", err)
	return Normal, err
}

// sendReply writes one reply message: the opcode, the payload and the
// end-of-message marker.
func sendReply(conn *wire.Conn, op api.Op, payload string) error {
	conn.Encode()
	if err := conn.PutInt(int64(op)); err != nil {
		return api.Errorf(api.CommunicationError, "unable to send %s: %v", op, err)
	}
	if err := conn.PutString(payload); err != nil {
		return api.Errorf(api.CommunicationError, "unable to send %s: %v", op, err)
	}
	if err := conn.EndOfMessage(); err != nil {
		return api.Errorf(api.CommunicationError, "unable to send %s: %v", op, err)
	}
	return nil
}

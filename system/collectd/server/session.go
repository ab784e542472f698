package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/storage"
	"github.com/signadot/adcoll/system/collectd/wire"
)

// Session serves one client connection. Requests are handled one at a
// time, to completion, in the order they arrive.
type Session struct {
	ID     string
	conn   *wire.Conn
	disp   *Dispatcher
	log    *slog.Logger
	closed atomic.Bool
}

// SessionConfig contains configuration for creating a session.
type SessionConfig struct {
	Storage *storage.Storage
	Log     *slog.Logger

	// OnMutation is called after each logged mutation.
	OnMutation func()

	// Mutator replaces the transactional mutation handler.
	Mutator func(conn *wire.Conn) Mutator
}

// NewSession creates a new session for the given connection.
func NewSession(id string, rwc io.ReadWriteCloser, cfg *SessionConfig) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", id)
	conn := wire.NewConn(rwc)
	var m Mutator
	if cfg.Mutator != nil {
		m = cfg.Mutator(conn)
	} else {
		m = &MutationHandler{
			Conn:       conn,
			Storage:    cfg.Storage,
			Log:        log,
			OnMutation: cfg.OnMutation,
		}
	}
	return &Session{
		ID:   id,
		conn: conn,
		disp: NewDispatcher(conn, cfg.Storage, m, log),
		log:  log,
	}
}

// Run serves requests until the client disconnects, the connection fails
// or a handler reports an error that ends the connection.
func (s *Session) Run() error {
	defer s.conn.Close()
	for {
		s.conn.Decode()
		n, err := s.conn.GetInt()
		if err != nil {
			if s.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return api.Errorf(api.CommunicationError, "failed to read opcode: %v", err)
		}
		op := api.Op(n)
		outcome, err := s.disp.Dispatch(op)
		switch outcome {
		case Close:
			s.log.Debug("client disconnected")
			return nil
		case Error:
			if s.closed.Load() {
				return nil
			}
			s.log.Warn("closing connection", "op", op.String(), "error", err, "code", api.CodeOf(err).String())
			return err
		}
	}
}

// Close ends the session.
func (s *Session) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

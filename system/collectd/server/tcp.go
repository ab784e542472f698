package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// TCPListener serves the collection protocol on a TCP address. Each
// admitted client gets a Session running on its own goroutine.
type TCPListener struct {
	ln     net.Listener
	server *Server

	// maxSessions caps concurrent clients; zero means no cap.
	maxSessions int

	// mu guards sessions and orders admission against Close, so no
	// session is admitted after Close has closed the others.
	mu       sync.Mutex
	sessions map[string]*Session
	nextID   atomic.Int64

	running sync.WaitGroup
	closed  atomic.Bool
}

// NewTCPListener listens on addr, taking the session limit from the
// server's config.
func NewTCPListener(addr string, server *Server) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l := &TCPListener{
		ln:       ln,
		server:   server,
		sessions: map[string]*Session{},
	}
	if cfg := server.Spec.Config; cfg != nil {
		l.maxSessions = cfg.MaxSessions
	}
	return l, nil
}

func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts clients until Close is called.
func (l *TCPListener) Serve() error {
	log := l.server.Spec.Log
	log.Info("collectd listening", "addr", l.ln.Addr().String(), "maxSessions", l.maxSessions)

	var delay time.Duration
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			// e.g. out of file descriptors; don't spin
			delay = acceptBackoff(delay)
			log.Error("accept failed", "error", err, "retry", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		if id, s := l.admit(nc); s != nil {
			go l.run(id, s)
		}
	}
}

func acceptBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// admit registers a session for nc. It closes nc instead when the
// listener is shutting down or the session limit is reached.
func (l *TCPListener) admit(nc net.Conn) (string, *Session) {
	log := l.server.Spec.Log
	remote := nc.RemoteAddr().String()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		nc.Close()
		return "", nil
	}
	if l.maxSessions > 0 && len(l.sessions) >= l.maxSessions {
		log.Warn("turning away client, session limit reached", "remote", remote, "limit", l.maxSessions)
		nc.Close()
		return "", nil
	}

	id := fmt.Sprintf("tcp-%d", l.nextID.Add(1))
	s := NewSession(id, nc, &SessionConfig{
		Storage:    l.server.Spec.Storage,
		Log:        l.server.Spec.Log,
		OnMutation: l.server.onMutation,
	})
	l.sessions[id] = s
	l.running.Add(1)
	log.Debug("client connected", "session", id, "remote", remote)
	return id, s
}

func (l *TCPListener) run(id string, s *Session) {
	defer l.running.Done()
	if err := s.Run(); err != nil {
		l.server.Spec.Log.Error("session failed", "session", id, "error", err)
	}

	l.mu.Lock()
	delete(l.sessions, id)
	l.mu.Unlock()
	l.server.Spec.Log.Debug("client gone", "session", id)
}

// Close stops accepting clients, closes every session's connection and
// waits for the session goroutines to return. A request already being
// dispatched finishes its storage update first; only its reply is lost.
func (l *TCPListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	err := l.ln.Close()

	l.mu.Lock()
	for _, s := range l.sessions {
		s.Close()
	}
	l.mu.Unlock()

	l.running.Wait()
	l.server.Spec.Log.Info("collectd listener stopped")
	return err
}

// SessionCount returns the number of connected clients.
func (l *TCPListener) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

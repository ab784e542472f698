package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Server represents the collectd server.
type Server struct {
	Spec Spec

	// TCP listener for the collection protocol
	tcpListener *TCPListener

	// mutations tracks logged mutations since the last checkpoint
	mutations atomic.Int64

	// checkpointing guards the threshold check and the checkpoint as one
	// operation.
	checkpointing atomic.Bool
}

// New creates a new Server instance.
func New(spec *Spec) *Server {
	if spec.Log == nil {
		spec.Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slogLevel(),
		}))
	}
	if spec.Config == nil {
		spec.Config = DefaultConfig()
	}
	return &Server{Spec: *spec}
}

func slogLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// maybeCheckpoint checks the checkpoint threshold and rewrites the log if
// it is reached. Only one goroutine checks at a time.
func (s *Server) maybeCheckpoint() {
	cfg := s.Spec.Config
	if cfg == nil || cfg.Checkpoint == nil || cfg.Checkpoint.MaxEntries <= 0 {
		return
	}
	if !s.checkpointing.CompareAndSwap(false, true) {
		return
	}
	defer s.checkpointing.Store(false)

	entries := s.Spec.Storage.LogEntries()
	if entries < cfg.Checkpoint.MaxEntries {
		return
	}
	s.Spec.Log.Info("triggering checkpoint", "entries", entries, "mutations", s.mutations.Load())
	if err := s.Checkpoint(); err != nil {
		s.Spec.Log.Error("checkpoint failed", "error", err)
	}
}

// Checkpoint rewrites the log from the current collection.
func (s *Server) Checkpoint() error {
	if err := s.Spec.Storage.Checkpoint(); err != nil {
		return err
	}
	s.mutations.Store(0)
	return nil
}

// RunCheckpoints checkpoints every configured interval until ctx is done.
func (s *Server) RunCheckpoints(ctx context.Context) error {
	cfg := s.Spec.Config
	if cfg == nil || cfg.Checkpoint == nil || cfg.Checkpoint.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(time.Duration(cfg.Checkpoint.Interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.mutations.Load() == 0 {
				continue
			}
			if err := s.Checkpoint(); err != nil {
				s.Spec.Log.Error("periodic checkpoint failed", "error", err)
			}
		}
	}
}

// StartTCP starts the TCP listener on the given address.
// The listener runs in a separate goroutine.
func (s *Server) StartTCP(addr string) error {
	if s.tcpListener != nil {
		return fmt.Errorf("TCP listener already running")
	}

	listener, err := NewTCPListener(addr, s)
	if err != nil {
		return err
	}

	s.tcpListener = listener

	go func() {
		if err := listener.Serve(); err != nil {
			s.Spec.Log.Error("TCP listener error", "error", err)
		}
	}()

	return nil
}

// StopTCP stops the TCP listener.
func (s *Server) StopTCP() error {
	if s.tcpListener == nil {
		return nil
	}

	err := s.tcpListener.Close()
	s.tcpListener = nil
	return err
}

// TCPAddr returns the TCP listener's address, or "" if not running.
func (s *Server) TCPAddr() string {
	if s.tcpListener == nil {
		return ""
	}
	return s.tcpListener.Addr().String()
}

// onMutation is called after each logged mutation.
func (s *Server) onMutation() {
	s.mutations.Add(1)
	s.maybeCheckpoint()
}

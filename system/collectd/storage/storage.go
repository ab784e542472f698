package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
)

// ErrFatal is returned by every mutation once a log append has failed.
var ErrFatal = api.NewError(api.FatalError, "storage refuses mutations after a log failure")

// Options configures Open.
type Options struct {
	// Log is the logger; slog.Default() when nil.
	Log *slog.Logger
	// Sync fsyncs the log after each append.
	Sync bool
}

// Storage is a collection backed by a write-ahead log. All access goes
// through Update and View, which serialize on a single RWMutex.
type Storage struct {
	mu       sync.RWMutex
	dir      string
	coll     *Collection
	log      *Log
	appender Appender
	logger   *slog.Logger
	fatal    bool
}

// Open opens or creates a Storage in dir, recovering the collection from
// the log found there. A torn final entry is truncated away.
func Open(dir string, opts *Options) (*Storage, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Log
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, LogFileName)
	coll := NewCollection()
	entries, valid, err := ReplayLog(path, coll.Replay)
	if err != nil {
		return nil, fmt.Errorf("failed to recover from %q: %w", path, err)
	}
	log, err := OpenLog(path, opts.Sync, logger)
	if err != nil {
		return nil, err
	}
	if log.Size() > valid {
		logger.Warn("truncating torn log tail", "path", path, "size", log.Size(), "valid", valid)
		if err := log.Truncate(valid); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to truncate %q: %w", path, err)
		}
	}
	logger.Info("collection recovered", "path", path, "entries", entries,
		"ads", coll.Len(), "views", len(coll.views))
	return &Storage{
		dir:      dir,
		coll:     coll,
		log:      log,
		appender: log,
		logger:   logger,
	}, nil
}

func (s *Storage) Dir() string { return s.dir }

// SetAppender replaces the appender handed to Update callbacks. Nil
// restores the log.
func (s *Storage) SetAppender(a Appender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == nil {
		s.appender = s.log
		return
	}
	s.appender = a
}

// Update runs fn under the write lock. A FatalError or FileWriteFailed
// from fn poisons the storage: later updates fail with ErrFatal.
func (s *Storage) Update(fn func(c *Collection, w Appender) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal {
		return ErrFatal
	}
	err := fn(s.coll, s.appender)
	switch api.CodeOf(err) {
	case api.FatalError, api.FileWriteFailed:
		s.fatal = true
		s.logger.Error("log append failed, refusing further mutations", "error", err, "fatal", true)
	}
	return err
}

// View runs fn under the read lock. fn must not modify the collection.
func (s *Storage) View(fn func(c *Collection) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.coll)
}

// Fatal reports whether the storage has been poisoned.
func (s *Storage) Fatal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

// LogEntries returns the number of entries appended since the last
// checkpoint or open.
func (s *Storage) LogEntries() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Entries()
}

func (s *Storage) LogSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Size()
}

// Checkpoint rewrites the log as the minimal record sequence that
// recreates the current collection.
func (s *Storage) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal {
		return ErrFatal
	}
	recs := s.coll.Snapshot()
	if err := s.log.Rewrite(recs); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Close closes the log.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Close()
}

// ReadLog returns every record in the log under dir without building a
// collection.
func ReadLog(dir string) ([]*classad.Ad, error) {
	var recs []*classad.Ad
	_, _, err := ReplayLog(filepath.Join(dir, LogFileName), func(rec *classad.Ad) error {
		recs = append(recs, rec)
		return nil
	})
	return recs, err
}

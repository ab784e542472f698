package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/signadot/adcoll/classad"
)

// LogFileName is the name of the log inside a data directory.
const LogFileName = "collection.log"

// Appender is the narrow interface handlers use to make records durable.
type Appender interface {
	Append(rec *classad.Ad) error
}

// Log is the append-only record log. Each entry is a 4 byte big-endian
// length followed by the unparsed record.
type Log struct {
	path     string
	file     *os.File
	sync     bool
	position int64
	entries  int64
	logger   *slog.Logger
}

// OpenLog opens or creates the log at path for appending. When sync is set
// every append is fsynced.
func OpenLog(path string, sync bool, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}
	pos, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek to end of log file %q: %w", path, err)
	}
	return &Log{
		path:     path,
		file:     file,
		sync:     sync,
		position: pos,
		logger:   logger,
	}, nil
}

// Append writes rec as one entry.
func (l *Log) Append(rec *classad.Ad) error {
	data := encodeEntry(rec)
	n, err := l.file.Write(data)
	if err != nil {
		// drop a partial entry so the next append starts clean
		if n > 0 {
			if terr := l.file.Truncate(l.position); terr == nil {
				l.file.Seek(l.position, io.SeekStart)
			}
		}
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync log: %w", err)
		}
	}
	l.position += int64(n)
	l.entries++
	return nil
}

func encodeEntry(rec *classad.Ad) []byte {
	text := classad.Unparse(rec)
	data := make([]byte, 4+len(text))
	binary.BigEndian.PutUint32(data, uint32(len(text)))
	copy(data[4:], text)
	return data
}

// Size returns the log size in bytes.
func (l *Log) Size() int64 { return l.position }

// Entries returns the number of entries appended since the log was opened
// or last rewritten.
func (l *Log) Entries() int64 { return l.entries }

func (l *Log) Path() string { return l.path }

func (l *Log) Close() error {
	return l.file.Close()
}

// ReplayLog reads every entry of the log at path in order. A truncated
// final entry, as left by a crash during append, ends the replay and is
// reported through the returned valid length.
func ReplayLog(path string, fn func(rec *classad.Ad) error) (entries, valid int64, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open log %q: %w", path, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, valid, nil
			}
			return entries, valid, err
		}
		n := binary.BigEndian.Uint32(hdr[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, valid, nil
			}
			return entries, valid, err
		}
		rec, err := classad.Parse(string(buf))
		if err != nil {
			return entries, valid, fmt.Errorf("log entry %d at offset %d: %w", entries, valid, err)
		}
		if err := fn(rec); err != nil {
			return entries, valid, fmt.Errorf("log entry %d at offset %d: %w", entries, valid, err)
		}
		entries++
		valid += 4 + int64(n)
	}
}

// Rewrite replaces the log contents with recs. The new log is written to
// a temporary file and renamed over the old one.
func (l *Log) Rewrite(recs []*classad.Ad) error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	var size int64
	for _, rec := range recs {
		data := encodeEntry(rec)
		if _, err := w.Write(data); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to write %q: %w", tmp, err)
		}
		size += int64(len(data))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush %q: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace log: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen log: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return err
	}
	l.file.Close()
	l.file = file
	l.position = size
	l.entries = 0
	l.logger.Info("log rewritten", "path", l.path, "records", len(recs), "bytes", size)
	return nil
}

// Truncate cuts the log to size bytes.
func (l *Log) Truncate(size int64) error {
	if err := l.file.Truncate(size); err != nil {
		return err
	}
	if _, err := l.file.Seek(size, io.SeekStart); err != nil {
		return err
	}
	l.position = size
	return nil
}

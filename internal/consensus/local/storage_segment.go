package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/i-melnichenko/kvelldb/internal/model"
	"github.com/i-melnichenko/kvelldb/internal/storage"
)

const segmentFileName = "00000000000000000000.log"

// SegmentStorage appends batches in their wire form to a single segment file.
type SegmentStorage struct {
	mu         sync.Mutex
	path       string
	f          *os.File
	syncWrites bool
	repaired   int64
}

// OpenSegmentStorage opens or creates the segment in dir.
func OpenSegmentStorage(dir string, syncWrites bool) (*SegmentStorage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, segmentFileName)
	//nolint:gosec // path is derived from the configured data directory.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("local: open segment: %w", err)
	}
	return &SegmentStorage{path: path, f: f, syncWrites: syncWrites}, nil
}

// Load parses the whole segment. A batch cut short by a crash at the end of
// the file is dropped and the file truncated back to the last whole batch;
// any other decode failure is returned.
func (s *SegmentStorage) Load() ([]model.RecordBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.f.Stat()
	if err != nil {
		return nil, err
	}
	c := storage.NewCollector()
	p := storage.NewParser(c, bufio.NewReader(io.NewSectionReader(s.f, 0, info.Size())))
	_, err = p.Consume(context.Background())
	switch {
	case errors.Is(err, storage.ErrTruncated):
		s.repaired = info.Size() - p.Position()
		if err := s.f.Truncate(p.Position()); err != nil {
			return nil, fmt.Errorf("local: repair segment tail: %w", err)
		}
		if err := s.f.Sync(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("local: read segment %s: %w", s.path, err)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("local: read segment %s: %w", s.path, err)
	}
	return c.Batches(), nil
}

// Append writes batch at the end of the segment.
func (s *SegmentStorage) Append(batch model.RecordBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := storage.WriteBatch(s.f, batch); err != nil {
		return fmt.Errorf("local: append segment: %w", err)
	}
	if s.syncWrites {
		return s.f.Sync()
	}
	return nil
}

// RepairedBytes returns how many trailing bytes the last Load dropped.
func (s *SegmentStorage) RepairedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repaired
}

// Close flushes and closes the segment file.
func (s *SegmentStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.f.Sync(), s.f.Close())
}

package local

import (
	"fmt"
	"path/filepath"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

// Storage persists committed batches.
// All methods must be safe for concurrent use.
type Storage interface {
	// Load returns every stored batch in offset order.
	Load() ([]model.RecordBatch, error)

	// Append durably adds batch after the last stored one.
	Append(batch model.RecordBatch) error

	Close() error
}

// Storage engine names accepted by OpenStorage.
const (
	EngineMemory  = "memory"
	EngineSegment = "segment"
	EngineBolt    = "bolt"
)

// OpenStorage opens the named engine rooted at dir.
func OpenStorage(engine, dir string, syncWrites bool) (Storage, error) {
	switch engine {
	case EngineMemory:
		return NewInMemoryStorage(), nil
	case EngineSegment:
		s, err := OpenSegmentStorage(dir, syncWrites)
		if err != nil {
			return nil, err
		}
		return s, nil
	case EngineBolt:
		s, err := OpenBoltStorage(filepath.Join(dir, "log.db"), syncWrites)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("local: unknown storage engine %q", engine)
	}
}

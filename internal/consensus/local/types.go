package local

import (
	"errors"
	"time"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

// Logger is the logging surface used by the node. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NodeStatus reports operational health of the node runtime.
type NodeStatus string

// Runtime health states exposed by Status.
const (
	NodeStatusHealthy  NodeStatus = "healthy"
	NodeStatusDegraded NodeStatus = "degraded"
	NodeStatusStopped  NodeStatus = "stopped"
)

// Stats is a point-in-time view of the log.
type Stats struct {
	NodeID        string       `json:"node_id"`
	Status        NodeStatus   `json:"status"`
	CommitOffset  model.Offset `json:"commit_offset"`
	AppliedOffset model.Offset `json:"applied_offset"`
	PendingApply  int          `json:"pending_apply"`
	LastAppliedAt time.Time    `json:"last_applied_at"`
}

// ErrNilStorage is returned when NewNode is called with a nil Storage.
var ErrNilStorage = errors.New("local: nil storage")

// ErrNilLogger is returned when NewNode is called with a nil logger.
var ErrNilLogger = errors.New("local: nil logger")

// ErrNodeDegraded is returned after a persistence failure stopped the log from
// accepting writes.
var ErrNodeDegraded = errors.New("local: node degraded")

// ErrStopped is returned by Replicate after Stop.
var ErrStopped = errors.New("local: node stopped")

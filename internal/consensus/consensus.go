// Package consensus defines the minimal interface between the replicated state
// machine and the log that orders its commands.
package consensus

import (
	"context"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

// Consensus is the interface implemented by the active commit log.
//
// Every committed batch is delivered on ApplyCh exactly once, in increasing
// offset order.
type Consensus interface {
	Run(ctx context.Context)
	// Replicate appends batch to the log and returns the offsets it was
	// assigned. A nil error does not mean the batch is committed yet.
	Replicate(ctx context.Context, batch model.RecordBatch) (ReplicateResult, error)
	ApplyCh() <-chan ApplyMsg
	IsLeader() bool
	Stop()
}

// ReplicateResult holds the offsets assigned to a replicated batch.
type ReplicateResult struct {
	BaseOffset model.Offset
	LastOffset model.Offset
}

// ApplyMsg is delivered by the consensus layer to the state machine.
type ApplyMsg struct {
	Batch model.RecordBatch
}

// Package local is a single-node commit log implementing consensus.Consensus.
//
// Every replicated batch is assigned the next free offsets, persisted through
// a Storage and committed immediately, a quorum of one. Committed batches are
// delivered on ApplyCh strictly in offset order by a dedicated apply loop.
// On start-up every persisted batch is replayed through ApplyCh so the state
// machine can rebuild itself.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/kvelldb/internal/consensus"
	"github.com/i-melnichenko/kvelldb/internal/model"
)

type committedBatch struct {
	batch       model.RecordBatch
	committedAt time.Time
}

// Node is a single-replica log.
type Node struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	id      string
	storage Storage

	degraded bool
	stopped  bool

	nextOffset    model.Offset
	appliedOffset model.Offset
	lastAppliedAt time.Time

	// pending holds committed batches not yet delivered on applyCh, in order.
	pending []committedBatch

	applyNotifyCh chan struct{}
	applyCh       chan consensus.ApplyMsg

	logger  Logger
	tracer  oteltrace.Tracer
	metrics Metrics
}

// NewNode creates a node and queues every batch found in storage for replay.
//
// Logger is required; tracer and metrics default to no-ops when nil.
func NewNode(
	id string,
	applyCh chan consensus.ApplyMsg,
	storage Storage,
	logger Logger,
	tracer oteltrace.Tracer,
	metrics Metrics,
) (*Node, error) {
	if storage == nil {
		return nil, ErrNilStorage
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("kvelldb/internal/consensus/local")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	n := &Node{
		id:            id,
		storage:       storage,
		appliedOffset: -1,
		applyNotifyCh: make(chan struct{}, 1),
		applyCh:       applyCh,
		logger:        logger,
		tracer:        tracer,
		metrics:       metrics,
	}

	stored, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("local: load log: %w", err)
	}
	now := time.Now()
	for _, b := range stored {
		if b.BaseOffset() != n.nextOffset {
			return nil, fmt.Errorf("local: stored batch at offset %d, expected %d", b.BaseOffset(), n.nextOffset)
		}
		n.pending = append(n.pending, committedBatch{batch: b, committedAt: now})
		n.nextOffset = b.LastOffset() + 1
	}
	if len(stored) > 0 {
		logger.Info("log restored from storage",
			"node_id", id,
			"batches", len(stored),
			"next_offset", n.nextOffset,
		)
	}

	return n, nil
}

// Run starts the apply loop and returns immediately.
func (n *Node) Run(ctx context.Context) {
	n.mu.Lock()
	if n.stopped || n.cancel != nil {
		n.mu.Unlock()
		return
	}
	ctx, n.cancel = context.WithCancel(ctx)
	n.mu.Unlock()

	if n.applyCh != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runApplyLoop(ctx)
		}()
		n.notifyApply()
	}
}

// Replicate assigns offsets to batch, persists it and commits it.
// It implements consensus.Consensus.
func (n *Node) Replicate(ctx context.Context, batch model.RecordBatch) (consensus.ReplicateResult, error) {
	ctx, span := n.startSpan(ctx, "local.Replicate", batchAttrs(batch)...)
	defer span.End()

	if err := ctx.Err(); err != nil {
		spanRecordError(span, err)
		return consensus.ReplicateResult{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case n.stopped:
		spanRecordError(span, ErrStopped)
		return consensus.ReplicateResult{}, ErrStopped
	case n.degraded:
		spanRecordError(span, ErrNodeDegraded)
		return consensus.ReplicateResult{}, ErrNodeDegraded
	}

	batch.SetBaseOffset(n.nextOffset)
	if err := n.tracePersistAppendLocked(ctx, batch); err != nil {
		n.metrics.IncLogStorageError(n.id, "append")
		n.markDegradedLocked(err)
		return consensus.ReplicateResult{}, fmt.Errorf("%w: %w", ErrNodeDegraded, err)
	}
	n.nextOffset = batch.LastOffset() + 1
	n.pending = append(n.pending, committedBatch{batch: batch, committedAt: time.Now()})

	n.metrics.IncLogAppended(n.id, batch.Type().String())
	n.metrics.ObserveLogBatchBytes(n.id, int(batch.Header.SizeBytes))
	n.metrics.SetLogApplyLag(n.id, int64(len(n.pending)))

	n.logger.Debug("batch committed",
		"node_id", n.id,
		"base_offset", batch.BaseOffset(),
		"last_offset", batch.LastOffset(),
		"type", batch.Type(),
	)

	n.notifyApply()
	return consensus.ReplicateResult{
		BaseOffset: batch.BaseOffset(),
		LastOffset: batch.LastOffset(),
	}, nil
}

// ApplyCh returns the channel used to deliver committed batches.
func (n *Node) ApplyCh() <-chan consensus.ApplyMsg {
	return n.applyCh
}

// IsLeader reports whether the node accepts writes. A single replica is
// always its own leader until it degrades or stops.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.degraded && !n.stopped
}

// Stop implements consensus.Consensus. It does not close the storage.
func (n *Node) Stop() {
	n.mu.Lock()
	n.stopped = true
	cancel := n.cancel
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	n.wg.Wait()
}

// Status reports runtime node health.
func (n *Node) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusLocked()
}

// Stats returns a snapshot of log progress.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Stats{
		NodeID:        n.id,
		Status:        n.statusLocked(),
		CommitOffset:  n.nextOffset - 1,
		AppliedOffset: n.appliedOffset,
		PendingApply:  len(n.pending),
		LastAppliedAt: n.lastAppliedAt,
	}
}

func (n *Node) statusLocked() NodeStatus {
	switch {
	case n.stopped:
		return NodeStatusStopped
	case n.degraded:
		return NodeStatusDegraded
	default:
		return NodeStatusHealthy
	}
}

func (n *Node) markDegradedLocked(err error) {
	if err == nil || n.degraded {
		return
	}
	n.degraded = true
	n.logger.Error(
		"log node degraded due to persistence error",
		"node_id", n.id,
		"error", err,
	)
}

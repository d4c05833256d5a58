// Package service contains application services exposed via transports.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/i-melnichenko/kvelldb/internal/consensus"
	"github.com/i-melnichenko/kvelldb/internal/kv"
	"github.com/i-melnichenko/kvelldb/internal/model"
)

//go:generate mockgen -destination=mocks_test.go -package=service github.com/i-melnichenko/kvelldb/internal/consensus Consensus

// ErrNilConsensus is returned when NewKV is called without a consensus engine.
var ErrNilConsensus = errors.New("service: nil consensus")

// ErrOutOfOrderApply is returned by Apply when a batch does not follow the
// previously applied one.
var ErrOutOfOrderApply = errors.New("service: batch applied out of order")

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Metrics captures service-level metric sinks used by KV.
type Metrics interface {
	IncKVProposalResult(nodeID, result string)
	ObserveKVWaitDuration(nodeID, command, result string, d time.Duration)
	SetKVPendingWaiters(nodeID string, n int)
	IncKVApplied(nodeID, command, result string)
	IncKVApplyPassThrough(nodeID, batchType string)
}

type noopMetrics struct{}

func (noopMetrics) IncKVProposalResult(string, string)                          {}
func (noopMetrics) ObserveKVWaitDuration(string, string, string, time.Duration) {}
func (noopMetrics) SetKVPendingWaiters(string, int)                             {}
func (noopMetrics) IncKVApplied(string, string, string)                         {}
func (noopMetrics) IncKVApplyPassThrough(string, string)                        {}

// waiter is a single-resolution result slot. The channel is written at most
// once, always under KV.mu and together with removing the waiter from the
// pending table.
type waiter struct {
	ch chan kv.CommandResult
}

// Status is a point-in-time view of the state machine.
type Status struct {
	NodeID       string       `json:"node_id"`
	LastApplied  model.Offset `json:"last_applied"`
	Applied      uint64       `json:"applied"`
	PendingWaits int          `json:"pending_waits"`
	Keys         int          `json:"keys"`
	IsLeader     bool         `json:"is_leader"`
}

// KV is the replicated key-value state machine. It turns client calls into
// log batches, applies committed batches to the store and hands each result
// to the call waiting on that batch's offset.
type KV struct {
	consensus consensus.Consensus
	store     *kv.Store
	logger    Logger
	tracer    oteltrace.Tracer
	metrics   Metrics
	nodeID    string

	// mu guards the pending table and is held across Replicate plus
	// registration so Apply can never look up an offset before its waiter
	// exists.
	mu          sync.Mutex
	pending     map[model.Offset]*waiter
	lastApplied model.Offset
	applied     uint64
}

// NewKV creates a KV service backed by the provided consensus engine and store.
func NewKV(c consensus.Consensus, store *kv.Store, logger Logger, tracer oteltrace.Tracer, metrics Metrics, nodeID string) (*KV, error) {
	if c == nil {
		return nil, ErrNilConsensus
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &KV{
		consensus:   c,
		store:       store,
		logger:      logger,
		tracer:      tracer,
		metrics:     metrics,
		nodeID:      nodeID,
		pending:     make(map[model.Offset]*waiter),
		lastApplied: -1,
	}, nil
}

func (s *KV) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func kvSpanRecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

// SetAndWait replicates an upsert of key and waits for its result.
func (s *KV) SetAndWait(ctx context.Context, key, value, writeID string, deadline time.Time) kv.CommandResult {
	return s.replicateAndWait(ctx, kv.SetCmd{Key: key, Value: value, WriteID: writeID}, deadline)
}

// GetAndWait replicates a read of key so it is ordered with all writes.
func (s *KV) GetAndWait(ctx context.Context, key string, deadline time.Time) kv.CommandResult {
	return s.replicateAndWait(ctx, kv.GetCmd{Key: key}, deadline)
}

// CasAndWait replicates a compare-and-set of key and waits for its result.
// The comparison happens when the command is applied, not when it is sent.
func (s *KV) CasAndWait(ctx context.Context, key, prevWriteID, value, writeID string, deadline time.Time) kv.CommandResult {
	return s.replicateAndWait(ctx, kv.CasCmd{Key: key, PrevWriteID: prevWriteID, Value: value, WriteID: writeID}, deadline)
}

// Get returns a value from the local state machine without going through the
// log. It may lag behind committed writes.
func (s *KV) Get(key string) (kv.Record, bool) {
	return s.store.Get(key)
}

// IsLeader reports whether the underlying consensus node accepts writes.
func (s *KV) IsLeader() bool {
	return s.consensus.IsLeader()
}

// Status returns the current apply progress.
func (s *KV) Status() Status {
	s.mu.Lock()
	st := Status{
		NodeID:       s.nodeID,
		LastApplied:  s.lastApplied,
		Applied:      s.applied,
		PendingWaits: len(s.pending),
	}
	s.mu.Unlock()
	st.Keys = s.store.Len()
	st.IsLeader = s.consensus.IsLeader()
	return st
}

// replicateAndWait is the shared path of the *AndWait calls. A zero deadline
// waits until ctx is done.
func (s *KV) replicateAndWait(ctx context.Context, cmd kv.Command, deadline time.Time) kv.CommandResult {
	ctx, span := s.startSpan(
		ctx,
		"kv.service.replicateAndWait",
		attribute.String("kv.command.type", cmd.Type().String()),
		attribute.String("kv.key", cmd.TargetKey()),
	)
	defer span.End()
	start := time.Now()
	batch := kv.Encode(cmd)

	s.mu.Lock()
	res, err := s.consensus.Replicate(ctx, batch)
	if err != nil {
		s.mu.Unlock()
		s.metrics.IncKVProposalResult(s.nodeID, "replication_failed")
		kvSpanRecordError(span, err)
		s.logger.Debug("replication failed",
			"node_id", s.nodeID,
			"command", cmd.Type(),
			"key", cmd.TargetKey(),
			"error", err,
		)
		result := kv.ReplicationFailedResult()
		s.metrics.ObserveKVWaitDuration(s.nodeID, cmd.Type().String(), result.Label(), time.Since(start))
		return result
	}
	w := s.registerLocked(res.LastOffset)
	pending := len(s.pending)
	s.mu.Unlock()

	s.metrics.IncKVProposalResult(s.nodeID, "accepted")
	s.metrics.SetKVPendingWaiters(s.nodeID, pending)
	span.SetAttributes(attribute.Int64("log.offset", int64(res.LastOffset)))

	result := s.wait(ctx, res.LastOffset, w, deadline)
	span.SetAttributes(attribute.String("kv.result", result.Label()))
	s.metrics.ObserveKVWaitDuration(s.nodeID, cmd.Type().String(), result.Label(), time.Since(start))
	if result.ReplicationError == kv.ReplicationTimeout {
		s.logger.Debug("command timed out",
			"node_id", s.nodeID,
			"command", cmd.Type(),
			"offset", res.LastOffset,
		)
	}
	return result
}

// registerLocked adds a waiter for offset. Caller must hold s.mu.
func (s *KV) registerLocked(offset model.Offset) *waiter {
	if _, exists := s.pending[offset]; exists {
		panic(fmt.Sprintf("service: duplicate waiter for offset %d", offset))
	}
	w := &waiter{ch: make(chan kv.CommandResult, 1)}
	s.pending[offset] = w
	return w
}

func (s *KV) wait(ctx context.Context, offset model.Offset, w *waiter, deadline time.Time) kv.CommandResult {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-w.ch:
		return r
	case <-timeout:
	case <-ctx.Done():
	}

	s.mu.Lock()
	if cur, ok := s.pending[offset]; ok && cur == w {
		delete(s.pending, offset)
		pending := len(s.pending)
		s.mu.Unlock()
		s.metrics.SetKVPendingWaiters(s.nodeID, pending)
		return kv.TimeoutResult()
	}
	s.mu.Unlock()
	// Apply removed the waiter, so its result is already buffered.
	return <-w.ch
}

// Apply executes a committed batch. Batches of other types pass through
// untouched. The waiter registered for the batch offset, if any, receives
// the result.
func (s *KV) Apply(ctx context.Context, batch model.RecordBatch) error {
	offset := batch.LastOffset()

	s.mu.Lock()
	last := s.lastApplied
	s.mu.Unlock()
	if batch.BaseOffset() <= last {
		return fmt.Errorf("%w: batch %d-%d after %d", ErrOutOfOrderApply, batch.BaseOffset(), offset, last)
	}

	if batch.Type() != model.BatchTypeKV {
		s.metrics.IncKVApplyPassThrough(s.nodeID, batch.Type().String())
		s.mu.Lock()
		s.lastApplied = offset
		s.mu.Unlock()
		return nil
	}

	ctx, span := s.startSpan(ctx, "kv.service.Apply", attribute.Int64("log.offset", int64(offset)))
	defer span.End()

	var result kv.CommandResult
	command := "unknown"
	cmd, err := kv.Decode(batch)
	if err != nil {
		kvSpanRecordError(span, err)
		s.logger.Warn("cannot decode command",
			"node_id", s.nodeID,
			"offset", offset,
			"error", err,
		)
		result = kv.CommandResult{KVError: kv.ErrcUnknownCommand}
	} else {
		command = cmd.Type().String()
		result = s.store.Execute(ctx, cmd)
	}
	s.metrics.IncKVApplied(s.nodeID, command, result.KVError.String())

	s.mu.Lock()
	s.lastApplied = offset
	s.applied++
	w, ok := s.pending[offset]
	if ok {
		delete(s.pending, offset)
		w.ch <- result
	}
	pending := len(s.pending)
	s.mu.Unlock()

	if ok {
		s.metrics.SetKVPendingWaiters(s.nodeID, pending)
	}
	s.logger.Debug("command applied",
		"node_id", s.nodeID,
		"offset", offset,
		"command", command,
		"result", result.KVError,
		"waiter", ok,
	)
	return nil
}

// RunApplyLoop applies consensus messages to the KV store until ctx is canceled
// or Apply returns an error.
func (s *KV) RunApplyLoop(ctx context.Context) error {
	ch := s.consensus.ApplyCh()
	if ch == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Apply(ctx, msg.Batch); err != nil {
				return err
			}
		}
	}
}

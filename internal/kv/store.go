package kv

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Record is the value stored under a key.
type Record struct {
	WriteID string
	Value   string
}

// Store is an in-memory key-value state machine.
//
// Execute must only be called from the apply path, which runs commands one at
// a time in log order. Get and Len may be called concurrently with it.
type Store struct {
	mu     sync.RWMutex
	data   map[string]Record
	tracer oteltrace.Tracer
}

// NewStore creates an empty KV store.
func NewStore(tracer oteltrace.Tracer) *Store {
	return &Store{
		data:   make(map[string]Record),
		tracer: tracer,
	}
}

// Get returns the current record for key, if present.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[key]
	return rec, ok
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Execute runs cmd against the store and returns its result. CAS is evaluated
// against the state at execution time.
func (s *Store) Execute(ctx context.Context, cmd Command) CommandResult {
	_, span := s.tracer.Start(ctx, "kv.store.Execute", oteltrace.WithAttributes(
		attribute.String("kv.command.type", cmd.Type().String()),
		attribute.String("kv.key", cmd.TargetKey()),
	))
	defer span.End()

	var res CommandResult
	switch c := cmd.(type) {
	case SetCmd:
		res = s.set(c)
	case GetCmd:
		res = s.get(c)
	case CasCmd:
		res = s.cas(c)
	default:
		res = CommandResult{KVError: ErrcUnknownCommand}
	}
	span.SetAttributes(attribute.String("kv.result", res.KVError.String()))
	return res
}

func (s *Store) set(c SetCmd) CommandResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[c.Key] = Record{WriteID: c.WriteID, Value: c.Value}
	return CommandResult{WriteID: c.WriteID, Value: c.Value}
}

func (s *Store) get(c GetCmd) CommandResult {
	rec, ok := s.Get(c.Key)
	if !ok {
		return CommandResult{KVError: ErrcNotFound}
	}
	return CommandResult{WriteID: rec.WriteID, Value: rec.Value}
}

func (s *Store) cas(c CasCmd) CommandResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[c.Key]
	if !ok {
		return CommandResult{KVError: ErrcNotFound}
	}
	if rec.WriteID != c.PrevWriteID {
		return CommandResult{WriteID: rec.WriteID, Value: rec.Value, KVError: ErrcConflict}
	}
	s.data[c.Key] = Record{WriteID: c.WriteID, Value: c.Value}
	return CommandResult{WriteID: c.WriteID, Value: c.Value}
}

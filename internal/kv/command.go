// Package kv implements the key-value state machine: the command codec that
// maps commands onto log batches and the in-memory store that executes them.
package kv

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

var (
	// ErrUnknownCommand is returned by Decode for an unrecognized discriminator.
	ErrUnknownCommand = errors.New("kv: unknown command")
	// ErrMalformedCommand is returned by Decode when a command batch does not
	// have the expected shape or its fields cannot be read.
	ErrMalformedCommand = errors.New("kv: malformed command")
)

// CommandType is the one-byte discriminator stored as the record key.
type CommandType uint8

// Command discriminators. Values are part of the log format.
const (
	SetType CommandType = 0
	GetType CommandType = 1
	CasType CommandType = 2
)

func (t CommandType) String() string {
	switch t {
	case SetType:
		return "set"
	case GetType:
		return "get"
	case CasType:
		return "cas"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Command is one of SetCmd, GetCmd or CasCmd.
type Command interface {
	Type() CommandType
	// TargetKey returns the key the command operates on.
	TargetKey() string
}

// SetCmd upserts Key.
type SetCmd struct {
	Key     string
	Value   string
	WriteID string
}

// GetCmd reads Key.
type GetCmd struct {
	Key string
}

// CasCmd replaces Key only if its current write id equals PrevWriteID.
type CasCmd struct {
	Key         string
	PrevWriteID string
	Value       string
	WriteID     string
}

func (SetCmd) Type() CommandType { return SetType }
func (GetCmd) Type() CommandType { return GetType }
func (CasCmd) Type() CommandType { return CasType }

func (c SetCmd) TargetKey() string { return c.Key }
func (c GetCmd) TargetKey() string { return c.Key }
func (c CasCmd) TargetKey() string { return c.Key }

// Encode returns a single-record batch of type model.BatchTypeKV holding cmd.
// The base offset is zero; the log assigns the real one.
func Encode(cmd Command) model.RecordBatch {
	var value []byte
	switch c := cmd.(type) {
	case SetCmd:
		value = appendFields(nil, c.Key, c.Value, c.WriteID)
	case GetCmd:
		value = appendFields(nil, c.Key)
	case CasCmd:
		value = appendFields(nil, c.Key, c.PrevWriteID, c.Value, c.WriteID)
	default:
		panic(fmt.Sprintf("kv: cannot encode %T", cmd))
	}
	return model.NewBatchBuilder(model.BatchTypeKV, 0).
		WithTimestamp(time.Now().UnixMilli()).
		AddRawKV([]byte{byte(cmd.Type())}, value).
		Build()
}

// Decode reads the command stored in a KV batch.
func Decode(batch model.RecordBatch) (Command, error) {
	if batch.Type() != model.BatchTypeKV {
		return nil, fmt.Errorf("%w: batch type %s", ErrMalformedCommand, batch.Type())
	}
	records, ok := batch.Records.(model.UncompressedRecords)
	if !ok || len(records) != 1 {
		return nil, fmt.Errorf("%w: want one uncompressed record", ErrMalformedCommand)
	}
	rec := records[0]
	if len(rec.Key) != 1 {
		return nil, fmt.Errorf("%w: discriminator is %d bytes", ErrMalformedCommand, len(rec.Key))
	}

	switch typ := CommandType(rec.Key[0]); typ {
	case SetType:
		f, err := consumeFields(rec.Value, 3)
		if err != nil {
			return nil, err
		}
		return SetCmd{Key: f[0], Value: f[1], WriteID: f[2]}, nil
	case GetType:
		f, err := consumeFields(rec.Value, 1)
		if err != nil {
			return nil, err
		}
		return GetCmd{Key: f[0]}, nil
	case CasType:
		f, err := consumeFields(rec.Value, 4)
		if err != nil {
			return nil, err
		}
		return CasCmd{Key: f[0], PrevWriteID: f[1], Value: f[2], WriteID: f[3]}, nil
	default:
		return nil, fmt.Errorf("%w: discriminator %d", ErrUnknownCommand, uint8(typ))
	}
}

func appendFields(buf []byte, fields ...string) []byte {
	for _, f := range fields {
		buf = protowire.AppendString(buf, f)
	}
	return buf
}

func consumeFields(raw []byte, n int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		v, used := protowire.ConsumeString(raw)
		if used < 0 {
			return nil, fmt.Errorf("%w: field %d: %w", ErrMalformedCommand, i, protowire.ParseError(used))
		}
		out[i] = v
		raw = raw[used:]
	}
	if len(raw) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedCommand, len(raw))
	}
	return out, nil
}

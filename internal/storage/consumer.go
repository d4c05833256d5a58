// Package storage streams record batches to and from byte streams.
//
// Writing is a plain append of the batch wire form. Reading is done by Parser,
// an incremental decoder that drives a Consumer through a fixed callback
// protocol and can skip whole batches or single records without
// materializing them.
package storage

import "github.com/i-melnichenko/kvelldb/internal/model"

// SkipDecision is returned by consumer callbacks that may discard the
// upcoming data.
type SkipDecision bool

// Skip decisions.
const (
	Keep SkipDecision = false
	Skip SkipDecision = true
)

// StopIteration is returned at the end of every batch.
type StopIteration bool

// Batch-end decisions.
const (
	Continue StopIteration = false
	Stop     StopIteration = true
)

// Consumer receives decoded batch parts from a Parser.
//
// For every batch the parser calls ConsumeBatchStart, then either
// ConsumeCompressedRecords once or, per record, ConsumeRecordKey optionally
// followed by ConsumeRecordValue, and finally ConsumeBatchEnd. A batch skipped
// at ConsumeBatchStart produces no further callbacks, not even
// ConsumeBatchEnd. Callbacks run inline on the decode path and must return
// promptly. Byte slices handed to the consumer are owned by it.
type Consumer interface {
	ConsumeBatchStart(header model.RecordBatchHeader, numRecords int) SkipDecision
	ConsumeRecordKey(sizeBytes int, timestampDelta int64, offsetDelta int32, key []byte) SkipDecision
	ConsumeRecordValue(valueAndHeaders []byte)
	ConsumeCompressedRecords(blob []byte)
	ConsumeBatchEnd() StopIteration
}

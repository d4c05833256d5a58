package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

// Collector is a Consumer that rebuilds whole batches from parser callbacks.
// The zero value keeps everything and never stops early.
type Collector struct {
	// StopEachBatch makes the parser return after every delivered batch.
	StopEachBatch bool
	// SkipBatch, when set, drops batches for which it returns true.
	SkipBatch func(model.RecordBatchHeader) bool
	// SkipRecord, when set, drops records for which it returns true.
	SkipRecord func(offsetDelta int32, key []byte) bool

	batches []model.RecordBatch
	header  model.RecordBatchHeader
	records model.UncompressedRecords
	blob    []byte
	pending model.Record
	err     error
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) ConsumeBatchStart(header model.RecordBatchHeader, numRecords int) SkipDecision {
	if c.SkipBatch != nil && c.SkipBatch(header) {
		return Skip
	}
	c.header = header
	c.blob = nil
	c.records = make(model.UncompressedRecords, 0, numRecords)
	return Keep
}

func (c *Collector) ConsumeRecordKey(sizeBytes int, timestampDelta int64, offsetDelta int32, key []byte) SkipDecision {
	if c.SkipRecord != nil && c.SkipRecord(offsetDelta, key) {
		return Skip
	}
	c.pending = model.Record{
		SizeBytes:      int32(sizeBytes),
		TimestampDelta: timestampDelta,
		OffsetDelta:    offsetDelta,
		Key:            key,
	}
	return Keep
}

func (c *Collector) ConsumeRecordValue(valueAndHeaders []byte) {
	value, headers, err := model.ParseValueAndHeaders(valueAndHeaders)
	if err != nil {
		if c.err == nil {
			c.err = fmt.Errorf("batch %d record %d: %w", c.header.BaseOffset, c.pending.OffsetDelta, err)
		}
		return
	}
	c.pending.Value = value
	c.pending.Headers = headers
	c.records = append(c.records, c.pending)
}

func (c *Collector) ConsumeCompressedRecords(blob []byte) {
	c.blob = blob
}

func (c *Collector) ConsumeBatchEnd() StopIteration {
	batch := model.RecordBatch{Header: c.header}
	if c.header.Attrs.Compression() != model.CompressionNone {
		batch.Records = model.CompressedRecords{Count: int(c.header.RecordCount), Blob: c.blob}
	} else {
		batch.Records = c.records
	}
	c.batches = append(c.batches, batch)
	c.records = nil
	c.blob = nil
	if c.StopEachBatch {
		return Stop
	}
	return Continue
}

// Batches returns the batches collected so far.
func (c *Collector) Batches() []model.RecordBatch {
	return c.batches
}

// Take returns the collected batches and forgets them.
func (c *Collector) Take() []model.RecordBatch {
	out := c.batches
	c.batches = nil
	return out
}

// Err returns the first value section that failed to decode, if any.
func (c *Collector) Err() error {
	return c.err
}

// ReadBatches decodes every batch in data.
func ReadBatches(ctx context.Context, data []byte) ([]model.RecordBatch, error) {
	c := NewCollector()
	p := NewParser(c, bytes.NewReader(data))
	if _, err := p.Consume(ctx); err != nil {
		return c.Batches(), err
	}
	if err := c.Err(); err != nil {
		return c.Batches(), err
	}
	return c.Batches(), nil
}

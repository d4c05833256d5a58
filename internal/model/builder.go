package model

// BatchBuilder assembles an uncompressed batch and seals its header.
type BatchBuilder struct {
	typ       BatchType
	base      Offset
	timestamp int64
	records   []Record
}

// NewBatchBuilder starts a batch of the given type at base.
func NewBatchBuilder(typ BatchType, base Offset) *BatchBuilder {
	return &BatchBuilder{typ: typ, base: base}
}

// WithTimestamp sets the first timestamp of the batch, in milliseconds.
func (b *BatchBuilder) WithTimestamp(ms int64) *BatchBuilder {
	b.timestamp = ms
	return b
}

// AddRawKV appends a record with the next offset delta and no headers.
func (b *BatchBuilder) AddRawKV(key, value []byte) *BatchBuilder {
	b.records = append(b.records, NewRecord(0, int32(len(b.records)), key, value))
	return b
}

// AddRecord appends a prebuilt record as is.
func (b *BatchBuilder) AddRecord(r Record) *BatchBuilder {
	b.records = append(b.records, r)
	return b
}

// Build returns the sealed batch. The builder must not be reused.
func (b *BatchBuilder) Build() RecordBatch {
	var lastDelta int32
	var maxTS int64
	for _, r := range b.records {
		if r.OffsetDelta > lastDelta {
			lastDelta = r.OffsetDelta
		}
		if r.TimestampDelta > maxTS {
			maxTS = r.TimestampDelta
		}
	}
	batch := RecordBatch{
		Header: RecordBatchHeader{
			BaseOffset:      b.base,
			Type:            b.typ,
			LastOffsetDelta: lastDelta,
			FirstTimestamp:  b.timestamp,
			MaxTimestamp:    b.timestamp + maxTS,
			RecordCount:     int32(len(b.records)),
		},
		Records: UncompressedRecords(b.records),
	}
	seal(&batch)
	return batch
}

// NewCompressedBatch wraps an already compressed payload holding count records.
// c must not be CompressionNone.
func NewCompressedBatch(typ BatchType, base Offset, c Compression, count int, blob []byte, firstTS, maxTS int64) RecordBatch {
	lastDelta := int32(0)
	if count > 0 {
		lastDelta = int32(count - 1)
	}
	batch := RecordBatch{
		Header: RecordBatchHeader{
			BaseOffset:      base,
			Type:            typ,
			Attrs:           Attributes(0).WithCompression(c),
			LastOffsetDelta: lastDelta,
			FirstTimestamp:  firstTS,
			MaxTimestamp:    maxTS,
			RecordCount:     int32(count),
		},
		Records: CompressedRecords{Count: count, Blob: blob},
	}
	seal(&batch)
	return batch
}

func seal(b *RecordBatch) {
	payload := b.AppendPayload(nil)
	b.Header.SizeBytes = int32(HeaderSize + len(payload))
	b.Header.CRC = Checksum(payload)
	b.Header.HeaderCRC = b.Header.ComputeHeaderCRC()
}

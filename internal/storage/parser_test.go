package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

// skippingConsumer drops the first batchSkips compressed batches and the first
// recordSkips records of uncompressed ones.
type skippingConsumer struct {
	Collector
	batchSkips  int
	recordSkips int
}

func (c *skippingConsumer) ConsumeBatchStart(h model.RecordBatchHeader, n int) SkipDecision {
	if h.Attrs.Compression() != model.CompressionNone && c.batchSkips > 0 {
		c.batchSkips--
		return Skip
	}
	return c.Collector.ConsumeBatchStart(h, n)
}

func (c *skippingConsumer) ConsumeRecordKey(size int, ts int64, off int32, key []byte) SkipDecision {
	if c.recordSkips > 0 {
		c.recordSkips--
		return Skip
	}
	return c.Collector.ConsumeRecordKey(size, ts, off, key)
}

func TestParserSingleBatch(t *testing.T) {
	batches := makeRandomBatches(newTestRand(), 1, 1)
	c := NewCollector()
	p := NewParser(c, bytes.NewReader(EncodeBatches(batches...)))

	n, err := p.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Consume() = %d, want 1", n)
	}
	if !p.EOF() {
		t.Fatalf("expected EOF after consuming the whole stream")
	}
	requireBatchesEqual(t, c.Batches(), batches)
}

func TestParserMultipleBatches(t *testing.T) {
	batches := makeRandomBatches(newTestRand(), 0, 100)
	c := NewCollector()
	p := NewParser(c, bytes.NewReader(EncodeBatches(batches...)))

	n, err := p.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if n != len(batches) {
		t.Fatalf("Consume() = %d, want %d", n, len(batches))
	}
	requireBatchesEqual(t, c.Batches(), batches)
}

func TestParserMultipleBatchesOneAtATime(t *testing.T) {
	batches := makeRandomBatches(newTestRand(), 0, 100)
	data := EncodeBatches(batches...)
	c := &Collector{StopEachBatch: true}
	p := NewParser(c, bytes.NewReader(data))

	calls := 0
	for !p.EOF() {
		n, err := p.Consume(context.Background())
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
		if n > 1 {
			t.Fatalf("Consume() delivered %d batches, want at most 1", n)
		}
		calls++
	}
	if calls != len(batches)+1 {
		t.Fatalf("Consume calls = %d, want %d", calls, len(batches)+1)
	}
	if p.Position() != int64(len(data)) {
		t.Fatalf("Position() = %d, want %d", p.Position(), len(data))
	}
	requireBatchesEqual(t, c.Batches(), batches)
}

func TestParserSkips(t *testing.T) {
	const batchSkips, recordSkips = 7, 32

	batches := makeRandomBatches(newTestRand(), 0, 100)
	c := &skippingConsumer{
		Collector:   Collector{StopEachBatch: true},
		batchSkips:  batchSkips,
		recordSkips: recordSkips,
	}
	p := NewParser(c, bytes.NewReader(EncodeBatches(batches...)))

	var want []model.RecordBatch
	bs, rs := batchSkips, recordSkips
	for _, b := range batches {
		if b.Compressed() {
			if bs > 0 {
				bs--
				continue
			}
			want = append(want, b)
			continue
		}
		records := b.Records.(model.UncompressedRecords)
		n := min(rs, len(records))
		rs -= n
		b.Records = append(model.UncompressedRecords{}, records[n:]...)
		want = append(want, b)
	}

	for !p.EOF() {
		if _, err := p.Consume(context.Background()); err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
	}
	requireBatchesEqual(t, c.Batches(), want)
}

func TestParserEmptyStream(t *testing.T) {
	p := NewParser(NewCollector(), bytes.NewReader(nil))
	n, err := p.Consume(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Consume() = (%d, %v), want (0, nil)", n, err)
	}
	if !p.EOF() {
		t.Fatalf("expected EOF on empty stream")
	}
}

func TestParserEmptyBatch(t *testing.T) {
	batch := model.NewBatchBuilder(model.BatchTypeData, 5).Build()
	got, err := ReadBatches(context.Background(), EncodeBatches(batch))
	if err != nil {
		t.Fatalf("ReadBatches() error = %v", err)
	}
	requireBatchesEqual(t, got, []model.RecordBatch{batch})
}

func TestParserTruncatedHeader(t *testing.T) {
	data := EncodeBatches(makeRandomBatches(newTestRand(), 0, 1)...)
	p := NewParser(NewCollector(), bytes.NewReader(data[:model.HeaderSize/2]))

	_, err := p.Consume(context.Background())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("Consume() error = %v, want ErrTruncated", err)
	}
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("ErrTruncated must wrap ErrDecode")
	}
	if p.Position() != 0 {
		t.Fatalf("Position() = %d, want 0", p.Position())
	}
}

func TestParserTruncatedRecordKeepsEarlierBatches(t *testing.T) {
	rng := newTestRand()
	first := makeRandomBatch(rng, 0, false)
	second := makeRandomBatch(rng, first.LastOffset()+1, false)
	data := EncodeBatches(first, second)
	cut := int(first.Header.SizeBytes) + model.HeaderSize + 3

	c := NewCollector()
	p := NewParser(c, bytes.NewReader(data[:cut]))
	n, err := p.Consume(context.Background())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("Consume() error = %v, want ErrTruncated", err)
	}
	if n != 1 {
		t.Fatalf("Consume() = %d, want 1 completed batch", n)
	}
	if p.Position() != int64(first.Header.SizeBytes) {
		t.Fatalf("Position() = %d, want %d", p.Position(), first.Header.SizeBytes)
	}
	requireBatchesEqual(t, c.Batches(), []model.RecordBatch{first})
}

func TestParserHeaderChecksumMismatch(t *testing.T) {
	data := EncodeBatches(makeRandomBatches(newTestRand(), 0, 2)...)
	data[10] ^= 0xff // base offset byte

	c := NewCollector()
	p := NewParser(c, bytes.NewReader(data))
	_, err := p.Consume(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Consume() error = %v, want ErrCorrupt", err)
	}
	if len(c.Batches()) != 0 {
		t.Fatalf("corrupt batch must not be delivered")
	}
}

func TestParserPayloadChecksumMismatch(t *testing.T) {
	batch := makeRandomBatch(newTestRand(), 0, false)
	data := EncodeBatches(batch)
	data[len(data)-1] ^= 0x01

	_, err := ReadBatches(context.Background(), data)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("ReadBatches() error = %v, want ErrCorrupt", err)
	}
}

func TestParserRejectsOversizedRecord(t *testing.T) {
	batch := model.NewBatchBuilder(model.BatchTypeData, 0).AddRawKV([]byte("k"), []byte("v")).Build()
	data := EncodeBatches(batch)
	// First payload byte is the record size varint; claim more than the payload holds.
	data[model.HeaderSize] = 0x7e

	_, err := ReadBatches(context.Background(), data)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("ReadBatches() error = %v, want ErrCorrupt", err)
	}
}

func TestParserStaysFailed(t *testing.T) {
	data := EncodeBatches(makeRandomBatches(newTestRand(), 0, 3)...)
	p := NewParser(NewCollector(), bytes.NewReader(data[:len(data)-1]))

	_, first := p.Consume(context.Background())
	if first == nil {
		t.Fatalf("expected error on truncated stream")
	}
	n, second := p.Consume(context.Background())
	if n != 0 || !errors.Is(second, ErrDecode) || second.Error() != first.Error() {
		t.Fatalf("second Consume() = (%d, %v), want (0, %v)", n, second, first)
	}
}

func TestParserContextCanceled(t *testing.T) {
	batches := makeRandomBatches(newTestRand(), 0, 4)
	c := NewCollector()
	p := NewParser(c, bytes.NewReader(EncodeBatches(batches...)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Consume(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Consume() error = %v, want context.Canceled", err)
	}

	if _, err := p.Consume(context.Background()); err != nil {
		t.Fatalf("Consume() after cancel error = %v", err)
	}
	requireBatchesEqual(t, c.Batches(), batches)
}

func TestCollectorFilters(t *testing.T) {
	batches := makeRandomBatches(newTestRand(), 0, 8)
	c := &Collector{
		SkipBatch:  func(h model.RecordBatchHeader) bool { return h.Attrs.Compression() != model.CompressionNone },
		SkipRecord: func(off int32, _ []byte) bool { return off%2 == 1 },
	}
	p := NewParser(c, bytes.NewReader(EncodeBatches(batches...)))
	if _, err := p.Consume(context.Background()); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	got := c.Take()
	if len(got) != 6 {
		t.Fatalf("collected %d batches, want 6", len(got))
	}
	for _, b := range got {
		for _, r := range b.Records.(model.UncompressedRecords) {
			if r.OffsetDelta%2 == 1 {
				t.Fatalf("record with offset delta %d should have been skipped", r.OffsetDelta)
			}
		}
	}
	if len(c.Batches()) != 0 {
		t.Fatalf("Take() must reset collected batches")
	}
}

func TestWriteBatchMatchesEncode(t *testing.T) {
	batches := makeRandomBatches(newTestRand(), 0, 5)
	var buf bytes.Buffer
	for _, b := range batches {
		n, err := WriteBatch(&buf, b)
		if err != nil {
			t.Fatalf("WriteBatch() error = %v", err)
		}
		if n != int(b.Header.SizeBytes) {
			t.Fatalf("WriteBatch() wrote %d bytes, want %d", n, b.Header.SizeBytes)
		}
	}
	if !bytes.Equal(buf.Bytes(), EncodeBatches(batches...)) {
		t.Fatalf("WriteBatch output differs from EncodeBatches")
	}
}

package storage

import (
	"math/rand/v2"
	"testing"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

func newTestRand() *rand.Rand {
	return rand.New(rand.NewPCG(42, 1024))
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.UintN(256))
	}
	return b
}

// makeRandomBatches returns n contiguous batches starting at base. Every
// fourth batch is compressed.
func makeRandomBatches(rng *rand.Rand, base model.Offset, n int) []model.RecordBatch {
	batches := make([]model.RecordBatch, 0, n)
	for i := 0; i < n; i++ {
		b := makeRandomBatch(rng, base, i%4 == 3)
		base = b.LastOffset() + 1
		batches = append(batches, b)
	}
	return batches
}

func makeRandomBatch(rng *rand.Rand, base model.Offset, compressed bool) model.RecordBatch {
	count := 1 + rng.IntN(16)
	ts := int64(1_700_000_000_000 + rng.IntN(1_000_000))
	if compressed {
		blob := randomBytes(rng, 16+rng.IntN(256))
		return model.NewCompressedBatch(model.BatchTypeData, base, model.CompressionZstd, count, blob, ts, ts+int64(count))
	}

	bb := model.NewBatchBuilder(model.BatchTypeData, base).WithTimestamp(ts)
	for j := 0; j < count; j++ {
		var headers []model.RecordHeader
		for h := rng.IntN(3); h > 0; h-- {
			headers = append(headers, model.RecordHeader{
				Key:   randomBytes(rng, 1+rng.IntN(8)),
				Value: randomBytes(rng, rng.IntN(16)),
			})
		}
		key := randomBytes(rng, rng.IntN(32))
		value := randomBytes(rng, rng.IntN(512))
		bb.AddRecord(model.NewRecord(int64(j), int32(j), key, value, headers...))
	}
	return bb.Build()
}

func requireBatchesEqual(t *testing.T, got, want []model.RecordBatch) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("batch count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("batch %d mismatch:\n got  %s\n want %s", i, got[i], want[i])
		}
	}
}

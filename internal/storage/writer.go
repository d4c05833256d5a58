package storage

import (
	"io"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

// AppendBatch appends the wire form of b (header followed by payload) to buf.
func AppendBatch(buf []byte, b model.RecordBatch) []byte {
	buf = b.Header.AppendTo(buf)
	return b.AppendPayload(buf)
}

// WriteBatch writes the wire form of b to w.
func WriteBatch(w io.Writer, b model.RecordBatch) (int, error) {
	buf := AppendBatch(make([]byte, 0, b.Header.SizeBytes), b)
	return w.Write(buf)
}

// EncodeBatches returns the concatenated wire form of batches.
func EncodeBatches(batches ...model.RecordBatch) []byte {
	size := 0
	for _, b := range batches {
		size += int(b.Header.SizeBytes)
	}
	buf := make([]byte, 0, size)
	for _, b := range batches {
		buf = AppendBatch(buf, b)
	}
	return buf
}

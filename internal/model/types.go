// Package model defines record batches, the unit of replication in the commit log.
//
// A batch is a fixed-size header followed by either a sequence of records or a
// single opaque compressed blob. The header and record layouts live here so
// that batch builders can compute sizes and checksums; streaming the layout in
// and out of readers is done by the storage package.
package model

import "fmt"

// Offset identifies a record in the commit log. Offsets increase monotonically.
type Offset int64

// BatchType tags the content of a batch so that several consumers can share
// one log and ignore batches that are not addressed to them.
type BatchType int8

// Known batch types.
const (
	BatchTypeData          BatchType = 1
	BatchTypeConfiguration BatchType = 2
	BatchTypeKV            BatchType = 3
)

func (t BatchType) String() string {
	switch t {
	case BatchTypeData:
		return "data"
	case BatchTypeConfiguration:
		return "configuration"
	case BatchTypeKV:
		return "kv"
	default:
		return fmt.Sprintf("batch_type(%d)", int8(t))
	}
}

// Compression is the codec recorded in the low bits of the batch attributes.
// The log never compresses or decompresses anything itself.
type Compression uint8

// Supported compression markers.
const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionSnappy
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

const compressionMask = 0x07

// Attributes is the attribute bit set of a batch header.
type Attributes int16

// Compression returns the compression marker.
func (a Attributes) Compression() Compression {
	return Compression(a & compressionMask)
}

// WithCompression returns a copy of a with the compression bits replaced.
func (a Attributes) WithCompression(c Compression) Attributes {
	return (a &^ compressionMask) | Attributes(c)&compressionMask
}

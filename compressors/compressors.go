// Package compressors provides the stream codecs applied to backup archives.
package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/nexusevent/core"
)

// Compressor wraps archive streams.
type Compressor interface {
	Type() core.CompressionType
	// NewWriter returns a writer compressing into w. Close flushes the
	// stream but does not close w.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader returns a reader decompressing r. Close does not close r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Stream magic numbers used by Detect.
var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic    = []byte{0x04, 0x22, 0x4d, 0x18}
	snappyMagic = []byte{0xff, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}
)

// DetectSize is the number of leading bytes Detect needs.
const DetectSize = 10

// Detect identifies the compression of a stream from its first bytes.
// Anything unrecognised is treated as uncompressed.
func Detect(head []byte) core.CompressionType {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return core.CompressionZSTD
	case bytes.HasPrefix(head, lz4Magic):
		return core.CompressionLZ4
	case bytes.HasPrefix(head, snappyMagic):
		return core.CompressionSnappy
	default:
		return core.CompressionNone
	}
}

var (
	zstdCompressor   = NewZstdCompressor()
	lz4Compressor    = NewLz4Compressor()
	snappyCompressor = NewSnappyCompressor()
	noneCompressor   = &NoCompressionCompressor{}
)

// ForType returns the shared compressor of a type.
func ForType(ct core.CompressionType) (Compressor, error) {
	switch ct {
	case core.CompressionZSTD:
		return zstdCompressor, nil
	case core.CompressionLZ4:
		return lz4Compressor, nil
	case core.CompressionSnappy:
		return snappyCompressor, nil
	case core.CompressionNone:
		return noneCompressor, nil
	default:
		return nil, fmt.Errorf("unsupported compression type %d", ct)
	}
}

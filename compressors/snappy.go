package compressors

import (
	"io"

	"github.com/INLOpen/nexusevent/core"
	"github.com/golang/snappy"
)

// SnappyCompressor implements the Compressor interface using the Snappy
// framing format.
type SnappyCompressor struct{}

var _ Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}

// NewWriter buffers writes; Close flushes the last chunk.
func (c *SnappyCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (c *SnappyCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

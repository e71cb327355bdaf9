package compressors

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/nexusevent/core"
	"github.com/klauspost/compress/zstd"
)

// zstdMaxDecoderMemory bounds the window a decoder may allocate.
const zstdMaxDecoderMemory = 100 * 1024 * 1024

// ZstdCompressor implements the Compressor interface using Zstandard. Encoders
// and decoders are pooled and reset for every stream.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

type zstdWriteCloser struct {
	*zstd.Encoder
	pool *sync.Pool
	once sync.Once
}

func (z *zstdWriteCloser) Close() error {
	var err error
	z.once.Do(func() {
		// Close flushes the frame; the encoder stays usable after Reset.
		err = z.Encoder.Close()
		z.pool.Put(z.Encoder)
	})
	return err
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
	once sync.Once
}

func (z *zstdReadCloser) Close() error {
	// Do not call Decoder.Close() as it invalidates the decoder for reuse.
	z.once.Do(func() {
		_ = z.Decoder.Reset(nil)
		z.pool.Put(z.Decoder)
	})
	return nil
}

var _ Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{
		encoderPool: sync.Pool{
			New: func() interface{} {
				enc, err := zstd.NewWriter(nil)
				if err != nil {
					slog.Default().Error("Failed to create zstd encoder.", "error", err)
					return nil
				}
				return enc
			},
		},
		decoderPool: sync.Pool{
			New: func() interface{} {
				dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(zstdMaxDecoderMemory))
				if err != nil {
					slog.Default().Error("Failed to create zstd decoder.", "error", err)
					return nil
				}
				return dec
			},
		},
	}
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}

func (c *ZstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	enc, ok := c.encoderPool.Get().(*zstd.Encoder)
	if !ok || enc == nil {
		return nil, fmt.Errorf("zstd encoder unavailable")
	}
	enc.Reset(w)
	return &zstdWriteCloser{Encoder: enc, pool: &c.encoderPool}, nil
}

func (c *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, ok := c.decoderPool.Get().(*zstd.Decoder)
	if !ok || dec == nil {
		return nil, fmt.Errorf("zstd decoder unavailable")
	}
	if err := dec.Reset(r); err != nil {
		c.decoderPool.Put(dec)
		return nil, fmt.Errorf("zstd decoder reset error: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
}

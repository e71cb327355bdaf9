package core

import (
	"encoding/binary"
	"sync"
)

// GenericPool is a generic wrapper around sync.Pool
type GenericPool[T any] struct {
	pool sync.Pool
}

// NewGenericPool creates a new GenericPool with a function to create new items.
func NewGenericPool[T any](newItem func() T) *GenericPool[T] {
	return &GenericPool[T]{
		pool: sync.Pool{
			New: func() interface{} {
				return newItem()
			},
		},
	}
}

// Get retrieves an item from the pool.
func (p *GenericPool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns an item to the pool.
func (p *GenericPool[T]) Put(item T) {
	p.pool.Put(item)
}

// DefaultRecordBufferSize covers the common record without growing.
const DefaultRecordBufferSize = 4 * 1024

// Buffers larger than this are dropped instead of being pooled.
const maxPooledBufferSize = 64 * 1024

var recordBuffers = NewGenericPool(func() *Buffer {
	return &Buffer{B: make([]byte, 0, DefaultRecordBufferSize)}
})

// Buffer is a scratch buffer owned by one encode or decode operation.
// Acquire it with AcquireBuffer and release it with a deferred Release.
type Buffer struct {
	B []byte
}

// AcquireBuffer returns an empty buffer from the shared pool.
func AcquireBuffer() *Buffer {
	b := recordBuffers.Get()
	b.B = b.B[:0]
	return b
}

// Release returns the buffer to the pool. The buffer must not be used afterwards.
func (b *Buffer) Release() {
	if b == nil || cap(b.B) > maxPooledBufferSize {
		return
	}
	b.B = b.B[:0]
	recordBuffers.Put(b)
}

// Resize sets the length of the buffer to n, growing it when needed, and
// returns the resized slice.
func (b *Buffer) Resize(n int) []byte {
	if cap(b.B) < n {
		b.B = make([]byte, n)
	}
	b.B = b.B[:n]
	return b.B
}

// SetSizePrefix writes the current length into the first four bytes.
func (b *Buffer) SetSizePrefix() {
	binary.LittleEndian.PutUint32(b.B[:SizePrefixSize], uint32(len(b.B)))
}

// Len returns the number of bytes held.
func (b *Buffer) Len() int { return len(b.B) }

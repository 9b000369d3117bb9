// Package image provides the byte addressable backends a simulated card
// stores its blocks in. A memory mapped file gives persistence across runs,
// an in-memory buffer is enough for tests.
package image

import (
	sdspi "github.com/samsamfire/gosdspi"
)

// A Backend is a mutable byte region of fixed capacity.
// Byte i of the region is byte i of the SD address space.
type Backend interface {
	// Bytes exposes the whole region for direct reads and writes
	Bytes() []byte
	// Capacity returns the region size in bytes, always a multiple of [sdspi.BlockSize]
	Capacity() int64
	// Close releases the region, flushing it when the backend is durable
	Close() error
}

func checkSize(size int64) error {
	if size < sdspi.BlockSize {
		return sdspi.ErrImageTooSmall
	}
	if size%sdspi.BlockSize != 0 {
		return sdspi.ErrImageUnaligned
	}
	return nil
}

// A Buffer is a volatile in-memory backend
type Buffer struct {
	data []byte
}

// NewBuffer creates a zero filled in-memory backend of the given size
func NewBuffer(size int64) (*Buffer, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return &Buffer{data: make([]byte, size)}, nil
}

func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Capacity() int64 {
	return int64(len(b.data))
}

func (b *Buffer) Close() error {
	return nil
}

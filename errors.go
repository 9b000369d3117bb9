package sdspi

import "errors"

var (
	ErrImageTooSmall  = errors.New("image is smaller than one block")
	ErrImageUnaligned = errors.New("image size is not a multiple of the block size")
	ErrClosed         = errors.New("backend is closed")
)

package image

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	sdspi "github.com/samsamfire/gosdspi"
)

// A File is a backend memory mapped from a raw image file.
// The file has no header or metadata, its size is the card capacity.
// A blank image can be created with e.g. `truncate -s 2G card.img`,
// sparse files keep the disk usage negligible.
type File struct {
	path string
	data []byte
}

// OpenFile maps an existing image file read-write
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open image %v : %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image %v : %w", path, err)
	}
	if err := checkSize(info.Size()); err != nil {
		return nil, err
	}
	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		int(info.Size()),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap image %v : %w", path, err)
	}
	return &File{path: path, data: data}, nil
}

func (f *File) Bytes() []byte {
	return f.data
}

func (f *File) Capacity() int64 {
	return int64(len(f.data))
}

// Close flushes the mapping back to the file and releases it
func (f *File) Close() error {
	if f.data == nil {
		return sdspi.ErrClosed
	}
	if err := unix.Msync(f.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync image %v : %w", f.path, err)
	}
	err := unix.Munmap(f.data)
	f.data = nil
	if err != nil {
		return fmt.Errorf("munmap image %v : %w", f.path, err)
	}
	return nil
}

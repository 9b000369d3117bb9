package image

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	sdspi "github.com/samsamfire/gosdspi"
)

func createTempImage(t *testing.T, size int64) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "card_*.img")
	if err != nil {
		t.Fatal("failed to create temp image", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatal("failed to size temp image", err)
	}
	return f.Name()
}

func TestBufferSizes(t *testing.T) {
	_, err := NewBuffer(0)
	assert.ErrorIs(t, err, sdspi.ErrImageTooSmall)
	_, err = NewBuffer(511)
	assert.ErrorIs(t, err, sdspi.ErrImageTooSmall)
	_, err = NewBuffer(513)
	assert.ErrorIs(t, err, sdspi.ErrImageUnaligned)
	buf, err := NewBuffer(4 * sdspi.BlockSize)
	assert.Nil(t, err)
	assert.EqualValues(t, 4*sdspi.BlockSize, buf.Capacity())
	assert.Len(t, buf.Bytes(), 4*sdspi.BlockSize)
	assert.Nil(t, buf.Close())
}

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile("/does/not/exist.img")
	assert.NotNil(t, err)
}

func TestOpenFileTooSmall(t *testing.T) {
	path := createTempImage(t, 256)
	_, err := OpenFile(path)
	assert.ErrorIs(t, err, sdspi.ErrImageTooSmall)
}

func TestFileRoundTrip(t *testing.T) {
	path := createTempImage(t, 2*sdspi.BlockSize)
	img, err := OpenFile(path)
	if err != nil {
		t.Fatal("failed to open image", err)
	}
	assert.EqualValues(t, 2*sdspi.BlockSize, img.Capacity())
	copy(img.Bytes()[sdspi.BlockSize:], []byte("hello block one"))
	assert.Nil(t, img.Close())

	// Mutations must be visible through the file after close
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("failed to read back image", err)
	}
	assert.Equal(t, []byte("hello block one"), raw[sdspi.BlockSize:sdspi.BlockSize+15])

	// Second close reports the mapping is gone
	assert.ErrorIs(t, img.Close(), sdspi.ErrClosed)
}

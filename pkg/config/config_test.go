package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadData(t *testing.T) {
	raw := []byte(`
[card]
image = card.img
enforce_crc = true

[log]
level = debug
`)
	config, err := LoadData(raw)
	assert.Nil(t, err)
	assert.Equal(t, "card.img", config.Image)
	assert.True(t, config.EnforceCRC)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadDataDefaults(t *testing.T) {
	config, err := LoadData([]byte("[card]\nimage = card.img\n"))
	assert.Nil(t, err)
	assert.False(t, config.EnforceCRC)
	assert.Equal(t, DefaultLogLevel, config.LogLevel)
}

func TestLoadDataNoImage(t *testing.T) {
	_, err := LoadData([]byte("[log]\nlevel = warn\n"))
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.ini")
	err := os.WriteFile(path, []byte("[card]\nimage = /tmp/card.img\n"), 0644)
	if err != nil {
		t.Fatal("failed to write config", err)
	}
	config, err := Load(path)
	assert.Nil(t, err)
	assert.Equal(t, "/tmp/card.img", config.Image)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.ini")
	assert.NotNil(t, err)
}

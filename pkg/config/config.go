// Package config loads harness configuration from an ini file.
// The card itself is constructed from its image path alone, everything in
// here is read by the surrounding harness : which image to mount, whether
// checksum enforcement is switched on through Card.SetCRCEnforcement and
// how chatty the diagnostics are.
package config

import (
	"errors"
	"fmt"

	"gopkg.in/ini.v1"
)

var ErrNoImage = errors.New("configuration contains no image path")

const (
	DefaultLogLevel = "info"
)

type Config struct {
	// Path of the raw image file backing the card
	Image string
	// Answer write checksum mismatches with the CRC error data response
	EnforceCRC bool
	// Diagnostic verbosity : debug, info, warn or error
	LogLevel string
}

// Load parses a harness configuration file, e.g. :
//
//	[card]
//	image = card.img
//	enforce_crc = false
//
//	[log]
//	level = debug
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %v : %w", path, err)
	}
	return parse(f)
}

// LoadData parses a harness configuration from raw bytes
func LoadData(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load config : %w", err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Config, error) {
	config := &Config{LogLevel: DefaultLogLevel}

	card := f.Section("card")
	config.Image = card.Key("image").String()
	if config.Image == "" {
		return nil, ErrNoImage
	}
	enforce, err := card.Key("enforce_crc").Bool()
	if err == nil {
		config.EnforceCRC = enforce
	}

	if level := f.Section("log").Key("level").String(); level != "" {
		config.LogLevel = level
	}
	return config, nil
}

// Package card implements a simulated SD card operating in SPI mode.
// The card is a byte oriented state machine : a host clocks bytes in over
// MOSI and receives bytes over MISO in lock step, while chip select gates
// all activity. Block data lives in an [image.Backend], so a file backed
// card is persistent across runs for free.
package card

import (
	"log/slog"

	sdspi "github.com/samsamfire/gosdspi"
	"github.com/samsamfire/gosdspi/internal/crc"
	"github.com/samsamfire/gosdspi/pkg/image"
)

type cardState uint8

const (
	stateBoot        cardState = iota // card just powered up
	stateSPI                          // in SPI mode, after CMD0 in boot
	stateSPIAcmd                      // CMD55 received but card not fully initialized yet
	stateIdle                         // waiting for a normal command
	stateIdleAcmd                     // last command was CMD55
	stateResponse                     // draining a queued response
	stateReadBlock                    // streaming a data block out
	stateWriteStbt                    // waiting for the start block token
	stateWriteListen                  // receiving a block
	stateWriteCRC                     // receiving the checksum trailing a block
)

var stateNames = map[cardState]string{
	stateBoot:        "BOOT",
	stateSPI:         "SPI",
	stateSPIAcmd:     "SPI_ACMD",
	stateIdle:        "IDLE",
	stateIdleAcmd:    "IDLE_ACMD",
	stateResponse:    "CMD_RESPONSE",
	stateReadBlock:   "READ_BLOCK",
	stateWriteStbt:   "WRITE_STBT",
	stateWriteListen: "WRITE_LISTEN",
	stateWriteCRC:    "WRITE_CRC",
}

func (s cardState) String() string {
	name, ok := stateNames[s]
	if !ok {
		return "UNKNOWN"
	}
	return name
}

// Card is a simulated SPI mode SD card.
// It implements [sdspi.Peripheral]. Both entry points run to completion
// synchronously and are expected to be called from a single goroutine,
// the way an emulator dispatches pin events.
type Card struct {
	logger  *slog.Logger
	backend image.Backend
	// backing region and its size, aliases backend for the transfer paths
	mass     []byte
	capacity int64

	state      cardState
	afterSend  cardState // state entered once the outbound buffer drains
	csActive   bool
	enforceCRC bool

	// inbound command frame and fill cursor
	cmd    [sdspi.CommandLength]byte
	cmdIdx int

	// outbound response buffer, bounded by R3 (5 bytes)
	send    [5]byte
	sendIdx int
	sendLen int

	head          int64 // transfer cursor into mass
	bytesXfrd     int   // bytes of the current block already moved
	crc16         crc.CRC16
	crc16First    bool // expecting the first (high) byte of an inbound write CRC
	crcMismatch   bool
	multipleBlock bool // CMD18/CMD25, single block otherwise

	// one-shot MISO override, used by the framing error reset
	pendingOut    byte
	hasPendingOut bool
}

// New creates a card bound to an already opened backend.
// The card starts in its power up state with chip select deasserted.
func New(backend image.Backend) (*Card, error) {
	if backend.Capacity() < sdspi.BlockSize {
		return nil, sdspi.ErrImageTooSmall
	}
	c := &Card{
		logger:   slog.Default(),
		backend:  backend,
		mass:     backend.Bytes(),
		capacity: backend.Capacity(),
	}
	c.Reset()
	return c, nil
}

// NewFromFile creates a card backed by the image file at the given path.
// The path is the only constructor argument, checksum enforcement and the
// logger are set afterwards with SetCRCEnforcement and SetLogger.
func NewFromFile(path string) (*Card, error) {
	backend, err := image.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return New(backend)
}

func (c *Card) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// SetCRCEnforcement controls whether an inbound write checksum mismatch is
// answered with the CRC error data response. Off by default, the historical
// Arduino host never sends a valid checksum.
func (c *Card) SetCRCEnforcement(enforce bool) {
	c.enforceCRC = enforce
}

// Capacity returns the size of the card address space in bytes
func (c *Card) Capacity() int64 {
	return c.capacity
}

// Reset performs a power cycle. Chip select is driven by the host and left
// untouched, as is the image. Read and write cursors are re-armed when the
// next transfer command arrives.
func (c *Card) Reset() {
	c.cmdIdx = 0
	c.sendIdx = 0
	c.sendLen = 0
	c.hasPendingOut = false
	c.state = stateBoot
}

// errorReset recovers from a critical error while processing a byte : full
// reset, then a single zero byte on MISO before normal emission resumes.
func (c *Card) errorReset() {
	c.logger.Debug("framing error, resetting")
	c.Reset()
	c.pendingOut = 0x00
	c.hasPendingOut = true
}

// SetCS is the chip select entry point, level true means asserted
// (logically low on the wire). Deassertion mid frame retains partial state,
// byte reception resumes on reassertion.
func (c *Card) SetCS(asserted bool) {
	c.csActive = asserted
	if asserted {
		c.logger.Debug("chip selected")
	} else {
		c.logger.Debug("chip deselected")
	}
}

// Close flushes and releases the backing image
func (c *Card) Close() error {
	return c.backend.Close()
}

package main

import (
	"fmt"

	sdspi "github.com/samsamfire/gosdspi"
	"github.com/samsamfire/gosdspi/internal/crc"
	"github.com/samsamfire/gosdspi/pkg/card"
)

// host drives the card the way firmware would, one byte at a time over the
// exchange entry point
type host struct {
	card *card.Card
}

// command clocks a full frame in and polls for the first response byte
func (h *host) command(index byte, arg uint32) (byte, error) {
	frame := [sdspi.CommandLength]byte{
		0x40 | index,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
	}
	check := crc.CRC7(0)
	check.Block(frame[:5])
	frame[5] = check.Byte()
	for _, b := range frame {
		h.card.Exchange(b)
	}
	for i := 0; i < 8; i++ {
		if b := h.card.Exchange(sdspi.IdleByte); b != sdspi.IdleByte {
			return b, nil
		}
	}
	return 0, fmt.Errorf("CMD%d : no response", index)
}

// boot walks the card through the CMD0, CMD55, ACMD41 handshake
func (h *host) boot() error {
	h.card.SetCS(true)
	r1, err := h.command(sdspi.CmdGoIdleState, 0)
	if err != nil {
		return err
	}
	if r1 != sdspi.R1Idle {
		return fmt.Errorf("CMD0 : unexpected response 0x%02X", r1)
	}
	r1, err = h.command(sdspi.CmdAppCmd, 0)
	if err != nil {
		return err
	}
	if r1 != sdspi.R1Idle {
		return fmt.Errorf("CMD55 : unexpected response 0x%02X", r1)
	}
	r1, err = h.command(sdspi.AcmdSendOpCond, 0x40000000)
	if err != nil {
		return err
	}
	if r1 != sdspi.R1Ok {
		return fmt.Errorf("ACMD41 : unexpected response 0x%02X", r1)
	}
	return nil
}

// readOCR issues CMD58 and decodes the four byte OCR
func (h *host) readOCR() (uint32, error) {
	r1, err := h.command(sdspi.CmdReadOCR, 0)
	if err != nil {
		return 0, err
	}
	if r1 != sdspi.R1Ok {
		return 0, fmt.Errorf("CMD58 : unexpected response 0x%02X", r1)
	}
	ocr := uint32(0)
	for i := 0; i < 4; i++ {
		ocr = ocr<<8 | uint32(h.card.Exchange(sdspi.IdleByte))
	}
	return ocr, nil
}

// readBlock issues CMD17 and verifies the trailing checksum
func (h *host) readBlock(addr uint32, buf []byte) error {
	if len(buf) != sdspi.BlockSize {
		return fmt.Errorf("read buffer must hold one block")
	}
	r1, err := h.command(sdspi.CmdReadSingleBlock, addr)
	if err != nil {
		return err
	}
	if r1 != sdspi.R1Ok {
		return fmt.Errorf("CMD17 : unexpected response 0x%02X", r1)
	}
	if b := h.card.Exchange(sdspi.IdleByte); b != sdspi.TokenStartBlock {
		return fmt.Errorf("CMD17 : unexpected start token 0x%02X", b)
	}
	check := crc.CRC16(0xFFFF)
	for i := range buf {
		buf[i] = h.card.Exchange(sdspi.IdleByte)
		check.Single(buf[i])
	}
	high := h.card.Exchange(sdspi.IdleByte)
	low := h.card.Exchange(sdspi.IdleByte)
	if high != check.High() || low != check.Low() {
		return fmt.Errorf("CMD17 : bad block checksum %02X%02X, want %02X%02X",
			high, low, check.High(), check.Low())
	}
	return nil
}

// writeBlock issues CMD24 with a correctly checksummed block
func (h *host) writeBlock(addr uint32, buf []byte) error {
	if len(buf) != sdspi.BlockSize {
		return fmt.Errorf("write buffer must hold one block")
	}
	r1, err := h.command(sdspi.CmdWriteSingleBlock, addr)
	if err != nil {
		return err
	}
	if r1 != sdspi.R1Ok {
		return fmt.Errorf("CMD24 : unexpected response 0x%02X", r1)
	}
	h.card.Exchange(sdspi.TokenStartBlock)
	check := crc.CRC16(0xFFFF)
	for _, b := range buf {
		h.card.Exchange(b)
		check.Single(b)
	}
	h.card.Exchange(check.High())
	h.card.Exchange(check.Low())
	resp := h.card.Exchange(sdspi.IdleByte)
	if resp != sdspi.TokenAccepted {
		return fmt.Errorf("CMD24 : data response 0x%02X", resp)
	}
	return nil
}

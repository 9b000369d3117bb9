package card

import (
	"encoding/binary"

	sdspi "github.com/samsamfire/gosdspi"
	"github.com/samsamfire/gosdspi/internal/crc"
)

// dispatch runs after a complete command frame accumulated. It analyzes
// the command, places the matching response in the outbound buffer and
// updates the card state.
func (c *Card) dispatch() {
	index := c.cmd[0] & 0x3F
	arg := binary.BigEndian.Uint32(c.cmd[1:5])

	// The checksum is recorded but never rejected, the historical host
	// sends fixed values outside of the boot handshake
	check := crc.CRC7(0)
	check.Block(c.cmd[:5])
	if c.cmd[5] != check.Byte() {
		c.logger.Debug("command crc mismatch",
			"index", index, "got", c.cmd[5], "want", check.Byte())
	}

	c.afterSend = c.state
	c.sendIdx = 0

	c.logger.Debug("received command", "index", index, "arg", arg, "state", c.state)

	// only valid command before SPI mode is the reset
	if c.state == stateBoot && index != sdspi.CmdGoIdleState {
		c.enqueueR1(sdspi.R1IllegalCommand)
		return
	}

	if c.state == stateSPI {
		if index == sdspi.CmdAppCmd {
			c.afterSend = stateSPIAcmd
			c.enqueueR1(sdspi.R1Idle)
			return
		}
		c.enqueueR1(sdspi.R1IllegalCommand)
		return
	}

	if c.state == stateSPIAcmd {
		if index == sdspi.AcmdSendOpCond {
			c.afterSend = stateIdle
			c.enqueueR1(sdspi.R1Ok)
			return
		}
		c.enqueueR1(sdspi.R1IllegalCommand)
		return
	}

	if c.state == stateIdleAcmd {
		// No ACMD beyond the initialization bootstrap is implemented,
		// the escape lasts exactly one command
		c.afterSend = stateIdle
		c.enqueueR1(sdspi.R1IllegalCommand)
		return
	}

	switch index {
	case sdspi.CmdGoIdleState:
		c.Reset()
		c.afterSend = stateSPI
		c.enqueueR1(sdspi.R1Idle)
	case sdspi.CmdSendStatus:
		c.enqueueR2()
	case sdspi.CmdReadSingleBlock, sdspi.CmdReadMultipleBlock:
		if int64(arg) > c.capacity-sdspi.BlockSize {
			c.logger.Debug("read start byte out of range", "arg", arg)
			c.enqueueR1(sdspi.R1AddressError)
			break
		}
		c.head = int64(arg)
		c.bytesXfrd = 0
		c.crc16 = 0xFFFF
		c.multipleBlock = index == sdspi.CmdReadMultipleBlock
		c.afterSend = stateReadBlock
		c.send[0] = sdspi.R1Ok
		c.send[1] = sdspi.TokenStartBlock
		c.sendLen = 2
		c.state = stateResponse
	case sdspi.CmdWriteSingleBlock, sdspi.CmdWriteMultipleBlock:
		if int64(arg) > c.capacity-sdspi.BlockSize {
			c.logger.Debug("write start byte out of range", "arg", arg)
			c.enqueueR1(sdspi.R1AddressError)
			break
		}
		c.head = int64(arg)
		c.bytesXfrd = 0
		c.crc16 = 0xFFFF
		c.crcMismatch = false
		c.multipleBlock = index == sdspi.CmdWriteMultipleBlock
		c.afterSend = stateWriteStbt
		c.enqueueR1(sdspi.R1Ok)
	case sdspi.CmdAppCmd:
		c.afterSend = stateIdleAcmd
		c.enqueueR1(sdspi.R1Ok)
	case sdspi.CmdReadOCR:
		c.enqueueR3()
	default:
		c.logger.Debug("unknown or illegal command", "index", index)
		c.enqueueR1(sdspi.R1IllegalCommand)
	}
}

// enqueueR1 stages a one byte response
func (c *Card) enqueueR1(flags byte) {
	c.send[0] = flags
	c.sendLen = 1
	c.state = stateResponse
}

// enqueueR2 stages the two byte status response, no error bits here
func (c *Card) enqueueR2() {
	c.send[0] = 0x00
	c.send[1] = 0x00
	c.sendLen = 2
	c.state = stateResponse
}

// enqueueR3 stages an R1 byte followed by the OCR
func (c *Card) enqueueR3() {
	c.send[0] = sdspi.R1Ok
	binary.BigEndian.PutUint32(c.send[1:5], sdspi.OCR)
	c.sendLen = 5
	c.state = stateResponse
}

// enqueueCRC16 stages the checksum trailing a read block, high byte first
func (c *Card) enqueueCRC16() {
	c.send[0] = c.crc16.High()
	c.send[1] = c.crc16.Low()
	c.sendIdx = 0
	c.sendLen = 2
	c.afterSend = stateIdle
	c.state = stateResponse
}

package card

import (
	sdspi "github.com/samsamfire/gosdspi"
)

// Exchange is the SPI transfer entry point. The outgoing byte is computed
// from the current state before the incoming byte is consumed, per SPI full
// duplex semantics : a controller latches MISO before the edge that shifts
// MOSI. Transfers while deselected are ignored.
func (c *Card) Exchange(mosi byte) byte {
	if !c.csActive {
		return sdspi.IdleByte
	}
	miso := c.shiftOut()
	c.acceptByte(mosi)
	return miso
}

// shiftOut returns the next byte to appear on MISO
func (c *Card) shiftOut() byte {
	if c.hasPendingOut {
		c.hasPendingOut = false
		return c.pendingOut
	}
	switch c.state {
	case stateReadBlock:
		b := c.mass[c.head]
		c.crc16.Single(b)
		c.head++
		c.bytesXfrd++
		if c.bytesXfrd == sdspi.BlockSize {
			c.logger.Debug("block fully read and transmitted", "head", c.head)
			c.enqueueCRC16()
		}
		return b
	case stateWriteCRC:
		// the host is still clocking the checksum in, answer as if accepted
		return sdspi.TokenAccepted
	case stateResponse:
		b := c.send[c.sendIdx]
		c.sendIdx++
		if c.sendIdx == c.sendLen {
			c.state = c.afterSend
			c.afterSend = stateIdle
			c.sendIdx = 0
		}
		return b
	}
	return sdspi.IdleByte
}

// acceptByte mutates the card with a byte received over MOSI
func (c *Card) acceptByte(b byte) {
	switch c.state {
	case stateWriteStbt:
		if b == sdspi.TokenStartBlock {
			c.logger.Debug("received write start block token")
			c.state = stateWriteListen
		}
	case stateWriteListen:
		c.mass[c.head] = b
		c.head++
		c.crc16.Single(b)
		c.bytesXfrd++
		if c.bytesXfrd == sdspi.BlockSize {
			c.logger.Debug("entire block received, receiving crc")
			c.crc16First = true
			c.state = stateWriteCRC
		}
	case stateWriteCRC:
		expected := c.crc16.Low()
		if c.crc16First {
			expected = c.crc16.High()
		}
		if b != expected {
			c.crcMismatch = true
		}
		if c.crc16First {
			c.crc16First = false
			return
		}
		c.afterSend = stateIdle
		if c.crcMismatch && c.enforceCRC {
			c.enqueueR1(sdspi.TokenCRCError)
		} else {
			c.enqueueR1(sdspi.TokenAccepted)
		}
	case stateReadBlock:
		// inbound gap bytes while the block streams out
	case stateResponse:
		if b != sdspi.IdleByte {
			c.errorReset()
		}
	default:
		// command reception, the first non idle byte is byte 0 of the frame
		if b != sdspi.IdleByte || c.cmdIdx > 0 {
			c.cmd[c.cmdIdx] = b
			c.cmdIdx++
			if c.cmdIdx == sdspi.CommandLength {
				c.cmdIdx = 0
				c.dispatch()
			}
		}
	}
}

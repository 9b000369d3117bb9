package virtual

import (
	"testing"

	"github.com/stretchr/testify/assert"

	sdspi "github.com/samsamfire/gosdspi"
	"github.com/samsamfire/gosdspi/internal/crc"
	"github.com/samsamfire/gosdspi/pkg/card"
	"github.com/samsamfire/gosdspi/pkg/image"
)

func newBridge(t *testing.T) (*Server, *Client) {
	t.Helper()
	backend, err := image.NewBuffer(4 * sdspi.BlockSize)
	if err != nil {
		t.Fatal("failed to create backend", err)
	}
	c, err := card.New(backend)
	if err != nil {
		t.Fatal("failed to create card", err)
	}
	server := NewServer(c)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatal("failed to listen", err)
	}
	t.Cleanup(func() { server.Stop() })

	client := NewClient(server.Addr().String())
	if err := client.Connect(); err != nil {
		t.Fatal("failed to connect", err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return server, client
}

func remoteCommand(t *testing.T, client *Client, index byte, arg uint32) byte {
	t.Helper()
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
		if _, err := client.Exchange(b); err != nil {
			t.Fatal("exchange failed", err)
		}
	}
	for i := 0; i < 8; i++ {
		b, err := client.Exchange(sdspi.IdleByte)
		if err != nil {
			t.Fatal("exchange failed", err)
		}
		if b != sdspi.IdleByte {
			return b
		}
	}
	t.Fatal("no response within 8 gap bytes")
	return 0
}

func TestRemoteBootHandshake(t *testing.T) {
	_, client := newBridge(t)

	assert.Nil(t, client.SetCS(true))
	assert.Equal(t, sdspi.R1Idle, remoteCommand(t, client, sdspi.CmdGoIdleState, 0))
	assert.Equal(t, sdspi.R1Idle, remoteCommand(t, client, sdspi.CmdAppCmd, 0))
	assert.Equal(t, sdspi.R1Ok, remoteCommand(t, client, sdspi.AcmdSendOpCond, 0))
}

func TestRemoteChipSelectGates(t *testing.T) {
	_, client := newBridge(t)

	// deselected card never answers
	assert.Nil(t, client.SetCS(false))
	for i := 0; i < 10; i++ {
		b, err := client.Exchange(0x40)
		assert.Nil(t, err)
		assert.Equal(t, sdspi.IdleByte, b)
	}
	assert.Nil(t, client.SetCS(true))
	assert.Equal(t, sdspi.R1Idle, remoteCommand(t, client, sdspi.CmdGoIdleState, 0))
}

func TestClientNotConnected(t *testing.T) {
	client := NewClient("localhost:1")
	_, err := client.Exchange(sdspi.IdleByte)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFrameRoundTrip(t *testing.T) {
	raw, err := serializeFrame(frame{Op: opTransfer, Data: 0xA5})
	assert.Nil(t, err)
	decoded, err := deserializeFrame(raw[4:])
	assert.Nil(t, err)
	assert.Equal(t, opTransfer, decoded.Op)
	assert.EqualValues(t, 0xA5, decoded.Data)
}

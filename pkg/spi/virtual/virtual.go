// Package virtual exposes an SPI peripheral over TCP so that an external
// emulator process can drive it without linking the model. Every request
// carries either a chip select edge or a single MOSI byte and is answered
// in lock step, preserving the one byte in, one byte out cadence of the
// wire. Frames are length prefixed, big endian.
package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	sdspi "github.com/samsamfire/gosdspi"
)

const (
	opTransfer   uint8 = 0x01 // data is the MOSI byte, reply data is MISO
	opChipSelect uint8 = 0x02 // data 1 asserts, 0 deasserts, reply echoes
)

var ErrNotConnected = errors.New("no active connection")

type frame struct {
	Op   uint8
	Data uint8
}

// Helper function for serializing a frame into the expected binary format
func serializeFrame(f frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, f)
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	frameBytes = append(frameBytes, dataBytes...)
	return frameBytes, nil
}

// Helper function for deserializing a frame from expected binary format
func deserializeFrame(buffer []byte) (*frame, error) {
	var f frame
	buf := bytes.NewBuffer(buffer)
	err := binary.Read(buf, binary.BigEndian, &f)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func readFrame(conn net.Conn) (*frame, error) {
	headerBytes := make([]byte, 4)
	n, err := conn.Read(headerBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n < 4 || err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v, err : %v", 4, n, err)
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	n, err = conn.Read(frameBytes)
	if n != int(length) || err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v", length, n)
	}
	return deserializeFrame(frameBytes)
}

// A Server owns a peripheral and answers one remote host at a time.
// The peripheral is only ever touched from the serving goroutine, so the
// single threaded contract of the model holds.
type Server struct {
	logger     *slog.Logger
	mu         sync.Mutex
	peripheral sdspi.Peripheral
	listener   net.Listener
	stopChan   chan bool
	wg         sync.WaitGroup
	isRunning  bool
}

func NewServer(peripheral sdspi.Peripheral) *Server {
	return &Server{
		logger:     slog.Default(),
		peripheral: peripheral,
		stopChan:   make(chan bool),
	}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Listen binds the given address and starts serving, e.g. localhost:18888
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.isRunning = true
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, useful with a ":0" listen address
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for the serving goroutine
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	close(s.stopChan)
	err := s.listener.Close()
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				s.logger.Error("accept failed", "err", err)
				return
			}
		}
		s.logger.Debug("host connected", "remote", conn.RemoteAddr())
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		request, err := readFrame(conn)
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		} else if err != nil {
			s.logger.Debug("host disconnected", "err", err)
			return
		}
		reply := frame{Op: request.Op}
		switch request.Op {
		case opTransfer:
			reply.Data = s.peripheral.Exchange(request.Data)
		case opChipSelect:
			s.peripheral.SetCS(request.Data != 0)
			reply.Data = request.Data
		default:
			s.logger.Warn("unknown request", "op", request.Op)
			continue
		}
		replyBytes, err := serializeFrame(reply)
		if err != nil {
			s.logger.Error("serialize failed", "err", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if _, err := conn.Write(replyBytes); err != nil {
			s.logger.Debug("host disconnected", "err", err)
			return
		}
	}
}

// A Client drives a remote peripheral from the host side of the bus
type Client struct {
	logger  *slog.Logger
	mu      sync.Mutex
	channel string
	conn    net.Conn
}

func NewClient(channel string) *Client {
	return &Client{logger: slog.Default(), channel: channel}
}

func (c *Client) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// Connect to a server, e.g. localhost:18888
func (c *Client) Connect() error {
	conn, err := net.Dial("tcp", c.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	c.conn = conn
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) request(req frame) (*frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	reqBytes, err := serializeFrame(req)
	if err != nil {
		return nil, err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := c.conn.Write(reqBytes); err != nil {
		return nil, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Second))
	return readFrame(c.conn)
}

// Exchange performs one full duplex transfer on the remote peripheral
func (c *Client) Exchange(mosi byte) (byte, error) {
	reply, err := c.request(frame{Op: opTransfer, Data: mosi})
	if err != nil {
		return sdspi.IdleByte, err
	}
	return reply.Data, nil
}

// SetCS drives the remote chip select line, true means asserted
func (c *Client) SetCS(asserted bool) error {
	data := uint8(0)
	if asserted {
		data = 1
	}
	_, err := c.request(frame{Op: opChipSelect, Data: data})
	return err
}

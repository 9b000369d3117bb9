package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	sdspi "github.com/samsamfire/gosdspi"
	"github.com/samsamfire/gosdspi/pkg/card"
	"github.com/samsamfire/gosdspi/pkg/config"
	"github.com/samsamfire/gosdspi/pkg/spi/virtual"
)

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	imagePath := flag.String("i", "", "image file path, overrides the config file")
	configPath := flag.String("c", "", "harness config file (ini)")
	debug := flag.Bool("d", false, "debug logging")
	serveAddr := flag.String("serve", "", "expose the card over tcp, e.g. localhost:18888")
	interactive := flag.Bool("t", false, "interactive console")
	exercise := flag.Int64("x", -1, "write/read round trip on the given block number")
	flag.Parse()

	cfg := &config.Config{LogLevel: config.DefaultLogLevel}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Printf("could not load configuration : %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *imagePath != "" {
		cfg.Image = *imagePath
	}
	if cfg.Image == "" {
		fmt.Println("no image given, use -i or a config file")
		flag.Usage()
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
		log.SetLevel(log.DebugLevel)
	}

	c, err := card.NewFromFile(cfg.Image)
	if err != nil {
		fmt.Printf("could not mount image %v : %v\n", cfg.Image, err)
		os.Exit(1)
	}
	defer c.Close()
	c.SetLogger(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: slogLevel(cfg.LogLevel)})))
	c.SetCRCEnforcement(cfg.EnforceCRC)
	log.Infof("mounted %v (%v bytes)", cfg.Image, c.Capacity())

	switch {
	case *serveAddr != "":
		serve(c, *serveAddr)
	case *interactive:
		console(c)
	default:
		run(c, *exercise)
	}
}

// serve exposes the card to an external emulator over tcp until interrupted
func serve(c *card.Card, addr string) {
	server := virtual.NewServer(c)
	if err := server.Listen(addr); err != nil {
		log.Errorf("could not listen on %v : %v", addr, err)
		os.Exit(1)
	}
	log.Infof("serving card on %v", server.Addr())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("stopping")
	if err := server.Stop(); err != nil {
		log.Warnf("stop : %v", err)
	}
}

// run boots the card and exercises it once
func run(c *card.Card, block int64) {
	h := &host{card: c}
	if err := h.boot(); err != nil {
		log.Errorf("boot handshake failed : %v", err)
		os.Exit(1)
	}
	log.Info("boot handshake complete")

	ocr, err := h.readOCR()
	if err != nil {
		log.Errorf("read OCR failed : %v", err)
		os.Exit(1)
	}
	log.Infof("OCR 0x%08X", ocr)

	if block < 0 {
		buf := make([]byte, sdspi.BlockSize)
		if err := h.readBlock(0, buf); err != nil {
			log.Errorf("read block 0 failed : %v", err)
			os.Exit(1)
		}
		dump(buf[:64])
		return
	}

	addr := uint32(block * sdspi.BlockSize)
	out := make([]byte, sdspi.BlockSize)
	for i := range out {
		out[i] = byte(i)
	}
	if err := h.writeBlock(addr, out); err != nil {
		log.Errorf("write block %v failed : %v", block, err)
		os.Exit(1)
	}
	in := make([]byte, sdspi.BlockSize)
	if err := h.readBlock(addr, in); err != nil {
		log.Errorf("read block %v failed : %v", block, err)
		os.Exit(1)
	}
	for i := range out {
		if in[i] != out[i] {
			log.Errorf("round trip mismatch at byte %v : got 0x%02X, want 0x%02X", i, in[i], out[i])
			os.Exit(1)
		}
	}
	log.Infof("block %v round trip ok", block)
}

// console runs a single key interactive session against the card
func console(c *card.Card) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		log.Error("interactive mode needs a terminal")
		os.Exit(1)
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		log.Errorf("could not enter raw mode : %v", err)
		os.Exit(1)
	}
	defer term.Restore(fd, state)

	h := &host{card: c}
	fmt.Print("b boot, o ocr, r read block 0, w write pattern to block 0, q quit\r\n")
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		switch buf[0] {
		case 'b':
			if err := h.boot(); err != nil {
				fmt.Printf("boot : %v\r\n", err)
			} else {
				fmt.Print("boot ok\r\n")
			}
		case 'o':
			ocr, err := h.readOCR()
			if err != nil {
				fmt.Printf("ocr : %v\r\n", err)
			} else {
				fmt.Printf("OCR 0x%08X\r\n", ocr)
			}
		case 'r':
			block := make([]byte, sdspi.BlockSize)
			if err := h.readBlock(0, block); err != nil {
				fmt.Printf("read : %v\r\n", err)
			} else {
				dump(block[:64])
			}
		case 'w':
			block := make([]byte, sdspi.BlockSize)
			for i := range block {
				block[i] = byte(i)
			}
			if err := h.writeBlock(0, block); err != nil {
				fmt.Printf("write : %v\r\n", err)
			} else {
				fmt.Print("write ok\r\n")
			}
		case 'q', 0x03:
			return
		}
	}
}

// dump prints a short hex dump, 16 bytes per row
func dump(data []byte) {
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("%04X :", i)
		for _, b := range data[i:end] {
			fmt.Printf(" %02X", b)
		}
		fmt.Print("\r\n")
	}
}

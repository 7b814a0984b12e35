package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/mzyy94/glasscap/internal/chunk"
)

// Port is the minimal serial port surface used by SerialTransport.
type Port interface {
	io.ReadWriter
	io.Closer
}

// PortOptions describes the serial link to a USB BLE bridge dongle.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" toml:"baud_rate"`
	DataBits int    `json:"data_bits" toml:"data_bits"`
	StopBits int    `json:"stop_bits" toml:"stop_bits"`
	Parity   string `json:"parity" toml:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialTransport reads length-prefixed notification records from a bridge
// dongle: [lenLo, lenHi, notification bytes...]. Commands are written as
// records of length 1.
type SerialTransport struct {
	port Port
	name string
	q    *queue
	done chan struct{}

	wmu    sync.Mutex
	closed bool
}

// OpenSerial opens the serial device at path and starts the read loop.
func OpenSerial(path string, opts PortOptions, queueSize int) (*SerialTransport, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	slog.Info("serial transport opened", "path", path, "baud", mode.BaudRate)
	return NewSerialTransport(port, path, queueSize), nil
}

// NewSerialTransport wraps an already open port and starts the read loop.
func NewSerialTransport(port Port, name string, queueSize int) *SerialTransport {
	t := &SerialTransport{
		port: port,
		name: name,
		q:    newQueue(queueSize),
		done: make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *SerialTransport) loop() {
	defer close(t.done)
	defer close(t.q.ch)

	r := bufio.NewReaderSize(t.port, 4096)
	var hdr [2]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			t.readEnded(err)
			return
		}
		n := int(binary.LittleEndian.Uint16(hdr[:]))
		if n > chunk.MaxNotificationLen {
			// Framing lost; drop what is buffered and try to resync.
			slog.Warn("serial record too long, resyncing", "len", n, "discarded", r.Buffered())
			r.Discard(r.Buffered())
			continue
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(r, raw); err != nil {
			t.readEnded(err)
			return
		}
		t.q.deliver(raw)
	}
}

func (t *SerialTransport) readEnded(err error) {
	t.wmu.Lock()
	closed := t.closed
	t.wmu.Unlock()
	if closed || errors.Is(err, io.EOF) {
		slog.Debug("serial read loop stopped", "port", t.name, "err", err)
		return
	}
	slog.Error("serial read failed", "port", t.name, "err", err)
}

// Notifications implements Transport.
func (t *SerialTransport) Notifications() <-chan []byte { return t.q.ch }

// Send writes a one-byte command record.
func (t *SerialTransport) Send(_ context.Context, cmd byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, err := t.port.Write([]byte{0x01, 0x00, cmd}); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	slog.Debug("command sent", "cmd", chunk.DescribeCommand(cmd), "port", t.name)
	return nil
}

// Stats returns receive counters.
func (t *SerialTransport) Stats() Stats { return t.q.stats() }

// Close closes the port and waits for the read loop to exit.
func (t *SerialTransport) Close() error {
	t.wmu.Lock()
	if t.closed {
		t.wmu.Unlock()
		return nil
	}
	t.closed = true
	t.wmu.Unlock()

	err := t.port.Close()
	<-t.done
	return err
}

func (t *SerialTransport) String() string { return "serial:" + t.name }

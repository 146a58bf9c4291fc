package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"
)

var ErrPortClosed = errors.New("serial port closed")

// SerialConfig describes the radio modem's serial port.
type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// SerialDevice is a serial port that reopens itself after I/O errors.
// Reads and writes may run concurrently; the lock only guards the handle.
type SerialDevice struct {
	cfg SerialConfig
	log *slog.Logger

	mu     sync.Mutex
	port   *serial.Port
	closed bool
}

func NewSerialDevice(cfg SerialConfig, log *slog.Logger) *SerialDevice {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	return &SerialDevice{cfg: cfg, log: log}
}

func (d *SerialDevice) handle() (*serial.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrPortClosed
	}
	if d.port != nil {
		return d.port, nil
	}

	c := &serial.Config{Name: d.cfg.Port, Baud: d.cfg.Baud, ReadTimeout: d.cfg.ReadTimeout}
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.cfg.Port, err)
	}
	d.log.Info("serial port opened", "port", d.cfg.Port, "baud", d.cfg.Baud)
	d.port = p
	return p, nil
}

// drop closes p if it is still the active handle so the next call reopens.
func (d *SerialDevice) drop(p *serial.Port) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == p {
		_ = d.port.Close()
		d.port = nil
	}
}

// Read returns whatever the port has buffered. A read timeout yields 0, nil.
func (d *SerialDevice) Read(buf []byte) (int, error) {
	p, err := d.handle()
	if err != nil {
		return 0, err
	}
	n, err := p.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		d.drop(p)
		return n, fmt.Errorf("failed to read from serial port: %w", err)
	}
	return n, nil
}

func (d *SerialDevice) Write(buf []byte) (int, error) {
	p, err := d.handle()
	if err != nil {
		return 0, err
	}
	n, err := p.Write(buf)
	if err != nil {
		d.drop(p)
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}
	return n, nil
}

func (d *SerialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

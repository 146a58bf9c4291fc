package link

import (
	"io"
	"log/slog"
	"sync"
)

// SendResult is the outcome of a best-effort transmit.
type SendResult int

const (
	NotSent SendResult = iota
	Sent
)

func (r SendResult) String() string {
	if r == Sent {
		return "sent"
	}
	return "not_sent"
}

// Transmitter writes outbound lines to the radio. Failures are logged and
// reported as NotSent; they never reach the caller as errors.
type Transmitter struct {
	mu  sync.Mutex
	w   io.Writer
	log *slog.Logger
}

func NewTransmitter(w io.Writer, log *slog.Logger) *Transmitter {
	if log == nil {
		log = slog.Default()
	}
	return &Transmitter{w: w, log: log}
}

// Send writes frame followed by a newline.
func (t *Transmitter) Send(frame string) (res SendResult) {
	if t == nil || t.w == nil {
		return NotSent
	}

	defer func() {
		if rec := recover(); rec != nil {
			t.log.Error("transmit panicked", "panic", rec)
			res = NotSent
		}
	}()

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')

	t.mu.Lock()
	n, err := t.w.Write(buf)
	t.mu.Unlock()

	if err != nil {
		t.log.Warn("transmit failed", "err", err)
		return NotSent
	}
	if n != len(buf) {
		t.log.Warn("short transmit", "written", n, "want", len(buf))
		return NotSent
	}
	return Sent
}

package link

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"flightlink/internal/cache"
	"flightlink/internal/protocol"
)

// CommandFunc handles a command token. It runs on its own goroutine.
type CommandFunc func(token string) error

// Router applies messages to the auxiliary cache and hands commands off.
type Router struct {
	aux       *cache.Aux
	onCommand CommandFunc
	log       *slog.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

type RouterOption func(*Router)

// WithClock replaces the time source used to stamp cache entries.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRouter(aux *cache.Aux, onCommand CommandFunc, log *slog.Logger, opts ...RouterOption) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		aux:       aux,
		onCommand: onCommand,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route dispatches one message. It never blocks on command handling.
func (r *Router) Route(msg Message) {
	switch m := msg.(type) {
	case TextLine:
		r.routeText(m.Text)
	case CommandToken:
		r.dispatchCommand(m.Token)
	case StationReading:
		src, ok := cache.StationSource(int(m.StationID))
		if !ok {
			r.log.Debug("station reading from unknown id", "id", m.StationID)
			return
		}
		r.aux.Update(src, float64(m.Temperature), r.now())
		r.log.Debug("station reading", "id", m.StationID, "temperature", m.Temperature, "seq", m.Sequence)
	case BinaryFrame:
		r.routeFrame(m)
	case Unrecognized:
		r.log.Debug("dropping unrecognized line", "line", m.Raw)
	default:
		r.log.Debug("dropping message", "kind", fmt.Sprintf("%T", msg))
	}
}

// Wait blocks until every in-flight command handler has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

// WaitTimeout is Wait bounded by d. It reports whether every handler
// returned in time.
func (r *Router) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (r *Router) routeText(line string) {
	reading, err := protocol.ParseText(line)
	if err != nil {
		r.log.Debug("discarding malformed text line", "line", line, "err", err)
		return
	}

	switch reading.Kind {
	case protocol.TextCarrierPressure:
		if reading.Value <= 0 {
			r.log.Debug("ignoring non-positive carrier pressure", "value", reading.Value)
			return
		}
		r.aux.Update(cache.CarrierPressure, reading.Value, r.now())
	case protocol.TextStationTemperature:
		src, _ := cache.StationSource(reading.StationID)
		r.aux.Update(src, reading.Value, r.now())
	}
}

func (r *Router) routeFrame(f BinaryFrame) {
	frame := protocol.Frame{Type: f.FrameType, Payload: f.Payload}
	data, ok := frame.ReceivedData()
	if !ok {
		r.log.Debug("frame acknowledged", "type", fmt.Sprintf("0x%02X", f.FrameType), "len", len(f.Payload))
		return
	}

	text := strings.ToValidUTF8(string(data), "")
	for _, raw := range strings.Split(text, "\n") {
		line := protocol.Clean([]byte(raw))
		if line == "" {
			continue
		}
		r.Route(classifyLine(line))
	}
}

func (r *Router) dispatchCommand(token string) {
	if r.onCommand == nil {
		r.log.Debug("no command handler, dropping", "command", token)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("command handler panicked", "command", token, "panic", rec)
			}
		}()
		if err := r.onCommand(token); err != nil {
			r.log.Warn("command failed", "command", token, "err", err)
		}
	}()
}

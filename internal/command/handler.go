package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"flightlink/internal/link"
)

const (
	ManualSeparation      = "!MANUAL_SEPARATION!"
	ShortManualSeparation = "!xT!"

	// ReleaseCommand is sent to the carrier to open the release mechanism.
	ReleaseCommand = "SEPARATE"
)

// FilterColors are the valid filter letters of a multispectral command.
const FilterColors = "RGBCPYMFN"

// Filter is a parsed multispectral command such as !6R7G!: hold the first
// colour for 6 s, then the second for 7 s.
type Filter struct {
	FirstSeconds  int
	FirstColor    byte
	SecondSeconds int
	SecondColor   byte
}

// Code is the four character form echoed in telemetry.
func (f Filter) Code() string {
	return fmt.Sprintf("%d%c%d%c", f.FirstSeconds, f.FirstColor, f.SecondSeconds, f.SecondColor)
}

func (f Filter) Duration() time.Duration {
	return time.Duration(f.FirstSeconds+f.SecondSeconds) * time.Second
}

// ParseFilter parses a !dLdL! token.
func ParseFilter(token string) (Filter, error) {
	if len(token) != 6 || token[0] != '!' || token[5] != '!' {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, token)
	}
	body := token[1:5]
	if !isDigit(body[0]) || !isDigit(body[2]) || !isColor(body[1]) || !isColor(body[3]) {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, token)
	}
	return Filter{
		FirstSeconds:  int(body[0] - '0'),
		FirstColor:    body[1],
		SecondSeconds: int(body[2] - '0'),
		SecondColor:   body[3],
	}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isColor(c byte) bool { return strings.IndexByte(FilterColors, c) >= 0 }

// Handler executes ground station commands received over the link.
type Handler struct {
	flight   Flight
	tx       Sender
	actuator Actuator
	timeout  time.Duration
	log      *slog.Logger
}

// NewHandler wires a handler. tx and actuator may be nil.
func NewHandler(flight Flight, tx Sender, actuator Actuator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		flight:   flight,
		tx:       tx,
		actuator: actuator,
		timeout:  30 * time.Second,
		log:      log,
	}
}

// Handle runs one command token. Its signature matches link.CommandFunc.
func (h *Handler) Handle(token string) error {
	switch token {
	case ManualSeparation, ShortManualSeparation:
		return h.separate(token)
	}
	if f, err := ParseFilter(token); err == nil {
		return h.filter(f)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, token)
}

func (h *Handler) separate(token string) error {
	h.log.Warn("manual separation commanded", "command", token)
	h.flight.ConfirmSeparation()
	if h.tx == nil {
		return fmt.Errorf("no transmitter for %s", ReleaseCommand)
	}
	if res := h.tx.Send(ReleaseCommand); res != link.Sent {
		return fmt.Errorf("release command %s", res)
	}
	return nil
}

func (h *Handler) filter(f Filter) error {
	h.log.Info("filter command", "code", f.Code(), "duration", f.Duration())
	h.flight.SetCommandEcho(f.Code())
	if h.actuator == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.actuator.ApplyFilter(ctx, f); err != nil {
		h.flight.ReportActuatorFault()
		return fmt.Errorf("apply filter %s: %w", f.Code(), err)
	}
	return nil
}

package command

import (
	"context"
	"errors"

	"flightlink/internal/link"
)

// Flight is the part of the telemetry builder commands act on.
type Flight interface {
	ConfirmSeparation()
	SetCommandEcho(cmd string)
	ReportActuatorFault()
}

// Sender forwards a line over the radio link.
type Sender interface {
	Send(frame string) link.SendResult
}

// Actuator drives the filter wheels for a multispectral command.
type Actuator interface {
	ApplyFilter(ctx context.Context, f Filter) error
}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidFilter  = errors.New("invalid filter command")
)

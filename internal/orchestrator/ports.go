package orchestrator

import (
	"context"

	"flightlink/internal/link"
	"flightlink/internal/telemetry"
)

// Sampler reads the onboard sensors.
type Sampler interface {
	Sample(ctx context.Context) (telemetry.Snapshot, error)
	// QuickSample is the fallback when Sample is slow or fails. It must not
	// block.
	QuickSample() telemetry.Snapshot
}

type PacketBuilder interface {
	Build(s telemetry.Snapshot) telemetry.Packet
}

// Sink is the primary persistent store.
type Sink interface {
	Write(p telemetry.Packet) error
}

// EmergencyWriter stores a packet outside the queue.
type EmergencyWriter interface {
	WriteEmergency(p telemetry.Packet) (string, error)
}

type Sender interface {
	Send(frame string) link.SendResult
}

// Mirror is a best-effort secondary store.
type Mirror interface {
	Mirror(ctx context.Context, p telemetry.Packet) error
}

// Publisher receives every produced packet for live display.
type Publisher interface {
	Publish(p telemetry.Packet)
}

// Loop is a long running task that returns when ctx is done.
type Loop func(ctx context.Context) error

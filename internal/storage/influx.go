package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"flightlink/internal/telemetry"
)

// Measurement is the InfluxDB measurement packets are written to.
const Measurement = "telemetry"

type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// InfluxMirror copies persisted packets to InfluxDB. It is a secondary sink:
// failures are returned to the caller for logging and never retried.
type InfluxMirror struct {
	client  influxdb2.Client
	write   api.WriteAPIBlocking
	timeout time.Duration
	log     *slog.Logger
}

func NewInfluxMirror(cfg InfluxConfig, log *slog.Logger) *InfluxMirror {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxMirror{
		client:  client,
		write:   client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		timeout: cfg.Timeout,
		log:     log,
	}
}

// Mirror writes one packet as a point.
func (m *InfluxMirror) Mirror(ctx context.Context, p telemetry.Packet) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.write.WritePoint(ctx, PacketPoint(p)); err != nil {
		return fmt.Errorf("error writing point to InfluxDB: %w", err)
	}
	m.log.Debug("packet mirrored", "seq", p.Sequence)
	return nil
}

func (m *InfluxMirror) Close() {
	m.client.Close()
}

// PacketPoint converts a packet into a point tagged by team and phase.
func PacketPoint(p telemetry.Packet) *write.Point {
	team := p.TeamID
	if team == "" {
		team = telemetry.DefaultTeamID
	}
	return influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"team":  team,
			"phase": p.Phase.String(),
		},
		map[string]interface{}{
			"packet_number":  p.Sequence,
			"fault_code":     p.Fault.String(),
			"pressure1":      p.Pressure1,
			"pressure2":      p.Pressure2,
			"altitude1":      p.Altitude1,
			"altitude2":      p.Altitude2,
			"altitude_delta": p.AltitudeDelta,
			"descent_rate":   p.DescentRate,
			"temperature":    p.Temperature,
			"battery":        p.Battery,
			"gps_latitude":   p.GPSLatitude,
			"gps_longitude":  p.GPSLongitude,
			"gps_altitude":   p.GPSAltitude,
			"pitch":          p.Pitch,
			"roll":           p.Roll,
			"yaw":            p.Yaw,
			"station1_temp":  p.Station1Temp,
			"station2_temp":  p.Station2Temp,
			"command_echo":   p.CommandEcho,
			"emergency":      p.Emergency,
		},
		p.Time,
	)
}

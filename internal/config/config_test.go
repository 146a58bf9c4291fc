package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flightlink/internal/config"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
	if cfg.Telemetry.Period() != time.Second || cfg.Telemetry.SampleTimeout() != 500*time.Millisecond {
		t.Fatalf("period %v timeout %v", cfg.Telemetry.Period(), cfg.Telemetry.SampleTimeout())
	}
	if cfg.Shutdown.JoinTimeout() != 5*time.Second {
		t.Fatalf("join timeout %v", cfg.Shutdown.JoinTimeout())
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
serial:
  port: /dev/ttyUSB0
  baud_rate: 115200
log:
  level: debug
telemetry:
  team_id: "123456"
  period_ms: 2000
influx:
  enabled: true
  org: team
  bucket: flight
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyUSB0" || cfg.Serial.BaudRate != 115200 {
		t.Fatalf("serial = %+v", cfg.Serial)
	}
	if cfg.Telemetry.TeamID != "123456" || cfg.Telemetry.Period() != 2*time.Second {
		t.Fatalf("telemetry = %+v", cfg.Telemetry)
	}
	// Untouched keys keep their defaults.
	if cfg.Telemetry.SampleTimeoutMs != 500 || cfg.Storage.Dir != "data" || cfg.Influx.URL == "" {
		t.Fatalf("defaults lost: %+v %+v", cfg.Telemetry, cfg.Storage)
	}
	if lvl, ok := config.ParseLevel(cfg.Log.Level); !ok || lvl != slog.LevelDebug {
		t.Fatalf("level %q", cfg.Log.Level)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[serial]
port = "/dev/ttyAMA0"
baud_rate = 9600

[flight]
separation_altitude = 450.0
separation_timeout_sec = 8

[monitor]
enabled = true
addr = ":9000"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyAMA0" || cfg.Serial.BaudRate != 9600 {
		t.Fatalf("serial = %+v", cfg.Serial)
	}
	b := cfg.Builder()
	if b.Flight.SeparationAltitude != 450 || b.Flight.SeparationTimeout != 8*time.Second {
		t.Fatalf("flight = %+v", b.Flight)
	}
	if b.Flight.DescentMinAltitude != 50 || b.Faults.CarrierStale != 15*time.Second {
		t.Fatalf("builder defaults lost: %+v", b)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.Addr != ":9000" {
		t.Fatalf("monitor = %+v", cfg.Monitor)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", "serial:\n  port: /dev/ttyUSB0\n")
	t.Setenv(config.EnvSerialPort, "/dev/ttyS9")
	t.Setenv(config.EnvLogLevel, "warn")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Serial.Port != "/dev/ttyS9" || cfg.Log.Level != "warn" {
		t.Fatalf("env not applied: %+v %+v", cfg.Serial, cfg.Log)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"timeout not below period", "telemetry:\n  period_ms: 400\n", "sample_timeout_ms"},
		{"team id with comma", "telemetry:\n  team_id: \"1,2\"\n", "team_id"},
		{"empty rate range", "faults:\n  payload_rate_min: 9\n", "payload rate"},
		{"influx without bucket", "influx:\n  enabled: true\n  org: x\n", "influx"},
		{"not yaml", "serial: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "config.yaml", tt.body))
			if !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		" Warn ":  slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got, _ := config.ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"flightlink/internal/telemetry"
)

// Environment overrides.
const (
	EnvSerialPort = "FLIGHTLINK_SERIAL_PORT"
	EnvLogLevel   = "FLIGHTLINK_LOG_LEVEL"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Serial    SerialConfig    `yaml:"serial" toml:"serial"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Flight    FlightConfig    `yaml:"flight" toml:"flight"`
	Faults    FaultsConfig    `yaml:"faults" toml:"faults"`
	Influx    InfluxConfig    `yaml:"influx" toml:"influx"`
	Monitor   MonitorConfig   `yaml:"monitor" toml:"monitor"`
	Shutdown  ShutdownConfig  `yaml:"shutdown" toml:"shutdown"`
}

// SerialConfig is the radio link. An empty port runs without a radio.
type SerialConfig struct {
	Port          string `yaml:"port" toml:"port"`
	BaudRate      int    `yaml:"baud_rate" toml:"baud_rate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
	TextBuffer    int    `yaml:"text_buffer" toml:"text_buffer"`
	BinaryBuffer  int    `yaml:"binary_buffer" toml:"binary_buffer"`
}

type LogConfig struct {
	Level     string `yaml:"level" toml:"level"`
	File      string `yaml:"file" toml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb"`
}

type StorageConfig struct {
	Dir         string `yaml:"dir" toml:"dir"`
	MaxFileMB   int    `yaml:"max_file_mb" toml:"max_file_mb"`
	CounterFile string `yaml:"counter_file" toml:"counter_file"`
	QueueSize   int    `yaml:"queue_size" toml:"queue_size"`
}

type TelemetryConfig struct {
	TeamID           string  `yaml:"team_id" toml:"team_id"`
	PeriodMs         int     `yaml:"period_ms" toml:"period_ms"`
	SampleTimeoutMs  int     `yaml:"sample_timeout_ms" toml:"sample_timeout_ms"`
	SeaLevelPressure float64 `yaml:"sea_level_hpa" toml:"sea_level_hpa"`
}

type FlightConfig struct {
	SeparationAltitude  float64 `yaml:"separation_altitude" toml:"separation_altitude"`
	SeparationTolerance float64 `yaml:"separation_tolerance" toml:"separation_tolerance"`
	SeparationTimeout   int     `yaml:"separation_timeout_sec" toml:"separation_timeout_sec"`
	SeparationDelta     float64 `yaml:"separation_delta" toml:"separation_delta"`
	RecoveryAltitude    float64 `yaml:"recovery_altitude" toml:"recovery_altitude"`
}

type FaultsConfig struct {
	VehicleRateMin   float64 `yaml:"vehicle_rate_min" toml:"vehicle_rate_min"`
	VehicleRateMax   float64 `yaml:"vehicle_rate_max" toml:"vehicle_rate_max"`
	PayloadRateMin   float64 `yaml:"payload_rate_min" toml:"payload_rate_min"`
	PayloadRateMax   float64 `yaml:"payload_rate_max" toml:"payload_rate_max"`
	CarrierStaleSec  int     `yaml:"carrier_stale_sec" toml:"carrier_stale_sec"`
	PositionStaleSec int     `yaml:"position_stale_sec" toml:"position_stale_sec"`
}

type InfluxConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	URL       string `yaml:"url" toml:"url"`
	Token     string `yaml:"token" toml:"token"`
	Org       string `yaml:"org" toml:"org"`
	Bucket    string `yaml:"bucket" toml:"bucket"`
	TimeoutMs int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	SendBuf int    `yaml:"send_buf" toml:"send_buf"`
}

type ShutdownConfig struct {
	JoinTimeoutSec int `yaml:"join_timeout_sec" toml:"join_timeout_sec"`
}

var logLevels = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

// ParseLevel maps a level name to a slog level. Unknown names give INFO
// and ok=false.
func ParseLevel(level string) (slog.Level, bool) {
	l, ok := logLevels[strings.ToUpper(strings.TrimSpace(level))]
	if !ok {
		return slog.LevelInfo, false
	}
	return l, true
}

func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:      57600,
			ReadTimeoutMs: 100,
			TextBuffer:    4096,
			BinaryBuffer:  8192,
		},
		Log: LogConfig{
			Level:     "INFO",
			MaxSizeMB: 20,
		},
		Storage: StorageConfig{
			Dir:         "data",
			MaxFileMB:   10,
			CounterFile: "data/packet_counter.json",
			QueueSize:   64,
		},
		Telemetry: TelemetryConfig{
			TeamID:           "286570",
			PeriodMs:         1000,
			SampleTimeoutMs:  500,
			SeaLevelPressure: 1013.25,
		},
		Flight: FlightConfig{
			SeparationAltitude:  400,
			SeparationTolerance: 10,
			SeparationTimeout:   5,
			SeparationDelta:     10,
			RecoveryAltitude:    10,
		},
		Faults: FaultsConfig{
			VehicleRateMin:   12,
			VehicleRateMax:   14,
			PayloadRateMin:   6,
			PayloadRateMax:   8,
			CarrierStaleSec:  15,
			PositionStaleSec: 30,
		},
		Influx: InfluxConfig{
			URL:       "http://localhost:8086",
			TimeoutMs: 2000,
		},
		Monitor: MonitorConfig{
			Addr:    "127.0.0.1:8765",
			SendBuf: 32,
		},
		Shutdown: ShutdownConfig{
			JoinTimeoutSec: 5,
		},
	}
}

// Load builds the configuration from defaults, the file at path (YAML, or
// TOML for a .toml extension) and environment overrides, then validates it.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv(EnvSerialPort); port != "" {
		cfg.Serial.Port = port
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Log.Level = level
	}
}

// Validate reports every problem it finds, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Serial.Port == "" || c.Serial.BaudRate > 0, "serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	check(c.Serial.ReadTimeoutMs >= 0, "serial.read_timeout_ms must not be negative")
	check(c.Serial.TextBuffer > 0 && c.Serial.BinaryBuffer > 0, "serial buffers must be positive")
	if _, ok := ParseLevel(c.Log.Level); !ok {
		problems = append(problems, fmt.Sprintf("log.level %q is not one of DEBUG, INFO, WARN, ERROR", c.Log.Level))
	}
	check(c.Storage.Dir != "", "storage.dir is required")
	check(c.Storage.MaxFileMB > 0, "storage.max_file_mb must be positive")
	check(c.Storage.QueueSize > 0, "storage.queue_size must be positive")
	check(c.Telemetry.TeamID != "" && !strings.ContainsAny(c.Telemetry.TeamID, ",*$\n"), "telemetry.team_id %q is not usable in a record", c.Telemetry.TeamID)
	check(c.Telemetry.PeriodMs > 0, "telemetry.period_ms must be positive")
	check(c.Telemetry.SampleTimeoutMs > 0 && c.Telemetry.SampleTimeoutMs < c.Telemetry.PeriodMs,
		"telemetry.sample_timeout_ms must be positive and shorter than the period")
	check(c.Telemetry.SeaLevelPressure > 0, "telemetry.sea_level_hpa must be positive")
	check(c.Flight.SeparationAltitude > 0 && c.Flight.SeparationTolerance > 0, "flight separation window must be positive")
	check(c.Flight.SeparationTimeout > 0, "flight.separation_timeout_sec must be positive")
	check(c.Faults.VehicleRateMin < c.Faults.VehicleRateMax, "faults vehicle rate range is empty")
	check(c.Faults.PayloadRateMin < c.Faults.PayloadRateMax, "faults payload rate range is empty")
	check(c.Faults.CarrierStaleSec > 0 && c.Faults.PositionStaleSec > 0, "fault staleness windows must be positive")
	if c.Influx.Enabled {
		check(c.Influx.URL != "" && c.Influx.Org != "" && c.Influx.Bucket != "", "influx url, org and bucket are required when enabled")
	}
	if c.Monitor.Enabled {
		check(c.Monitor.Addr != "", "monitor.addr is required when enabled")
	}
	check(c.Shutdown.JoinTimeoutSec > 0, "shutdown.join_timeout_sec must be positive")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (c SerialConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func (c TelemetryConfig) Period() time.Duration {
	return time.Duration(c.PeriodMs) * time.Millisecond
}

func (c TelemetryConfig) SampleTimeout() time.Duration {
	return time.Duration(c.SampleTimeoutMs) * time.Millisecond
}

func (c InfluxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c ShutdownConfig) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutSec) * time.Second
}

// Builder converts the telemetry, flight and fault sections into the
// packet builder's configuration.
func (c *Config) Builder() telemetry.Config {
	flight := telemetry.DefaultFlightConfig()
	flight.SeparationAltitude = c.Flight.SeparationAltitude
	flight.SeparationTolerance = c.Flight.SeparationTolerance
	flight.SeparationTimeout = time.Duration(c.Flight.SeparationTimeout) * time.Second
	flight.SeparationDelta = c.Flight.SeparationDelta
	flight.RecoveryAltitude = c.Flight.RecoveryAltitude

	return telemetry.Config{
		TeamID:           c.Telemetry.TeamID,
		SeaLevelPressure: c.Telemetry.SeaLevelPressure,
		Flight:           flight,
		Faults: telemetry.FaultConfig{
			VehicleRateMin: c.Faults.VehicleRateMin,
			VehicleRateMax: c.Faults.VehicleRateMax,
			PayloadRateMin: c.Faults.PayloadRateMin,
			PayloadRateMax: c.Faults.PayloadRateMax,
			CarrierStale:   time.Duration(c.Faults.CarrierStaleSec) * time.Second,
			PositionStale:  time.Duration(c.Faults.PositionStaleSec) * time.Second,
		},
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flightlink/internal/cache"
	"flightlink/internal/command"
	"flightlink/internal/config"
	"flightlink/internal/link"
	"flightlink/internal/logging"
	"flightlink/internal/monitor"
	"flightlink/internal/orchestrator"
	"flightlink/internal/sensors"
	"flightlink/internal/storage"
	"flightlink/internal/telemetry"
)

const defaultConfigPath = "./config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to a YAML or TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "flightlink: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == defaultConfigPath {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			configPath = ""
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	log, logFile, err := logging.Setup(logging.Options{
		Level:     level,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(log)
	log.Info("configuration loaded",
		"config", configPath, "port", cfg.Serial.Port, "baud", cfg.Serial.BaudRate,
		"storage", cfg.Storage.Dir, "team", cfg.Telemetry.TeamID, "level", level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aux := cache.New()
	seq, err := telemetry.LoadSequence(cfg.Storage.CounterFile, logging.Component(log, "sequence"))
	if err != nil {
		return err
	}
	builder := telemetry.NewBuilder(cfg.Builder(), aux, seq, logging.Component(log, "telemetry"))

	sink, err := storage.Open(cfg.Storage.Dir, int64(cfg.Storage.MaxFileMB)<<20, logging.Component(log, "storage"))
	if err != nil {
		return err
	}
	defer sink.Close()

	deps := orchestrator.Deps{
		Sampler:   sensors.NewSimulator(sensors.DefaultProfile(), time.Now().UnixNano()),
		Builder:   builder,
		Sink:      sink,
		Emergency: sink,
	}

	var router *link.Router
	if cfg.Serial.Port != "" {
		dev := link.NewSerialDevice(link.SerialConfig{
			Port:        cfg.Serial.Port,
			Baud:        cfg.Serial.BaudRate,
			ReadTimeout: cfg.Serial.ReadTimeout(),
		}, logging.Component(log, "serial"))
		defer dev.Close()

		tx := link.NewTransmitter(dev, logging.Component(log, "transmitter"))
		handler := command.NewHandler(builder, tx, command.LogActuator{Log: logging.Component(log, "actuator")},
			logging.Component(log, "command"))
		router = link.NewRouter(aux, handler.Handle, logging.Component(log, "router"))
		recv := link.NewReceiver(logging.Component(log, "receiver"),
			link.WithBufferCaps(cfg.Serial.TextBuffer, cfg.Serial.BinaryBuffer))
		listener := link.NewListener(dev, recv, router, logging.Component(log, "listener"))

		deps.Radio = tx
		deps.Receive = listener.Run
	} else {
		log.Warn("no serial port configured, running without radio")
		deps.Radio = link.NewTransmitter(nil, logging.Component(log, "transmitter"))
	}

	if cfg.Influx.Enabled {
		mirror := storage.NewInfluxMirror(storage.InfluxConfig{
			URL:     cfg.Influx.URL,
			Token:   cfg.Influx.Token,
			Org:     cfg.Influx.Org,
			Bucket:  cfg.Influx.Bucket,
			Timeout: cfg.Influx.Timeout(),
		}, logging.Component(log, "influx"))
		defer mirror.Close()
		deps.Mirror = mirror
	}

	monitorDone := make(chan struct{})
	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(monitor.Config{Addr: cfg.Monitor.Addr, SendBuf: cfg.Monitor.SendBuf},
			logging.Component(log, "monitor"))
		deps.Monitor = srv
		go func() {
			defer close(monitorDone)
			if err := srv.Run(ctx); err != nil {
				log.Error("live monitor stopped", "err", err)
			}
		}()
	} else {
		close(monitorDone)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Period:        cfg.Telemetry.Period(),
		SampleTimeout: cfg.Telemetry.SampleTimeout(),
		QueueSize:     cfg.Storage.QueueSize,
		JoinTimeout:   cfg.Shutdown.JoinTimeout(),
	}, deps, logging.Component(log, "orchestrator"))
	if err != nil {
		return err
	}

	runErr := orch.Run(ctx)
	<-monitorDone
	if router != nil && !router.WaitTimeout(cfg.Shutdown.JoinTimeout()) {
		log.Warn("command handlers still running at exit", "timeout", cfg.Shutdown.JoinTimeout())
	}
	log.Info("flightlink stopped", "last_packet", seq.Last())
	return runErr
}

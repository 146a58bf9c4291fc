package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"flightlink/internal/link"
	"flightlink/internal/telemetry"
)

type Config struct {
	Period        time.Duration
	SampleTimeout time.Duration
	QueueSize     int
	WriteAttempts int
	WriteRetry    time.Duration
	MirrorTimeout time.Duration
	RestartMin    time.Duration
	RestartMax    time.Duration
	JoinTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Period:        time.Second,
		SampleTimeout: 500 * time.Millisecond,
		QueueSize:     64,
		WriteAttempts: 3,
		WriteRetry:    100 * time.Millisecond,
		MirrorTimeout: 2 * time.Second,
		RestartMin:    500 * time.Millisecond,
		RestartMax:    30 * time.Second,
		JoinTimeout:   5 * time.Second,
	}
}

// Deps are the components the loops drive. Receive, Mirror and Monitor are
// optional.
type Deps struct {
	Sampler   Sampler
	Builder   PacketBuilder
	Sink      Sink
	Emergency EmergencyWriter
	Radio     Sender
	Receive   Loop
	Mirror    Mirror
	Monitor   Publisher
}

// Stats are running totals since start.
type Stats struct {
	Produced        int64
	SampleFallbacks int64
	Sent            int64
	NotSent         int64
	Persisted       int64
	WriteRetries    int64
	Emergency       int64
	MirrorErrors    int64
	Restarts        int64
}

// Orchestrator runs the receive, produce and persist loops and owns the
// bounded queue between producer and consumer.
type Orchestrator struct {
	cfg   Config
	deps  Deps
	log   *slog.Logger
	queue chan telemetry.Packet

	produced        atomic.Int64
	sampleFallbacks atomic.Int64
	sent            atomic.Int64
	notSent         atomic.Int64
	persisted       atomic.Int64
	writeRetries    atomic.Int64
	emergency       atomic.Int64
	mirrorErrors    atomic.Int64
	restarts        atomic.Int64
}

func New(cfg Config, deps Deps, log *slog.Logger) (*Orchestrator, error) {
	if deps.Sampler == nil || deps.Builder == nil || deps.Sink == nil || deps.Emergency == nil || deps.Radio == nil {
		return nil, errors.New("orchestrator: sampler, builder, sink, emergency writer and radio are required")
	}
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = def.SampleTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = def.WriteAttempts
	}
	if cfg.WriteRetry <= 0 {
		cfg.WriteRetry = def.WriteRetry
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = def.MirrorTimeout
	}
	if cfg.RestartMin <= 0 {
		cfg.RestartMin = def.RestartMin
	}
	if cfg.RestartMax < cfg.RestartMin {
		cfg.RestartMax = max(def.RestartMax, cfg.RestartMin)
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		log:   log,
		queue: make(chan telemetry.Packet, cfg.QueueSize),
	}, nil
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Produced:        o.produced.Load(),
		SampleFallbacks: o.sampleFallbacks.Load(),
		Sent:            o.sent.Load(),
		NotSent:         o.notSent.Load(),
		Persisted:       o.persisted.Load(),
		WriteRetries:    o.writeRetries.Load(),
		Emergency:       o.emergency.Load(),
		MirrorErrors:    o.mirrorErrors.Load(),
		Restarts:        o.restarts.Load(),
	}
}

// Run blocks until ctx is cancelled. The producer and receiver stop first;
// the consumer then drains whatever is still queued.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator starting", "period", o.cfg.Period, "queue", o.cfg.QueueSize)

	var front []*task
	if o.deps.Receive != nil {
		front = append(front, o.start(ctx, "receive", o.deps.Receive))
	}
	front = append(front, o.start(ctx, "produce", o.produce))

	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer stopPersist()
	consumer := o.start(persistCtx, "persist", o.consume)

	<-ctx.Done()
	o.log.Info("shutdown requested, stopping loops")

	var abandoned []string
	for _, t := range front {
		if !t.join(o.cfg.JoinTimeout) {
			abandoned = append(abandoned, t.name)
		}
	}
	stopPersist()
	if !consumer.join(o.cfg.JoinTimeout) {
		abandoned = append(abandoned, consumer.name)
	}

	st := o.Stats()
	o.log.Info("orchestrator stopped",
		"produced", st.Produced, "persisted", st.Persisted, "emergency", st.Emergency,
		"sent", st.Sent, "not_sent", st.NotSent)
	if len(abandoned) > 0 {
		o.log.Error("loops did not stop in time", "loops", abandoned, "timeout", o.cfg.JoinTimeout)
		return fmt.Errorf("loops abandoned at shutdown: %v", abandoned)
	}
	return nil
}

// produce runs one cycle per period. A cycle that panics backs off locally
// before the next one.
func (o *Orchestrator) produce(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Period)
	defer ticker.Stop()

	failures := 0
	for {
		if err := o.cycle(ctx); err != nil {
			failures++
			wait := min(o.cfg.Period*time.Duration(1<<min(failures, 6)), o.cfg.RestartMax)
			o.log.Error("telemetry cycle failed", "err", err, "failures", failures, "backoff", wait)
			sleepCtx(ctx, wait)
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProduceOnce runs a single producer cycle outside the loop.
func (o *Orchestrator) ProduceOnce(ctx context.Context) error {
	return o.cycle(ctx)
}

func (o *Orchestrator) cycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	snap := o.sample(ctx)
	p := o.deps.Builder.Build(snap)
	o.produced.Add(1)

	select {
	case o.queue <- p:
	default:
		o.log.Warn("persist queue full, writing emergency file", "seq", p.Sequence)
		o.writeEmergency(p)
	}

	if o.deps.Radio.Send(p.Frame()) == link.Sent {
		o.sent.Add(1)
	} else {
		o.notSent.Add(1)
		o.log.Debug("telemetry not sent", "seq", p.Sequence)
	}

	if o.deps.Monitor != nil {
		o.deps.Monitor.Publish(p)
	}
	return nil
}

func (o *Orchestrator) sample(ctx context.Context) telemetry.Snapshot {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SampleTimeout)
	defer cancel()

	snap, err := o.deps.Sampler.Sample(sctx)
	if err == nil {
		return snap
	}
	o.sampleFallbacks.Add(1)
	o.log.Warn("sensor sample failed, using quick sample", "err", err)
	return o.deps.Sampler.QuickSample()
}

// consume persists queued packets in order. When ctx is done it drains the
// queue before returning.
func (o *Orchestrator) consume(ctx context.Context) error {
	for {
		select {
		case p := <-o.queue:
			o.persist(p)
		case <-ctx.Done():
			return o.drain()
		}
	}
}

func (o *Orchestrator) drain() error {
	n := 0
	for {
		select {
		case p := <-o.queue:
			o.persist(p)
			n++
		default:
			if n > 0 {
				o.log.Info("persist queue drained", "packets", n)
			}
			return nil
		}
	}
}

// persist writes p, retrying the same packet before falling back to an
// emergency file. The mirror is only tried after a successful write.
func (o *Orchestrator) persist(p telemetry.Packet) {
	var err error
	for attempt := 1; attempt <= o.cfg.WriteAttempts; attempt++ {
		if err = o.deps.Sink.Write(p); err == nil {
			break
		}
		o.log.Warn("telemetry write failed", "seq", p.Sequence, "attempt", attempt, "err", err)
		if attempt < o.cfg.WriteAttempts {
			o.writeRetries.Add(1)
			time.Sleep(o.cfg.WriteRetry * time.Duration(attempt))
		}
	}
	if err != nil {
		o.log.Error("telemetry write gave up, writing emergency file", "seq", p.Sequence, "err", err)
		o.writeEmergency(p)
		return
	}
	o.persisted.Add(1)

	if o.deps.Mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.MirrorTimeout)
		if err := o.deps.Mirror.Mirror(ctx, p); err != nil {
			o.mirrorErrors.Add(1)
			o.log.Debug("mirror write failed", "seq", p.Sequence, "err", err)
		}
		cancel()
	}
}

func (o *Orchestrator) writeEmergency(p telemetry.Packet) {
	path, err := o.deps.Emergency.WriteEmergency(p)
	if err != nil {
		o.log.Error("emergency write failed, packet lost", "seq", p.Sequence, "err", err)
		return
	}
	o.emergency.Add(1)
	o.log.Warn("emergency file written", "seq", p.Sequence, "path", path)
}

package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flightlink/internal/link"
	"flightlink/internal/orchestrator"
	"flightlink/internal/telemetry"
)

var t0 = time.Date(2024, 7, 28, 15, 30, 0, 0, time.UTC)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSampler struct {
	delay time.Duration
	err   error
	quick atomic.Int64
}

func (s *fakeSampler) Sample(ctx context.Context) (telemetry.Snapshot, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return telemetry.Snapshot{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return telemetry.Snapshot{}, s.err
	}
	return telemetry.Snapshot{Power: &telemetry.Power{Voltage: 8}}, nil
}

func (s *fakeSampler) QuickSample() telemetry.Snapshot {
	s.quick.Add(1)
	return telemetry.Snapshot{Power: &telemetry.Power{Voltage: 1}}
}

type seqBuilder struct {
	mu   sync.Mutex
	n    int
	last telemetry.Snapshot
}

func (b *seqBuilder) Build(s telemetry.Snapshot) telemetry.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	b.last = s
	return telemetry.Packet{Sequence: b.n, Time: t0.Add(time.Duration(b.n) * time.Second)}
}

type recordingSink struct {
	mu       sync.Mutex
	delay    time.Duration
	failures int // remaining writes to fail; -1 fails forever
	attempts int
	rows     []int
}

func (s *recordingSink) Write(p telemetry.Packet) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return errors.New("disk full")
	}
	s.rows = append(s.rows, p.Sequence)
	return nil
}

func (s *recordingSink) snapshot() (rows []int, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.rows...), s.attempts
}

type emergencyRecorder struct {
	mu   sync.Mutex
	seqs []int
}

func (e *emergencyRecorder) WriteEmergency(p telemetry.Packet) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seqs = append(e.seqs, p.Sequence)
	return "emergency.csv", nil
}

func (e *emergencyRecorder) list() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.seqs...)
}

type radio struct {
	result link.SendResult
	frames atomic.Int64
}

func (r *radio) Send(frame string) link.SendResult {
	r.frames.Add(1)
	return r.result
}

type monitor struct{ count atomic.Int64 }

func (m *monitor) Publish(telemetry.Packet) { m.count.Add(1) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func fastConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.Period = 10 * time.Millisecond
	cfg.SampleTimeout = 50 * time.Millisecond
	cfg.WriteRetry = time.Millisecond
	cfg.RestartMin = time.Millisecond
	cfg.RestartMax = 10 * time.Millisecond
	cfg.JoinTimeout = 2 * time.Second
	return cfg
}

func TestSlowConsumerFailingRadioKeepsEveryPacket(t *testing.T) {
	sink := &recordingSink{delay: 30 * time.Millisecond}
	emerg := &emergencyRecorder{}
	tx := &radio{result: link.NotSent}
	mon := &monitor{}
	o, err := orchestrator.New(fastConfig(), orchestrator.Deps{
		Sampler:   &fakeSampler{},
		Builder:   &seqBuilder{},
		Sink:      sink,
		Emergency: emerg,
		Radio:     tx,
		Monitor:   mon,
	}, quietLog())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	waitFor(t, "three packets", func() bool { return o.Stats().Produced >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	st := o.Stats()
	rows, _ := sink.snapshot()
	if int64(len(rows)) != st.Produced || st.Persisted != st.Produced {
		t.Fatalf("produced %d, persisted %d rows %v", st.Produced, st.Persisted, rows)
	}
	for i, seq := range rows {
		if seq != i+1 {
			t.Fatalf("rows out of order: %v", rows)
		}
	}
	if len(emerg.list()) != 0 {
		t.Fatalf("unexpected emergency writes %v", emerg.list())
	}
	if st.Sent != 0 || st.NotSent != st.Produced || tx.frames.Load() != st.Produced {
		t.Fatalf("radio stats %+v frames %d", st, tx.frames.Load())
	}
	if mon.count.Load() != st.Produced {
		t.Fatalf("monitor saw %d of %d", mon.count.Load(), st.Produced)
	}
}

func TestFullQueueGoesToEmergencyWriter(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 1
	emerg := &emergencyRecorder{}
	tx := &radio{result: link.Sent}
	o, err := orchestrator.New(cfg, orchestrator.Deps{
		Sampler:   &fakeSampler{},
		Builder:   &seqBuilder{},
		Sink:      &recordingSink{},
		Emergency: emerg,
		Radio:     tx,
	}, quietLog())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := o.ProduceOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := emerg.list(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("emergency writes %v, want [2]", got)
	}
	// The packet is still transmitted.
	if st := o.Stats(); st.Sent != 2 || st.Emergency != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestWriteFailuresRetryThenEmergency(t *testing.T) {
	cfg := fastConfig()
	cfg.Period = time.Hour
	sink := &recordingSink{failures: -1}
	emerg := &emergencyRecorder{}
	o, err := orchestrator.New(cfg, orchestrator.Deps{
		Sampler:   &fakeSampler{},
		Builder:   &seqBuilder{},
		Sink:      sink,
		Emergency: emerg,
		Radio:     &radio{},
	}, quietLog())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	waitFor(t, "emergency write", func() bool { return len(emerg.list()) == 1 })
	cancel()
	<-done

	if _, attempts := sink.snapshot(); attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if st := o.Stats(); st.WriteRetries != 2 || st.Persisted != 0 {
		t.Fatalf("stats %+v", st)
	}
}

func TestTransientWriteFailureIsRetried(t *testing.T) {
	cfg := fastConfig()
	cfg.Period = time.Hour
	sink := &recordingSink{failures: 1}
	emerg := &emergencyRecorder{}
	o, _ := orchestrator.New(cfg, orchestrator.Deps{
		Sampler:   &fakeSampler{},
		Builder:   &seqBuilder{},
		Sink:      sink,
		Emergency: emerg,
		Radio:     &radio{},
	}, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	waitFor(t, "persisted packet", func() bool { return o.Stats().Persisted == 1 })
	cancel()
	<-done

	rows, attempts := sink.snapshot()
	if len(rows) != 1 || rows[0] != 1 || attempts != 2 || len(emerg.list()) != 0 {
		t.Fatalf("rows %v attempts %d emergency %v", rows, attempts, emerg.list())
	}
}

func TestSlowSamplerFallsBackToQuickSample(t *testing.T) {
	cfg := fastConfig()
	cfg.SampleTimeout = 5 * time.Millisecond
	sampler := &fakeSampler{delay: time.Second}
	b := &seqBuilder{}
	o, _ := orchestrator.New(cfg, orchestrator.Deps{
		Sampler:   sampler,
		Builder:   b,
		Sink:      &recordingSink{},
		Emergency: &emergencyRecorder{},
		Radio:     &radio{},
	}, quietLog())

	start := time.Now()
	if err := o.ProduceOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("producer waited for the slow sampler")
	}
	if sampler.quick.Load() != 1 || b.last.Power == nil || b.last.Power.Voltage != 1 {
		t.Fatalf("quick sample not used: %+v", b.last)
	}
	if o.Stats().SampleFallbacks != 1 {
		t.Fatalf("stats %+v", o.Stats())
	}
}

func TestSamplerErrorFallsBack(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("i2c timeout")}
	o, _ := orchestrator.New(fastConfig(), orchestrator.Deps{
		Sampler:   sampler,
		Builder:   &seqBuilder{},
		Sink:      &recordingSink{},
		Emergency: &emergencyRecorder{},
		Radio:     &radio{},
	}, quietLog())
	if err := o.ProduceOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sampler.quick.Load() != 1 {
		t.Fatal("quick sample not used after sampler error")
	}
}

func TestReceiveLoopIsRestarted(t *testing.T) {
	var calls atomic.Int64
	receive := func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			panic("uart exploded")
		case 2:
			return errors.New("port vanished")
		}
		<-ctx.Done()
		return nil
	}
	o, _ := orchestrator.New(fastConfig(), orchestrator.Deps{
		Sampler:   &fakeSampler{},
		Builder:   &seqBuilder{},
		Sink:      &recordingSink{},
		Emergency: &emergencyRecorder{},
		Radio:     &radio{},
		Receive:   receive,
	}, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	waitFor(t, "third receive run", func() bool { return calls.Load() >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if r := o.Stats().Restarts; r != 2 {
		t.Fatalf("restarts = %d, want 2", r)
	}
}

func TestStuckLoopIsAbandoned(t *testing.T) {
	cfg := fastConfig()
	cfg.JoinTimeout = 20 * time.Millisecond
	release := make(chan struct{})
	defer close(release)

	o, _ := orchestrator.New(cfg, orchestrator.Deps{
		Sampler:   &fakeSampler{},
		Builder:   &seqBuilder{},
		Sink:      &recordingSink{},
		Emergency: &emergencyRecorder{},
		Radio:     &radio{},
		Receive: func(context.Context) error {
			<-release
			return nil
		},
	}, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for the abandoned loop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not honour the join timeout")
	}
}

func TestNewRequiresCoreDeps(t *testing.T) {
	if _, err := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Deps{}, nil); err == nil {
		t.Fatal("expected an error for missing dependencies")
	}
}

package link_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flightlink/internal/cache"
	"flightlink/internal/link"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("port closed") }

type panickyWriter struct{}

func (panickyWriter) Write([]byte) (int, error) { panic("driver bug") }

func TestTransmitterSend(t *testing.T) {
	var buf bytes.Buffer
	tx := link.NewTransmitter(&buf, quietLogger())
	if got := tx.Send("$1,2,3*00"); got != link.Sent {
		t.Fatalf("got %v", got)
	}
	if buf.String() != "$1,2,3*00\n" {
		t.Fatalf("wrote %q", buf.String())
	}
}

func TestTransmitterFailuresAreNotSent(t *testing.T) {
	cases := map[string]*link.Transmitter{
		"nil writer":  link.NewTransmitter(nil, quietLogger()),
		"write error": link.NewTransmitter(failingWriter{}, quietLogger()),
		"panic":       link.NewTransmitter(panickyWriter{}, quietLogger()),
	}
	for name, tx := range cases {
		if got := tx.Send("frame"); got != link.NotSent {
			t.Fatalf("%s: got %v", name, got)
		}
	}
}

// scriptedReader returns one chunk per Read, then reports empty reads.
type scriptedReader struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (s *scriptedReader) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		err := s.err
		s.err = nil
		return 0, err
	}
	if len(s.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, s.chunks[0])
	s.chunks = s.chunks[1:]
	return n, nil
}

func TestListenerRoutesUntilCancelled(t *testing.T) {
	aux := cache.New()
	src := &scriptedReader{
		err:    errors.New("framing error"),
		chunks: [][]byte{[]byte("SAHA:BASINC2:10"), []byte("12.5\n")},
	}
	l := link.NewListener(src, link.NewReceiver(quietLogger()), link.NewRouter(aux, nil, quietLogger()), quietLogger(),
		link.WithRetry(time.Millisecond, time.Millisecond), link.WithIdleWait(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, ok := aux.Available(cache.CarrierPressure, time.Now()); ok {
			if v != 1012.5 {
				t.Fatalf("carrier pressure = %v", v)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never routed the reading")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerStopsOnClosedPort(t *testing.T) {
	src := &scriptedReader{err: link.ErrPortClosed}
	l := link.NewListener(src, link.NewReceiver(quietLogger()), link.NewRouter(cache.New(), nil, quietLogger()), quietLogger())
	if err := l.Run(context.Background()); !errors.Is(err, link.ErrPortClosed) {
		t.Fatalf("got %v", err)
	}
}

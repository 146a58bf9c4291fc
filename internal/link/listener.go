package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// Listener is the receive loop: read, demultiplex, route.
type Listener struct {
	src    io.Reader
	recv   *Receiver
	router *Router
	log    *slog.Logger

	bufSize  int
	retry    time.Duration
	retryMax time.Duration
	idle     time.Duration
}

type ListenerOption func(*Listener)

func WithReadBuffer(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.bufSize = n
		}
	}
}

func WithRetry(base, limit time.Duration) ListenerOption {
	return func(l *Listener) {
		if base > 0 {
			l.retry = base
		}
		if limit > 0 {
			l.retryMax = limit
		}
	}
}

// WithIdleWait sets the pause after an empty read.
func WithIdleWait(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d >= 0 {
			l.idle = d
		}
	}
}

func NewListener(src io.Reader, recv *Receiver, router *Router, log *slog.Logger, opts ...ListenerOption) *Listener {
	if log == nil {
		log = slog.Default()
	}
	l := &Listener{
		src:      src,
		recv:     recv,
		router:   router,
		log:      log,
		bufSize:  256,
		retry:    500 * time.Millisecond,
		retryMax: 10 * time.Second,
		idle:     10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run reads until ctx is cancelled. Read errors back off locally; only a
// closed port ends the loop with an error.
func (l *Listener) Run(ctx context.Context) error {
	buf := make([]byte, l.bufSize)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := l.src.Read(buf)
		if n > 0 {
			for _, msg := range l.recv.Feed(buf[:n]) {
				l.router.Route(msg)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrPortClosed) {
				return err
			}
			attempt++
			l.log.Warn("radio read failed", "err", err, "attempt", attempt)
			l.sleepBackoff(ctx, attempt)
			continue
		}
		attempt = 0
		if n == 0 && l.idle > 0 {
			sleepCtx(ctx, l.idle)
		}
	}
}

func (l *Listener) sleepBackoff(ctx context.Context, attempt int) {
	sleepCtx(ctx, min(l.retry*time.Duration(attempt), l.retryMax))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
}

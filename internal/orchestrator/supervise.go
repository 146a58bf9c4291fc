package orchestrator

import (
	"context"
	"fmt"
	"time"
)

type task struct {
	name string
	done chan struct{}
}

// join waits up to timeout for the task to finish.
func (t *task) join(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

func (o *Orchestrator) start(ctx context.Context, name string, loop Loop) *task {
	t := &task{name: name, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		o.supervise(ctx, name, loop)
	}()
	return t
}

// supervise restarts loop until ctx is done. Restarts back off exponentially
// from RestartMin to RestartMax; a run that lasted longer than RestartMax
// resets the backoff.
func (o *Orchestrator) supervise(ctx context.Context, name string, loop Loop) {
	log := o.log.With("loop", name)
	attempt := 0
	for {
		started := time.Now()
		err := runGuarded(ctx, loop)
		if ctx.Err() != nil {
			if err != nil {
				log.Debug("loop ended during shutdown", "err", err)
			}
			return
		}
		if time.Since(started) > o.cfg.RestartMax {
			attempt = 0
		}
		attempt++
		o.restarts.Add(1)

		wait := backoff(o.cfg.RestartMin, o.cfg.RestartMax, attempt)
		if err != nil {
			log.Error("loop failed, restarting", "err", err, "attempt", attempt, "backoff", wait)
		} else {
			log.Warn("loop returned early, restarting", "attempt", attempt, "backoff", wait)
		}
		sleepCtx(ctx, wait)
	}
}

func runGuarded(ctx context.Context, loop Loop) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return loop(ctx)
}

// backoff doubles base per attempt, capped at limit.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
}

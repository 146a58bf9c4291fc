package command

import (
	"context"
	"log/slog"
	"time"
)

// LogActuator stands in for the filter wheel hardware. It logs each step
// and holds it for the commanded time.
type LogActuator struct {
	Log  *slog.Logger
	Step func(ctx context.Context, d time.Duration) error
}

func (a LogActuator) ApplyFilter(ctx context.Context, f Filter) error {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	wait := a.Step
	if wait == nil {
		wait = sleep
	}

	steps := []struct {
		color byte
		hold  time.Duration
	}{
		{f.FirstColor, time.Duration(f.FirstSeconds) * time.Second},
		{f.SecondColor, time.Duration(f.SecondSeconds) * time.Second},
	}
	for _, s := range steps {
		log.Info("filter position", "color", string(s.color), "hold", s.hold)
		if err := wait(ctx, s.hold); err != nil {
			return err
		}
	}
	log.Info("filter sequence complete", "code", f.Code())
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package ingest

import (
	"context"
	"log/slog"
	"time"

	"igma/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.CycleInput, in model.CycleInput, logger *slog.Logger) bool {
	select {
	case out <- in:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("cycle channel full, dropping submission", "subject", in.Cycle.Subject, "sequence", in.Cycle.Sequence)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

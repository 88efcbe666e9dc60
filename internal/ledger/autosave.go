package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Autosaver periodically flushes the ledger to its file so a crash
// loses at most one interval of trading. Save failures are logged and
// retried on the next tick; in-memory state stays authoritative.
type Autosaver struct {
	interval time.Duration
	ledger   *Ledger
	path     string
}

// NewAutosaver creates an Autosaver for the given ledger and file.
func NewAutosaver(interval time.Duration, l *Ledger, path string) *Autosaver {
	return &Autosaver{
		interval: interval,
		ledger:   l,
		path:     path,
	}
}

// Start launches a background goroutine that saves at the configured
// interval. It stops when ctx is cancelled, writing one final
// snapshot on the way out.
func (a *Autosaver) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if err := a.ledger.SaveToFile(a.path); err != nil {
					slog.Error("final ledger save failed", "path", a.path, "error", err)
				}
				return
			case <-ticker.C:
				if err := a.ledger.SaveToFile(a.path); err != nil {
					slog.Error("ledger autosave failed", "path", a.path, "error", err)
				}
			}
		}
	}()
}

package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
)

// Runs the retention sweeper until the context ends.
//
// Each sweep evicts terminal records whose age exceeds the retention
// horizon and best-effort deletes their images from the tool's local
// store. Non-terminal records are never touched, regardless of age.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	if o.sweepInterval <= 0 {
		return
	}

	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

// Performs one retention pass and returns the number of evicted records.
//
// Image removal failures are logged and do not abort the sweep; the
// record is gone either way.
func (o *Orchestrator) sweep(ctx context.Context) int {
	cutoff := o.now().Add(-o.retention)

	o.mu.Lock()
	var expired []*record
	for id, rec := range o.records {
		if rec.expired(cutoff) {
			expired = append(expired, rec)
			delete(o.records, id)
		}
	}
	o.mu.Unlock()

	for _, rec := range expired {
		if err := o.engine.Remove(ctx, rec.imageTag); err != nil && !errdefs.IsNotFound(err) {
			slog.Warn("image removal failed", "id", rec.id, "tag", rec.imageTag, "error", err)
		}
		slog.Info("build record evicted", "id", rec.id, "tag", rec.imageTag)
	}

	return len(expired)
}

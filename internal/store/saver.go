package store

import (
	"context"
	"log/slog"
	"time"
)

// StartPolicySaver runs a background goroutine that periodically snapshots
// the usage policy and writes it to the repository, so admin mutations
// survive a restart.
func StartPolicySaver(ctx context.Context, repo Repository, src PolicySource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("policy saver started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				snap := src.Snapshot()
				if err := repo.SavePolicy(ctx, &snap); err != nil {
					slog.Error("policy saver failed to save snapshot", "error", err)
					continue
				}
				slog.Info("usage policy saved",
					"white_list_size", len(snap.WhiteList),
					"override_count", len(snap.Limits))
			case <-ctx.Done():
				// Final save so the freshest policy lands on disk.
				snap := src.Snapshot()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := repo.SavePolicy(shutdownCtx, &snap); err != nil {
					slog.Error("policy saver failed final save", "error", err)
				}
				cancel()
				slog.Info("policy saver shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

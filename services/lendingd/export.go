package main

import (
	"context"
	"fmt"
	"log/slog"

	"lendcore/integrations/eventstore"
	"lendcore/services/lendingd/config"
)

// exportEvents dumps the persisted event history matching typeFilter to a
// parquet file.
func exportEvents(ctx context.Context, cfg config.EventsConfig, path, typeFilter string, logger *slog.Logger) (int, error) {
	if !cfg.Enabled() {
		return 0, fmt.Errorf("event store disabled")
	}
	store, err := eventstore.Open(cfg.Driver, cfg.DSN, eventstore.WithLogger(logger))
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.ExportParquet(ctx, path, eventstore.Filter{Type: typeFilter})
}

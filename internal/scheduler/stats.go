package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// StatsJob publishes history size and the connection count as gauges and a
// log line. connections may be nil.
func StatsJob(store history.Store, connections func() int, logger zerolog.Logger) Job {
	return func(ctx context.Context) error {
		stats, err := store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("history stats: %w", err)
		}

		metrics.HistoryRooms.Set(float64(stats.Rooms))
		metrics.HistoryMessages.Set(float64(stats.Messages))

		ev := logger.Info().Int("rooms", stats.Rooms).Int("messages", stats.Messages)
		if connections != nil {
			ev = ev.Int("connections", connections())
		}
		ev.Msg("relay stats")
		return nil
	}
}

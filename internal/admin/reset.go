// Package admin provides administrative operations on stored entities.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/crmport/internal/core"
)

// ResetBatch is how many records are fetched per delete round.
const ResetBatch = 500

// Deleter is the part of a store a reset needs.
type Deleter interface {
	Select(ctx context.Context, table string, q core.Query) ([]core.Record, error)
	Delete(ctx context.Context, table, id string) error
}

// Reset deletes every record of the given entities and returns the number
// removed per entity. This is a destructive operation.
func Reset(ctx context.Context, s Deleter, cfgs []*core.EntityConfig) (map[string]int, error) {
	removed := make(map[string]int, len(cfgs))
	for _, cfg := range cfgs {
		n, err := resetTable(ctx, s, cfg)
		removed[cfg.Name] = n
		if err != nil {
			return removed, fmt.Errorf("reset %s: %w", cfg.Name, err)
		}
		slog.Info("entity reset", "entity", cfg.Name, "removed", n)
	}
	return removed, nil
}

func resetTable(ctx context.Context, s Deleter, cfg *core.EntityConfig) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rows, err := s.Select(ctx, cfg.Table, core.Query{Limit: ResetBatch})
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			return total, nil
		}
		for _, row := range rows {
			if err := s.Delete(ctx, cfg.Table, row.ID()); err != nil {
				return total, err
			}
			total++
		}
	}
}

package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig defines how long to keep rows in each table.
type RetentionConfig struct {
	IngestLog time.Duration // default 30d
	AlertLog  time.Duration // default 30d
}

// DefaultRetention returns the default retention periods.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		IngestLog: 30 * 24 * time.Hour,
		AlertLog:  30 * 24 * time.Hour,
	}
}

// Pruner periodically removes old rows from the journal.
type Pruner struct {
	journal   *Journal
	retention RetentionConfig
	interval  time.Duration
}

// NewPruner creates a pruner with the given retention config.
func NewPruner(j *Journal, retention RetentionConfig) *Pruner {
	return &Pruner{
		journal:   j,
		retention: retention,
		interval:  1 * time.Hour,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval)

	p.prune(time.Now())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.prune(time.Now())
		}
	}
}

func (p *Pruner) prune(now time.Time) {
	tables := []struct {
		name      string
		retention time.Duration
	}{
		{"ingest_log", p.retention.IngestLog},
		{"alert_log", p.retention.AlertLog},
	}

	for _, t := range tables {
		if t.retention <= 0 {
			continue
		}
		cutoff := now.Add(-t.retention).Unix()
		result, err := p.journal.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE ts < ?", t.name), cutoff)
		if err != nil {
			slog.Error("pruning failed", "table", t.name, "error", err)
			continue
		}
		rows, _ := result.RowsAffected()
		if rows > 0 {
			slog.Info("pruned old rows", "table", t.name, "rows", rows)
		}
	}
}

package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nghyane/copilot-gateway/internal/config"
)

// Backend persists usage records. Implementations are safe for concurrent
// use; Enqueue never blocks.
type Backend interface {
	Name() string
	Enqueue(record Record)
	Flush(ctx context.Context) error

	QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error)
	QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error)
	QueryHourlyStats(ctx context.Context, since time.Time) ([]HourlyStats, error)
	QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error)
	QueryFormatStats(ctx context.Context, since time.Time) ([]FormatStats, error)

	// Cleanup deletes records older than before.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	Start() error
	// Stop flushes pending records and releases the store.
	Stop() error
}

type BackendConfig struct {
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
	RetentionDays int
}

func BackendConfigFrom(c config.UsageConfig) BackendConfig {
	return BackendConfig{
		DSN:           c.DSN,
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		RetentionDays: c.RetentionDays,
	}
}

// parseDSN splits sqlite://path and postgres:// style DSNs. Postgres DSNs are
// returned whole for pgx.
func parseDSN(dsn string) (kind, target string, err error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		target = strings.TrimPrefix(dsn, "sqlite://")
		if target == "" {
			return "", "", fmt.Errorf("sqlite DSN has no path")
		}
		return "sqlite", target, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	}
	return "", "", fmt.Errorf("unsupported usage DSN %q (use sqlite:// or postgres://)", dsn)
}

// NewBackend opens the backend the DSN names.
func NewBackend(cfg BackendConfig) (Backend, error) {
	kind, target, err := parseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if kind == "postgres" {
		return NewPostgresBackend(target, cfg)
	}
	return NewSQLiteBackend(target, cfg)
}

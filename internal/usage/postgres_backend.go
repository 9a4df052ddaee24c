package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	model TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT '',
	stream BOOLEAN NOT NULL DEFAULT FALSE,
	status INTEGER NOT NULL DEFAULT 0,
	failed BOOLEAN NOT NULL DEFAULT FALSE,
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	total_tokens BIGINT NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	requested_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);
CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);
`

var postgresColumns = []string{
	"model", "format", "stream", "status", "failed",
	"input_tokens", "output_tokens", "total_tokens", "latency_ms", "requested_at",
}

// PostgresBackend stores records through a pgx pool, writing batches with
// COPY.
type PostgresBackend struct {
	pool *pgxpool.Pool
	*writeQueue
}

func NewPostgresBackend(dsn string, cfg BackendConfig) (*PostgresBackend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	b.writeQueue = newWriteQueue("postgres", cfg, b.writeBatch, b.Cleanup)
	return b, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Start() error {
	b.start()
	return nil
}

func (b *PostgresBackend) Stop() error {
	b.stop()
	b.pool.Close()
	return nil
}

func (b *PostgresBackend) Enqueue(r Record) { b.enqueue(r.normalized()) }

func (b *PostgresBackend) Flush(ctx context.Context) error { return b.flush(ctx) }

func (b *PostgresBackend) writeBatch(ctx context.Context, records []Record) error {
	_, err := b.pool.CopyFrom(ctx,
		pgx.Identifier{"usage_records"},
		postgresColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				r.Model, r.Format, r.Stream, int32(r.Status), r.Failed,
				r.InputTokens, r.OutputTokens, r.TotalTokens, r.Latency.Milliseconds(), r.RequestedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	return nil
}

func (b *PostgresBackend) QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	var s AggregatedStats
	err := b.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT failed),
			COUNT(*) FILTER (WHERE failed),
			COALESCE(SUM(total_tokens), 0)::BIGINT
		FROM usage_records
		WHERE requested_at >= $1`, since,
	).Scan(&s.TotalRequests, &s.SuccessCount, &s.FailureCount, &s.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("query global stats: %w", err)
	}
	return &s, nil
}

func (b *PostgresBackend) QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT TO_CHAR(requested_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COUNT(*), COALESCE(SUM(total_tokens), 0)::BIGINT
		FROM usage_records
		WHERE requested_at >= $1
		GROUP BY day
		ORDER BY day`, since)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DailyStats, error) {
		var d DailyStats
		err := row.Scan(&d.Day, &d.Requests, &d.Tokens)
		return d, err
	})
}

func (b *PostgresBackend) QueryHourlyStats(ctx context.Context, since time.Time) ([]HourlyStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT EXTRACT(HOUR FROM requested_at AT TIME ZONE 'UTC')::INTEGER AS hour,
			COUNT(*), COALESCE(SUM(total_tokens), 0)::BIGINT
		FROM usage_records
		WHERE requested_at >= $1
		GROUP BY hour
		ORDER BY hour`, since)
	if err != nil {
		return nil, fmt.Errorf("query hourly stats: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (HourlyStats, error) {
		var h HourlyStats
		err := row.Scan(&h.Hour, &h.Requests, &h.Tokens)
		return h, err
	})
}

func (b *PostgresBackend) QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			model,
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT failed),
			COUNT(*) FILTER (WHERE failed),
			COALESCE(SUM(input_tokens), 0)::BIGINT,
			COALESCE(SUM(output_tokens), 0)::BIGINT,
			COALESCE(SUM(total_tokens), 0)::BIGINT,
			COALESCE(AVG(latency_ms), 0)::FLOAT8
		FROM usage_records
		WHERE requested_at >= $1
		GROUP BY model
		ORDER BY COUNT(*) DESC, model`, since)
	if err != nil {
		return nil, fmt.Errorf("query model stats: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ModelStats, error) {
		var m ModelStats
		err := row.Scan(&m.Model, &m.Requests, &m.SuccessCount, &m.FailureCount,
			&m.InputTokens, &m.OutputTokens, &m.TotalTokens, &m.AvgLatencyMs)
		return m, err
	})
}

func (b *PostgresBackend) QueryFormatStats(ctx context.Context, since time.Time) ([]FormatStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			format,
			COUNT(*),
			COUNT(*) FILTER (WHERE stream),
			COUNT(*) FILTER (WHERE failed),
			COALESCE(SUM(total_tokens), 0)::BIGINT
		FROM usage_records
		WHERE requested_at >= $1
		GROUP BY format
		ORDER BY format`, since)
	if err != nil {
		return nil, fmt.Errorf("query format stats: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (FormatStats, error) {
		var f FormatStats
		err := row.Scan(&f.Format, &f.Requests, &f.Streams, &f.FailureCount, &f.TotalTokens)
		return f, err
	})
}

func (b *PostgresBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM usage_records WHERE requested_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

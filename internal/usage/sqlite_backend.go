package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT '',
	stream BOOLEAN NOT NULL DEFAULT 0,
	status INTEGER NOT NULL DEFAULT 0,
	failed BOOLEAN NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	requested_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);
CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);
`

// SQLiteBackend stores records in a local SQLite file in WAL mode.
type SQLiteBackend struct {
	db   *sql.DB
	path string
	*writeQueue
}

func NewSQLiteBackend(path string, cfg BackendConfig) (*SQLiteBackend, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	b := &SQLiteBackend{db: db, path: path}
	b.writeQueue = newWriteQueue("sqlite", cfg, b.writeBatch, b.Cleanup)
	return b, nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

// Path is the database file in use.
func (b *SQLiteBackend) Path() string { return b.path }

func (b *SQLiteBackend) Start() error {
	b.start()
	return nil
}

func (b *SQLiteBackend) Stop() error {
	b.stop()
	return b.db.Close()
}

func (b *SQLiteBackend) Enqueue(r Record) { b.enqueue(r.normalized()) }

func (b *SQLiteBackend) Flush(ctx context.Context) error { return b.flush(ctx) }

func (b *SQLiteBackend) writeBatch(ctx context.Context, records []Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (
			model, format, stream, status, failed,
			input_tokens, output_tokens, total_tokens, latency_ms, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Model, r.Format, r.Stream, r.Status, r.Failed,
			r.InputTokens, r.OutputTokens, r.TotalTokens, r.Latency.Milliseconds(),
			sqliteTime(r.RequestedAt),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

// sqliteTime renders t in the text form SQLite date functions parse.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

func (b *SQLiteBackend) QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	var s AggregatedStats
	err := b.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= ?`, sqliteTime(since),
	).Scan(&s.TotalRequests, &s.SuccessCount, &s.FailureCount, &s.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("query global stats: %w", err)
	}
	return &s, nil
}

func (b *SQLiteBackend) QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT DATE(requested_at) AS day, COUNT(*), COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY day
		ORDER BY day`, sqliteTime(since))
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var d DailyStats
		var day sql.NullString
		if err := rows.Scan(&day, &d.Requests, &d.Tokens); err != nil {
			return nil, err
		}
		if day.Valid && day.String != "" {
			d.Day = day.String
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) QueryHourlyStats(ctx context.Context, since time.Time) ([]HourlyStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT strftime('%H', requested_at) AS hour, COUNT(*), COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY hour
		ORDER BY hour`, sqliteTime(since))
	if err != nil {
		return nil, fmt.Errorf("query hourly stats: %w", err)
	}
	defer rows.Close()

	var out []HourlyStats
	for rows.Next() {
		var h HourlyStats
		var hour sql.NullString
		if err := rows.Scan(&hour, &h.Requests, &h.Tokens); err != nil {
			return nil, err
		}
		if !hour.Valid {
			continue
		}
		h.Hour, _ = strconv.Atoi(hour.String)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			model,
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(AVG(latency_ms), 0)
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY model
		ORDER BY COUNT(*) DESC, model`, sqliteTime(since))
	if err != nil {
		return nil, fmt.Errorf("query model stats: %w", err)
	}
	defer rows.Close()

	var out []ModelStats
	for rows.Next() {
		var m ModelStats
		if err := rows.Scan(&m.Model, &m.Requests, &m.SuccessCount, &m.FailureCount,
			&m.InputTokens, &m.OutputTokens, &m.TotalTokens, &m.AvgLatencyMs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) QueryFormatStats(ctx context.Context, since time.Time) ([]FormatStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			format,
			COUNT(*),
			COALESCE(SUM(CASE WHEN stream = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY format
		ORDER BY format`, sqliteTime(since))
	if err != nil {
		return nil, fmt.Errorf("query format stats: %w", err)
	}
	defer rows.Close()

	var out []FormatStats
	for rows.Next() {
		var f FormatStats
		if err := rows.Scan(&f.Format, &f.Requests, &f.Streams, &f.FailureCount, &f.TotalTokens); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM usage_records WHERE requested_at < ?`, sqliteTime(before))
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return res.RowsAffected()
}

package history

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/platform/pg"
	"taskscheduler/internal/scheduler"
)

// PostgresStore хранит историю в PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var (
	_ scheduler.HistoryStore = (*PostgresStore)(nil)
	_ scheduler.Pruner       = (*PostgresStore)(nil)
)

// OpenPostgres применяет миграции и открывает пул.
func OpenPostgres(ctx context.Context, dsn string, log *slog.Logger) (*PostgresStore, error) {
	if _, err := pg.ApplyMigrationsFS(dsn, Migrations, postgresMigrationsDir, log); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	pool, err := pg.Connect(ctx, pg.Config{DSN: dsn, ConnectAttempts: 3, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("open history pool: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// NewPostgresStore оборачивает готовый пул. Миграции должны быть применены.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append реализует scheduler.HistoryStore.
func (s *PostgresStore) Append(ctx context.Context, rec scheduler.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (id, task_id, trigger_kind, scheduled_at, started_at, finished_at, status, error_message, output, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.TaskID, string(rec.Trigger), rec.ScheduledAt, rec.StartedAt, rec.FinishedAt,
		string(rec.Status), nullableString(rec.ErrorMessage), rec.Output, rec.Attempts)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Query реализует scheduler.HistoryStore.
func (s *PostgresStore) Query(ctx context.Context, q scheduler.HistoryQuery) ([]scheduler.ExecutionRecord, error) {
	where, args := whereClause(q, func(n int) string { return "$" + strconv.Itoa(n) }, func(v any) any { return v })
	query := selectColumns + where + postgresOrderNewestFirst
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (scheduler.ExecutionRecord, error) {
		var (
			rec             scheduler.ExecutionRecord
			trigger, status string
			errMsg          *string
		)
		err := row.Scan(&rec.ID, &rec.TaskID, &trigger, &rec.ScheduledAt, &rec.StartedAt, &rec.FinishedAt, &status, &errMsg, &rec.Output, &rec.Attempts)
		if err != nil {
			return rec, err
		}
		rec.Trigger = scheduler.Trigger(trigger)
		rec.Status = executor.Status(status)
		if errMsg != nil {
			rec.ErrorMessage = *errMsg
		}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan executions: %w", err)
	}
	return out, nil
}

// Prune реализует scheduler.Pruner.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close закрывает пул.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

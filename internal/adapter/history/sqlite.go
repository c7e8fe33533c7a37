package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"taskscheduler/internal/executor"
	"taskscheduler/internal/platform/sqlite"
	"taskscheduler/internal/scheduler"
)

// SQLiteStore хранит историю в SQLite. Время хранится в наносекундах Unix (UTC).
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ scheduler.HistoryStore = (*SQLiteStore)(nil)
	_ scheduler.Pruner       = (*SQLiteStore)(nil)
)

// OpenSQLite открывает файл базы и применяет миграции.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore применяет миграции к уже открытому соединению.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := sqlite.ApplyMigrationsFS(db, Migrations, sqliteMigrationsDir); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append реализует scheduler.HistoryStore.
func (s *SQLiteStore) Append(ctx context.Context, rec scheduler.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, trigger_kind, scheduled_at, started_at, finished_at, status, error_message, output, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.TaskID, string(rec.Trigger),
		rec.ScheduledAt.UnixNano(), rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
		string(rec.Status), nullableString(rec.ErrorMessage), rec.Output, rec.Attempts)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Query реализует scheduler.HistoryStore.
func (s *SQLiteStore) Query(ctx context.Context, q scheduler.HistoryQuery) ([]scheduler.ExecutionRecord, error) {
	where, args := whereClause(q, func(int) string { return "?" }, unixNanos)
	query := selectColumns + where + sqliteOrderNewestFirst
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []scheduler.ExecutionRecord
	for rows.Next() {
		var (
			rec                          scheduler.ExecutionRecord
			trigger, status              string
			scheduled, started, finished int64
			errMsg                       sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TaskID, &trigger, &scheduled, &started, &finished, &status, &errMsg, &rec.Output, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Trigger = scheduler.Trigger(trigger)
		rec.Status = executor.Status(status)
		rec.ScheduledAt = time.Unix(0, scheduled).UTC()
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.FinishedAt = time.Unix(0, finished).UTC()
		rec.ErrorMessage = errMsg.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Prune реализует scheduler.Pruner.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE finished_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return res.RowsAffected()
}

// Close закрывает соединение.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixNanos(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UnixNano()
	}
	return v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

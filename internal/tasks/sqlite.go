package tasks

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRegistry struct {
	conn   *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (or creates) the task database at path and fails any task
// left unfinished by a previous process.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteRegistry, error) {
	logger = logging.WithComponent(logger, "tasks")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	r := &SQLiteRegistry{conn: conn, logger: logger, now: time.Now}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if n, err := r.markInterrupted(); err != nil {
		logger.Warn("failed to mark interrupted tasks", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted tasks as failed", "count", n)
	}
	return r, nil
}

func (r *SQLiteRegistry) Close() error {
	return r.conn.Close()
}

func (r *SQLiteRegistry) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, m := range entries {
		if m.IsDir() || r.migrationApplied(m.Name()) {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + m.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.Name(), err)
		}
		if _, err := r.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.Name(), err)
		}
		if _, err := r.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", m.Name()); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name(), err)
		}
		r.logger.Info("applied migration", "name", m.Name())
	}
	return nil
}

func (r *SQLiteRegistry) migrationApplied(name string) bool {
	var applied int
	err := r.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

func (r *SQLiteRegistry) markInterrupted() (int64, error) {
	res, err := r.conn.Exec(
		`UPDATE tasks SET status = ?, error = 'interrupted by restart', updated_at = ? WHERE status IN (?, ?)`,
		StatusFailed, r.stamp(), StatusPending, StatusProcessing,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRegistry) Create(ctx context.Context, taskType string, meta map[string]string) (Task, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return Task{}, err
	}
	now := r.now().UTC()
	t := Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  meta,
	}
	_, err = r.conn.ExecContext(ctx,
		`INSERT INTO tasks (id, type, status, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Status, now.Format(timeLayout), now.Format(timeLayout), string(mb),
	)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (r *SQLiteRegistry) SetStatus(ctx context.Context, id string, status Status) error {
	return r.exec(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, r.stamp(), id)
}

func (r *SQLiteRegistry) Complete(ctx context.Context, id string, report types.PipelineReport) error {
	b, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return r.exec(ctx, `UPDATE tasks SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, string(b), r.stamp(), id)
}

func (r *SQLiteRegistry) Fail(ctx context.Context, id, kind, msg string) error {
	return r.exec(ctx, `UPDATE tasks SET status = ?, error = ?, error_kind = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, msg, kind, r.stamp(), id)
}

const selectTask = `SELECT id, type, status, created_at, updated_at, metadata, result, error, error_kind FROM tasks`

func (r *SQLiteRegistry) Get(ctx context.Context, id string) (Task, error) {
	t, err := scanTask(r.conn.QueryRowContext(ctx, selectTask+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (r *SQLiteRegistry) List(ctx context.Context, taskType string) ([]Task, error) {
	q := selectTask
	var args []any
	if taskType != "" {
		q += ` WHERE type = ?`
		args = append(args, taskType)
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (Task, error) {
	var (
		t                Task
		created, updated string
		meta             string
		result           sql.NullString
	)
	if err := s.Scan(&t.ID, &t.Type, &t.Status, &created, &updated, &meta, &result, &t.Error, &t.ErrorKind); err != nil {
		return Task{}, err
	}
	t.CreatedAt, _ = time.Parse(timeLayout, created)
	t.UpdatedAt, _ = time.Parse(timeLayout, updated)
	if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
		return Task{}, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
	}
	if result.Valid {
		var rep types.PipelineReport
		if err := json.Unmarshal([]byte(result.String), &rep); err != nil {
			return Task{}, fmt.Errorf("decode result of %s: %w", t.ID, err)
		}
		t.Result = &rep
	}
	return t, nil
}

func (r *SQLiteRegistry) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.conn.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRegistry) stamp() string {
	return r.now().UTC().Format(timeLayout)
}

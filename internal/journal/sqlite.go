package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"taskclock/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS task_runs (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  task_type TEXT NOT NULL,
  outcome TEXT NOT NULL CHECK(outcome IN ('response','exception')),
  error TEXT NOT NULL DEFAULT '',
  response BLOB,
  delay_ms INTEGER NOT NULL DEFAULT 0,
  execution_ms INTEGER NOT NULL DEFAULT 0,
  next_execute DATETIME,
  recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_runs_recorded ON task_runs(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs(task_id, recorded_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	Record(ctx context.Context, r domain.Run) (string, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Run, error)
	ListByTask(ctx context.Context, taskID string, limit int) ([]domain.Run, error)
	Stats(ctx context.Context) ([]domain.TypeStats, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const runColumns = `id,task_id,task_type,outcome,error,response,delay_ms,execution_ms,next_execute,recorded_at`

func (r *sqliteRepo) Record(ctx context.Context, run domain.Run) (string, error) {
	id := run.ID
	if id == "" {
		id = "run_" + uuid.NewString()
	}
	if run.RecordedAt.IsZero() {
		run.RecordedAt = time.Now()
	}
	var next sql.NullTime
	if run.NextExecute != nil {
		next = sql.NullTime{Time: run.NextExecute.UTC(), Valid: true}
	}
	var resp []byte
	if len(run.Response) > 0 {
		resp = run.Response
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO task_runs (`+runColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, id, run.TaskID, run.TaskType, run.Outcome, run.Error, resp, run.DelayMs, run.ExecutionMs, next, run.RecordedAt.UTC())
	return id, err
}

func (r *sqliteRepo) ListRecent(ctx context.Context, limit int) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM task_runs ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func (r *sqliteRepo) ListByTask(ctx context.Context, taskID string, limit int) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM task_runs WHERE task_id=? ORDER BY recorded_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]domain.Run, error) {
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		var run domain.Run
		var resp []byte
		var next sql.NullTime
		if err := rows.Scan(&run.ID, &run.TaskID, &run.TaskType, &run.Outcome, &run.Error, &resp, &run.DelayMs, &run.ExecutionMs, &next, &run.RecordedAt); err != nil {
			return nil, err
		}
		if len(resp) > 0 {
			run.Response = resp
		}
		if next.Valid {
			t := next.Time
			run.NextExecute = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *sqliteRepo) Stats(ctx context.Context) ([]domain.TypeStats, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT task_type,
       COUNT(*),
       SUM(CASE WHEN outcome='response' THEN 1 ELSE 0 END),
       SUM(CASE WHEN outcome='exception' THEN 1 ELSE 0 END),
       AVG(execution_ms)
FROM task_runs GROUP BY task_type ORDER BY task_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []domain.TypeStats{}
	for rows.Next() {
		var s domain.TypeStats
		if err := rows.Scan(&s.TaskType, &s.Runs, &s.Responses, &s.Exceptions, &s.AvgExecutionMs); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *sqliteRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM task_runs WHERE recorded_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

package repo

import (
	"context"
	"database/sql"
	"time"

	"farmline/internal/domain"
)

type TaskFilters struct {
	UserID      string
	CropID      string
	OnlyPending bool
	Limit       int
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO tasks(id,user_id,crop_id,title,description,due_date,completed,created_at) VALUES (?,?,?,?,?,?,0,?)`,
		t.ID, t.UserID, nullableStringPtr(t.CropID), t.Title, nullable(t.Description), formatTime(t.DueDate), formatTime(t.CreatedAt))
	return err
}

// CompleteTask marks a pending task done. Completing an already completed
// task is a no-op that keeps the original completion time.
func (r Repo) CompleteTask(ctx context.Context, tx *sql.Tx, userID, id string, now time.Time) error {
	res, err := r.execer(tx).ExecContext(ctx, `UPDATE tasks SET completed=1, completed_at=COALESCE(completed_at, ?) WHERE user_id=? AND id=?`,
		formatTime(now), userID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=? AND id=?`, userID, id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	if err := requireUser(f.UserID); err != nil {
		return nil, err
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id=?`
	args := []any{f.UserID}
	if f.CropID != "" {
		query += ` AND crop_id=?`
		args = append(args, f.CropID)
	}
	if f.OnlyPending {
		query += ` AND completed=0`
	}
	query += ` ORDER BY due_date, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskStats counts a user's tasks. A task is overdue when it is not completed
// and its due date is strictly before now.
func (r Repo) TaskStats(ctx context.Context, userID string, now time.Time) (domain.TaskStats, error) {
	if err := requireUser(userID); err != nil {
		return domain.TaskStats{}, err
	}
	var s domain.TaskStats
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN completed=0 THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN completed=1 THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN completed=0 AND due_date < ? THEN 1 ELSE 0 END),0)
FROM tasks WHERE user_id=?`, formatTime(now), userID).Scan(&s.Total, &s.Pending, &s.Completed, &s.Overdue)
	return s, err
}

const taskColumns = `id,user_id,crop_id,title,COALESCE(description,''),due_date,completed,completed_at,created_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                 domain.Task
		cropID, completed sql.NullString
		due, created      string
		done              int
	)
	if err := row.Scan(&t.ID, &t.UserID, &cropID, &t.Title, &t.Description, &due, &done, &completed, &created); err != nil {
		return t, err
	}
	if cropID.Valid {
		t.CropID = &cropID.String
	}
	t.Completed = done == 1
	var err error
	if t.DueDate, err = parseTime(due); err != nil {
		return t, err
	}
	if completed.Valid {
		at, err := parseTime(completed.String)
		if err != nil {
			return t, err
		}
		t.CompletedAt = &at
	}
	t.CreatedAt, err = parseTime(created)
	return t, err
}

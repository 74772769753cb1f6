package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"farmline/internal/domain"
)

// Repo is the SQLite record store. Every read and write is scoped to a user id.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so that lexical order of stored values matches
// temporal order; range filters compare the strings directly.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// rangeClause renders inclusive bounds on column for r.
func rangeClause(column string, r domain.DateRange) (string, []any) {
	var (
		parts []string
		args  []any
	)
	if r.Start != nil {
		parts = append(parts, column+" >= ?")
		args = append(args, formatTime(ceilMillisecond(*r.Start)))
	}
	if r.End != nil {
		parts = append(parts, column+" <= ?")
		args = append(args, formatTime(*r.End))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(parts, " AND "), args
}

// ceilMillisecond rounds t up to the stored precision so a lower bound never
// admits rows from before it.
func ceilMillisecond(t time.Time) time.Time {
	if t.Nanosecond()%int(time.Millisecond) == 0 {
		return t
	}
	return t.Truncate(time.Millisecond).Add(time.Millisecond)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user_id required")
	}
	return nil
}

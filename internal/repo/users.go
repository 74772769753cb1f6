package repo

import (
	"context"
	"database/sql"

	"farmline/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO users(id,email,username,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Email, u.Username, formatTime(u.CreatedAt))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,username,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,username,created_at FROM users WHERE email=?`, email))
}

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u       domain.User
		created string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &created)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.CreatedAt, err = parseTime(created)
	return u, err
}

package repo

import (
	"context"
	"database/sql"
	"time"

	"farmline/internal/domain"
)

const cropColumns = `id,user_id,name,COALESCE(variety,''),status,planting_date,expected_harvest_date,area,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCrop(row rowScanner) (domain.Crop, error) {
	var (
		c                                   domain.Crop
		status                              string
		planting, harvest, created, updated string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Variety, &status, &planting, &harvest, &c.Area, &created, &updated); err != nil {
		return c, err
	}
	c.Status = domain.CropStatus(status)
	var err error
	if c.PlantingDate, err = parseTime(planting); err != nil {
		return c, err
	}
	if c.ExpectedHarvestDate, err = parseTime(harvest); err != nil {
		return c, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return c, err
	}
	c.UpdatedAt, err = parseTime(updated)
	return c, err
}

func (r Repo) InsertCrop(ctx context.Context, tx *sql.Tx, c domain.Crop) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO crops(id,user_id,name,variety,status,planting_date,expected_harvest_date,area,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, c.Name, nullable(c.Variety), string(c.Status),
		formatTime(c.PlantingDate), formatTime(c.ExpectedHarvestDate), c.Area,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return err
}

// FindCropsByUser lists every crop owned by userID, newest first.
func (r Repo) FindCropsByUser(ctx context.Context, userID string) ([]domain.Crop, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+cropColumns+` FROM crops WHERE user_id=? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Crop{}
	for rows.Next() {
		c, err := scanCrop(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) GetCrop(ctx context.Context, userID, id string) (domain.Crop, error) {
	c, err := scanCrop(r.DB.QueryRowContext(ctx, `SELECT `+cropColumns+` FROM crops WHERE user_id=? AND id=?`, userID, id))
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) UpdateCropStatus(ctx context.Context, tx *sql.Tx, userID, id string, status domain.CropStatus, now time.Time) error {
	res, err := r.execer(tx).ExecContext(ctx, `UPDATE crops SET status=?, updated_at=? WHERE user_id=? AND id=?`,
		string(status), formatTime(now), userID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

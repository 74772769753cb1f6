package repo

import (
	"context"
	"database/sql"

	"farmline/internal/domain"
)

const activityColumns = `id,user_id,crop_id,kind,occurred_at,quantity,COALESCE(unit,''),COALESCE(severity,''),COALESCE(description,''),created_at`

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO activities(id,user_id,crop_id,kind,occurred_at,quantity,unit,severity,description,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, a.CropID, string(a.Kind), formatTime(a.OccurredAt), a.Quantity,
		nullable(a.Unit), nullable(a.Severity), nullable(a.Description), formatTime(a.CreatedAt))
	return err
}

// ListActivities returns a user's activities, newest first. An empty kind
// matches every kind.
func (r Repo) ListActivities(ctx context.Context, userID string, kind domain.ActivityKind, rng domain.DateRange) ([]domain.Activity, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE user_id=?`
	args := []any{userID}
	if kind != "" {
		query += ` AND kind=?`
		args = append(args, string(kind))
	}
	clause, rangeArgs := rangeClause("occurred_at", rng)
	query += clause + ` ORDER BY occurred_at DESC, id`
	args = append(args, rangeArgs...)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Activity{}
	for rows.Next() {
		var (
			a                 domain.Activity
			kindStr           string
			occurred, created string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.CropID, &kindStr, &occurred, &a.Quantity, &a.Unit, &a.Severity, &a.Description, &created); err != nil {
			return nil, err
		}
		a.Kind = domain.ActivityKind(kindStr)
		if a.OccurredAt, err = parseTime(occurred); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// kindTotals counts and sums quantity over one activity kind in rng.
func (r Repo) kindTotals(ctx context.Context, userID string, kind domain.ActivityKind, rng domain.DateRange) (int, float64, error) {
	if err := requireUser(userID); err != nil {
		return 0, 0, err
	}
	clause, rangeArgs := rangeClause("occurred_at", rng)
	args := append([]any{userID, string(kind)}, rangeArgs...)
	var (
		count int
		total float64
	)
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(quantity),0) FROM activities WHERE user_id=? AND kind=?`+clause, args...).
		Scan(&count, &total)
	return count, total, err
}

func average(total float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func (r Repo) WaterUsageStats(ctx context.Context, userID string, rng domain.DateRange) (domain.WaterStats, error) {
	count, total, err := r.kindTotals(ctx, userID, domain.ActivityWatering, rng)
	if err != nil {
		return domain.WaterStats{}, err
	}
	return domain.WaterStats{TotalWater: total, Count: count, AveragePerEvent: average(total, count)}, nil
}

func (r Repo) FertilizerUsageStats(ctx context.Context, userID string, rng domain.DateRange) (domain.FertilizerStats, error) {
	count, total, err := r.kindTotals(ctx, userID, domain.ActivityFertilizing, rng)
	if err != nil {
		return domain.FertilizerStats{}, err
	}
	return domain.FertilizerStats{TotalFertilizer: total, Count: count, AveragePerEvent: average(total, count)}, nil
}

func (r Repo) YieldStats(ctx context.Context, userID string, rng domain.DateRange) (domain.YieldStats, error) {
	count, total, err := r.kindTotals(ctx, userID, domain.ActivityHarvest, rng)
	if err != nil {
		return domain.YieldStats{}, err
	}
	return domain.YieldStats{HarvestCount: count, TotalYield: total, AverageYield: average(total, count)}, nil
}

// PestDiseaseStats counts pest and disease observations grouped by severity;
// observations without a severity are reported under "unspecified".
func (r Repo) PestDiseaseStats(ctx context.Context, userID string, rng domain.DateRange) (domain.PestDiseaseStats, error) {
	if err := requireUser(userID); err != nil {
		return domain.PestDiseaseStats{}, err
	}
	clause, rangeArgs := rangeClause("occurred_at", rng)
	args := append([]any{userID, string(domain.ActivityPestDisease)}, rangeArgs...)
	rows, err := r.DB.QueryContext(ctx, `SELECT COALESCE(NULLIF(severity,''),'unspecified'), COUNT(*) FROM activities WHERE user_id=? AND kind=?`+clause+` GROUP BY 1`, args...)
	if err != nil {
		return domain.PestDiseaseStats{}, err
	}
	defer rows.Close()
	stats := domain.PestDiseaseStats{BySeverity: map[string]int{}}
	for rows.Next() {
		var (
			severity string
			n        int
		)
		if err := rows.Scan(&severity, &n); err != nil {
			return domain.PestDiseaseStats{}, err
		}
		stats.BySeverity[severity] = n
		stats.Count += n
	}
	return stats, rows.Err()
}

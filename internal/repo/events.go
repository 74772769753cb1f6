package repo

import (
	"context"

	"farmline/internal/domain"
)

// LatestEvents returns the most recent audit events for a user, newest first.
func (r Repo) LatestEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,user_id,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE user_id=? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.UserID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit events inside the caller's transaction so an event is
// only recorded when the write it describes commits.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, userID, entityKind, entityID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, userID, entityKind, nullable(entityID), string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

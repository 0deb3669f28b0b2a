package domain

import (
	"encoding/json"
	"time"
)

// ChangeType is the kind of row change
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Tables the dashboards read from
const (
	TableBookings  = "bookings"
	TableMembers   = "members"
	TableResources = "resources"
	TablePayments  = "payments"
	TableUserRoles = "user_roles"
)

// ChangeEvent is one row change on the change feed
type ChangeEvent struct {
	ID         string          `json:"id"`
	Table      string          `json:"table"`
	Type       ChangeType      `json:"type"`
	Record     json.RawMessage `json:"record,omitempty"`
	OldRecord  json.RawMessage `json:"old_record,omitempty"`
	CommitTime time.Time       `json:"commit_time"`
}

// Column returns a top-level string column from the new record, falling back
// to the old record for deletes
func (e *ChangeEvent) Column(name string) (string, bool) {
	for _, raw := range []json.RawMessage{e.Record, e.OldRecord} {
		if len(raw) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		if v, ok := row[name].(string); ok {
			return v, true
		}
	}
	return "", false
}

// NewChangeEvent builds an event from typed rows; old may be nil
func NewChangeEvent(id, table string, typ ChangeType, record, old any, at time.Time) (*ChangeEvent, error) {
	ev := &ChangeEvent{ID: id, Table: table, Type: typ, CommitTime: at}
	if record != nil {
		b, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		ev.Record = b
	}
	if old != nil {
		b, err := json.Marshal(old)
		if err != nil {
			return nil, err
		}
		ev.OldRecord = b
	}
	return ev, nil
}

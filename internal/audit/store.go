// Package audit keeps the append-only record of every state-changing action
// taken on a booking.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry is one immutable audit row.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	EventID    *uuid.UUID      `json:"event_id,omitempty"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Action     string          `json:"action"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists audit entries in Postgres. There is no update or delete.
type Store struct {
	pool querier
}

func NewStore(pool querier) *Store {
	if pool == nil {
		panic("audit: pgx pool required")
	}
	return &Store{pool: pool}
}

// Record appends an entry. An entry carrying an event id already recorded is
// ignored, so a redelivered event never produces a second row.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (
			id, event_id, actor_id, entity_type, entity_id,
			action, before, after, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`,
		e.ID,
		e.EventID,
		e.ActorID,
		e.EntityType,
		e.EntityID,
		e.Action,
		nullJSON(e.Before),
		nullJSON(e.After),
		nullString(e.Reason),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: record %s %s: %w", e.EntityType, e.Action, err)
	}
	return nil
}

// ListForEntity returns the trail for one entity, oldest first.
func (s *Store) ListForEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, actor_id, entity_type, entity_id, action,
		       before, after, COALESCE(reason, ''), created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, id
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("audit: list %s: %w", entityType, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.EventID, &e.ActorID, &e.EntityType, &e.EntityID, &e.Action,
			&before, &after, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(before) > 0 {
			e.Before = json.RawMessage(before)
		}
		if len(after) > 0 {
			e.After = json.RawMessage(after)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return []byte(v)
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

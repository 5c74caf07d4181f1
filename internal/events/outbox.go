package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-booking/pkg/logging"
)

// Entry is one row of the outbox.
type Entry struct {
	ID          uuid.UUID
	Type        string
	AggregateID uuid.UUID
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// Decode unmarshals the payload into v.
func (e Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("events: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Execer is satisfied by pgx pools and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Write inserts an event using exec, normally the transaction that made the
// state change, so the event commits or rolls back with it.
func Write(ctx context.Context, exec Execer, eventType string, aggregateID uuid.UUID, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	_, err = exec.Exec(ctx, `
		INSERT INTO outbox (id, type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, id, eventType, aggregateID, data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

type outboxQuerier interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore reads pending events for delivery.
type OutboxStore struct {
	pool  outboxQuerier
	lease time.Duration
}

func NewOutboxStore(pool outboxQuerier) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool, lease: 5 * time.Minute}
}

// WithLease sets how long a claimed entry stays hidden before another
// deliverer may pick it up again.
func (s *OutboxStore) WithLease(lease time.Duration) *OutboxStore {
	if lease > 0 {
		s.lease = lease
	}
	return s
}

func (s *OutboxStore) Insert(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) (uuid.UUID, error) {
	return Write(ctx, s.pool, eventType, aggregateID, payload)
}

// ClaimPending leases up to limit undelivered entries and returns them.
// Entries stay pending until MarkDelivered, so a deliverer that dies mid-batch
// leaves them to be claimed again once the lease lapses. SKIP LOCKED lets
// several deliverers share the table.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int32) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox
		SET claimed_until = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE delivered_at IS NULL
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, aggregate_id, payload, created_at
	`, limit, s.lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("events: claim pending: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.AggregateID, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByCreated(entries)
	return entries, nil
}

// MarkDelivered closes out entries that have been dispatched.
func (s *OutboxStore) MarkDelivered(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET delivered_at = now(), claimed_until = NULL
		WHERE id = ANY($1::uuid[])
	`, keys)
	if err != nil {
		return fmt.Errorf("events: mark delivered: %w", err)
	}
	return nil
}

func sortByCreated(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

type claimer interface {
	ClaimPending(ctx context.Context, limit int32) ([]Entry, error)
	MarkDelivered(ctx context.Context, ids []uuid.UUID) error
}

// Deliverer polls the outbox and hands entries to the dispatcher.
type Deliverer struct {
	store      claimer
	dispatcher *Dispatcher
	logger     *logging.Logger
	batchSize  int32
	interval   time.Duration
}

func NewDeliverer(store claimer, dispatcher *Dispatcher, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		batchSize:  25,
		interval:   2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.dispatcher == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch and reports how many entries it handled.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.ClaimPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox claim failed", "error", err)
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		d.dispatcher.Dispatch(ctx, entry)
		ids = append(ids, entry.ID)
	}
	// Unmarked entries come back once their lease lapses.
	if err := d.store.MarkDelivered(ctx, ids); err != nil {
		d.logger.Error("outbox mark delivered failed", "error", err, "count", len(ids))
	}
	return len(entries)
}

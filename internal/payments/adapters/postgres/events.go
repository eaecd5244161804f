package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

const eventColumns = `event_id, type, session_ref, status, attempts, failure_step, last_error, order_id, created_at, updated_at`

// EventLedger stores one row per provider notification id.
type EventLedger struct {
	pool *pgxpool.Pool
}

func NewEventLedger(pool *pgxpool.Pool) *EventLedger {
	return &EventLedger{pool: pool}
}

// RecordArrival inserts the event or bumps its attempt counter, returning the stored row.
func (l *EventLedger) RecordArrival(ctx context.Context, eventID, eventType, sessionRef string) (*domain.EventEntry, error) {
	query := `
		INSERT INTO payment_events (event_id, type, session_ref, status, attempts)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (event_id) DO UPDATE
		SET attempts = payment_events.attempts + 1, updated_at = NOW()
		RETURNING ` + eventColumns

	entry, err := scanEvent(l.pool.QueryRow(ctx, query, eventID, eventType, sessionRef, domain.EventReceived))
	if err != nil {
		return nil, fmt.Errorf("record event arrival: %w", err)
	}
	return entry, nil
}

func (l *EventLedger) MarkProcessing(ctx context.Context, eventID, orderID string) error {
	query := `
		UPDATE payment_events
		SET status = $2, order_id = $3, updated_at = NOW()
		WHERE event_id = $1 AND status <> $4
	`

	if _, err := l.pool.Exec(ctx, query, eventID, domain.EventProcessing, orderID, domain.EventProcessed); err != nil {
		return fmt.Errorf("mark event processing: %w", err)
	}
	return nil
}

// Finalize writes the terminal status. A processed row is never rewritten.
func (l *EventLedger) Finalize(ctx context.Context, eventID string, status domain.EventStatus, details domain.EventDetails) error {
	query := `
		UPDATE payment_events
		SET status = $2,
		    order_id = COALESCE(NULLIF($3, ''), order_id),
		    failure_step = $4,
		    last_error = $5,
		    updated_at = NOW()
		WHERE event_id = $1 AND status <> $6
	`

	_, err := l.pool.Exec(ctx, query,
		eventID,
		status,
		details.OrderID,
		details.FailureStep,
		details.LastError,
		domain.EventProcessed,
	)
	if err != nil {
		return fmt.Errorf("finalize event: %w", err)
	}
	return nil
}

func (l *EventLedger) Get(ctx context.Context, eventID string) (*domain.EventEntry, error) {
	query := `SELECT ` + eventColumns + ` FROM payment_events WHERE event_id = $1`
	entry, err := scanEvent(l.pool.QueryRow(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select event: %w", err)
	}
	return entry, nil
}

func scanEvent(row pgx.Row) (*domain.EventEntry, error) {
	var e domain.EventEntry
	err := row.Scan(
		&e.EventID,
		&e.Type,
		&e.SessionRef,
		&e.Status,
		&e.Attempts,
		&e.FailureStep,
		&e.LastError,
		&e.OrderID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

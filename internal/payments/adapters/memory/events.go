package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// EventLedger keeps notification entries in memory.
type EventLedger struct {
	mu      sync.Mutex
	entries map[string]domain.EventEntry
}

// NewEventLedger creates an empty ledger.
func NewEventLedger() *EventLedger {
	return &EventLedger{entries: make(map[string]domain.EventEntry)}
}

func (l *EventLedger) RecordArrival(_ context.Context, eventID, eventType, sessionRef string) (*domain.EventEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	entry, ok := l.entries[eventID]
	if !ok {
		entry = domain.EventEntry{
			EventID:    eventID,
			Type:       eventType,
			SessionRef: sessionRef,
			Status:     domain.EventReceived,
			CreatedAt:  now,
		}
	}
	entry.Attempts++
	entry.UpdatedAt = now
	l.entries[eventID] = entry

	copy := entry
	return &copy, nil
}

func (l *EventLedger) MarkProcessing(_ context.Context, eventID, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[eventID]
	if !ok || entry.Status == domain.EventProcessed {
		return nil
	}
	entry.Status = domain.EventProcessing
	entry.OrderID = orderID
	entry.UpdatedAt = time.Now().UTC()
	l.entries[eventID] = entry
	return nil
}

func (l *EventLedger) Finalize(_ context.Context, eventID string, status domain.EventStatus, details domain.EventDetails) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[eventID]
	if !ok || entry.Status == domain.EventProcessed {
		return nil
	}
	entry.Status = status
	if details.OrderID != "" {
		entry.OrderID = details.OrderID
	}
	entry.FailureStep = details.FailureStep
	entry.LastError = details.LastError
	entry.UpdatedAt = time.Now().UTC()
	l.entries[eventID] = entry
	return nil
}

func (l *EventLedger) Get(_ context.Context, eventID string) (*domain.EventEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[eventID]
	if !ok {
		return nil, nil
	}
	copy := entry
	return &copy, nil
}

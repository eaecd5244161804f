package memory

import (
	"context"
	"sync"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

// PaymentLedger is an append-only in-memory ledger.
type PaymentLedger struct {
	mu      sync.Mutex
	entries []domain.PaymentLedgerEntry
	seen    map[string]struct{}
}

// NewPaymentLedger creates an empty ledger.
func NewPaymentLedger() *PaymentLedger {
	return &PaymentLedger{seen: make(map[string]struct{})}
}

func (l *PaymentLedger) Append(_ context.Context, entry domain.PaymentLedgerEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[entry.TransactionID]; ok {
		return false, nil
	}
	l.seen[entry.TransactionID] = struct{}{}
	l.entries = append(l.entries, entry)
	return true, nil
}

func (l *PaymentLedger) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentLedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var result []domain.PaymentLedgerEntry
	for _, e := range l.entries {
		if e.OrderID == orderID {
			result = append(result, e)
		}
	}
	return result, nil
}

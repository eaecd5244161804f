package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/domain"
)

type invoiceRecord struct {
	invoice  *domain.Invoice
	leaseID  string
	lockedAt time.Time
}

// InvoiceStore keeps invoices keyed by idempotency key.
type InvoiceStore struct {
	mu      sync.Mutex
	records map[string]*invoiceRecord
}

// NewInvoiceStore creates an empty store.
func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{records: make(map[string]*invoiceRecord)}
}

func (s *InvoiceStore) GetByKey(_ context.Context, key string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.invoice == nil {
		return nil, nil
	}
	copy := *rec.invoice
	return &copy, nil
}

func (s *InvoiceStore) AcquireIssueLock(_ context.Context, key, _, leaseID string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		s.records[key] = &invoiceRecord{leaseID: leaseID, lockedAt: now}
		return true, nil
	}
	if rec.invoice != nil {
		return false, nil
	}
	if rec.leaseID != "" && !rec.lockedAt.Before(staleBefore) {
		return false, nil
	}
	rec.leaseID = leaseID
	rec.lockedAt = now
	return true, nil
}

func (s *InvoiceStore) MarkIssued(_ context.Context, invoice domain.Invoice, leaseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[invoice.IdempotencyKey]
	if !ok || rec.invoice != nil || rec.leaseID != leaseID {
		return false, nil
	}
	copy := invoice
	rec.invoice = &copy
	rec.leaseID = ""
	return true, nil
}

func (s *InvoiceStore) ReleaseIssueLock(_ context.Context, key, leaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.leaseID == leaseID {
		rec.leaseID = ""
	}
	return nil
}

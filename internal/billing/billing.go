// Package billing is the collaborator contract with the billing ledger.
// The workflow's responsibility ends at a finalized customer total and
// per-item allocations; posting the charge happens here, triggered by (not
// inside) the workflow.
package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/ids"
)

// Charge is one posted customer charge in minor units.
type Charge struct {
	ID          string       `json:"id"`
	QuoteID     string       `json:"quote_id"`
	AccountID   string       `json:"account_id"`
	AmountCents int64        `json:"amount_cents"`
	Items       []ChargeItem `json:"items,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ChargeItem is the per-item share of a charge.
type ChargeItem struct {
	ItemID      string `json:"item_id"`
	AmountCents int64  `json:"amount_cents"`
}

var (
	ErrInvalidAmount = errors.New("invalid amount (must be > 0)")
	ErrMissingQuote  = errors.New("quote id is required")
)

// Ledger posts customer charges. PostCharge is idempotent by quote id: an
// accepted quote bills exactly once no matter how often the trigger fires.
type Ledger interface {
	PostCharge(ctx context.Context, c Charge) (Charge, error)
	ListCharges(ctx context.Context) ([]Charge, error)
}

// InMemory implements Ledger with in-process concurrency safety.
type InMemory struct {
	mu      sync.Mutex
	charges []Charge
	byQuote map[string]Charge
}

var _ Ledger = (*InMemory)(nil)

// NewInMemory creates a fresh ledger.
func NewInMemory() *InMemory {
	return &InMemory{byQuote: make(map[string]Charge)}
}

func (l *InMemory) PostCharge(ctx context.Context, c Charge) (Charge, error) {
	if c.QuoteID == "" {
		return Charge{}, ErrMissingQuote
	}
	if c.AmountCents <= 0 {
		return Charge{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byQuote[c.QuoteID]; ok {
		return existing, nil
	}

	c.ID = ids.New()
	c.CreatedAt = time.Now().UTC()
	l.charges = append(l.charges, c)
	l.byQuote[c.QuoteID] = c
	return c, nil
}

func (l *InMemory) ListCharges(ctx context.Context) ([]Charge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Charge, len(l.charges))
	copy(out, l.charges)
	return out, nil
}

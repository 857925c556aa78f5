package quote

import (
	"context"
	"sync"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/audit"
)

// InMemory implements Store and TechnicianDirectory with in-process
// concurrency safety. The pg store is the durable counterpart; this one
// backs tests and the smoke binary.
type InMemory struct {
	mu     sync.Mutex
	quotes map[string]*RepairQuote
	audits map[string][]audit.Entry
	techs  map[string]Technician
}

var (
	_ Store               = (*InMemory)(nil)
	_ TechnicianDirectory = (*InMemory)(nil)
)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		quotes: make(map[string]*RepairQuote),
		audits: make(map[string][]audit.Entry),
		techs:  make(map[string]Technician),
	}
}

// PutTechnician seeds or replaces a directory entry.
func (s *InMemory) PutTechnician(t Technician) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.techs[t.ID] = t
}

func (s *InMemory) GetTechnician(ctx context.Context, id string) (Technician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.techs[id]
	if !ok {
		return Technician{}, ErrNotFound
	}
	return t, nil
}

func (s *InMemory) ListActiveTechnicians(ctx context.Context) ([]Technician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Technician
	for _, t := range s.techs {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *InMemory) CreateQuote(ctx context.Context, q RepairQuote, e audit.Entry) (RepairQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.quotes[q.ID]; exists {
		return RepairQuote{}, ErrConcurrencyLost
	}
	stored := cloneQuote(&q)
	stored.Version = 1
	s.quotes[q.ID] = stored
	s.appendLocked(e)
	return *cloneQuote(stored), nil
}

func (s *InMemory) GetQuote(ctx context.Context, id string) (RepairQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return RepairQuote{}, ErrNotFound
	}
	return *cloneQuote(q), nil
}

func (s *InMemory) UpdateQuote(ctx context.Context, id string, fn func(*RepairQuote) (audit.Entry, error)) (RepairQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.quotes[id]
	if !ok {
		return RepairQuote{}, ErrNotFound
	}

	working := cloneQuote(current)
	e, err := fn(working)
	if err != nil {
		return RepairQuote{}, err
	}
	working.Version = current.Version + 1
	s.quotes[id] = working
	s.appendLocked(e)
	return *cloneQuote(working), nil
}

func (s *InMemory) AppendAudit(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(e)
	return nil
}

func (s *InMemory) ListAudit(ctx context.Context, quoteID string, limit int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trail := s.audits[quoteID]
	if limit <= 0 || limit > len(trail) {
		limit = len(trail)
	}
	out := make([]audit.Entry, limit)
	copy(out, trail[:limit])
	return out, nil
}

func (s *InMemory) appendLocked(e audit.Entry) {
	e.Seq = int64(len(s.audits[e.QuoteID]) + 1)
	s.audits[e.QuoteID] = append(s.audits[e.QuoteID], e)
}

func cloneQuote(q *RepairQuote) *RepairQuote {
	out := *q
	if len(q.Items) > 0 {
		out.Items = make([]RepairQuoteItem, len(q.Items))
		copy(out.Items, q.Items)
		for i := range out.Items {
			if len(q.Items[i].PhotoRefs) > 0 {
				out.Items[i].PhotoRefs = append([]string(nil), q.Items[i].PhotoRefs...)
			}
		}
	}
	return &out
}

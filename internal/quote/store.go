package quote

import (
	"context"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/audit"
)

// Store is the durable home of quotes and their audit trails. Coordination
// between uncoordinated actors happens through the store's atomicity, not
// through application-level locks held across requests.
type Store interface {
	// CreateQuote persists a new quote with its items and the creation
	// audit entry in one atomic write.
	CreateQuote(ctx context.Context, q RepairQuote, e audit.Entry) (RepairQuote, error)

	// GetQuote loads a quote with its items.
	GetQuote(ctx context.Context, id string) (RepairQuote, error)

	// UpdateQuote is the single atomic read-modify-write every transition
	// goes through: it loads the current row, applies fn to a private copy
	// and persists the mutated quote together with the returned audit
	// entry. When fn returns an error nothing is persisted.
	UpdateQuote(ctx context.Context, id string, fn func(*RepairQuote) (audit.Entry, error)) (RepairQuote, error)

	// AppendAudit records an entry outside a transition, used for rejected
	// attempts that are themselves workflow-relevant.
	AppendAudit(ctx context.Context, e audit.Entry) error

	// ListAudit returns a quote's trail oldest-first.
	ListAudit(ctx context.Context, quoteID string, limit int) ([]audit.Entry, error)
}

// TechnicianDirectory is the injected read-only view of the technician
// roster, including each technician's account-level markup percent.
type TechnicianDirectory interface {
	GetTechnician(ctx context.Context, id string) (Technician, error)
	ListActiveTechnicians(ctx context.Context) ([]Technician, error)
}

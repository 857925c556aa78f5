package quote

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/audit"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/ids"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/obs"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/token"
)

// Workflow composes the state machine, token issuer, markup calculator and
// audit writer into the operations callable by the staff UI and the two
// external entry points. It is the only way a quote mutates.
type Workflow struct {
	store   Store
	techs   TechnicianDirectory
	tokens  *token.Issuer
	baseURL string
	now     func() time.Time
}

// NewWorkflow wires the orchestrator. baseURL is the public origin used to
// build external links, e.g. "https://app.example.com".
func NewWorkflow(store Store, techs TechnicianDirectory, tokens *token.Issuer, baseURL string) *Workflow {
	return &Workflow{
		store:   store,
		techs:   techs,
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// CreateQuoteInput describes a new damage case.
type CreateQuoteInput struct {
	AccountID    string
	Sidemark     string
	SourceTaskID string
	Items        []QuoteItemInput
}

// QuoteItemInput references one damaged inventory item.
type QuoteItemInput struct {
	ItemID            string
	DamageDescription string
	PhotoRefs         []string
}

// SendResult carries the freshly issued token and link out of a send
// operation so the calling layer can deliver it. The workflow itself never
// performs delivery.
type SendResult struct {
	Quote     RepairQuote
	Token     string
	Link      string
	ExpiresAt time.Time
}

// CreateQuote opens a new draft case.
func (w *Workflow) CreateQuote(ctx context.Context, in CreateQuoteInput, actor Actor) (RepairQuote, error) {
	accountID := strings.TrimSpace(in.AccountID)
	if accountID == "" {
		return RepairQuote{}, errors.New("account_id is required")
	}
	if len(in.Items) == 0 {
		return RepairQuote{}, errors.New("at least one item is required")
	}

	q := RepairQuote{
		ID:           ids.New(),
		AccountID:    accountID,
		Sidemark:     strings.TrimSpace(in.Sidemark),
		SourceTaskID: strings.TrimSpace(in.SourceTaskID),
		Status:       StatusDraft,
		CreatedAt:    w.now().UTC(),
	}
	for i, item := range in.Items {
		q.Items = append(q.Items, RepairQuoteItem{
			ID:                ids.New(),
			QuoteID:           q.ID,
			ItemID:            strings.TrimSpace(item.ItemID),
			DamageDescription: strings.TrimSpace(item.DamageDescription),
			PhotoRefs:         item.PhotoRefs,
			Position:          i,
		})
	}

	e := audit.New(q.ID, ActionQuoteCreated, actor.ID, actor.Name, actor.Role, map[string]string{
		"account_id": accountID,
		"items":      strconv.Itoa(len(q.Items)),
	})
	created, err := w.store.CreateQuote(ctx, q, e)
	if err != nil {
		return RepairQuote{}, err
	}
	audit.Mirror(e)
	obs.ObserveTransition(ActionQuoteCreated, "ok")
	return created, nil
}

// GetQuote loads a quote with its items.
func (w *Workflow) GetQuote(ctx context.Context, id string) (RepairQuote, error) {
	return w.store.GetQuote(ctx, id)
}

// AuditTrail returns a quote's audit entries oldest-first.
func (w *Workflow) AuditTrail(ctx context.Context, id string, limit int) ([]audit.Entry, error) {
	if _, err := w.store.GetQuote(ctx, id); err != nil {
		return nil, err
	}
	return w.store.ListAudit(ctx, id, limit)
}

// ListActiveTechnicians exposes the injected directory to callers.
func (w *Workflow) ListActiveTechnicians(ctx context.Context) ([]Technician, error) {
	return w.techs.ListActiveTechnicians(ctx)
}

// AssignTechnician sets the technician on a draft quote.
func (w *Workflow) AssignTechnician(ctx context.Context, quoteID, technicianID string, actor Actor) (RepairQuote, error) {
	tech, err := w.techs.GetTechnician(ctx, strings.TrimSpace(technicianID))
	if err != nil {
		return RepairQuote{}, err
	}
	return w.transition(ctx, quoteID, ActionTechnicianAssigned, actor, func(q *RepairQuote) (audit.Entry, error) {
		return assignTechnician(q, tech, actor)
	})
}

// SendToTech issues a technician token and moves the quote to
// sent_to_tech. Re-sending overwrites the stored token id, so any earlier
// technician link stops resolving.
func (w *Workflow) SendToTech(ctx context.Context, quoteID string, actor Actor) (SendResult, error) {
	signed, tokenID, expiresAt, err := w.tokens.Issue(quoteID, token.PhaseTech)
	if err != nil {
		return SendResult{}, err
	}
	q, err := w.transition(ctx, quoteID, ActionSentToTech, actor, func(q *RepairQuote) (audit.Entry, error) {
		return markSentToTech(q, tokenID, expiresAt, actor)
	})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{
		Quote:     q,
		Token:     signed,
		Link:      w.externalLink("/quote/tech", signed),
		ExpiresAt: expiresAt,
	}, nil
}

// SubmitTechQuote is the technician's terminal submit over the link. The
// markup percent is read from the directory now and frozen onto the quote;
// token validity and consumption are checked inside the same atomic store
// update as the transition, so concurrent submissions have exactly one
// winner.
func (w *Workflow) SubmitTechQuote(ctx context.Context, signedToken string, sub TechSubmission) (RepairQuote, error) {
	grant, err := w.resolve(signedToken, token.PhaseTech)
	if err != nil {
		return RepairQuote{}, err
	}
	current, err := w.store.GetQuote(ctx, grant.QuoteID)
	if err != nil {
		return RepairQuote{}, err
	}
	markup := 0.0
	if current.TechnicianID != "" {
		tech, err := w.techs.GetTechnician(ctx, current.TechnicianID)
		if err != nil {
			return RepairQuote{}, err
		}
		markup = tech.MarkupPercent
	}
	return w.transition(ctx, grant.QuoteID, ActionTechSubmitted, TechnicianActor(), func(q *RepairQuote) (audit.Entry, error) {
		return applyTechSubmission(q, grant.TokenID, sub, markup, w.now())
	})
}

// DeclineTechQuote is the technician's terminal decline over the link.
func (w *Workflow) DeclineTechQuote(ctx context.Context, signedToken, reason string) (RepairQuote, error) {
	grant, err := w.resolve(signedToken, token.PhaseTech)
	if err != nil {
		return RepairQuote{}, err
	}
	return w.transition(ctx, grant.QuoteID, ActionTechDeclined, TechnicianActor(), func(q *RepairQuote) (audit.Entry, error) {
		return applyTechDecline(q, grant.TokenID, strings.TrimSpace(reason), w.now())
	})
}

// MarkUnderReview moves a submitted quote into internal review.
func (w *Workflow) MarkUnderReview(ctx context.Context, quoteID string, actor Actor) (RepairQuote, error) {
	return w.transition(ctx, quoteID, ActionUnderReview, actor, func(q *RepairQuote) (audit.Entry, error) {
		return markUnderReview(q, actor)
	})
}

// SendToClient issues a client token and moves the quote to sent_to_client.
func (w *Workflow) SendToClient(ctx context.Context, quoteID string, actor Actor) (SendResult, error) {
	signed, tokenID, expiresAt, err := w.tokens.Issue(quoteID, token.PhaseClient)
	if err != nil {
		return SendResult{}, err
	}
	q, err := w.transition(ctx, quoteID, ActionSentToClient, actor, func(q *RepairQuote) (audit.Entry, error) {
		return markSentToClient(q, tokenID, expiresAt, actor)
	})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{
		Quote:     q,
		Token:     signed,
		Link:      w.externalLink("/quote/review", signed),
		ExpiresAt: expiresAt,
	}, nil
}

// AcceptQuote is the client's terminal accept over the link.
func (w *Workflow) AcceptQuote(ctx context.Context, signedToken string) (RepairQuote, error) {
	grant, err := w.resolve(signedToken, token.PhaseClient)
	if err != nil {
		return RepairQuote{}, err
	}
	return w.transition(ctx, grant.QuoteID, ActionAccepted, ClientActor(), func(q *RepairQuote) (audit.Entry, error) {
		return applyClientAccept(q, grant.TokenID, w.now())
	})
}

// DeclineQuote is the client's terminal decline over the link.
func (w *Workflow) DeclineQuote(ctx context.Context, signedToken, reason string) (RepairQuote, error) {
	grant, err := w.resolve(signedToken, token.PhaseClient)
	if err != nil {
		return RepairQuote{}, err
	}
	return w.transition(ctx, grant.QuoteID, ActionDeclined, ClientActor(), func(q *RepairQuote) (audit.Entry, error) {
		return applyClientDecline(q, grant.TokenID, strings.TrimSpace(reason), w.now())
	})
}

// Close is the manual close/cancel, legal from any non-terminal state.
func (w *Workflow) Close(ctx context.Context, quoteID, reason string, actor Actor) (RepairQuote, error) {
	return w.transition(ctx, quoteID, ActionClosed, actor, func(q *RepairQuote) (audit.Entry, error) {
		return closeQuote(q, strings.TrimSpace(reason), actor, w.now())
	})
}

// ResolveTechLink loads the quote behind a live technician link for the
// single-use submission form.
func (w *Workflow) ResolveTechLink(ctx context.Context, signedToken string) (RepairQuote, error) {
	return w.resolveView(ctx, signedToken, token.PhaseTech)
}

// ResolveClientLink loads the quote behind a live client link for the
// read-only review view.
func (w *Workflow) ResolveClientLink(ctx context.Context, signedToken string) (RepairQuote, error) {
	return w.resolveView(ctx, signedToken, token.PhaseClient)
}

func (w *Workflow) resolveView(ctx context.Context, signedToken string, phase token.Phase) (RepairQuote, error) {
	grant, err := w.resolve(signedToken, phase)
	if err != nil {
		return RepairQuote{}, err
	}
	q, err := w.store.GetQuote(ctx, grant.QuoteID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RepairQuote{}, token.ErrTokenInvalid
		}
		return RepairQuote{}, err
	}
	// A consumed or superseded link stops rendering, same as a garbage one.
	if err := checkPhaseToken(&q, phase, grant.TokenID, w.now()); err != nil {
		obs.ObserveTokenRejection()
		return RepairQuote{}, err
	}
	return q, nil
}

// resolve validates the signed token shape, signature, expiry and phase.
func (w *Workflow) resolve(signedToken string, phase token.Phase) (token.Grant, error) {
	grant, err := w.tokens.Resolve(signedToken)
	if err != nil {
		obs.ObserveTokenRejection()
		return token.Grant{}, err
	}
	if grant.Phase != phase {
		obs.ObserveTokenRejection()
		return token.Grant{}, token.ErrTokenInvalid
	}
	return grant, nil
}

// transition funnels every mutation through the store's atomic
// read-modify-write, records metrics, and audits guard rejections with
// their own action codes so refused attempts stay visible to staff.
func (w *Workflow) transition(ctx context.Context, quoteID, op string, actor Actor, fn func(*RepairQuote) (audit.Entry, error)) (RepairQuote, error) {
	var applied audit.Entry
	q, err := w.store.UpdateQuote(ctx, quoteID, func(q *RepairQuote) (audit.Entry, error) {
		e, err := fn(q)
		if err != nil {
			return audit.Entry{}, err
		}
		applied = e
		return e, nil
	})
	if err != nil {
		w.recordRejection(ctx, quoteID, op, actor, err)
		return RepairQuote{}, err
	}
	audit.Mirror(applied)
	obs.ObserveTransition(op, "ok")
	return q, nil
}

func (w *Workflow) recordRejection(ctx context.Context, quoteID, op string, actor Actor, cause error) {
	guard := GuardCode(cause)
	outcome := guard
	if outcome == "" {
		switch {
		case errors.Is(cause, ErrNotFound):
			outcome = "not_found"
		case errors.Is(cause, ErrConcurrencyLost):
			outcome = "concurrency_lost"
		case errors.Is(cause, token.ErrTokenInvalid):
			outcome = "token_invalid"
		default:
			outcome = "error"
		}
	}
	obs.ObserveTransition(op, outcome)
	if guard == "" {
		return
	}

	action := ActionTransitionRejected
	if errors.Is(cause, token.ErrTokenInvalid) {
		action = ActionTokenRejected
		obs.ObserveTokenRejection()
	}
	e := audit.New(quoteID, action, actor.ID, actor.Name, actor.Role, map[string]string{
		"operation": op,
		"guard":     guard,
	})
	if err := w.store.AppendAudit(ctx, e); err == nil {
		audit.Mirror(e)
	}
}

func (w *Workflow) externalLink(path, signedToken string) string {
	return w.baseURL + path + "?token=" + url.QueryEscape(signedToken)
}


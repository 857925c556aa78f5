package quote

import (
	"strconv"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/audit"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/token"
)

// transitions is the authoritative adjacency table. Close is reachable from
// every non-terminal state, so StatusClosed appears in every row.
var transitions = map[Status][]Status{
	StatusDraft:         {StatusSentToTech, StatusClosed},
	StatusSentToTech:    {StatusTechSubmitted, StatusTechDeclined, StatusClosed},
	StatusTechSubmitted: {StatusUnderReview, StatusSentToClient, StatusClosed},
	StatusTechDeclined:  {StatusClosed},
	StatusUnderReview:   {StatusSentToTech, StatusSentToClient, StatusClosed},
	StatusSentToClient:  {StatusAccepted, StatusDeclined, StatusClosed},
	StatusAccepted:      {StatusClosed},
	StatusDeclined:      {StatusClosed},
	StatusClosed:        {},
}

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionTo(q *RepairQuote, to Status) error {
	if q.Status.Terminal() {
		return reject(ErrInvalidTransition, GuardQuoteClosed)
	}
	if !CanTransition(q.Status, to) {
		return reject(ErrInvalidTransition, GuardIllegalTransition)
	}
	q.Status = to
	return nil
}

// checkPhaseToken validates the presented token id against the quote's
// stored token state for the phase. Mismatch, prior consumption and expiry
// all unwrap to token.ErrTokenInvalid; the guard code stays internal.
func checkPhaseToken(q *RepairQuote, phase token.Phase, tokenID string, now time.Time) error {
	var storedID string
	var used bool
	switch phase {
	case token.PhaseTech:
		storedID, used = q.TechTokenID, q.TechTokenUsed
	case token.PhaseClient:
		storedID, used = q.ClientTokenID, q.ClientTokenUsed
	default:
		return reject(token.ErrTokenInvalid, GuardTokenMismatch)
	}
	if storedID == "" || storedID != tokenID {
		return reject(token.ErrTokenInvalid, GuardTokenMismatch)
	}
	if used {
		return reject(token.ErrTokenInvalid, GuardTokenConsumed)
	}
	if q.TokenExpiresAt == nil || now.After(*q.TokenExpiresAt) {
		return reject(token.ErrTokenInvalid, GuardTokenExpired)
	}
	return nil
}

func consumePhaseToken(q *RepairQuote, phase token.Phase) {
	switch phase {
	case token.PhaseTech:
		q.TechTokenUsed = true
	case token.PhaseClient:
		q.ClientTokenUsed = true
	}
}

func entry(q *RepairQuote, action string, actor Actor, details map[string]string) audit.Entry {
	return audit.New(q.ID, action, actor.ID, actor.Name, actor.Role, details)
}

// assignTechnician sets the technician on a draft quote. The status does
// not change.
func assignTechnician(q *RepairQuote, tech Technician, actor Actor) (audit.Entry, error) {
	if q.Status.Terminal() {
		return audit.Entry{}, reject(ErrInvalidTransition, GuardQuoteClosed)
	}
	if q.Status != StatusDraft {
		return audit.Entry{}, reject(ErrInvalidTransition, GuardIllegalTransition)
	}
	if !tech.Active {
		return audit.Entry{}, reject(ErrInvalidTransition, GuardTechnicianInactive)
	}
	q.TechnicianID = tech.ID
	return entry(q, ActionTechnicianAssigned, actor, map[string]string{
		"technician_id":   tech.ID,
		"technician_name": tech.Name,
	}), nil
}

// markSentToTech issues the technician phase: stores the fresh token id and
// expiry and moves the quote to sent_to_tech.
func markSentToTech(q *RepairQuote, tokenID string, expiresAt time.Time, actor Actor) (audit.Entry, error) {
	if q.TechnicianID == "" {
		return audit.Entry{}, reject(ErrInvalidTransition, GuardNoTechnician)
	}
	if err := transitionTo(q, StatusSentToTech); err != nil {
		return audit.Entry{}, err
	}
	q.TechTokenID = tokenID
	q.TechTokenUsed = false
	q.TokenExpiresAt = &expiresAt
	return entry(q, ActionSentToTech, actor, map[string]string{
		"technician_id": q.TechnicianID,
		"expires_at":    expiresAt.UTC().Format(time.RFC3339),
	}), nil
}

// TechSubmission is the technician's cost breakdown arriving over the link.
type TechSubmission struct {
	LaborHours     float64 `json:"labor_hours"`
	LaborRateCents int64   `json:"labor_rate_cents"`
	MaterialsCents int64   `json:"materials_cents"`
	Notes          string  `json:"notes,omitempty"`
}

func (s TechSubmission) validate() error {
	if s.LaborHours < 0 || s.LaborRateCents < 0 || s.MaterialsCents < 0 {
		return reject(ErrMissingPrerequisite, GuardInvalidFigures)
	}
	return nil
}

// applyTechSubmission consumes the technician token, records the cost
// breakdown, freezes the markup and derives the customer total and per-item
// allocations. All fields and the status mutate together or not at all: the
// quote copy handed in is only persisted when no error returns.
func applyTechSubmission(q *RepairQuote, tokenID string, sub TechSubmission, markupPercent float64, now time.Time) (audit.Entry, error) {
	if err := checkPhaseToken(q, token.PhaseTech, tokenID, now); err != nil {
		return audit.Entry{}, err
	}
	if err := sub.validate(); err != nil {
		return audit.Entry{}, err
	}
	if err := transitionTo(q, StatusTechSubmitted); err != nil {
		return audit.Entry{}, err
	}

	techTotal, customerTotal := QuoteTotals(sub.LaborHours, sub.LaborRateCents, sub.MaterialsCents, markupPercent)
	q.LaborHours = sub.LaborHours
	q.LaborRateCents = sub.LaborRateCents
	q.MaterialsCents = sub.MaterialsCents
	q.TechNotes = sub.Notes
	q.TechTotalCents = techTotal
	// Frozen here: a later edit to the technician's account-level markup
	// never silently recomputes this quote.
	q.MarkupApplied = markupPercent
	q.CustomerTotalCents = customerTotal
	submitted := now.UTC()
	q.TechSubmittedAt = &submitted
	consumePhaseToken(q, token.PhaseTech)

	if len(q.Items) > 0 {
		techAlloc, err := Allocate(techTotal, len(q.Items))
		if err != nil {
			return audit.Entry{}, err
		}
		custAlloc, err := Allocate(customerTotal, len(q.Items))
		if err != nil {
			return audit.Entry{}, err
		}
		for i := range q.Items {
			q.Items[i].AllocatedTechCents = techAlloc[i]
			q.Items[i].AllocatedCustomerCents = custAlloc[i]
		}
	}

	return entry(q, ActionTechSubmitted, TechnicianActor(), map[string]string{
		"tech_total":     FormatCents(techTotal),
		"customer_total": FormatCents(customerTotal),
		"markup_percent": strconv.FormatFloat(markupPercent, 'f', -1, 64),
	}), nil
}

// applyTechDecline consumes the technician token and records the decline.
func applyTechDecline(q *RepairQuote, tokenID, reason string, now time.Time) (audit.Entry, error) {
	if err := checkPhaseToken(q, token.PhaseTech, tokenID, now); err != nil {
		return audit.Entry{}, err
	}
	if err := transitionTo(q, StatusTechDeclined); err != nil {
		return audit.Entry{}, err
	}
	q.DeclineReason = reason
	consumePhaseToken(q, token.PhaseTech)
	details := map[string]string{}
	if reason != "" {
		details["reason"] = reason
	}
	return entry(q, ActionTechDeclined, TechnicianActor(), details), nil
}

// markUnderReview moves a submitted quote into internal review. The only
// edge into under_review leaves tech_submitted, so a submission is always
// on record; any other source state is an illegal transition.
func markUnderReview(q *RepairQuote, actor Actor) (audit.Entry, error) {
	if err := transitionTo(q, StatusUnderReview); err != nil {
		return audit.Entry{}, err
	}
	return entry(q, ActionUnderReview, actor, nil), nil
}

// markSentToClient issues the client phase. Requires a derived customer
// total, which exists iff a technician submission was recorded.
func markSentToClient(q *RepairQuote, tokenID string, expiresAt time.Time, actor Actor) (audit.Entry, error) {
	if q.TechSubmittedAt == nil {
		return audit.Entry{}, reject(ErrMissingPrerequisite, GuardNoCustomerTotal)
	}
	if err := transitionTo(q, StatusSentToClient); err != nil {
		return audit.Entry{}, err
	}
	q.ClientTokenID = tokenID
	q.ClientTokenUsed = false
	q.TokenExpiresAt = &expiresAt
	return entry(q, ActionSentToClient, actor, map[string]string{
		"customer_total": FormatCents(q.CustomerTotalCents),
		"expires_at":     expiresAt.UTC().Format(time.RFC3339),
	}), nil
}

// applyClientAccept consumes the client token and records approval.
func applyClientAccept(q *RepairQuote, tokenID string, now time.Time) (audit.Entry, error) {
	if err := checkPhaseToken(q, token.PhaseClient, tokenID, now); err != nil {
		return audit.Entry{}, err
	}
	if err := transitionTo(q, StatusAccepted); err != nil {
		return audit.Entry{}, err
	}
	approved := now.UTC()
	q.ApprovedAt = &approved
	consumePhaseToken(q, token.PhaseClient)
	return entry(q, ActionAccepted, ClientActor(), map[string]string{
		"customer_total": FormatCents(q.CustomerTotalCents),
	}), nil
}

// applyClientDecline consumes the client token and records the decline.
func applyClientDecline(q *RepairQuote, tokenID, reason string, now time.Time) (audit.Entry, error) {
	if err := checkPhaseToken(q, token.PhaseClient, tokenID, now); err != nil {
		return audit.Entry{}, err
	}
	if err := transitionTo(q, StatusDeclined); err != nil {
		return audit.Entry{}, err
	}
	declined := now.UTC()
	q.DeclinedAt = &declined
	q.DeclineReason = reason
	consumePhaseToken(q, token.PhaseClient)
	details := map[string]string{}
	if reason != "" {
		details["reason"] = reason
	}
	return entry(q, ActionDeclined, ClientActor(), details), nil
}

// closeQuote is the manual close/cancel, legal from any non-terminal state.
func closeQuote(q *RepairQuote, reason string, actor Actor, now time.Time) (audit.Entry, error) {
	if err := transitionTo(q, StatusClosed); err != nil {
		return audit.Entry{}, err
	}
	closed := now.UTC()
	q.ClosedAt = &closed
	details := map[string]string{}
	if reason != "" {
		details["reason"] = reason
	}
	return entry(q, ActionClosed, actor, details), nil
}

// Package quote implements the repair-quote workflow: the state machine
// that moves a damage case from creation through technician quoting,
// internal review, client approval and closure.
package quote

import (
	"errors"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/audit"
)

// Status is the closed set of workflow states. The transition table in
// machine.go is the only legal adjacency.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSentToTech    Status = "sent_to_tech"
	StatusTechSubmitted Status = "tech_submitted"
	StatusTechDeclined  Status = "tech_declined"
	StatusUnderReview   Status = "under_review"
	StatusSentToClient  Status = "sent_to_client"
	StatusAccepted      Status = "accepted"
	StatusDeclined      Status = "declined"
	StatusClosed        Status = "closed"
)

// AllStatuses lists every legal status value.
var AllStatuses = []Status{
	StatusDraft,
	StatusSentToTech,
	StatusTechSubmitted,
	StatusTechDeclined,
	StatusUnderReview,
	StatusSentToClient,
	StatusAccepted,
	StatusDeclined,
	StatusClosed,
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the quote can never leave this state.
func (s Status) Terminal() bool { return s == StatusClosed }

// StatusDescriptor is the display label/color pair for a status. Pure
// lookup data for the UI, not a workflow concern.
type StatusDescriptor struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

var statusInfo = map[Status]StatusDescriptor{
	StatusDraft:         {Label: "Draft", Color: "gray"},
	StatusSentToTech:    {Label: "Sent to Technician", Color: "blue"},
	StatusTechSubmitted: {Label: "Technician Quoted", Color: "indigo"},
	StatusTechDeclined:  {Label: "Technician Declined", Color: "red"},
	StatusUnderReview:   {Label: "Under Review", Color: "amber"},
	StatusSentToClient:  {Label: "Sent to Client", Color: "purple"},
	StatusAccepted:      {Label: "Accepted", Color: "green"},
	StatusDeclined:      {Label: "Declined", Color: "red"},
	StatusClosed:        {Label: "Closed", Color: "slate"},
}

// StatusInfo returns the display descriptor for a status. Unknown statuses
// map to a neutral descriptor rather than panicking.
func StatusInfo(s Status) StatusDescriptor {
	if d, ok := statusInfo[s]; ok {
		return d
	}
	return StatusDescriptor{Label: string(s), Color: "gray"}
}

// RepairQuote is one damage/repair case. Money is held in minor units
// (cents); labor hours stay fractional because technicians bill part hours.
// Token bookkeeping fields never serialize to JSON.
type RepairQuote struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	Sidemark     string `json:"sidemark,omitempty"`
	SourceTaskID string `json:"source_task_id,omitempty"`
	TechnicianID string `json:"technician_id,omitempty"`
	Status       Status `json:"status"`

	LaborHours         float64 `json:"labor_hours,omitempty"`
	LaborRateCents     int64   `json:"labor_rate_cents,omitempty"`
	MaterialsCents     int64   `json:"materials_cents,omitempty"`
	TechTotalCents     int64   `json:"tech_total_cents,omitempty"`
	MarkupApplied      float64 `json:"markup_applied,omitempty"`
	CustomerTotalCents int64   `json:"customer_total_cents,omitempty"`
	TechNotes          string  `json:"tech_notes,omitempty"`
	DeclineReason      string  `json:"decline_reason,omitempty"`

	TechTokenID     string `json:"-"`
	TechTokenUsed   bool   `json:"-"`
	ClientTokenID   string `json:"-"`
	ClientTokenUsed bool   `json:"-"`

	CreatedAt       time.Time  `json:"created_at"`
	TokenExpiresAt  *time.Time `json:"expires_at,omitempty"`
	TechSubmittedAt *time.Time `json:"tech_submitted_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	DeclinedAt      *time.Time `json:"declined_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`

	Version int64 `json:"version"`

	Items []RepairQuoteItem `json:"items,omitempty"`
}

// RepairQuoteItem is one physical inventory item covered by a quote, with
// its share of the quote-level totals.
type RepairQuoteItem struct {
	ID                     string   `json:"id"`
	QuoteID                string   `json:"quote_id"`
	ItemID                 string   `json:"item_id"`
	DamageDescription      string   `json:"damage_description,omitempty"`
	PhotoRefs              []string `json:"photo_refs,omitempty"`
	AllocatedTechCents     int64    `json:"allocated_tech_cents"`
	AllocatedCustomerCents int64    `json:"allocated_customer_cents"`
	Position               int      `json:"position"`
}

// Technician is a read-only view of the technician directory.
type Technician struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	MarkupPercent float64 `json:"markup_percent"`
	Active        bool    `json:"active"`
}

// Actor describes who triggered a workflow operation. External actors
// carry a role tag only.
type Actor struct {
	ID   string
	Name string
	Role string
}

// StaffActor identifies an authenticated internal user.
func StaffActor(id, name string) Actor {
	return Actor{ID: id, Name: name, Role: audit.RoleStaff}
}

// TechnicianActor marks an action arriving over a technician link.
func TechnicianActor() Actor { return Actor{Role: audit.RoleExternalTechnician} }

// ClientActor marks an action arriving over a client link.
func ClientActor() Actor { return Actor{Role: audit.RoleExternalClient} }

// Audit action codes. Rejected attempts get their own codes so the trail
// reconstructs what was refused, not just what happened.
const (
	ActionQuoteCreated       = "quote_created"
	ActionTechnicianAssigned = "technician_assigned"
	ActionSentToTech         = "sent_to_tech"
	ActionTechSubmitted      = "tech_submitted"
	ActionTechDeclined       = "tech_declined"
	ActionUnderReview        = "under_review"
	ActionSentToClient       = "sent_to_client"
	ActionAccepted           = "accepted"
	ActionDeclined           = "declined"
	ActionClosed             = "closed"
	ActionTransitionRejected = "transition_rejected"
	ActionTokenRejected      = "token_rejected"
)

// Error taxonomy. Every rejection unwraps to one of these sentinels; guard
// detail travels in Rejection.
var (
	ErrNotFound            = errors.New("quote not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrConcurrencyLost     = errors.New("concurrent update won the transition")
)

// Guard codes surfaced on Rejection.
const (
	GuardIllegalTransition  = "illegal_transition"
	GuardQuoteClosed        = "quote_closed"
	GuardNoTechnician       = "no_technician_assigned"
	GuardTechnicianInactive = "technician_inactive"
	GuardNoCustomerTotal    = "no_customer_total"
	GuardTokenMismatch      = "token_mismatch"
	GuardTokenConsumed      = "token_consumed"
	GuardTokenExpired       = "token_expired"
	GuardInvalidFigures     = "invalid_figures"
)

// Rejection is a guard failure. It unwraps to the taxonomy sentinel so
// callers can errors.Is against the class while logs keep the guard code.
type Rejection struct {
	Guard string
	kind  error
}

func (r *Rejection) Error() string { return r.kind.Error() + ": " + r.Guard }

func (r *Rejection) Unwrap() error { return r.kind }

func reject(kind error, guard string) error {
	return &Rejection{Guard: guard, kind: kind}
}

// GuardCode extracts the machine-readable guard code from a rejection, or
// "" when err is not a Rejection.
func GuardCode(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Guard
	}
	return ""
}

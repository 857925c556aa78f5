// Package audit defines the append-only trail recorded for every workflow
// transition and every externally-triggered event, including attempts the
// state machine refused. Entries are never updated or deleted; corrections
// are new entries.
package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/ids"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/obs"
)

// Actor roles recorded on entries. External actors carry a role tag only,
// no PII beyond what the token phase implies.
const (
	RoleStaff              = "staff"
	RoleExternalTechnician = "external_technician"
	RoleExternalClient     = "external_client"
	RoleSystem             = "system"
)

// Entry is one immutable audit record for a quote.
type Entry struct {
	ID      string            `json:"id"`
	QuoteID string            `json:"quote_id"`
	Seq     int64             `json:"seq"`
	Action  string            `json:"action"`
	At      time.Time         `json:"at"`
	ByID    string            `json:"by,omitempty"`
	ByName  string            `json:"by_name,omitempty"`
	ByRole  string            `json:"by_role"`
	Details map[string]string `json:"details,omitempty"`
}

// New builds an entry with a fresh id and timestamp. Seq is assigned by the
// store at append time so that insertion order equals causal order.
func New(quoteID, action, byID, byName, byRole string, details map[string]string) Entry {
	var copied map[string]string
	if len(details) > 0 {
		copied = make(map[string]string, len(details))
		for k, v := range details {
			copied[k] = v
		}
	}
	return Entry{
		ID:      ids.New(),
		QuoteID: strings.TrimSpace(quoteID),
		Action:  strings.TrimSpace(action),
		At:      time.Now().UTC(),
		ByID:    strings.TrimSpace(byID),
		ByName:  strings.TrimSpace(byName),
		ByRole:  byRole,
		Details: copied,
	}
}

// Mirror emits the entry as a structured JSON log line in addition to its
// durable copy, so operators can tail the workflow without a DB session.
func Mirror(e Entry) {
	line := map[string]any{
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"type":     "audit",
		"quote_id": e.QuoteID,
		"action":   e.Action,
		"by_role":  e.ByRole,
	}
	if e.ByID != "" {
		line["by"] = e.ByID
	}
	if len(e.Details) > 0 {
		line["details"] = e.Details
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}

// Package notify carries the collaborator contract for link delivery: the
// workflow surfaces freshly issued external links, and a Sender gets them
// to the technician or client (email, SMS, copy-to-clipboard). The package
// also fans out workflow events to in-process subscribers for the staff
// dashboard stream.
package notify

import (
	"context"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/obs"
)

// Notification kinds.
const (
	KindTechLink   = "tech_link"
	KindClientLink = "client_link"
)

// Notification is one external link to deliver.
type Notification struct {
	Kind      string    `json:"kind"`
	QuoteID   string    `json:"quote_id"`
	Recipient string    `json:"recipient,omitempty"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sender delivers notifications. Implementations must not block the
// workflow; delivery failure never rolls a transition back.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications as structured log lines. It stands in for
// the hosted email/SMS collaborators in development and tests.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, n Notification) error {
	obs.LogRequest(map[string]any{
		"type":       "notification",
		"kind":       n.Kind,
		"quote_id":   n.QuoteID,
		"recipient":  n.Recipient,
		"link":       n.Link,
		"expires_at": n.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return nil
}

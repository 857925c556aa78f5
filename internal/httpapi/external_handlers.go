package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/billing"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/obs"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/quote"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/token"
)

// linkGoneMessage is the only thing an external caller ever learns about a
// token failure. Expired, consumed, revoked and fabricated tokens are
// indistinguishable from the outside.
const linkGoneMessage = "this link is no longer valid"

type techSubmitRequest struct {
	Token      string  `json:"token"`
	LaborHours float64 `json:"labor_hours"`
	LaborRate  string  `json:"labor_rate"`
	Materials  string  `json:"materials"`
	Notes      string  `json:"notes"`
}

type externalDeclineRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

type techViewResponse struct {
	QuoteID     string                  `json:"quote_id"`
	Status      quote.Status            `json:"status"`
	StatusLabel string                  `json:"status_label"`
	Sidemark    string                  `json:"sidemark,omitempty"`
	Items       []quote.RepairQuoteItem `json:"items"`
}

type clientViewResponse struct {
	QuoteID       string                  `json:"quote_id"`
	Status        quote.Status            `json:"status"`
	StatusLabel   string                  `json:"status_label"`
	Sidemark      string                  `json:"sidemark,omitempty"`
	CustomerTotal string                  `json:"customer_total"`
	Items         []quote.RepairQuoteItem `json:"items"`
}

func (a *API) handleTechLinkView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q, err := a.workflow.ResolveTechLink(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		a.handleExternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, techViewResponse{
		QuoteID:     q.ID,
		Status:      q.Status,
		StatusLabel: quote.StatusInfo(q.Status).Label,
		Sidemark:    q.Sidemark,
		Items:       q.Items,
	})
}

func (a *API) handleTechSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req techSubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := quote.ParseCents(req.LaborRate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "labor_rate must be a decimal amount")
		return
	}
	materials, err := quote.ParseCents(req.Materials)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "materials must be a decimal amount")
		return
	}

	q, err := a.workflow.SubmitTechQuote(r.Context(), a.externalToken(r, req.Token), quote.TechSubmission{
		LaborHours:     req.LaborHours,
		LaborRateCents: rate,
		MaterialsCents: materials,
		Notes:          req.Notes,
	})
	if err != nil {
		a.handleExternalError(w, r, err)
		return
	}
	a.publish(q, quote.ActionTechSubmitted)
	writeJSON(w, http.StatusOK, map[string]any{
		"quote_id":   q.ID,
		"status":     q.Status,
		"tech_total": quote.FormatCents(q.TechTotalCents),
	})
}

func (a *API) handleTechDecline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req externalDeclineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q, err := a.workflow.DeclineTechQuote(r.Context(), a.externalToken(r, req.Token), req.Reason)
	if err != nil {
		a.handleExternalError(w, r, err)
		return
	}
	a.publish(q, quote.ActionTechDeclined)
	writeJSON(w, http.StatusOK, map[string]any{"quote_id": q.ID, "status": q.Status})
}

func (a *API) handleClientLinkView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q, err := a.workflow.ResolveClientLink(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		a.handleExternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clientViewResponse{
		QuoteID:       q.ID,
		Status:        q.Status,
		StatusLabel:   quote.StatusInfo(q.Status).Label,
		Sidemark:      q.Sidemark,
		CustomerTotal: quote.FormatCents(q.CustomerTotalCents),
		Items:         q.Items,
	})
}

func (a *API) handleClientAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req externalDeclineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q, err := a.workflow.AcceptQuote(r.Context(), a.externalToken(r, req.Token))
	if err != nil {
		a.handleExternalError(w, r, err)
		return
	}
	a.postCharge(r, q)
	a.publish(q, quote.ActionAccepted)
	writeJSON(w, http.StatusOK, map[string]any{
		"quote_id":       q.ID,
		"status":         q.Status,
		"customer_total": quote.FormatCents(q.CustomerTotalCents),
	})
}

func (a *API) handleClientDecline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req externalDeclineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q, err := a.workflow.DeclineQuote(r.Context(), a.externalToken(r, req.Token), req.Reason)
	if err != nil {
		a.handleExternalError(w, r, err)
		return
	}
	a.publish(q, quote.ActionDeclined)
	writeJSON(w, http.StatusOK, map[string]any{"quote_id": q.ID, "status": q.Status})
}

// externalToken prefers the body token but accepts the query form so links
// can be posted back without client-side rewriting.
func (a *API) externalToken(r *http.Request, bodyToken string) string {
	if t := strings.TrimSpace(bodyToken); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

// postCharge records an acceptance on the billing ledger. Posting is
// idempotent per quote and a failure never rolls back the acceptance; it is
// logged and left for reconciliation.
func (a *API) postCharge(r *http.Request, q quote.RepairQuote) {
	if a.ledger == nil {
		return
	}
	charge := billing.Charge{
		QuoteID:     q.ID,
		AccountID:   q.AccountID,
		AmountCents: q.CustomerTotalCents,
	}
	for _, item := range q.Items {
		charge.Items = append(charge.Items, billing.ChargeItem{
			ItemID:      item.ItemID,
			AmountCents: item.AllocatedCustomerCents,
		})
	}
	if _, err := a.ledger.PostCharge(r.Context(), charge); err != nil {
		obs.LogRequest(map[string]any{
			"level":    "error",
			"msg":      "billing charge failed",
			"quote_id": q.ID,
			"error":    err.Error(),
		})
	}
}

// handleExternalError collapses everything an outside caller could learn
// from into the one generic gone message. Only figure validation gets a
// distinct response, since the caller supplied those values themselves.
func (a *API) handleExternalError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, quote.ErrMissingPrerequisite) && quote.GuardCode(err) == quote.GuardInvalidFigures {
		writeError(w, r, http.StatusBadRequest, "labor and materials figures must be non-negative")
		return
	}
	switch {
	case errors.Is(err, token.ErrTokenInvalid),
		errors.Is(err, quote.ErrNotFound),
		errors.Is(err, quote.ErrInvalidTransition),
		errors.Is(err, quote.ErrMissingPrerequisite),
		errors.Is(err, quote.ErrConcurrencyLost):
		writeError(w, r, http.StatusGone, linkGoneMessage)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

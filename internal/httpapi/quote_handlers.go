package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/auth"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/notify"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/obs"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/quote"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/token"
)

type createQuoteRequest struct {
	AccountID    string             `json:"account_id"`
	Sidemark     string             `json:"sidemark"`
	SourceTaskID string             `json:"source_task_id"`
	Items        []quoteItemRequest `json:"items"`
}

type quoteItemRequest struct {
	ItemID            string   `json:"item_id"`
	DamageDescription string   `json:"damage_description"`
	PhotoRefs         []string `json:"photo_refs"`
}

type assignRequest struct {
	TechnicianID string `json:"technician_id"`
}

type closeRequest struct {
	Reason string `json:"reason"`
}

type sendResponse struct {
	Quote     quote.RepairQuote `json:"quote"`
	Link      string            `json:"link"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (a *API) handleTechnicians(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	techs, err := a.workflow.ListActiveTechnicians(r.Context())
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": techs})
}

func (a *API) handleQuotesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireStaffRole(w, r) {
		return
	}

	var req createQuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		writeError(w, r, http.StatusBadRequest, "account_id is required")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, http.StatusBadRequest, "at least one item is required")
		return
	}

	in := quote.CreateQuoteInput{
		AccountID:    req.AccountID,
		Sidemark:     req.Sidemark,
		SourceTaskID: req.SourceTaskID,
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ItemID) == "" {
			writeError(w, r, http.StatusBadRequest, "item_id is required on every item")
			return
		}
		in.Items = append(in.Items, quote.QuoteItemInput{
			ItemID:            item.ItemID,
			DamageDescription: item.DamageDescription,
			PhotoRefs:         item.PhotoRefs,
		})
	}

	q, err := a.workflow.CreateQuote(r.Context(), in, a.staffActor(r.Context()))
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	a.publish(q, quote.ActionQuoteCreated)
	w.Header().Set("Location", "/v1/quotes/"+q.ID)
	writeJSON(w, http.StatusCreated, q)
}

func (a *API) handleQuoteResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/quotes/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	if id == "" || strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getQuote(w, r, id)
	case "audit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAuditTrail(w, r, id)
	case "assign":
		a.postOnly(w, r, func() { a.assignTechnician(w, r, id) })
	case "send-to-tech":
		a.postOnly(w, r, func() { a.sendToTech(w, r, id) })
	case "review":
		a.postOnly(w, r, func() { a.markUnderReview(w, r, id) })
	case "send-to-client":
		a.postOnly(w, r, func() { a.sendToClient(w, r, id) })
	case "close":
		a.postOnly(w, r, func() { a.closeQuote(w, r, id) })
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) postOnly(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireStaffRole(w, r) {
		return
	}
	fn()
}

// requireStaffRole guards staff mutations when sessions are enabled. Reads
// stay open to any authenticated user.
func (a *API) requireStaffRole(w http.ResponseWriter, r *http.Request) bool {
	if !auth.Enabled() {
		return true
	}
	if !auth.HasRole(r.Context(), "staff") {
		writeError(w, r, http.StatusForbidden, "staff role required")
		return false
	}
	return true
}

func (a *API) getQuote(w http.ResponseWriter, r *http.Request, id string) {
	q, err := a.workflow.GetQuote(r.Context(), id)
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) getAuditTrail(w http.ResponseWriter, r *http.Request, id string) {
	trail, err := a.workflow.AuditTrail(r.Context(), id, 0)
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": trail})
}

func (a *API) assignTechnician(w http.ResponseWriter, r *http.Request, id string) {
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.TechnicianID) == "" {
		writeError(w, r, http.StatusBadRequest, "technician_id is required")
		return
	}
	q, err := a.workflow.AssignTechnician(r.Context(), id, req.TechnicianID, a.staffActor(r.Context()))
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	a.publish(q, quote.ActionTechnicianAssigned)
	writeJSON(w, http.StatusOK, q)
}

func (a *API) sendToTech(w http.ResponseWriter, r *http.Request, id string) {
	res, err := a.workflow.SendToTech(r.Context(), id, a.staffActor(r.Context()))
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	a.deliver(r.Context(), notify.Notification{
		Kind:      notify.KindTechLink,
		QuoteID:   res.Quote.ID,
		Recipient: res.Quote.TechnicianID,
		Link:      res.Link,
		ExpiresAt: res.ExpiresAt,
	})
	a.publish(res.Quote, quote.ActionSentToTech)
	writeJSON(w, http.StatusOK, sendResponse{
		Quote:     res.Quote,
		Link:      res.Link,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

func (a *API) markUnderReview(w http.ResponseWriter, r *http.Request, id string) {
	q, err := a.workflow.MarkUnderReview(r.Context(), id, a.staffActor(r.Context()))
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	a.publish(q, quote.ActionUnderReview)
	writeJSON(w, http.StatusOK, q)
}

func (a *API) sendToClient(w http.ResponseWriter, r *http.Request, id string) {
	res, err := a.workflow.SendToClient(r.Context(), id, a.staffActor(r.Context()))
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	a.deliver(r.Context(), notify.Notification{
		Kind:      notify.KindClientLink,
		QuoteID:   res.Quote.ID,
		Recipient: res.Quote.AccountID,
		Link:      res.Link,
		ExpiresAt: res.ExpiresAt,
	})
	a.publish(res.Quote, quote.ActionSentToClient)
	writeJSON(w, http.StatusOK, sendResponse{
		Quote:     res.Quote,
		Link:      res.Link,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

func (a *API) closeQuote(w http.ResponseWriter, r *http.Request, id string) {
	var req closeRequest
	// Body is optional on close.
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	q, err := a.workflow.Close(r.Context(), id, req.Reason, a.staffActor(r.Context()))
	if err != nil {
		a.handleWorkflowError(w, r, err)
		return
	}
	a.publish(q, quote.ActionClosed)
	writeJSON(w, http.StatusOK, q)
}

func (a *API) staffActor(ctx context.Context) quote.Actor {
	id, ok := auth.UserIDFromContext(ctx)
	if !ok {
		id = "staff"
	}
	return quote.StaffActor(id, auth.UserNameFromContext(ctx))
}

func (a *API) deliver(ctx context.Context, n notify.Notification) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Send(ctx, n); err != nil {
		obs.LogRequest(map[string]any{
			"level":    "error",
			"msg":      "notification delivery failed",
			"kind":     n.Kind,
			"quote_id": n.QuoteID,
			"error":    err.Error(),
		})
	}
}

func (a *API) publish(q quote.RepairQuote, action string) {
	if a.events == nil {
		return
	}
	a.events.Publish(notify.QuoteEvent{
		QuoteID:   q.ID,
		Action:    action,
		Status:    string(q.Status),
		Timestamp: time.Now().UTC(),
	})
}

// handleWorkflowError maps the workflow error taxonomy onto HTTP codes for
// staff callers. Guard codes travel in the body so the UI can show which
// prerequisite failed.
func (a *API) handleWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	payload := map[string]any{"error": err.Error()}
	if guard := quote.GuardCode(err); guard != "" {
		payload["guard"] = guard
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}

	switch {
	case errors.Is(err, quote.ErrNotFound):
		writeJSON(w, http.StatusNotFound, payload)
	case errors.Is(err, quote.ErrInvalidTransition),
		errors.Is(err, quote.ErrMissingPrerequisite),
		errors.Is(err, quote.ErrConcurrencyLost):
		writeJSON(w, http.StatusConflict, payload)
	case errors.Is(err, token.ErrTokenInvalid):
		writeJSON(w, http.StatusGone, payload)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// Package httpapi is the HTTP surface of the repair-quote service: the
// authenticated staff operations under /v1 and the tokenized external
// technician/client entry points under /quote.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/api/spec"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/billing"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/notify"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/obs"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/quote"
)

const serviceName = "repair-quote-api"

// ReadyProbe checks readiness (e.g. ping of the backing database).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	workflow *quote.Workflow
	notifier notify.Sender
	ledger   billing.Ledger
	events   *notify.Hub

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, wf *quote.Workflow, notifier notify.Sender, ledger billing.Ledger, events *notify.Hub) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		workflow:   wf,
		notifier:   notifier,
		ledger:     ledger,
		events:     events,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// Staff operations (authenticated session)
	a.mux.HandleFunc("/v1/technicians", a.handleTechnicians)
	a.mux.HandleFunc("/v1/quotes", a.handleQuotesCollection)
	a.mux.HandleFunc("/v1/quotes/events", a.Stream)
	a.mux.HandleFunc("/v1/quotes/", a.handleQuoteResource)

	// External entry points (capability token, no session)
	a.mux.HandleFunc("/quote/tech", a.handleTechLinkView)
	a.mux.HandleFunc("/quote/tech/submit", a.handleTechSubmit)
	a.mux.HandleFunc("/quote/tech/decline", a.handleTechDecline)
	a.mux.HandleFunc("/quote/review", a.handleClientLinkView)
	a.mux.HandleFunc("/quote/review/accept", a.handleClientAccept)
	a.mux.HandleFunc("/quote/review/decline", a.handleClientDecline)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

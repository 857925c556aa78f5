package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/auth"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/billing"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/notify"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/quote"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/token"
)

type testEnv struct {
	api    *API
	srv    *httptest.Server
	ledger *billing.InMemory
	store  *quote.InMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("STRIDE_LINK_SECRET", "httpapi-test-link-secret")
	token.ResetSecretForTests()
	t.Cleanup(token.ResetSecretForTests)

	mem := quote.NewInMemory()
	mem.PutTechnician(quote.Technician{ID: "tech-1", Name: "Test Tech", MarkupPercent: 20, Active: true})

	wf := quote.NewWorkflow(mem, mem, token.NewIssuer(time.Hour), "http://app.example.com")
	ledger := billing.NewInMemory()
	api := New(ReadyProbe{}, "test", wf, notify.LogSender{}, ledger, notify.NewHub())

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{api: api, srv: srv, ledger: ledger, store: mem}
}

func (env *testEnv) post(t *testing.T, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return env.do(t, req)
}

func (env *testEnv) get(t *testing.T, path string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return env.do(t, req)
}

func (env *testEnv) do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func linkToken(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	tok := u.Query().Get("token")
	if tok == "" {
		t.Fatalf("link carries no token: %s", link)
	}
	return tok
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["service"] != serviceName {
		t.Fatalf("body = %v", body)
	}
}

func TestFullQuoteLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	// Staff opens a case.
	resp, body := env.post(t, "/v1/quotes", map[string]any{
		"account_id": "acct-1",
		"sidemark":   "Johnson / Living Room",
		"items": []map[string]any{
			{"item_id": "item-1", "damage_description": "water ring"},
			{"item_id": "item-2", "damage_description": "cracked leg"},
		},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}
	quoteID, _ := body["id"].(string)
	if quoteID == "" {
		t.Fatalf("no quote id in %v", body)
	}

	resp, body = env.post(t, "/v1/quotes/"+quoteID+"/assign", map[string]any{"technician_id": "tech-1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %v", resp.StatusCode, body)
	}

	resp, body = env.post(t, "/v1/quotes/"+quoteID+"/send-to-tech", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send-to-tech: %d %v", resp.StatusCode, body)
	}
	techLink, _ := body["link"].(string)
	techToken := linkToken(t, techLink)

	// Technician opens the link and submits figures.
	resp, body = env.get(t, "/quote/tech?token="+url.QueryEscape(techToken), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tech view: %d %v", resp.StatusCode, body)
	}
	if body["quote_id"] != quoteID {
		t.Fatalf("tech view quote = %v", body["quote_id"])
	}

	resp, body = env.post(t, "/quote/tech/submit", map[string]any{
		"token":       techToken,
		"labor_hours": 2,
		"labor_rate":  "50.00",
		"materials":   "25.00",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tech submit: %d %v", resp.StatusCode, body)
	}
	if body["tech_total"] != "125.00" {
		t.Fatalf("tech_total = %v", body["tech_total"])
	}

	// Staff reviews and sends to the client.
	resp, body = env.post(t, "/v1/quotes/"+quoteID+"/review", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review: %d %v", resp.StatusCode, body)
	}
	resp, body = env.post(t, "/v1/quotes/"+quoteID+"/send-to-client", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send-to-client: %d %v", resp.StatusCode, body)
	}
	clientToken := linkToken(t, body["link"].(string))

	// Client reviews and accepts.
	resp, body = env.get(t, "/quote/review?token="+url.QueryEscape(clientToken), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("client view: %d %v", resp.StatusCode, body)
	}
	if body["customer_total"] != "150.00" {
		t.Fatalf("customer_total = %v", body["customer_total"])
	}

	resp, body = env.post(t, "/quote/review/accept", map[string]any{"token": clientToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %v", resp.StatusCode, body)
	}
	if body["status"] != string(quote.StatusAccepted) {
		t.Fatalf("status = %v", body["status"])
	}

	// Acceptance posted exactly one charge.
	charges, err := env.ledger.ListCharges(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(charges) != 1 {
		t.Fatalf("charges = %d", len(charges))
	}
	if charges[0].QuoteID != quoteID || charges[0].AmountCents != 15000 {
		t.Fatalf("charge = %+v", charges[0])
	}

	// Trail covers the whole path.
	resp, body = env.get(t, "/v1/quotes/"+quoteID+"/audit", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit: %d %v", resp.StatusCode, body)
	}
	entries, _ := body["items"].([]any)
	if len(entries) != 7 {
		t.Fatalf("audit entries = %d", len(entries))
	}
}

func TestExternalFailuresAreGeneric(t *testing.T) {
	env := newTestEnv(t)

	// Garbage token.
	resp, body := env.get(t, "/quote/tech?token=garbage", nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("garbage token: %d", resp.StatusCode)
	}
	if body["error"] != linkGoneMessage {
		t.Fatalf("garbage token message = %v", body["error"])
	}

	// A real but consumed token reads identically.
	_, created := env.post(t, "/v1/quotes", map[string]any{
		"account_id": "acct-1",
		"items":      []map[string]any{{"item_id": "item-1"}},
	}, nil)
	quoteID := created["id"].(string)
	env.post(t, "/v1/quotes/"+quoteID+"/assign", map[string]any{"technician_id": "tech-1"}, nil)
	_, sent := env.post(t, "/v1/quotes/"+quoteID+"/send-to-tech", nil, nil)
	techToken := linkToken(t, sent["link"].(string))

	resp, _ = env.post(t, "/quote/tech/submit", map[string]any{
		"token": techToken, "labor_hours": 1, "labor_rate": "10.00",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first submit: %d", resp.StatusCode)
	}

	resp, body = env.post(t, "/quote/tech/submit", map[string]any{
		"token": techToken, "labor_hours": 1, "labor_rate": "10.00",
	}, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("reused token: %d", resp.StatusCode)
	}
	if body["error"] != linkGoneMessage {
		t.Fatalf("reused token message = %v", body["error"])
	}
}

func TestSendToClientFromDraftConflict(t *testing.T) {
	env := newTestEnv(t)

	_, created := env.post(t, "/v1/quotes", map[string]any{
		"account_id": "acct-1",
		"items":      []map[string]any{{"item_id": "item-1"}},
	}, nil)
	quoteID := created["id"].(string)

	resp, body := env.post(t, "/v1/quotes/"+quoteID+"/send-to-client", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
	if body["guard"] != quote.GuardNoCustomerTotal {
		t.Fatalf("guard = %v", body["guard"])
	}
}

func TestCreateQuoteValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/v1/quotes", map[string]any{"items": []map[string]any{{"item_id": "i"}}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing account_id: %d", resp.StatusCode)
	}

	resp, _ = env.post(t, "/v1/quotes", map[string]any{"account_id": "acct-1"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing items: %d", resp.StatusCode)
	}

	resp, _ = env.post(t, "/v1/quotes", map[string]any{"account_id": "acct-1", "bogus": true, "items": []map[string]any{{"item_id": "i"}}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", resp.StatusCode)
	}
}

func TestUnknownQuoteIs404(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/v1/quotes/does-not-exist", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStaffAuthRequiredWhenConfigured(t *testing.T) {
	t.Setenv("STRIDE_AUTH_SECRET", "staff-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	env := newTestEnv(t)

	// No bearer token: staff surface refuses.
	resp, _ := env.get(t, "/v1/technicians", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated staff call: %d", resp.StatusCode)
	}

	// Health and external surfaces stay open.
	resp, _ = env.get(t, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz with auth on: %d", resp.StatusCode)
	}
	resp, _ = env.get(t, "/quote/tech?token=garbage", nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("external path with auth on: %d", resp.StatusCode)
	}

	// A signed staff token opens the staff surface.
	staffJWT, err := auth.GenerateToken("u1", "Dispatcher", []string{"staff"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	resp, body := env.get(t, "/v1/technicians", map[string]string{"Authorization": "Bearer " + staffJWT})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated staff call: %d %v", resp.StatusCode, body)
	}

	// Mutations require the staff role, not just a valid session.
	viewerJWT, err := auth.GenerateToken("u2", "Viewer", []string{"viewer"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	resp, _ = env.post(t, "/v1/quotes", map[string]any{
		"account_id": "acct-1",
		"items":      []map[string]any{{"item_id": "i"}},
	}, map[string]string{"Authorization": "Bearer " + viewerJWT})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer mutation: %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/v1/quotes", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); !strings.Contains(allow, http.MethodPost) {
		t.Fatalf("Allow = %q", allow)
	}
}

func TestOpenAPIServed(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/openapi.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "yaml") {
		t.Fatalf("content type = %q", ct)
	}
}

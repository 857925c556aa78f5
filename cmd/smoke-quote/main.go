package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/quote"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/token"
)

// Runs the full quote lifecycle against the in-memory store and checks the
// derived totals. Useful as a quick wiring check after changes.
func main() {
	if os.Getenv("STRIDE_LINK_SECRET") == "" {
		os.Setenv("STRIDE_LINK_SECRET", "smoke-test-link-secret")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mem := quote.NewInMemory()
	mem.PutTechnician(quote.Technician{ID: "tech-1", Name: "Smoke Technician", MarkupPercent: 20, Active: true})

	wf := quote.NewWorkflow(mem, mem, token.NewIssuer(time.Hour), "http://localhost:8080")
	staff := quote.StaffActor("smoke", "Smoke Operator")

	q, err := wf.CreateQuote(ctx, quote.CreateQuoteInput{
		AccountID: "acct-smoke",
		Sidemark:  "Smoke Sidemark",
		Items: []quote.QuoteItemInput{
			{ItemID: "item-1", DamageDescription: "scratched finish"},
			{ItemID: "item-2", DamageDescription: "torn seam"},
		},
	}, staff)
	if err != nil {
		log.Fatalf("create quote: %v", err)
	}

	if _, err = wf.AssignTechnician(ctx, q.ID, "tech-1", staff); err != nil {
		log.Fatalf("assign technician: %v", err)
	}

	techSend, err := wf.SendToTech(ctx, q.ID, staff)
	if err != nil {
		log.Fatalf("send to tech: %v", err)
	}

	q, err = wf.SubmitTechQuote(ctx, techSend.Token, quote.TechSubmission{
		LaborHours:     2,
		LaborRateCents: 5000,
		MaterialsCents: 2500,
	})
	if err != nil {
		log.Fatalf("tech submit: %v", err)
	}
	if q.TechTotalCents != 12500 || q.CustomerTotalCents != 15000 {
		log.Fatalf("unexpected totals: tech=%d customer=%d", q.TechTotalCents, q.CustomerTotalCents)
	}

	if _, err = wf.MarkUnderReview(ctx, q.ID, staff); err != nil {
		log.Fatalf("mark under review: %v", err)
	}

	clientSend, err := wf.SendToClient(ctx, q.ID, staff)
	if err != nil {
		log.Fatalf("send to client: %v", err)
	}

	q, err = wf.AcceptQuote(ctx, clientSend.Token)
	if err != nil {
		log.Fatalf("client accept: %v", err)
	}
	if q.Status != quote.StatusAccepted {
		log.Fatalf("unexpected status after accept: %s", q.Status)
	}

	var shareSum int64
	for _, item := range q.Items {
		shareSum += item.AllocatedCustomerCents
	}
	if shareSum != q.CustomerTotalCents {
		log.Fatalf("item shares do not sum to total: %d != %d", shareSum, q.CustomerTotalCents)
	}

	trail, err := wf.AuditTrail(ctx, q.ID, 0)
	if err != nil {
		log.Fatalf("audit trail: %v", err)
	}

	fmt.Printf("✅ quote workflow smoke test passed: quote=%s audit_entries=%d\n", q.ID, len(trail))
}

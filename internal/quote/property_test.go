package quote

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestAllocatePropertyExactSum(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)

	properties.Property("shares always sum to the total", prop.ForAll(
		func(total int64, n int) bool {
			shares, err := Allocate(total, n)
			if err != nil {
				return false
			}
			var sum int64
			for _, s := range shares {
				sum += s
			}
			return sum == total && len(shares) == n
		},
		gen.Int64Range(0, 1_000_000_00),
		gen.IntRange(1, 50),
	))

	properties.Property("only the last share absorbs the remainder", prop.ForAll(
		func(total int64, n int) bool {
			shares, err := Allocate(total, n)
			if err != nil {
				return false
			}
			base := total / int64(n)
			for _, s := range shares[:len(shares)-1] {
				if s != base {
					return false
				}
			}
			return shares[len(shares)-1] >= base
		},
		gen.Int64Range(0, 1_000_000_00),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestQuoteTotalsPropertyMarkupNeverLowersTotal(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)

	properties.Property("customer total >= tech total for non-negative markup", prop.ForAll(
		func(hours float64, rate, materials int64, markup float64) bool {
			tech, customer := QuoteTotals(hours, rate, materials, markup)
			return customer >= tech
		},
		gen.Float64Range(0, 100),
		gen.Int64Range(0, 100_000),
		gen.Int64Range(0, 1_000_000),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

// Drives random sequences of workflow operations against a fresh quote and
// checks that every status change the store records is a listed edge, and
// that a rejected operation never moves the status.
func TestWorkflowPropertyOperationsFollowTransitionTable(t *testing.T) {
	wf, _ := newTestWorkflow(t)
	ctx := context.Background()
	staff := StaffActor("u1", "Dispatcher")

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("observed status changes follow the transition table", prop.ForAll(
		func(ops []int) bool {
			q, err := wf.CreateQuote(ctx, CreateQuoteInput{
				AccountID: "acct-1",
				Items:     []QuoteItemInput{{ItemID: "item-1", DamageDescription: "scratch"}},
			}, staff)
			if err != nil {
				return false
			}
			var techToken, clientToken string
			prev := q.Status
			for _, op := range ops {
				switch op {
				case 0:
					_, err = wf.AssignTechnician(ctx, q.ID, "tech-1", staff)
				case 1:
					var send SendResult
					send, err = wf.SendToTech(ctx, q.ID, staff)
					if err == nil {
						techToken = send.Token
					}
				case 2:
					_, err = wf.SubmitTechQuote(ctx, techToken, TechSubmission{
						LaborHours: 1, LaborRateCents: 5000, MaterialsCents: 1000,
					})
				case 3:
					_, err = wf.DeclineTechQuote(ctx, techToken, "no parts")
				case 4:
					_, err = wf.MarkUnderReview(ctx, q.ID, staff)
				case 5:
					var send SendResult
					send, err = wf.SendToClient(ctx, q.ID, staff)
					if err == nil {
						clientToken = send.Token
					}
				case 6:
					_, err = wf.AcceptQuote(ctx, clientToken)
				case 7:
					_, err = wf.DeclineQuote(ctx, clientToken, "too expensive")
				case 8:
					_, err = wf.Close(ctx, q.ID, "done", staff)
				}
				cur, getErr := wf.GetQuote(ctx, q.ID)
				if getErr != nil {
					return false
				}
				if err != nil && cur.Status != prev {
					return false
				}
				if cur.Status != prev && !CanTransition(prev, cur.Status) {
					return false
				}
				prev = cur.Status
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 8)),
	))

	properties.TestingRun(t)
}

func TestTransitionTablePropertyClosedIsTerminal(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	statusGen := gen.OneConstOf(
		StatusDraft, StatusSentToTech, StatusTechSubmitted, StatusTechDeclined,
		StatusUnderReview, StatusSentToClient, StatusAccepted, StatusDeclined, StatusClosed,
	)

	properties.Property("no path ever leaves closed", prop.ForAll(
		func(to Status) bool {
			return !CanTransition(StatusClosed, to)
		},
		statusGen,
	))

	properties.Property("every listed edge targets a valid status", prop.ForAll(
		func(from Status) bool {
			for _, to := range transitions[from] {
				if !to.Valid() {
					return false
				}
			}
			return true
		},
		statusGen,
	))

	properties.TestingRun(t)
}

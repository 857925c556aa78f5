package quote

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// QuoteTotals derives the technician-facing and customer-facing totals in
// cents. Intermediate math stays in float64 and rounds exactly once per
// total, so rounding error never compounds.
//
//	tech_total     = laborHours * laborRate + materials
//	customer_total = tech_total * (1 + markupPercent/100)
func QuoteTotals(laborHours float64, laborRateCents, materialsCents int64, markupPercent float64) (techTotalCents, customerTotalCents int64) {
	techTotalCents = roundCents(laborHours*float64(laborRateCents)) + materialsCents
	customerTotalCents = roundCents(float64(techTotalCents) * (1 + markupPercent/100))
	return techTotalCents, customerTotalCents
}

// ErrNoItems is returned when an allocation is requested for zero items.
var ErrNoItems = errors.New("allocation requires at least one item")

// Allocate splits total equally across n items. The last item absorbs the
// rounding remainder so the shares sum exactly to total. That exactness is
// a correctness invariant: cents are never dropped or duplicated.
func Allocate(total int64, n int) ([]int64, error) {
	if n < 1 {
		return nil, ErrNoItems
	}
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	return AllocateWeighted(total, weights)
}

// AllocateWeighted splits total proportionally to the given weights. Each
// share except the last is floored to whole cents; the last item absorbs
// the remainder so the sum equals total exactly.
func AllocateWeighted(total int64, weights []float64) ([]int64, error) {
	if len(weights) == 0 {
		return nil, ErrNoItems
	}
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return nil, errors.New("allocation weights must be non-negative")
		}
		sum += w
	}
	if sum == 0 {
		return nil, errors.New("allocation weights must not all be zero")
	}

	out := make([]int64, len(weights))
	var assigned int64
	for i := 0; i < len(weights)-1; i++ {
		share := int64(math.Floor(float64(total) * weights[i] / sum))
		out[i] = share
		assigned += share
	}
	out[len(out)-1] = total - assigned
	return out, nil
}

func roundCents(v float64) int64 {
	return int64(math.Round(v))
}

// ParseCents parses a decimal money string such as "50.00" or "7.5" into
// minor units. An empty string parses as zero. At most two fractional
// digits are accepted; amounts are never silently truncated.
func ParseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q: at most two fractional digits", s)
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
		}
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

// FormatCents renders a minor-unit amount as a decimal string with two
// places, e.g. 12500 -> "125.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

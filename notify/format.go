// Package notify renders savings opportunities and delivers them over messaging transports
package notify

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"tariff-cost/decision/comparison"
	"tariff-cost/decision/estimation"
)

// FormatSavingsAlert renders an opportunity as a chat message.
func FormatSavingsAlert(opp comparison.Opportunity) string {
	change := "PRICE DROP"
	if opp.IsNewPlan {
		change = "NEW PLAN"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ SAVINGS DETECTED! %s found\n", change)
	fmt.Fprintf(&b, "Profile: %s\n", DisplayName(opp.Profile))
	fmt.Fprintf(&b, "  - Previous best: %s at %s/qtr\n", opp.Previous.Name, money(opp.Previous.Cost))
	fmt.Fprintf(&b, "  - Current best: %s - %s at %s/qtr\n", opp.Current.Retailer, opp.Current.Name, money(opp.Current.Cost))
	fmt.Fprintf(&b, "  - Savings: %s/qtr (%s/year) vs previous month\n", money(opp.QuarterlySavings), money(opp.AnnualSavings))

	var lines []string
	for _, s := range opp.Baselines {
		if s.QuarterlySavings.IsPositive() {
			lines = append(lines, fmt.Sprintf("    - Save %s/qtr (%s/year) vs %s\n",
				money(s.QuarterlySavings), money(s.AnnualSavings), s.Retailer))
		}
	}
	if len(lines) > 0 {
		b.WriteString("  - Baseline comparison:\n")
		for _, l := range lines {
			b.WriteString(l)
		}
	}
	return b.String()
}

// FormatMonthlySummary renders the cheapest plan per category for one profile,
// in the given category order, followed by the baseline comparison.
func FormatMonthlySummary(profile string, categories []string, cheapest map[string]*estimation.Quote, baselines []comparison.BaselineSaving) string {
	var b strings.Builder
	b.WriteString("📊 Energy Plan Monthly Summary\n\n")
	fmt.Fprintf(&b, "*Profile:* %s\n\n", DisplayName(profile))
	b.WriteString("*Cheapest Plans:*")
	for _, category := range categories {
		q := cheapest[category]
		if q == nil {
			continue
		}
		fmt.Fprintf(&b, "\n• *%s:* %s - %s/qtr", category, q.PlanName, money(q.Cost.TotalCost))
	}

	header := false
	for _, s := range baselines {
		if s.QuarterlySavings.IsZero() {
			continue
		}
		if !header {
			b.WriteString("\n\n*Savings vs Baseline:*")
			header = true
		}
		symbol := "💰"
		if s.QuarterlySavings.IsNegative() {
			symbol = "⚠️"
		}
		fmt.Fprintf(&b, "\n%s vs %s (%s): %s/qtr (%s/yr)", symbol, s.Retailer, s.PlanName,
			money(s.QuarterlySavings.Abs()), money(s.AnnualSavings.Abs()))
	}
	return b.String()
}

// DisplayName turns a profile key like "family_home" into "Family Home".
func DisplayName(profile string) string {
	words := strings.Fields(strings.ReplaceAll(profile, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

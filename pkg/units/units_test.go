package units

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestConversions(t *testing.T) {
	tests := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"cents to dollars", CentsToDollars(d("12769.4")), "127.69"},
		{"cents round half up", CentsToDollars(d("100.5")), "1.01"},
		{"daily to quarterly", DailyToQuarterly(d("110")), "10010.00"},
		{"quarterly to monthly", QuarterlyToMonthly(d("100")), "33.33"},
		{"quarterly to annual", QuarterlyToAnnual(d("127.69")), "510.76"},
		{"annual to quarterly", AnnualToQuarterly(d("100.02")), "25.01"},
		{"percent of", PercentOf(d("1600"), d("37.5")), "600.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got.StringFixed(2))
		})
	}
}

func TestRoundMoneyHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", RoundMoney(d("0.125")).StringFixed(2))
	assert.Equal(t, "-0.13", RoundMoney(d("-0.125")).StringFixed(2))
}

package fees

import (
	"errors"
	"testing"

	"github.com/handshake-escrow/backend/internal/apperr"
	"github.com/handshake-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBreakdown(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		feePercent string
		currency   string
		wantToll   string
		wantPayout string
	}{
		{"standard 2.5% on 100 USDC", "100", "2.5", models.CurrencyUSDC, "2.5", "97.5"},
		{"standard 2.5% on 1 ETH", "1", "2.5", models.CurrencyETH, "0.025", "0.975"},
		{"zero fee", "100", "0", models.CurrencyUSDC, "0", "100"},
		{"tiny amount USDC rounds to minor units", "0.000001", "2.5", models.CurrencyUSDC, "0", "0.000001"},
		{"repeating decimal rounds", "0.01", "3", models.CurrencyUSDC, "0.0003", "0.0097"},
		{"high fee", "200", "99.99", models.CurrencyUSDC, "199.98", "0.02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toll, payout, err := Breakdown(dec(tt.amount), dec(tt.feePercent), tt.currency)
			if err != nil {
				t.Fatalf("Breakdown returned error: %v", err)
			}
			if !toll.Equal(dec(tt.wantToll)) {
				t.Errorf("toll = %s, want %s", toll, tt.wantToll)
			}
			if !payout.Equal(dec(tt.wantPayout)) {
				t.Errorf("payout = %s, want %s", payout, tt.wantPayout)
			}
			if !toll.Add(payout).Equal(dec(tt.amount)) {
				t.Errorf("toll + payout = %s, want exactly %s", toll.Add(payout), tt.amount)
			}
		})
	}
}

func TestBreakdownSumInvariant(t *testing.T) {
	amounts := []string{"0.000001", "0.1", "1", "33.333333", "99999999.99", "123.456789"}
	fees := []string{"0", "0.1", "2.5", "50", "99.99"}

	for _, a := range amounts {
		for _, f := range fees {
			toll, payout, err := Breakdown(dec(a), dec(f), models.CurrencyUSDC)
			if err != nil {
				t.Fatalf("Breakdown(%s, %s) returned error: %v", a, f, err)
			}
			if !toll.Add(payout).Equal(dec(a)) {
				t.Errorf("Breakdown(%s, %s): toll %s + payout %s != amount", a, f, toll, payout)
			}
			if toll.IsNegative() || payout.IsNegative() {
				t.Errorf("Breakdown(%s, %s): negative component toll=%s payout=%s", a, f, toll, payout)
			}
		}
	}
}

func TestBreakdownValidation(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		feePercent string
		currency   string
	}{
		{"unsupported currency", "100", "2.5", "DOGE"},
		{"zero amount", "0", "2.5", models.CurrencyUSDC},
		{"negative amount", "-5", "2.5", models.CurrencyUSDC},
		{"negative fee", "100", "-1", models.CurrencyUSDC},
		{"fee at 100", "100", "100", models.CurrencyUSDC},
		{"fee above 100", "100", "150", models.CurrencyUSDC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Breakdown(dec(tt.amount), dec(tt.feePercent), tt.currency)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

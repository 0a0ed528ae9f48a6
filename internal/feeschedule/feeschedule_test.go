package feeschedule

import (
	"testing"
	"time"

	"draw-management-service/internal/models"

	"github.com/shopspring/decimal"
)

func testTerms() models.LoanTerms {
	terms := models.DefaultLoanTerms()
	terms.LoanStartDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	return terms
}

func TestRateAtMonth_ScheduleValues(t *testing.T) {
	terms := testTerms()

	tests := []struct {
		month    int
		expected string
	}{
		{1, "0.02"},
		{3, "0.02"},
		{6, "0.02"},
		{7, "0.0225"},
		{8, "0.025"},
		{12, "0.035"},
		{13, "0.059"},
		{14, "0.063"},
		{16, "0.071"},
	}

	for _, tt := range tests {
		rate, err := RateAtMonth(tt.month, terms)
		if err != nil {
			t.Fatalf("month %d: unexpected error: %v", tt.month, err)
		}

		expected := decimal.RequireFromString(tt.expected)
		if !rate.Equal(expected) {
			t.Errorf("month %d: expected rate %s, got %s", tt.month, expected, rate)
		}
	}
}

func TestRateAtMonth_InvalidMonth(t *testing.T) {
	terms := testTerms()

	for _, month := range []int{0, -1, -12} {
		if _, err := RateAtMonth(month, terms); err == nil {
			t.Errorf("expected error for month %d", month)
		}
	}
}

func TestRateAtMonth_InvalidTerms(t *testing.T) {
	terms := testTerms()
	terms.ExtensionFeeMonth = 4 // before escalation start

	if _, err := RateAtMonth(5, terms); err == nil {
		t.Error("expected error for unresolved terms")
	}
}

func TestRateAtMonth_Monotonic(t *testing.T) {
	terms := testTerms()

	prev := decimal.Zero
	for month := 1; month <= 36; month++ {
		rate, err := RateAtMonth(month, terms)
		if err != nil {
			t.Fatalf("month %d: unexpected error: %v", month, err)
		}
		if rate.LessThan(prev) {
			t.Fatalf("rate decreased at month %d: %s < %s", month, rate, prev)
		}
		prev = rate
	}
}

func TestMonthNumber(t *testing.T) {
	loanStart := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		target   time.Time
		expected int
	}{
		{"loan start day", loanStart, 1},
		{"same month later day", time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC), 1},
		{"next month before anniversary day", time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), 1},
		{"next month on anniversary day", time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), 2},
		{"six months in", time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC), 7},
		{"one year in", time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), 13},
		{"day before one year", time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), 12},
		{"before loan start clamps to 1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MonthNumber(loanStart, tt.target); got != tt.expected {
				t.Errorf("expected month %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestNextIncrease_BasePeriod(t *testing.T) {
	terms := testTerms()
	asOf := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) // month 2

	inc, err := NextIncrease(asOf, terms)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First escalation boundary: loan start + 6 months.
	expectedDate := time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC)
	if !inc.Date.Equal(expectedDate) {
		t.Errorf("expected increase date %s, got %s", expectedDate, inc.Date)
	}
	if !inc.NewRate.Equal(decimal.RequireFromString("0.0225")) {
		t.Errorf("expected new rate 0.0225, got %s", inc.NewRate)
	}
	if inc.DaysUntil != 137 {
		t.Errorf("expected 137 days until increase, got %d", inc.DaysUntil)
	}
}

func TestNextIncrease_MidEscalation(t *testing.T) {
	terms := testTerms()
	asOf := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC) // month 7

	inc, err := NextIncrease(asOf, terms)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedDate := time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC)
	if !inc.Date.Equal(expectedDate) {
		t.Errorf("expected increase date %s, got %s", expectedDate, inc.Date)
	}
	if !inc.NewRate.Equal(decimal.RequireFromString("0.025")) {
		t.Errorf("expected new rate 0.025, got %s", inc.NewRate)
	}
}

func TestNextIncrease_PostExtension(t *testing.T) {
	terms := testTerms()
	asOf := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC) // month 13

	inc, err := NextIncrease(asOf, terms)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedDate := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	if !inc.Date.Equal(expectedDate) {
		t.Errorf("expected increase date %s, got %s", expectedDate, inc.Date)
	}
	if !inc.NewRate.Equal(decimal.RequireFromString("0.063")) {
		t.Errorf("expected new rate 0.063, got %s", inc.NewRate)
	}
}

func TestNextIncrease_Unoriginated(t *testing.T) {
	terms := models.DefaultLoanTerms() // no start date

	if _, err := NextIncrease(time.Now(), terms); err == nil {
		t.Error("expected error for loan without start date")
	}
}

package amortization

import (
	"testing"
	"time"

	"draw-management-service/internal/models"

	"github.com/shopspring/decimal"
)

func testEngine() *Engine {
	terms := models.DefaultLoanTerms()
	terms.InterestRateAnnual = decimal.NewFromFloat(0.10)
	terms.LoanStartDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewEngine(terms)
}

func testDraws() []DrawEvent {
	return []DrawEvent{
		{Amount: decimal.NewFromInt(100000), Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DrawNumber: 1},
		{Amount: decimal.NewFromInt(50000), Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), DrawNumber: 2},
		{Amount: decimal.NewFromInt(75000), Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DrawNumber: 3},
	}
}

func TestBuildSchedule_BalanceInvariant(t *testing.T) {
	engine := testEngine()
	draws := testDraws()

	schedule := engine.BuildSchedule(draws, Options{})
	if len(schedule) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(schedule))
	}

	final := schedule[len(schedule)-1]
	expected := decimal.NewFromInt(225000)
	if !final.Balance.Equal(expected) {
		t.Errorf("expected final balance %s, got %s", expected, final.Balance)
	}
	if !TotalDrawn(schedule).Equal(expected) {
		t.Errorf("expected total drawn %s, got %s", expected, TotalDrawn(schedule))
	}
}

func TestBuildSchedule_InterestChaining(t *testing.T) {
	engine := testEngine()
	draws := testDraws()

	schedule := engine.BuildSchedule(draws, Options{})

	// First draw: no prior balance, no interest.
	if schedule[0].Days != 0 || !schedule[0].Interest.IsZero() {
		t.Errorf("first row should accrue nothing, got days=%d interest=%s",
			schedule[0].Days, schedule[0].Interest)
	}

	// Second period: 31 days on 100,000 at 10%/365.
	want := decimal.NewFromInt(100000).
		Mul(decimal.NewFromFloat(0.10)).
		Div(decimal.NewFromInt(365)).
		Mul(decimal.NewFromInt(31))
	if schedule[1].Days != 31 {
		t.Errorf("expected 31 days in second period, got %d", schedule[1].Days)
	}
	if !schedule[1].Interest.Equal(want) {
		t.Errorf("expected period interest %s, got %s", want, schedule[1].Interest)
	}

	// Third period: 29 days (2024 is a leap year) on 150,000.
	want2 := decimal.NewFromInt(150000).
		Mul(decimal.NewFromFloat(0.10)).
		Div(decimal.NewFromInt(365)).
		Mul(decimal.NewFromInt(29))
	if schedule[2].Days != 29 {
		t.Errorf("expected 29 days in third period, got %d", schedule[2].Days)
	}
	if !schedule[2].Interest.Equal(want2) {
		t.Errorf("expected period interest %s, got %s", want2, schedule[2].Interest)
	}

	// Cumulative interest chains across periods.
	if !schedule[2].CumulativeInterest.Equal(want.Add(want2)) {
		t.Errorf("expected cumulative interest %s, got %s",
			want.Add(want2), schedule[2].CumulativeInterest)
	}
}

func TestBuildSchedule_PayoffRow(t *testing.T) {
	engine := testEngine()
	draws := testDraws()
	payoff := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	schedule := engine.BuildSchedule(draws, Options{PayoffDate: &payoff})

	last := schedule[len(schedule)-1]
	if last.Type != RowPayoff {
		t.Fatalf("expected payoff row, got %s", last.Type)
	}
	if !last.Amount.IsZero() {
		t.Errorf("payoff row must carry no draw amount, got %s", last.Amount)
	}
	if last.Days != 31 {
		t.Errorf("expected 31 days in payoff period, got %d", last.Days)
	}
	if !last.Balance.Equal(decimal.NewFromInt(225000)) {
		t.Errorf("payoff must not change principal, got %s", last.Balance)
	}
}

func TestBuildSchedule_CurrentRow(t *testing.T) {
	engine := testEngine()
	draws := testDraws()
	asOf := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	schedule := engine.BuildSchedule(draws, Options{AsOf: asOf})

	last := schedule[len(schedule)-1]
	if last.Type != RowCurrent {
		t.Fatalf("expected current row, got %s", last.Type)
	}
	if last.Days != 10 {
		t.Errorf("expected 10 days of accrual, got %d", last.Days)
	}
}

func TestBuildSchedule_SortsOutOfOrderDraws(t *testing.T) {
	engine := testEngine()
	draws := testDraws()
	draws[0], draws[2] = draws[2], draws[0]

	schedule := engine.BuildSchedule(draws, Options{})

	for i := 1; i < len(schedule); i++ {
		if schedule[i].Date.Before(schedule[i-1].Date) {
			t.Fatal("schedule rows are not in chronological order")
		}
	}
}

func TestBuildSchedule_EmptyCases(t *testing.T) {
	engine := testEngine()

	if got := engine.BuildSchedule(nil, Options{}); len(got) != 0 {
		t.Errorf("expected empty schedule for no draws, got %d rows", len(got))
	}

	unoriginated := NewEngine(models.DefaultLoanTerms()) // no start date
	if got := unoriginated.BuildSchedule(testDraws(), Options{}); len(got) != 0 {
		t.Errorf("expected empty schedule for unoriginated loan, got %d rows", len(got))
	}
}

func TestProjectInterestAtDate(t *testing.T) {
	engine := testEngine()
	schedule := engine.BuildSchedule(testDraws(), Options{})

	last := schedule[len(schedule)-1]
	target := last.Date.AddDate(0, 0, 20)

	projected := engine.ProjectInterestAtDate(schedule, target)
	extra := decimal.NewFromInt(225000).
		Mul(decimal.NewFromFloat(0.10)).
		Div(decimal.NewFromInt(365)).
		Mul(decimal.NewFromInt(20))

	if !projected.Equal(last.CumulativeInterest.Add(extra)) {
		t.Errorf("expected projected interest %s, got %s",
			last.CumulativeInterest.Add(extra), projected)
	}

	// Target before the last row leaves cumulative interest unchanged.
	if got := engine.ProjectInterestAtDate(schedule, last.Date); !got.Equal(last.CumulativeInterest) {
		t.Errorf("expected unchanged interest, got %s", got)
	}

	if got := engine.ProjectInterestAtDate(nil, target); !got.IsZero() {
		t.Errorf("expected zero projection for empty schedule, got %s", got)
	}
}

func TestSimulateNextDraw(t *testing.T) {
	engine := testEngine()
	asOf := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	schedule := engine.BuildSchedule(testDraws(), Options{AsOf: asOf})
	originalLen := len(schedule)

	simDate := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	simulated := engine.SimulateNextDraw(schedule, decimal.NewFromInt(40000), simDate)

	// Original schedule untouched.
	if len(schedule) != originalLen {
		t.Fatal("simulation mutated the input schedule")
	}

	// Trailing current row replaced by the simulated draw.
	last := simulated[len(simulated)-1]
	if last.Type != RowDraw {
		t.Fatalf("expected trailing draw row, got %s", last.Type)
	}
	if last.DrawNumber != 4 {
		t.Errorf("expected simulated draw number 4, got %d", last.DrawNumber)
	}
	if !last.Balance.Equal(decimal.NewFromInt(265000)) {
		t.Errorf("expected simulated balance 265000, got %s", last.Balance)
	}
	if last.Days != 31 {
		t.Errorf("expected 31 days from last real draw, got %d", last.Days)
	}

	for _, row := range simulated[:len(simulated)-1] {
		if row.Type != RowDraw {
			t.Errorf("non-draw row %s survived simulation", row.Type)
		}
	}
}

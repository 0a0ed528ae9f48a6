// Package amortization builds chronological draw ledgers for construction
// loans.
//
// The interest model is sequential simple-interest chaining: each period
// accrues simple daily interest on the outstanding principal balance, and
// periods sum into a cumulative interest figure. Interest never capitalizes
// into principal, so the final balance always equals the sum of draw
// amounts.
package amortization

import (
	"sort"
	"time"

	"draw-management-service/internal/feeschedule"
	"draw-management-service/internal/models"

	"github.com/shopspring/decimal"
)

// RowType identifies what a schedule row represents
type RowType string

const (
	// RowDraw is a funded draw added to principal
	RowDraw RowType = "draw"
	// RowPayoff closes the schedule at an explicit payoff date
	RowPayoff RowType = "payoff"
	// RowCurrent accrues interest from the last draw to the as-of date
	RowCurrent RowType = "current"
)

// Row is one period of the amortization schedule
type Row struct {
	Date               time.Time       `json:"date"`
	Type               RowType         `json:"type"`
	DrawNumber         int             `json:"draw_number,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Days               int             `json:"days"`
	Interest           decimal.Decimal `json:"interest"`
	FeeRate            decimal.Decimal `json:"fee_rate"`
	Balance            decimal.Decimal `json:"balance"`
	CumulativeInterest decimal.Decimal `json:"cumulative_interest"`
}

// DrawEvent is a funded draw used as schedule input
type DrawEvent struct {
	Amount     decimal.Decimal `json:"amount"`
	Date       time.Time       `json:"date"`
	DrawNumber int             `json:"draw_number,omitempty"`
}

// Options controls schedule construction
type Options struct {
	// PayoffDate, when set, terminates the schedule with a payoff row
	PayoffDate *time.Time
	// AsOf is the date the trailing current row accrues to when no payoff
	// date is given. Zero means no trailing row beyond the last draw.
	AsOf time.Time
}

// Engine computes amortization schedules for a loan's resolved terms
type Engine struct {
	terms models.LoanTerms
}

// NewEngine creates an amortization engine for the given terms
func NewEngine(terms models.LoanTerms) *Engine {
	return &Engine{terms: terms}
}

var daysPerYear = decimal.NewFromInt(365)

// perDiem returns the daily interest amount on a balance
func (e *Engine) perDiem(balance decimal.Decimal) decimal.Decimal {
	return balance.Mul(e.terms.InterestRateAnnual).Div(daysPerYear)
}

// daysBetween returns whole days from a to b, rounding partial days down
func daysBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	return int(b.Sub(a).Hours() / 24)
}

// feeRateAt returns the fee rate for a date, or zero when the fee terms are
// not resolvable; schedules for partially configured loans still build.
func (e *Engine) feeRateAt(date time.Time) decimal.Decimal {
	month := feeschedule.MonthNumber(e.terms.LoanStartDate, date)
	rate, err := feeschedule.RateAtMonth(month, e.terms)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// BuildSchedule builds the chronological ledger of draws. Draws are sorted
// by date; out-of-order input is accepted. An empty draw list or a loan
// without a start date yields an empty schedule.
func (e *Engine) BuildSchedule(draws []DrawEvent, opts Options) []Row {
	if len(draws) == 0 || !e.terms.HasOriginated() {
		return []Row{}
	}

	sorted := make([]DrawEvent, len(draws))
	copy(sorted, draws)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	rows := make([]Row, 0, len(sorted)+1)
	balance := decimal.Zero
	cumulative := decimal.Zero
	prevDate := sorted[0].Date

	for _, draw := range sorted {
		days := daysBetween(prevDate, draw.Date)
		interest := e.perDiem(balance).Mul(decimal.NewFromInt(int64(days)))
		cumulative = cumulative.Add(interest)
		balance = balance.Add(draw.Amount)

		rows = append(rows, Row{
			Date:               draw.Date,
			Type:               RowDraw,
			DrawNumber:         draw.DrawNumber,
			Amount:             draw.Amount,
			Days:               days,
			Interest:           interest,
			FeeRate:            e.feeRateAt(draw.Date),
			Balance:            balance,
			CumulativeInterest: cumulative,
		})
		prevDate = draw.Date
	}

	// Trailing row: payoff when a payoff date is given, otherwise accrual
	// to the as-of date. Carries no draw amount.
	endDate := opts.AsOf
	endType := RowCurrent
	if opts.PayoffDate != nil {
		endDate = *opts.PayoffDate
		endType = RowPayoff
	}

	if !endDate.IsZero() && endDate.After(prevDate) {
		days := daysBetween(prevDate, endDate)
		interest := e.perDiem(balance).Mul(decimal.NewFromInt(int64(days)))
		cumulative = cumulative.Add(interest)

		rows = append(rows, Row{
			Date:               endDate,
			Type:               endType,
			Amount:             decimal.Zero,
			Days:               days,
			Interest:           interest,
			FeeRate:            e.feeRateAt(endDate),
			Balance:            balance,
			CumulativeInterest: cumulative,
		})
	}

	return rows
}

// ProjectInterestAtDate extrapolates cumulative interest from the last
// schedule row to a future date using the same per-diem formula. A target
// on or before the last row returns the schedule's cumulative interest
// unchanged; an empty schedule projects zero.
func (e *Engine) ProjectInterestAtDate(schedule []Row, target time.Time) decimal.Decimal {
	if len(schedule) == 0 {
		return decimal.Zero
	}

	last := schedule[len(schedule)-1]
	days := daysBetween(last.Date, target)
	if days <= 0 {
		return last.CumulativeInterest
	}

	projected := e.perDiem(last.Balance).Mul(decimal.NewFromInt(int64(days)))
	return last.CumulativeInterest.Add(projected)
}

// SimulateNextDraw returns a new schedule with a hypothetical draw appended.
// The input schedule is not modified. A trailing non-draw row (current or
// payoff) is replaced by the simulated draw's accrual period.
func (e *Engine) SimulateNextDraw(schedule []Row, amount decimal.Decimal, date time.Time) []Row {
	rows := make([]Row, 0, len(schedule)+1)
	for _, row := range schedule {
		if row.Type != RowDraw {
			continue
		}
		rows = append(rows, row)
	}

	balance := decimal.Zero
	cumulative := decimal.Zero
	prevDate := date
	nextDrawNumber := 1
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		balance = last.Balance
		cumulative = last.CumulativeInterest
		prevDate = last.Date
		nextDrawNumber = last.DrawNumber + 1
	}

	days := daysBetween(prevDate, date)
	interest := e.perDiem(balance).Mul(decimal.NewFromInt(int64(days)))
	cumulative = cumulative.Add(interest)
	balance = balance.Add(amount)

	rows = append(rows, Row{
		Date:               date,
		Type:               RowDraw,
		DrawNumber:         nextDrawNumber,
		Amount:             amount,
		Days:               days,
		Interest:           interest,
		FeeRate:            e.feeRateAt(date),
		Balance:            balance,
		CumulativeInterest: cumulative,
	})

	return rows
}

// TotalDrawn sums the draw amounts in a schedule
func TotalDrawn(schedule []Row) decimal.Decimal {
	total := decimal.Zero
	for _, row := range schedule {
		if row.Type == RowDraw {
			total = total.Add(row.Amount)
		}
	}
	return total
}

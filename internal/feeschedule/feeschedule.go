// Package feeschedule computes loan fee rates under an escalating fee
// structure.
//
// The fee schedule has four phases driven by the 1-indexed loan month:
//
//  1. Base period (months 1..FeeEscalationAfterMonths): flat BaseFee.
//  2. Escalation period (through the month before ExtensionFeeMonth):
//     FeeRateAtMonth7 anchors the period, rising by FeeEscalationPct per
//     month past month 7. The anchor is a configured constant, not derived
//     from BaseFee.
//  3. Extension month (== ExtensionFeeMonth): flat ExtensionFeeRate.
//  4. Post-extension (months after ExtensionFeeMonth): ExtensionFeeRate
//     plus PostExtensionEscalation per month past the extension month.
//
// All functions are pure; terms must be fully resolved (see
// models.ResolveLoanTerms) before calling.
package feeschedule

import (
	"fmt"
	"time"

	"draw-management-service/internal/models"
	"draw-management-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// escalationAnchorMonth is the month the configured anchor rate applies to.
// The escalation formula offsets from this month, not from the end of the
// base period.
const escalationAnchorMonth = 7

// RateAtMonth returns the fee rate in effect for the given 1-indexed loan
// month. Month values below 1 are rejected.
func RateAtMonth(month int, terms models.LoanTerms) (decimal.Decimal, error) {
	if month < 1 {
		return decimal.Zero, errors.ScheduleError(errors.CodeInvalidMonth, "rate_at_month",
			fmt.Errorf("month %d is before loan start", month)).
			WithContext("month", month)
	}
	if err := terms.Validate(); err != nil {
		return decimal.Zero, errors.ScheduleError(errors.CodeMissingTerms, "rate_at_month", err)
	}

	switch {
	case month <= terms.FeeEscalationAfterMonths:
		return terms.BaseFee, nil

	case month < terms.ExtensionFeeMonth:
		steps := int64(month - escalationAnchorMonth)
		return terms.FeeRateAtMonth7.Add(terms.FeeEscalationPct.Mul(decimal.NewFromInt(steps))), nil

	case month == terms.ExtensionFeeMonth:
		return terms.ExtensionFeeRate, nil

	default:
		steps := int64(month - terms.ExtensionFeeMonth)
		return terms.ExtensionFeeRate.Add(terms.PostExtensionEscalation.Mul(decimal.NewFromInt(steps))), nil
	}
}

// MonthNumber returns the 1-indexed loan month containing target. The loan
// start day anchors the month boundary: a target earlier in its calendar
// month than the start day still belongs to the previous loan month
// (partial months round down). Targets at or before the start date are
// month 1.
func MonthNumber(loanStart, target time.Time) int {
	months := (target.Year()-loanStart.Year())*12 + int(target.Month()) - int(loanStart.Month())
	if target.Day() < loanStart.Day() {
		months--
	}

	month := months + 1
	if month < 1 {
		return 1
	}
	return month
}

// Increase describes the next scheduled fee-rate change
type Increase struct {
	Date      time.Time       `json:"date"`
	DaysUntil int             `json:"days_until"`
	NewRate   decimal.Decimal `json:"new_rate"`
}

// NextIncrease returns the next fee-rate change on or after asOf. There are
// three buckets: during the base period the next change is the first
// escalation month; mid-escalation every month boundary raises the rate;
// post-extension likewise. Within the escalation period the jump to the
// extension rate falls out of the same month-boundary arithmetic.
func NextIncrease(asOf time.Time, terms models.LoanTerms) (*Increase, error) {
	if !terms.HasOriginated() {
		return nil, errors.ScheduleError(errors.CodeMissingTerms, "next_increase",
			fmt.Errorf("loan start date is not set"))
	}
	if err := terms.Validate(); err != nil {
		return nil, errors.ScheduleError(errors.CodeMissingTerms, "next_increase", err)
	}

	month := MonthNumber(terms.LoanStartDate, asOf)

	// Months to add to the loan start to reach the boundary where the next
	// rate takes effect. In the base period that is the first escalation
	// month; afterwards it is simply the next whole month.
	var boundaryMonths int
	if month <= terms.FeeEscalationAfterMonths {
		boundaryMonths = terms.FeeEscalationAfterMonths
	} else {
		boundaryMonths = month
	}

	date := terms.LoanStartDate.AddDate(0, boundaryMonths, 0)
	newRate, err := RateAtMonth(boundaryMonths+1, terms)
	if err != nil {
		return nil, err
	}

	days := int(date.Sub(asOf).Hours() / 24)
	if days < 0 {
		days = 0
	}

	return &Increase{
		Date:      date,
		DaysUntil: days,
		NewRate:   newRate,
	}, nil
}

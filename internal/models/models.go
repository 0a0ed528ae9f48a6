// Package models defines the core domain types for construction-loan draw
// management: budgets, draw requests and lines, invoices, audit events,
// match decisions, and resolved loan terms.
//
// Monetary values use shopspring/decimal throughout. Status values and line
// flags are typed enums; legacy encodings ("paid" draw status, free-form
// flag strings) are normalized by the parsing boundary, never inside the
// engines.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DrawStatus represents the lifecycle state of a draw request
type DrawStatus string

const (
	DrawStatusDraft       DrawStatus = "draft"
	DrawStatusSubmitted   DrawStatus = "submitted"
	DrawStatusReview      DrawStatus = "review"
	DrawStatusStaged      DrawStatus = "staged"
	DrawStatusPendingWire DrawStatus = "pending_wire"
	DrawStatusFunded      DrawStatus = "funded"
	DrawStatusRejected    DrawStatus = "rejected"
)

// String returns the string representation of DrawStatus
func (s DrawStatus) String() string {
	return string(s)
}

// IsValid checks if the draw status is a known state
func (s DrawStatus) IsValid() bool {
	switch s {
	case DrawStatusDraft, DrawStatusSubmitted, DrawStatusReview, DrawStatusStaged,
		DrawStatusPendingWire, DrawStatusFunded, DrawStatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is an end state
func (s DrawStatus) IsTerminal() bool {
	return s == DrawStatusFunded || s == DrawStatusRejected
}

// ParseDrawStatus parses a draw status string, normalizing the legacy
// "paid" alias to funded. This is the only place the alias is handled;
// engine code compares canonical statuses only.
func ParseDrawStatus(s string) (DrawStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "paid" {
		return DrawStatusFunded, nil
	}

	status := DrawStatus(normalized)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid draw status '%s'", s)
	}
	return status, nil
}

// LineFlag is a typed tag attached to a draw line
type LineFlag string

const (
	FlagNoInvoice      LineFlag = "NO_INVOICE"
	FlagOverBudget     LineFlag = "OVER_BUDGET"
	FlagLowConfidence  LineFlag = "LOW_CONFIDENCE"
	FlagAmountMismatch LineFlag = "AMOUNT_MISMATCH"
)

// ParseLineFlag parses a single flag token
func ParseLineFlag(s string) (LineFlag, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "" {
		return "", fmt.Errorf("line flag cannot be empty")
	}
	return LineFlag(normalized), nil
}

// FlagSet is a set of line flags with set semantics. The zero value is an
// empty, usable set for reads; use NewFlagSet or Add for writes.
type FlagSet map[LineFlag]struct{}

// NewFlagSet creates a FlagSet containing the given flags
func NewFlagSet(flags ...LineFlag) FlagSet {
	fs := make(FlagSet, len(flags))
	for _, f := range flags {
		fs[f] = struct{}{}
	}
	return fs
}

// Has reports whether the set contains the flag
func (fs FlagSet) Has(flag LineFlag) bool {
	_, ok := fs[flag]
	return ok
}

// Add returns a set containing the flag, allocating if the receiver is nil
func (fs FlagSet) Add(flag LineFlag) FlagSet {
	if fs == nil {
		fs = make(FlagSet)
	}
	fs[flag] = struct{}{}
	return fs
}

// Remove deletes the flag from the set
func (fs FlagSet) Remove(flag LineFlag) FlagSet {
	delete(fs, flag)
	return fs
}

// Clone returns a copy of the set
func (fs FlagSet) Clone() FlagSet {
	clone := make(FlagSet, len(fs))
	for f := range fs {
		clone[f] = struct{}{}
	}
	return clone
}

// Slice returns the flags as a sorted string slice
func (fs FlagSet) Slice() []string {
	out := make([]string, 0, len(fs))
	for f := range fs {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two sets contain the same flags
func (fs FlagSet) Equal(other FlagSet) bool {
	if len(fs) != len(other) {
		return false
	}
	for f := range fs {
		if !other.Has(f) {
			return false
		}
	}
	return true
}

// String returns the sorted comma-joined form
func (fs FlagSet) String() string {
	return strings.Join(fs.Slice(), ",")
}

// MarshalJSON encodes the set as a sorted JSON array
func (fs FlagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(fs.Slice())
}

// UnmarshalJSON decodes a JSON array of flag strings
func (fs *FlagSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set := make(FlagSet, len(raw))
	for _, s := range raw {
		flag, err := ParseLineFlag(s)
		if err != nil {
			return err
		}
		set[flag] = struct{}{}
	}
	*fs = set
	return nil
}

// Budget represents a category-level allocation within a project's budget
type Budget struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"project_id"`
	Category        string          `json:"category"`
	NAHBCategory    string          `json:"nahb_category,omitempty"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	CurrentAmount   decimal.Decimal `json:"current_amount"`
	SpentAmount     decimal.Decimal `json:"spent_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
}

// Remaining derives the remaining amount from current and spent
func (b *Budget) Remaining() decimal.Decimal {
	return b.CurrentAmount.Sub(b.SpentAmount)
}

// Utilization returns spent/current as a fraction, or 0 when current is zero
func (b *Budget) Utilization() float64 {
	if b.CurrentAmount.IsZero() {
		return 0
	}
	ratio, _ := b.SpentAmount.Div(b.CurrentAmount).Float64()
	return ratio
}

// Validate performs basic validation on the Budget
func (b *Budget) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("budget id cannot be empty")
	}
	if strings.TrimSpace(b.Category) == "" {
		return fmt.Errorf("budget category cannot be empty")
	}
	if b.SpentAmount.IsNegative() {
		return fmt.Errorf("budget spent amount cannot be negative: %s", b.SpentAmount)
	}
	if b.CurrentAmount.IsNegative() {
		return fmt.Errorf("budget current amount cannot be negative: %s", b.CurrentAmount)
	}
	return nil
}

// String returns a string representation of the Budget
func (b *Budget) String() string {
	return fmt.Sprintf("Budget{ID: %s, Category: %s, Current: %s, Spent: %s}",
		b.ID, b.Category, b.CurrentAmount.StringFixed(2), b.SpentAmount.StringFixed(2))
}

// DrawRequest represents a project's funding request
type DrawRequest struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	DrawNumber  int             `json:"draw_number"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      DrawStatus      `json:"status"`
	FundedAt    *time.Time      `json:"funded_at,omitempty"`
}

// Validate performs basic validation on the DrawRequest
func (d *DrawRequest) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("draw request id cannot be empty")
	}
	if d.DrawNumber < 1 {
		return fmt.Errorf("draw number must be positive: %d", d.DrawNumber)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("invalid draw status: %s", d.Status)
	}
	return nil
}

// String returns a string representation of the DrawRequest
func (d *DrawRequest) String() string {
	return fmt.Sprintf("DrawRequest{ID: %s, Draw: #%d, Total: %s, Status: %s}",
		d.ID, d.DrawNumber, d.TotalAmount.StringFixed(2), d.Status)
}

// DrawLine represents a single line of a draw request, optionally tied to a
// budget line and to a matched invoice
type DrawLine struct {
	ID                   string           `json:"id"`
	DrawRequestID        string           `json:"draw_request_id"`
	BudgetID             string           `json:"budget_id,omitempty"`
	Description          string           `json:"description,omitempty"`
	AmountRequested      decimal.Decimal  `json:"amount_requested"`
	AmountApproved       *decimal.Decimal `json:"amount_approved,omitempty"`
	VendorName           string           `json:"vendor_name,omitempty"`
	MatchedInvoiceAmount *decimal.Decimal `json:"matched_invoice_amount,omitempty"`
	ConfidenceScore      float64          `json:"confidence_score,omitempty"`
	Variance             *decimal.Decimal `json:"variance,omitempty"`
	Flags                FlagSet          `json:"flags,omitempty"`
}

// AmountToRecord returns the amount applied to the ledger: the approved
// amount when present, otherwise the requested amount
func (l *DrawLine) AmountToRecord() decimal.Decimal {
	if l.AmountApproved != nil {
		return *l.AmountApproved
	}
	return l.AmountRequested
}

// HasInvoice reports whether the line carries invoice linkage
func (l *DrawLine) HasInvoice() bool {
	return l.MatchedInvoiceAmount != nil
}

// Validate performs basic validation on the DrawLine
func (l *DrawLine) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("draw line id cannot be empty")
	}
	if strings.TrimSpace(l.DrawRequestID) == "" {
		return fmt.Errorf("draw line must belong to a draw request")
	}
	if l.AmountRequested.IsNegative() {
		return fmt.Errorf("requested amount cannot be negative: %s", l.AmountRequested)
	}
	return nil
}

// String returns a string representation of the DrawLine
func (l *DrawLine) String() string {
	return fmt.Sprintf("DrawLine{ID: %s, Budget: %s, Requested: %s, Flags: [%s]}",
		l.ID, l.BudgetID, l.AmountRequested.StringFixed(2), l.Flags)
}

// MatchStatus represents the invoice matching lifecycle
type MatchStatus string

const (
	MatchStatusPending          MatchStatus = "pending"
	MatchStatusAutoMatched      MatchStatus = "auto_matched"
	MatchStatusAIMatched        MatchStatus = "ai_matched"
	MatchStatusNeedsReview      MatchStatus = "needs_review"
	MatchStatusNoMatch          MatchStatus = "no_match"
	MatchStatusExtractionFailed MatchStatus = "extraction_failed"
)

// String returns the string representation of MatchStatus
func (s MatchStatus) String() string {
	return string(s)
}

// IsValid checks if the match status is a known state
func (s MatchStatus) IsValid() bool {
	switch s {
	case MatchStatusPending, MatchStatusAutoMatched, MatchStatusAIMatched,
		MatchStatusNeedsReview, MatchStatusNoMatch, MatchStatusExtractionFailed:
		return true
	default:
		return false
	}
}

// ExtractedInvoiceData holds the structured fields produced by the upstream
// extraction step. A nil ExtractedInvoiceData on an invoice means extraction
// failed or has not run.
type ExtractedInvoiceData struct {
	VendorName           string          `json:"vendor_name"`
	Amount               decimal.Decimal `json:"amount"`
	InvoiceNumber        string          `json:"invoice_number,omitempty"`
	InvoiceDate          *time.Time      `json:"invoice_date,omitempty"`
	LineItems            []string        `json:"line_items,omitempty"`
	ConstructionCategory string          `json:"construction_category,omitempty"`
	ProjectReference     string          `json:"project_reference,omitempty"`
}

// Invoice represents an uploaded invoice document and its matching state
type Invoice struct {
	ID                string                `json:"id"`
	ProjectID         string                `json:"project_id"`
	DrawRequestID     string                `json:"draw_request_id,omitempty"`
	MatchStatus       MatchStatus           `json:"match_status"`
	ConfidenceScore   float64               `json:"confidence_score,omitempty"`
	MatchedDrawLineID string                `json:"matched_draw_line_id,omitempty"`
	Extracted         *ExtractedInvoiceData `json:"extracted,omitempty"`
}

// Validate performs basic validation on the Invoice
func (inv *Invoice) Validate() error {
	if strings.TrimSpace(inv.ID) == "" {
		return fmt.Errorf("invoice id cannot be empty")
	}
	if inv.MatchStatus != "" && !inv.MatchStatus.IsValid() {
		return fmt.Errorf("invalid match status: %s", inv.MatchStatus)
	}
	return nil
}

// DecisionType classifies how a match was made
type DecisionType string

const (
	DecisionAutoSingle    DecisionType = "auto_single"
	DecisionAISelected    DecisionType = "ai_selected"
	DecisionManualInitial DecisionType = "manual_initial"
)

// DecisionSource identifies who made a match decision
type DecisionSource string

const (
	SourceSystem DecisionSource = "system"
	SourceAI     DecisionSource = "ai"
	SourceHuman  DecisionSource = "human"
)

// MatchDecision is the audit-trail record of how an invoice match was made
type MatchDecision struct {
	ID               string         `json:"id"`
	InvoiceID        string         `json:"invoice_id"`
	DecisionType     DecisionType   `json:"decision_type"`
	Source           DecisionSource `json:"source"`
	CandidateCount   int            `json:"candidate_count"`
	ChosenDrawLineID string         `json:"chosen_draw_line_id,omitempty"`
	Confidence       float64        `json:"confidence,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Audit actions recorded by the core
const (
	ActionSpendRecorded = "spend_recorded"
	ActionMatchDecision = "match_decision"
	ActionFlagsUpdated  = "flags_updated"
)

// AuditEvent is an append-only record of a state change. Spend events double
// as the ledger's idempotency guard: an event with action "spend_recorded"
// whose NewData carries a draw_line_id blocks re-application of that line.
type AuditEvent struct {
	ID         string                 `json:"id"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     string                 `json:"action"`
	Actor      string                 `json:"actor,omitempty"`
	OldData    map[string]interface{} `json:"old_data,omitempty"`
	NewData    map[string]interface{} `json:"new_data,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// DrawLineID extracts the draw line correlation from a spend event, or ""
func (e *AuditEvent) DrawLineID() string {
	if e.NewData == nil {
		return ""
	}
	if id, ok := e.NewData["draw_line_id"].(string); ok {
		return id
	}
	return ""
}

// LoanTerms holds the effective loan parameters used by the fee-schedule and
// amortization engines. Terms are resolved project > lender > system default
// via ResolveLoanTerms before any engine call.
type LoanTerms struct {
	InterestRateAnnual       decimal.Decimal `json:"interest_rate_annual"`
	BaseFee                  decimal.Decimal `json:"base_fee"`
	FeeEscalationPct         decimal.Decimal `json:"fee_escalation_pct"`
	FeeEscalationAfterMonths int             `json:"fee_escalation_after_months"`
	FeeRateAtMonth7          decimal.Decimal `json:"fee_rate_at_month_7"`
	ExtensionFeeMonth        int             `json:"extension_fee_month"`
	ExtensionFeeRate         decimal.Decimal `json:"extension_fee_rate"`
	PostExtensionEscalation  decimal.Decimal `json:"post_extension_escalation"`
	LoanTermMonths           int             `json:"loan_term_months"`
	LoanAmount               decimal.Decimal `json:"loan_amount,omitempty"`
	LoanStartDate            time.Time       `json:"loan_start_date,omitempty"`
}

// DefaultLoanTerms returns the system-default terms used when neither the
// project nor the lender overrides a parameter
func DefaultLoanTerms() LoanTerms {
	return LoanTerms{
		InterestRateAnnual:       decimal.NewFromFloat(0.105),
		BaseFee:                  decimal.NewFromFloat(0.02),
		FeeEscalationPct:         decimal.NewFromFloat(0.0025),
		FeeEscalationAfterMonths: 6,
		FeeRateAtMonth7:          decimal.NewFromFloat(0.0225),
		ExtensionFeeMonth:        13,
		ExtensionFeeRate:         decimal.NewFromFloat(0.059),
		PostExtensionEscalation:  decimal.NewFromFloat(0.004),
		LoanTermMonths:           12,
	}
}

// LoanTermsOverride holds optional per-lender or per-project overrides.
// Nil fields fall through to the next level of the resolution chain.
type LoanTermsOverride struct {
	InterestRateAnnual       *decimal.Decimal
	BaseFee                  *decimal.Decimal
	FeeEscalationPct         *decimal.Decimal
	FeeEscalationAfterMonths *int
	FeeRateAtMonth7          *decimal.Decimal
	ExtensionFeeMonth        *int
	ExtensionFeeRate         *decimal.Decimal
	PostExtensionEscalation  *decimal.Decimal
	LoanTermMonths           *int
	LoanAmount               *decimal.Decimal
	LoanStartDate            *time.Time
}

// ResolveLoanTerms applies lender then project overrides on top of the
// defaults, so a project setting always wins over a lender setting
func ResolveLoanTerms(defaults LoanTerms, lender, project *LoanTermsOverride) LoanTerms {
	terms := defaults
	for _, override := range []*LoanTermsOverride{lender, project} {
		if override == nil {
			continue
		}
		if override.InterestRateAnnual != nil {
			terms.InterestRateAnnual = *override.InterestRateAnnual
		}
		if override.BaseFee != nil {
			terms.BaseFee = *override.BaseFee
		}
		if override.FeeEscalationPct != nil {
			terms.FeeEscalationPct = *override.FeeEscalationPct
		}
		if override.FeeEscalationAfterMonths != nil {
			terms.FeeEscalationAfterMonths = *override.FeeEscalationAfterMonths
		}
		if override.FeeRateAtMonth7 != nil {
			terms.FeeRateAtMonth7 = *override.FeeRateAtMonth7
		}
		if override.ExtensionFeeMonth != nil {
			terms.ExtensionFeeMonth = *override.ExtensionFeeMonth
		}
		if override.ExtensionFeeRate != nil {
			terms.ExtensionFeeRate = *override.ExtensionFeeRate
		}
		if override.PostExtensionEscalation != nil {
			terms.PostExtensionEscalation = *override.PostExtensionEscalation
		}
		if override.LoanTermMonths != nil {
			terms.LoanTermMonths = *override.LoanTermMonths
		}
		if override.LoanAmount != nil {
			terms.LoanAmount = *override.LoanAmount
		}
		if override.LoanStartDate != nil {
			terms.LoanStartDate = *override.LoanStartDate
		}
	}
	return terms
}

// Validate checks that the fee-schedule parameters are fully resolved
func (t *LoanTerms) Validate() error {
	if t.FeeEscalationAfterMonths < 1 {
		return fmt.Errorf("fee escalation start month must be positive: %d", t.FeeEscalationAfterMonths)
	}
	if t.ExtensionFeeMonth <= t.FeeEscalationAfterMonths {
		return fmt.Errorf("extension fee month %d must follow escalation start month %d",
			t.ExtensionFeeMonth, t.FeeEscalationAfterMonths)
	}
	if t.BaseFee.IsNegative() || t.ExtensionFeeRate.IsNegative() {
		return fmt.Errorf("fee rates cannot be negative")
	}
	if t.LoanTermMonths < 1 {
		return fmt.Errorf("loan term months must be positive: %d", t.LoanTermMonths)
	}
	return nil
}

// HasOriginated reports whether the loan has a start date; engines return
// empty results for unoriginated loans instead of erroring
func (t *LoanTerms) HasOriginated() bool {
	return !t.LoanStartDate.IsZero()
}

// ParseDecimalFromString parses a decimal amount, tolerating currency
// symbols and thousands separators found in CSV exports
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse a date from string using the
// formats commonly seen in budget and draw exports
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"01/02/2006",
		"2006/01/02",
		"Jan 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

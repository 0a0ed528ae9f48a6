// Package anomaly scans project budgets, draws, and draw lines for spending
// irregularities.
//
// The detector is pure and stateless: it reads the passed-in records,
// applies independently evaluated rules with configurable thresholds, and
// returns a severity-ordered list of typed anomalies. It never touches
// storage and can be re-run against updated state at any time.
package anomaly

import (
	"fmt"
	"sort"
	"time"

	"draw-management-service/internal/models"

	"github.com/shopspring/decimal"
)

// Severity ranks how urgently an anomaly needs attention
type Severity int

const (
	SeverityCritical Severity = iota
	SeverityWarning
	SeverityInfo
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Type identifies the rule that produced an anomaly
type Type string

const (
	TypeOverBudget      Type = "OVER_BUDGET"
	TypeNearBudget      Type = "NEAR_BUDGET"
	TypeSpendingSpike   Type = "SPENDING_SPIKE"
	TypeDormantCategory Type = "DORMANT_CATEGORY"
	TypeConcentration   Type = "CONCENTRATION_RISK"
	TypeLargeVariance   Type = "LARGE_VARIANCE"
	TypeVelocityHigh    Type = "VELOCITY_HIGH"
	TypeVelocityLow     Type = "VELOCITY_LOW"
)

// Anomaly is one detected irregularity with enough structured data to
// drive both display and testing
type Anomaly struct {
	Type       Type                   `json:"type"`
	Severity   Severity               `json:"severity"`
	Message    string                 `json:"message"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// DetectorConfig holds the rule thresholds. All values are documented
// defaults that can be overridden per deployment.
type DetectorConfig struct {
	// OverageCriticalPct escalates an over-budget anomaly to critical when
	// the overage percentage exceeds it
	OverageCriticalPct float64 `json:"overage_critical_pct"`

	// NearBudgetPct is the utilization fraction that triggers a near-budget
	// notice (spend below 100% of allocation)
	NearBudgetPct float64 `json:"near_budget_pct"`

	// SpikePct flags a single draw line exceeding this fraction of its
	// budget's current amount
	SpikePct float64 `json:"spike_pct"`

	// DormantAfterDays flags allocated budgets with zero spend after this
	// many days into the loan
	DormantAfterDays int `json:"dormant_after_days"`

	// ConcentrationPct flags a category whose spend exceeds this fraction
	// of total project spend
	ConcentrationPct float64 `json:"concentration_pct"`

	// VariancePct and VarianceHighPct grade requested-vs-invoice variance
	VariancePct     float64 `json:"variance_pct"`
	VarianceHighPct float64 `json:"variance_high_pct"`

	// VelocityHighRatio and VelocityLowRatio compare actual spend progress
	// against expected progress through the loan term; the month gates
	// suppress noise early in the loan
	VelocityHighRatio       float64 `json:"velocity_high_ratio"`
	VelocityLowRatio        float64 `json:"velocity_low_ratio"`
	VelocityHighAfterMonths int     `json:"velocity_high_after_months"`
	VelocityLowAfterMonths  int     `json:"velocity_low_after_months"`
}

// DefaultDetectorConfig returns the documented default thresholds
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		OverageCriticalPct:      20.0,
		NearBudgetPct:           0.90,
		SpikePct:                0.50,
		DormantAfterDays:        60,
		ConcentrationPct:        0.40,
		VariancePct:             10.0,
		VarianceHighPct:         25.0,
		VelocityHighRatio:       1.5,
		VelocityLowRatio:        0.5,
		VelocityHighAfterMonths: 1,
		VelocityLowAfterMonths:  2,
	}
}

// Validate checks the detector configuration
func (c *DetectorConfig) Validate() error {
	if c.OverageCriticalPct < 0 {
		return fmt.Errorf("overage critical pct cannot be negative: %f", c.OverageCriticalPct)
	}
	if c.NearBudgetPct <= 0 || c.NearBudgetPct >= 1 {
		return fmt.Errorf("near budget pct must be between 0 and 1: %f", c.NearBudgetPct)
	}
	if c.SpikePct <= 0 || c.SpikePct > 1 {
		return fmt.Errorf("spike pct must be between 0 and 1: %f", c.SpikePct)
	}
	if c.DormantAfterDays < 0 {
		return fmt.Errorf("dormant after days cannot be negative: %d", c.DormantAfterDays)
	}
	if c.ConcentrationPct <= 0 || c.ConcentrationPct > 1 {
		return fmt.Errorf("concentration pct must be between 0 and 1: %f", c.ConcentrationPct)
	}
	if c.VarianceHighPct < c.VariancePct {
		return fmt.Errorf("variance high pct %f must be at least variance pct %f",
			c.VarianceHighPct, c.VariancePct)
	}
	if c.VelocityHighRatio <= c.VelocityLowRatio {
		return fmt.Errorf("velocity high ratio %f must exceed low ratio %f",
			c.VelocityHighRatio, c.VelocityLowRatio)
	}
	return nil
}

// Clone creates a copy of the configuration
func (c *DetectorConfig) Clone() *DetectorConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ProjectContext carries the project-level facts the rules need
type ProjectContext struct {
	ProjectID      string
	LoanStartDate  time.Time
	LoanTermMonths int
	AsOf           time.Time
}

// Detector runs the anomaly rules over project state
type Detector struct {
	config *DetectorConfig
}

// NewDetector creates a detector with the specified configuration
func NewDetector(config *DetectorConfig) *Detector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &Detector{config: config}
}

// Detect evaluates every rule and returns anomalies ordered critical →
// warning → info. Ordering within a severity is stable in rule order.
func (d *Detector) Detect(budgets []*models.Budget, draws []*models.DrawRequest, lines []*models.DrawLine, project ProjectContext) []Anomaly {
	var anomalies []Anomaly

	anomalies = append(anomalies, d.checkBudgetLevels(budgets)...)
	anomalies = append(anomalies, d.checkSpendingSpikes(budgets, lines)...)
	anomalies = append(anomalies, d.checkDormantCategories(budgets, project)...)
	anomalies = append(anomalies, d.checkConcentration(budgets)...)
	anomalies = append(anomalies, d.checkVariances(lines)...)
	anomalies = append(anomalies, d.checkVelocity(budgets, project)...)

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Severity < anomalies[j].Severity
	})

	return anomalies
}

// checkBudgetLevels evaluates the over-budget and near-budget rules
func (d *Detector) checkBudgetLevels(budgets []*models.Budget) []Anomaly {
	var out []Anomaly

	for _, b := range budgets {
		if !b.CurrentAmount.IsPositive() {
			continue
		}

		if b.SpentAmount.GreaterThan(b.CurrentAmount) {
			overage := b.SpentAmount.Sub(b.CurrentAmount)
			overagePct, _ := overage.Div(b.CurrentAmount).Mul(decimal.NewFromInt(100)).Float64()

			severity := SeverityWarning
			if overagePct > d.config.OverageCriticalPct {
				severity = SeverityCritical
			}

			out = append(out, Anomaly{
				Type:     TypeOverBudget,
				Severity: severity,
				Message: fmt.Sprintf("%s is $%s over budget (%.1f%% overage)",
					b.Category, formatAmount(overage), overagePct),
				Suggestion: "review recent draws against this category and consider a budget revision",
				Data: map[string]interface{}{
					"budget_id":      b.ID,
					"category":       b.Category,
					"current_amount": b.CurrentAmount.StringFixed(2),
					"spent_amount":   b.SpentAmount.StringFixed(2),
					"overage":        overage.StringFixed(2),
					"overage_pct":    overagePct,
				},
			})
			continue
		}

		utilization := b.Utilization()
		if utilization >= d.config.NearBudgetPct && utilization < 1.0 {
			out = append(out, Anomaly{
				Type:     TypeNearBudget,
				Severity: SeverityInfo,
				Message: fmt.Sprintf("%s has used %.1f%% of its allocation",
					b.Category, utilization*100),
				Suggestion: "verify remaining work in this category fits the remaining allocation",
				Data: map[string]interface{}{
					"budget_id":   b.ID,
					"category":    b.Category,
					"utilization": utilization,
					"remaining":   b.Remaining().StringFixed(2),
				},
			})
		}
	}

	return out
}

// checkSpendingSpikes flags single draw lines that consume an outsized
// share of their budget
func (d *Detector) checkSpendingSpikes(budgets []*models.Budget, lines []*models.DrawLine) []Anomaly {
	budgetByID := make(map[string]*models.Budget, len(budgets))
	for _, b := range budgets {
		budgetByID[b.ID] = b
	}

	var out []Anomaly
	threshold := decimal.NewFromFloat(d.config.SpikePct)

	for _, line := range lines {
		b, ok := budgetByID[line.BudgetID]
		if !ok || !b.CurrentAmount.IsPositive() {
			continue
		}

		amount := line.AmountToRecord()
		if amount.GreaterThan(b.CurrentAmount.Mul(threshold)) {
			sharePct, _ := amount.Div(b.CurrentAmount).Mul(decimal.NewFromInt(100)).Float64()
			out = append(out, Anomaly{
				Type:     TypeSpendingSpike,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("single draw line of $%s is %.1f%% of the %s budget",
					formatAmount(amount), sharePct, b.Category),
				Suggestion: "confirm this line reflects actual completed work rather than a data entry error",
				Data: map[string]interface{}{
					"draw_line_id": line.ID,
					"budget_id":    b.ID,
					"category":     b.Category,
					"amount":       amount.StringFixed(2),
					"share_pct":    sharePct,
				},
			})
		}
	}

	return out
}

// checkDormantCategories flags allocated budgets with zero spend well into
// the loan term
func (d *Detector) checkDormantCategories(budgets []*models.Budget, project ProjectContext) []Anomaly {
	if project.LoanStartDate.IsZero() {
		return nil
	}

	asOf := project.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	daysSinceStart := int(asOf.Sub(project.LoanStartDate).Hours() / 24)
	if daysSinceStart <= d.config.DormantAfterDays {
		return nil
	}

	var out []Anomaly
	for _, b := range budgets {
		if b.CurrentAmount.IsPositive() && b.SpentAmount.IsZero() {
			out = append(out, Anomaly{
				Type:     TypeDormantCategory,
				Severity: SeverityInfo,
				Message: fmt.Sprintf("%s has a $%s allocation with no spend after %d days",
					b.Category, formatAmount(b.CurrentAmount), daysSinceStart),
				Suggestion: "check whether this work is delayed or the allocation should be reassigned",
				Data: map[string]interface{}{
					"budget_id":        b.ID,
					"category":         b.Category,
					"current_amount":   b.CurrentAmount.StringFixed(2),
					"days_since_start": daysSinceStart,
				},
			})
		}
	}

	return out
}

// checkConcentration flags categories dominating total project spend
func (d *Detector) checkConcentration(budgets []*models.Budget) []Anomaly {
	totalSpent := decimal.Zero
	for _, b := range budgets {
		totalSpent = totalSpent.Add(b.SpentAmount)
	}
	if !totalSpent.IsPositive() {
		return nil
	}

	var out []Anomaly
	threshold := decimal.NewFromFloat(d.config.ConcentrationPct)

	for _, b := range budgets {
		if b.SpentAmount.GreaterThan(totalSpent.Mul(threshold)) {
			sharePct, _ := b.SpentAmount.Div(totalSpent).Mul(decimal.NewFromInt(100)).Float64()
			out = append(out, Anomaly{
				Type:     TypeConcentration,
				Severity: SeverityInfo,
				Message: fmt.Sprintf("%s accounts for %.1f%% of all project spend",
					b.Category, sharePct),
				Suggestion: "confirm the spend distribution matches the construction phase",
				Data: map[string]interface{}{
					"budget_id": b.ID,
					"category":  b.Category,
					"share_pct": sharePct,
					"spent":     b.SpentAmount.StringFixed(2),
				},
			})
		}
	}

	return out
}

// checkVariances grades requested-vs-matched-invoice differences
func (d *Detector) checkVariances(lines []*models.DrawLine) []Anomaly {
	var out []Anomaly

	for _, line := range lines {
		if line.MatchedInvoiceAmount == nil || !line.AmountRequested.IsPositive() {
			continue
		}

		diff := line.AmountRequested.Sub(*line.MatchedInvoiceAmount).Abs()
		variancePct, _ := diff.Div(line.AmountRequested).Mul(decimal.NewFromInt(100)).Float64()
		if variancePct <= d.config.VariancePct {
			continue
		}

		severity := SeverityInfo
		if variancePct > d.config.VarianceHighPct {
			severity = SeverityWarning
		}

		out = append(out, Anomaly{
			Type:     TypeLargeVariance,
			Severity: severity,
			Message: fmt.Sprintf("draw line requests $%s but its invoice shows $%s (%.1f%% variance)",
				formatAmount(line.AmountRequested), formatAmount(*line.MatchedInvoiceAmount), variancePct),
			Suggestion: "reconcile the requested amount with the invoice before funding",
			Data: map[string]interface{}{
				"draw_line_id":   line.ID,
				"requested":      line.AmountRequested.StringFixed(2),
				"invoice_amount": line.MatchedInvoiceAmount.StringFixed(2),
				"variance_pct":   variancePct,
			},
		})
	}

	return out
}

// checkVelocity compares actual spend progress against the expected pace
// through the loan term
func (d *Detector) checkVelocity(budgets []*models.Budget, project ProjectContext) []Anomaly {
	if project.LoanStartDate.IsZero() || project.LoanTermMonths < 1 {
		return nil
	}

	asOf := project.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	monthsElapsed := asOf.Sub(project.LoanStartDate).Hours() / 24 / 30.44
	if monthsElapsed <= 0 {
		return nil
	}

	totalBudget := decimal.Zero
	totalSpent := decimal.Zero
	for _, b := range budgets {
		totalBudget = totalBudget.Add(b.CurrentAmount)
		totalSpent = totalSpent.Add(b.SpentAmount)
	}
	if !totalBudget.IsPositive() {
		return nil
	}

	actualProgress, _ := totalSpent.Div(totalBudget).Float64()
	expectedProgress := monthsElapsed / float64(project.LoanTermMonths)

	data := map[string]interface{}{
		"actual_progress":   actualProgress,
		"expected_progress": expectedProgress,
		"months_elapsed":    monthsElapsed,
		"total_spent":       totalSpent.StringFixed(2),
		"total_budget":      totalBudget.StringFixed(2),
	}

	if monthsElapsed >= float64(d.config.VelocityHighAfterMonths) &&
		actualProgress > expectedProgress*d.config.VelocityHighRatio {
		return []Anomaly{{
			Type:     TypeVelocityHigh,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("spending is at %.1f%% of budget but only %.1f%% of the loan term has elapsed",
				actualProgress*100, expectedProgress*100),
			Suggestion: "project may exhaust its budget before completion; review the draw forecast",
			Data:       data,
		}}
	}

	if monthsElapsed >= float64(d.config.VelocityLowAfterMonths) &&
		actualProgress < expectedProgress*d.config.VelocityLowRatio {
		return []Anomaly{{
			Type:     TypeVelocityLow,
			Severity: SeverityInfo,
			Message: fmt.Sprintf("spending is at %.1f%% of budget with %.1f%% of the loan term elapsed",
				actualProgress*100, expectedProgress*100),
			Suggestion: "construction may be behind schedule; check project status",
			Data:       data,
		}}
	}

	return nil
}

// formatAmount renders a decimal with thousands separators for messages
func formatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)

	negative := false
	if len(s) > 0 && s[0] == '-' {
		negative = true
		s = s[1:]
	}

	dot := len(s) - 3
	intPart, fracPart := s[:dot], s[dot:]

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := ""
	for i, g := range groups {
		if i > 0 {
			out += ","
		}
		out += g
	}
	if negative {
		out = "-" + out
	}
	return out + fracPart
}

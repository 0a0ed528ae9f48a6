package anomaly

import (
	"testing"
	"time"

	"draw-management-service/internal/models"

	"github.com/shopspring/decimal"
)

func createTestBudget(id, category string, current, spent float64) *models.Budget {
	return &models.Budget{
		ID:            id,
		ProjectID:     "proj-1",
		Category:      category,
		CurrentAmount: decimal.NewFromFloat(current),
		SpentAmount:   decimal.NewFromFloat(spent),
	}
}

func createTestContext(start time.Time, termMonths int, asOf time.Time) ProjectContext {
	return ProjectContext{
		ProjectID:      "proj-1",
		LoanStartDate:  start,
		LoanTermMonths: termMonths,
		AsOf:           asOf,
	}
}

func findAnomaly(anomalies []Anomaly, t Type) *Anomaly {
	for i := range anomalies {
		if anomalies[i].Type == t {
			return &anomalies[i]
		}
	}
	return nil
}

func TestDefaultDetectorConfig(t *testing.T) {
	config := DefaultDetectorConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
	if config.OverageCriticalPct != 20.0 {
		t.Errorf("expected overage critical pct 20.0, got %f", config.OverageCriticalPct)
	}
	if config.DormantAfterDays != 60 {
		t.Errorf("expected dormant after days 60, got %d", config.DormantAfterDays)
	}
}

func TestDetectorConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*DetectorConfig)
		wantErr bool
	}{
		{
			name:    "valid default",
			modify:  func(c *DetectorConfig) {},
			wantErr: false,
		},
		{
			name:    "negative overage pct",
			modify:  func(c *DetectorConfig) { c.OverageCriticalPct = -1 },
			wantErr: true,
		},
		{
			name:    "near budget pct above one",
			modify:  func(c *DetectorConfig) { c.NearBudgetPct = 1.5 },
			wantErr: true,
		},
		{
			name:    "variance high below variance",
			modify:  func(c *DetectorConfig) { c.VarianceHighPct = 5; c.VariancePct = 10 },
			wantErr: true,
		},
		{
			name:    "velocity ratios inverted",
			modify:  func(c *DetectorConfig) { c.VelocityHighRatio = 0.4; c.VelocityLowRatio = 0.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultDetectorConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetectOverBudget(t *testing.T) {
	detector := NewDetector(nil)
	ctx := createTestContext(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 12,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	budgets := []*models.Budget{
		createTestBudget("b-1", "Electrical", 50000, 65000),
	}

	anomalies := detector.Detect(budgets, nil, nil, ctx)

	found := findAnomaly(anomalies, TypeOverBudget)
	if found == nil {
		t.Fatal("expected an over-budget anomaly")
	}
	// 30% overage exceeds the 20% critical threshold
	if found.Severity != SeverityCritical {
		t.Errorf("expected critical severity, got %s", found.Severity)
	}
	if found.Data["overage"] != "15000.00" {
		t.Errorf("expected overage 15000.00, got %v", found.Data["overage"])
	}
	if got := found.Message; got != "Electrical is $15,000.00 over budget (30.0% overage)" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestDetectOverBudgetWarning(t *testing.T) {
	detector := NewDetector(nil)
	ctx := createTestContext(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 12,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	// 10% overage stays below the 20% critical threshold
	budgets := []*models.Budget{
		createTestBudget("b-1", "Plumbing", 100000, 110000),
	}

	anomalies := detector.Detect(budgets, nil, nil, ctx)

	found := findAnomaly(anomalies, TypeOverBudget)
	if found == nil {
		t.Fatal("expected an over-budget anomaly")
	}
	if found.Severity != SeverityWarning {
		t.Errorf("expected warning severity, got %s", found.Severity)
	}
}

func TestDetectNearBudget(t *testing.T) {
	detector := NewDetector(nil)
	ctx := createTestContext(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 12,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	budgets := []*models.Budget{
		createTestBudget("b-1", "Framing", 100000, 92000),
	}

	anomalies := detector.Detect(budgets, nil, nil, ctx)

	found := findAnomaly(anomalies, TypeNearBudget)
	if found == nil {
		t.Fatal("expected a near-budget anomaly")
	}
	if found.Severity != SeverityInfo {
		t.Errorf("expected info severity, got %s", found.Severity)
	}
	if findAnomaly(anomalies, TypeOverBudget) != nil {
		t.Error("should not flag over-budget when under allocation")
	}
}

func TestDetectSpendingSpike(t *testing.T) {
	detector := NewDetector(nil)
	ctx := createTestContext(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 12,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	budgets := []*models.Budget{
		createTestBudget("b-1", "Foundation", 100000, 20000),
	}
	lines := []*models.DrawLine{
		{
			ID:              "dl-1",
			DrawRequestID:   "dr-1",
			BudgetID:        "b-1",
			AmountRequested: decimal.NewFromFloat(60000),
		},
		{
			ID:              "dl-2",
			DrawRequestID:   "dr-1",
			BudgetID:        "b-1",
			AmountRequested: decimal.NewFromFloat(20000),
		},
	}

	anomalies := detector.Detect(budgets, nil, lines, ctx)

	found := findAnomaly(anomalies, TypeSpendingSpike)
	if found == nil {
		t.Fatal("expected a spending spike anomaly")
	}
	if found.Data["draw_line_id"] != "dl-1" {
		t.Errorf("expected spike on dl-1, got %v", found.Data["draw_line_id"])
	}
}

func TestDetectDormantCategory(t *testing.T) {
	detector := NewDetector(nil)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	budgets := []*models.Budget{
		createTestBudget("b-1", "Landscaping", 40000, 0),
		createTestBudget("b-2", "Foundation", 100000, 50000),
	}

	// 90 days into the loan, past the 60-day dormancy threshold
	ctx := createTestContext(start, 12, start.AddDate(0, 0, 90))
	anomalies := detector.Detect(budgets, nil, nil, ctx)

	found := findAnomaly(anomalies, TypeDormantCategory)
	if found == nil {
		t.Fatal("expected a dormant category anomaly")
	}
	if found.Severity != SeverityInfo {
		t.Errorf("expected info severity, got %s", found.Severity)
	}
	if found.Data["budget_id"] != "b-1" {
		t.Errorf("expected dormant budget b-1, got %v", found.Data["budget_id"])
	}

	// 30 days in, no dormancy flag yet
	early := createTestContext(start, 12, start.AddDate(0, 0, 30))
	anomalies = detector.Detect(budgets, nil, nil, early)
	if findAnomaly(anomalies, TypeDormantCategory) != nil {
		t.Error("should not flag dormancy before the threshold")
	}
}

func TestDetectConcentration(t *testing.T) {
	detector := NewDetector(nil)
	ctx := createTestContext(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 12,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	budgets := []*models.Budget{
		createTestBudget("b-1", "Foundation", 500000, 90000),
		createTestBudget("b-2", "Framing", 500000, 30000),
		createTestBudget("b-3", "Electrical", 500000, 30000),
	}

	anomalies := detector.Detect(budgets, nil, nil, ctx)

	found := findAnomaly(anomalies, TypeConcentration)
	if found == nil {
		t.Fatal("expected a concentration anomaly")
	}
	if found.Data["category"] != "Foundation" {
		t.Errorf("expected Foundation concentration, got %v", found.Data["category"])
	}
}

func TestDetectLargeVariance(t *testing.T) {
	detector := NewDetector(nil)
	ctx := createTestContext(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 12,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	invoiceAmount := decimal.NewFromFloat(7000)
	highInvoice := decimal.NewFromFloat(5000)
	lines := []*models.DrawLine{
		{
			ID:                   "dl-1",
			DrawRequestID:        "dr-1",
			AmountRequested:      decimal.NewFromFloat(8000),
			MatchedInvoiceAmount: &invoiceAmount, // 12.5% variance
		},
		{
			ID:                   "dl-2",
			DrawRequestID:        "dr-1",
			AmountRequested:      decimal.NewFromFloat(8000),
			MatchedInvoiceAmount: &highInvoice, // 37.5% variance
		},
	}

	anomalies := detector.Detect(nil, nil, lines, ctx)

	var info, warning *Anomaly
	for i := range anomalies {
		if anomalies[i].Type != TypeLargeVariance {
			continue
		}
		switch anomalies[i].Data["draw_line_id"] {
		case "dl-1":
			info = &anomalies[i]
		case "dl-2":
			warning = &anomalies[i]
		}
	}

	if info == nil || info.Severity != SeverityInfo {
		t.Errorf("expected info variance on dl-1, got %+v", info)
	}
	if warning == nil || warning.Severity != SeverityWarning {
		t.Errorf("expected warning variance on dl-2, got %+v", warning)
	}
}

func TestDetectVelocity(t *testing.T) {
	detector := NewDetector(nil)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		spent    float64
		asOf     time.Time
		wantType Type
	}{
		{
			name:  "spending far ahead of schedule",
			spent: 600000,
			// 2 months into a 12-month term, 60% spent vs ~16.7% expected
			asOf:     start.AddDate(0, 2, 0),
			wantType: TypeVelocityHigh,
		},
		{
			name:  "spending far behind schedule",
			spent: 20000,
			// 4 months in, 2% spent vs ~33% expected
			asOf:     start.AddDate(0, 4, 0),
			wantType: TypeVelocityLow,
		},
		{
			name:     "on pace",
			spent:    250000,
			asOf:     start.AddDate(0, 3, 0),
			wantType: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			budgets := []*models.Budget{
				createTestBudget("b-1", "Total", 1000000, tt.spent),
			}
			ctx := createTestContext(start, 12, tt.asOf)
			anomalies := detector.Detect(budgets, nil, nil, ctx)

			if tt.wantType == "" {
				if findAnomaly(anomalies, TypeVelocityHigh) != nil ||
					findAnomaly(anomalies, TypeVelocityLow) != nil {
					t.Errorf("expected no velocity anomaly, got %+v", anomalies)
				}
				return
			}
			if findAnomaly(anomalies, tt.wantType) == nil {
				t.Errorf("expected %s anomaly, got %+v", tt.wantType, anomalies)
			}
		})
	}
}

func TestDetectSeverityOrdering(t *testing.T) {
	detector := NewDetector(nil)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := createTestContext(start, 12, start.AddDate(0, 0, 90))

	budgets := []*models.Budget{
		createTestBudget("b-1", "Electrical", 50000, 65000), // critical over-budget
		createTestBudget("b-2", "Framing", 100000, 92000),   // info near-budget
		createTestBudget("b-3", "Plumbing", 100000, 110000), // warning over-budget
		createTestBudget("b-4", "Landscaping", 40000, 0),    // info dormant
	}

	anomalies := detector.Detect(budgets, nil, nil, ctx)
	if len(anomalies) < 4 {
		t.Fatalf("expected at least 4 anomalies, got %d", len(anomalies))
	}

	for i := 1; i < len(anomalies); i++ {
		if anomalies[i].Severity < anomalies[i-1].Severity {
			t.Errorf("anomalies out of severity order at index %d: %s before %s",
				i, anomalies[i-1].Severity, anomalies[i].Severity)
		}
	}
	if anomalies[0].Severity != SeverityCritical {
		t.Errorf("expected first anomaly critical, got %s", anomalies[0].Severity)
	}
}

func TestDetectEmptyInputs(t *testing.T) {
	detector := NewDetector(nil)
	ctx := createTestContext(time.Time{}, 0, time.Time{})

	anomalies := detector.Detect(nil, nil, nil, ctx)
	if len(anomalies) != 0 {
		t.Errorf("expected no anomalies for empty inputs, got %d", len(anomalies))
	}
}

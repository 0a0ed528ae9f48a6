package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"draw-management-service/internal/amortization"
	"draw-management-service/internal/anomaly"
	"draw-management-service/internal/ledger"

	"github.com/shopspring/decimal"
)

func createTestAnomalies() []anomaly.Anomaly {
	return []anomaly.Anomaly{
		{
			Type:       anomaly.TypeOverBudget,
			Severity:   anomaly.SeverityCritical,
			Message:    "Electrical is $15,000.00 over budget (30.0% overage)",
			Suggestion: "review recent draws against this category and consider a budget revision",
		},
		{
			Type:     anomaly.TypeDormantCategory,
			Severity: anomaly.SeverityInfo,
			Message:  "Landscaping has a $40,000.00 allocation with no spend after 90 days",
		},
	}
}

func createTestScheduleRows() []amortization.Row {
	return []amortization.Row{
		{
			Date:               time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Type:               amortization.RowDraw,
			DrawNumber:         1,
			Amount:             decimal.NewFromInt(100000),
			Balance:            decimal.NewFromInt(100000),
			FeeRate:            decimal.NewFromFloat(0.02),
			Interest:           decimal.Zero,
			CumulativeInterest: decimal.Zero,
		},
	}
}

func TestNewReportGenerator(t *testing.T) {
	if _, err := NewReportGenerator(nil); err != nil {
		t.Errorf("nil config should use defaults: %v", err)
	}

	bad := &ReportConfig{Format: "yaml"}
	if _, err := NewReportGenerator(bad); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestWriteAnomalyReportConsole(t *testing.T) {
	rg, _ := NewReportGenerator(DefaultReportConfig())
	var buf bytes.Buffer

	if err := rg.WriteAnomalyReport(&buf, "proj-1", createTestAnomalies()); err != nil {
		t.Fatalf("WriteAnomalyReport() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"proj-1", "CRITICAL", "OVER_BUDGET", "$15,000.00", "1 critical"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteAnomalyReportJSON(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	rg, _ := NewReportGenerator(config)
	var buf bytes.Buffer

	if err := rg.WriteAnomalyReport(&buf, "proj-1", createTestAnomalies()); err != nil {
		t.Fatalf("WriteAnomalyReport() error = %v", err)
	}

	var report AnomalyReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if report.Total != 2 {
		t.Errorf("expected total 2, got %d", report.Total)
	}
	if report.BySeverity["critical"] != 1 || report.BySeverity["info"] != 1 {
		t.Errorf("unexpected severity counts: %v", report.BySeverity)
	}
}

func TestWriteAnomalyReportCSV(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	rg, _ := NewReportGenerator(config)
	var buf bytes.Buffer

	if err := rg.WriteAnomalyReport(&buf, "proj-1", createTestAnomalies()); err != nil {
		t.Fatalf("WriteAnomalyReport() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "type,severity") {
		t.Errorf("unexpected CSV header: %s", lines[0])
	}
}

func TestWriteAnomalyReportEmpty(t *testing.T) {
	rg, _ := NewReportGenerator(DefaultReportConfig())
	var buf bytes.Buffer

	if err := rg.WriteAnomalyReport(&buf, "proj-1", nil); err != nil {
		t.Fatalf("WriteAnomalyReport() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No anomalies detected") {
		t.Errorf("expected empty-scan message, got:\n%s", buf.String())
	}
}

func TestWriteScheduleReport(t *testing.T) {
	rg, _ := NewReportGenerator(DefaultReportConfig())
	var buf bytes.Buffer

	if err := rg.WriteScheduleReport(&buf, createTestScheduleRows()); err != nil {
		t.Fatalf("WriteScheduleReport() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"2024-01-01", "draw", "100000.00", "0.0200"} {
		if !strings.Contains(out, want) {
			t.Errorf("schedule output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteScheduleReportCSV(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	rg, _ := NewReportGenerator(config)
	var buf bytes.Buffer

	if err := rg.WriteScheduleReport(&buf, createTestScheduleRows()); err != nil {
		t.Fatalf("WriteScheduleReport() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus 1 row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "2024-01-01,draw,100000.00") {
		t.Errorf("unexpected CSV row: %s", lines[1])
	}
}

func TestWriteSpendReport(t *testing.T) {
	rg, _ := NewReportGenerator(DefaultReportConfig())
	var buf bytes.Buffer

	result := &ledger.ApplyResult{
		DrawRequestID: "dr-1",
		Updated:       1,
		Skipped:       1,
		Lines: []ledger.LineResult{
			{DrawLineID: "dl-1", BudgetID: "b-1", Applied: true},
			{DrawLineID: "dl-2", BudgetID: "b-2", Skipped: true},
		},
	}

	if err := rg.WriteSpendReport(&buf, result); err != nil {
		t.Fatalf("WriteSpendReport() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"dr-1", "Applied: 1", "Skipped: 1", "applied", "skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("spend output missing %q:\n%s", want, out)
		}
	}

	if err := rg.WriteSpendReport(&buf, nil); err == nil {
		t.Error("expected error for nil result")
	}
}

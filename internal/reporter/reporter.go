// Package reporter renders draw management results for terminal and
// machine consumption.
//
// Three report types are supported: anomaly scans, amortization schedules,
// and spend application summaries. Each can be rendered as console text,
// JSON, or CSV.
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"draw-management-service/internal/amortization"
	"draw-management-service/internal/anomaly"
	"draw-management-service/internal/ledger"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeSuggestions adds each anomaly's suggestion to console output
	IncludeSuggestions bool `json:"include_suggestions"`

	// CSVHeaders writes a header row before CSV data
	CSVHeaders bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeSuggestions: true,
		CSVHeaders:         true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	return nil
}

// ReportGenerator renders reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a report generator with the specified
// configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// AnomalyReport is the serializable envelope for an anomaly scan
type AnomalyReport struct {
	ProjectID   string            `json:"project_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Total       int               `json:"total"`
	BySeverity  map[string]int    `json:"by_severity"`
	Anomalies   []anomaly.Anomaly `json:"anomalies"`
}

// WriteAnomalyReport renders an anomaly scan to the writer
func (rg *ReportGenerator) WriteAnomalyReport(w io.Writer, projectID string, anomalies []anomaly.Anomaly) error {
	report := &AnomalyReport{
		ProjectID:   projectID,
		GeneratedAt: time.Now().UTC(),
		Total:       len(anomalies),
		BySeverity:  make(map[string]int),
		Anomalies:   anomalies,
	}
	for _, a := range anomalies {
		report.BySeverity[a.Severity.String()]++
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(w, report)
	case FormatCSV:
		return rg.writeAnomalyCSV(w, anomalies)
	default:
		return rg.writeAnomalyConsole(w, report)
	}
}

func (rg *ReportGenerator) writeAnomalyConsole(w io.Writer, report *AnomalyReport) error {
	fmt.Fprintf(w, "Anomaly Scan: project %s\n", report.ProjectID)
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", 60))

	if report.Total == 0 {
		fmt.Fprintln(w, "No anomalies detected.")
		return nil
	}

	fmt.Fprintf(w, "%d anomalies (%d critical, %d warning, %d info)\n\n",
		report.Total,
		report.BySeverity["critical"],
		report.BySeverity["warning"],
		report.BySeverity["info"])

	for _, a := range report.Anomalies {
		fmt.Fprintf(w, "[%-8s] %-20s %s\n", strings.ToUpper(a.Severity.String()), a.Type, a.Message)
		if rg.config.IncludeSuggestions && a.Suggestion != "" {
			fmt.Fprintf(w, "           -> %s\n", a.Suggestion)
		}
	}
	return nil
}

func (rg *ReportGenerator) writeAnomalyCSV(w io.Writer, anomalies []anomaly.Anomaly) error {
	cw := csv.NewWriter(w)
	if rg.config.CSVHeaders {
		if err := cw.Write([]string{"type", "severity", "message", "suggestion"}); err != nil {
			return err
		}
	}
	for _, a := range anomalies {
		if err := cw.Write([]string{string(a.Type), a.Severity.String(), a.Message, a.Suggestion}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ScheduleReport is the serializable envelope for an amortization schedule
type ScheduleReport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Rows        []amortization.Row `json:"rows"`
}

// WriteScheduleReport renders an amortization schedule to the writer
func (rg *ReportGenerator) WriteScheduleReport(w io.Writer, rows []amortization.Row) error {
	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(w, &ScheduleReport{GeneratedAt: time.Now().UTC(), Rows: rows})
	case FormatCSV:
		return rg.writeScheduleCSV(w, rows)
	default:
		return rg.writeScheduleConsole(w, rows)
	}
}

func (rg *ReportGenerator) writeScheduleConsole(w io.Writer, rows []amortization.Row) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No schedule rows (loan not originated or no draws).")
		return nil
	}

	fmt.Fprintf(w, "%-12s %-8s %12s %6s %12s %8s %14s %14s\n",
		"Date", "Type", "Amount", "Days", "Interest", "Fee", "Balance", "Cum. Interest")
	fmt.Fprintln(w, strings.Repeat("-", 94))
	for _, row := range rows {
		fmt.Fprintf(w, "%-12s %-8s %12s %6d %12s %8s %14s %14s\n",
			row.Date.Format("2006-01-02"),
			row.Type,
			row.Amount.StringFixed(2),
			row.Days,
			row.Interest.StringFixed(2),
			row.FeeRate.StringFixed(4),
			row.Balance.StringFixed(2),
			row.CumulativeInterest.StringFixed(2))
	}
	return nil
}

func (rg *ReportGenerator) writeScheduleCSV(w io.Writer, rows []amortization.Row) error {
	cw := csv.NewWriter(w)
	if rg.config.CSVHeaders {
		header := []string{"date", "type", "amount", "days", "interest", "fee_rate", "balance", "cumulative_interest"}
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	for _, row := range rows {
		record := []string{
			row.Date.Format("2006-01-02"),
			string(row.Type),
			row.Amount.StringFixed(2),
			strconv.Itoa(row.Days),
			row.Interest.StringFixed(2),
			row.FeeRate.StringFixed(4),
			row.Balance.StringFixed(2),
			row.CumulativeInterest.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SpendReport is the serializable envelope for a spend application run
type SpendReport struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Result      *ledger.ApplyResult `json:"result"`
}

// WriteSpendReport renders a spend application summary to the writer
func (rg *ReportGenerator) WriteSpendReport(w io.Writer, result *ledger.ApplyResult) error {
	if result == nil {
		return fmt.Errorf("apply result cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(w, &SpendReport{GeneratedAt: time.Now().UTC(), Result: result})
	case FormatCSV:
		return rg.writeSpendCSV(w, result)
	default:
		return rg.writeSpendConsole(w, result)
	}
}

func (rg *ReportGenerator) writeSpendConsole(w io.Writer, result *ledger.ApplyResult) error {
	fmt.Fprintf(w, "Spend Application: draw %s\n", result.DrawRequestID)
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(w, "Applied: %d   Skipped: %d   Failed: %d\n\n",
		result.Updated, result.Skipped, result.Failed)

	for _, line := range result.Lines {
		status := "applied"
		detail := ""
		switch {
		case line.Skipped:
			status = "skipped"
		case line.Err != nil:
			status = "failed"
			detail = " (" + line.Err.Error() + ")"
		}
		fmt.Fprintf(w, "  %-12s %-14s -> %s%s\n", line.DrawLineID, line.BudgetID, status, detail)
	}
	return nil
}

func (rg *ReportGenerator) writeSpendCSV(w io.Writer, result *ledger.ApplyResult) error {
	cw := csv.NewWriter(w)
	if rg.config.CSVHeaders {
		if err := cw.Write([]string{"draw_line_id", "budget_id", "status", "error"}); err != nil {
			return err
		}
	}
	for _, line := range result.Lines {
		status := "applied"
		errMsg := ""
		switch {
		case line.Skipped:
			status = "skipped"
		case line.Err != nil:
			status = "failed"
			errMsg = line.Err.Error()
		}
		if err := cw.Write([]string{line.DrawLineID, line.BudgetID, status, errMsg}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

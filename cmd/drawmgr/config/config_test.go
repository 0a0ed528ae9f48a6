package config

import (
	"testing"
	"time"

	"draw-management-service/internal/reporter"

	apperrors "draw-management-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func TestCreateDetectorConfig(t *testing.T) {
	tests := []struct {
		name         string
		dormantDays  int
		expectedDays int
		expectError  bool
	}{
		{"default dormancy", 0, 60, false},
		{"custom dormancy", 90, 90, false},
		{"negative falls back to default", -5, 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateDetectorConfig(tt.dormantDays)

			if tt.expectError {
				if err == nil {
					t.Error("expected configuration error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.DormantAfterDays != tt.expectedDays {
				t.Errorf("expected DormantAfterDays %d, got %d", tt.expectedDays, config.DormantAfterDays)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("detector config should be valid: %v", err)
			}
		})
	}
}

func TestCreateMatchingConfig(t *testing.T) {
	tests := []struct {
		name          string
		profile       string
		expectedMin   float64
		expectError   bool
	}{
		{"empty profile uses default", "", 0.5, false},
		{"default profile", "default", 0.5, false},
		{"strict profile", "strict", 0.7, false},
		{"relaxed profile", "relaxed", 0.35, false},
		{"unknown profile", "aggressive", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateMatchingConfig(tt.profile)

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for profile '%s'", tt.profile)
				}
				appErr, ok := apperrors.AsAppError(err)
				if !ok {
					t.Fatalf("expected AppError, got %T", err)
				}
				if appErr.Category != apperrors.CategoryConfiguration {
					t.Errorf("expected configuration category, got %s", appErr.Category)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.MinConfidenceScore != tt.expectedMin {
				t.Errorf("expected MinConfidenceScore %f, got %f", tt.expectedMin, config.MinConfidenceScore)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("matching config should be valid: %v", err)
			}
		})
	}
}

func TestCreateReconcilerConfig(t *testing.T) {
	tests := []struct {
		name          string
		actor         string
		expectedActor string
	}{
		{"default actor", "", "system"},
		{"explicit actor", "ops@example.com", "ops@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := CreateReconcilerConfig(tt.actor)

			if config.Actor != tt.expectedActor {
				t.Errorf("expected Actor '%s', got '%s'", tt.expectedActor, config.Actor)
			}
			if !config.FlagOverBudget {
				t.Error("expected FlagOverBudget to be true")
			}
		})
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		name           string
		format         string
		expectedFormat reporter.OutputFormat
		expectError    bool
	}{
		{"empty defaults to console", "", reporter.FormatConsole, false},
		{"console format", "console", reporter.FormatConsole, false},
		{"json format", "json", reporter.FormatJSON, false},
		{"csv format", "csv", reporter.FormatCSV, false},
		{"unknown format", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateReportConfig(tt.format)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for format '%s'", tt.format)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Format != tt.expectedFormat {
				t.Errorf("expected Format %s, got %s", tt.expectedFormat, config.Format)
			}

			switch tt.format {
			case "", "console":
				if !config.IncludeSuggestions {
					t.Error("console format should include suggestions")
				}
			case "csv":
				if !config.CSVHeaders {
					t.Error("CSV format should include headers")
				}
			}

			if err := config.Validate(); err != nil {
				t.Errorf("report config should be valid: %v", err)
			}
		})
	}
}

func TestCreateLoanTerms(t *testing.T) {
	t.Run("defaults when no overrides", func(t *testing.T) {
		terms, err := CreateLoanTerms(0, "", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !terms.InterestRateAnnual.Equal(decimal.NewFromFloat(0.105)) {
			t.Errorf("expected default rate 0.105, got %s", terms.InterestRateAnnual)
		}
		if terms.LoanTermMonths != 12 {
			t.Errorf("expected default term 12, got %d", terms.LoanTermMonths)
		}
	})

	t.Run("overrides applied", func(t *testing.T) {
		terms, err := CreateLoanTerms(0.0899, "2024-03-15", 18)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !terms.InterestRateAnnual.Equal(decimal.NewFromFloat(0.0899)) {
			t.Errorf("expected rate 0.0899, got %s", terms.InterestRateAnnual)
		}
		want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		if !terms.LoanStartDate.Equal(want) {
			t.Errorf("expected start %v, got %v", want, terms.LoanStartDate)
		}
		if terms.LoanTermMonths != 18 {
			t.Errorf("expected term 18, got %d", terms.LoanTermMonths)
		}
	})

	t.Run("invalid inputs", func(t *testing.T) {
		cases := []struct {
			name       string
			rate       float64
			loanStart  string
			termMonths int
		}{
			{"rate above one", 10.5, "", 0},
			{"negative rate", -0.01, "", 0},
			{"bad date", 0, "03/15/2024", 0},
			{"negative term", 0, "", -6},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := CreateLoanTerms(tc.rate, tc.loanStart, tc.termMonths); err == nil {
					t.Error("expected configuration error")
				}
			})
		}
	})
}

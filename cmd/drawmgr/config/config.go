package config

import (
	"fmt"
	"time"

	"draw-management-service/internal/anomaly"
	"draw-management-service/internal/ledger"
	"draw-management-service/internal/matcher"
	"draw-management-service/internal/models"
	"draw-management-service/internal/parsers"
	"draw-management-service/internal/reporter"

	apperrors "draw-management-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// CreateParseConfig creates a default CSV parse configuration
func CreateParseConfig() *parsers.ParseConfig {
	return parsers.DefaultParseConfig()
}

// CreateDetectorConfig creates an anomaly detector configuration with the
// specified dormancy threshold
func CreateDetectorConfig(dormantAfterDays int) (*anomaly.DetectorConfig, error) {
	config := anomaly.DefaultDetectorConfig()

	if dormantAfterDays > 0 {
		config.DormantAfterDays = dormantAfterDays
	}

	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(
			apperrors.CodeInvalidConfig, "dormant-after-days", dormantAfterDays, err)
	}
	return config, nil
}

// CreateMatchingConfig creates a matching configuration for the named profile
func CreateMatchingConfig(profile string) (*matcher.MatchingConfig, error) {
	var config *matcher.MatchingConfig
	switch profile {
	case "", "default":
		config = matcher.DefaultMatchingConfig()
	case "strict":
		config = matcher.StrictMatchingConfig()
	case "relaxed":
		config = matcher.RelaxedMatchingConfig()
	default:
		return nil, apperrors.ConfigurationError(
			apperrors.CodeInvalidConfig, "profile", profile,
			fmt.Errorf("unknown matching profile (want default, strict, or relaxed)"))
	}

	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(
			apperrors.CodeInvalidConfig, "profile", profile, err)
	}
	return config, nil
}

// CreateReconcilerConfig creates a ledger reconciler configuration
func CreateReconcilerConfig(actor string) *ledger.ReconcilerConfig {
	config := ledger.DefaultReconcilerConfig()

	if actor != "" {
		config.Actor = actor
	}
	config.FlagOverBudget = true

	return config
}

// CreateReportConfig creates a report configuration for the specified output
// format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()

	switch format {
	case "", "console":
		config.Format = reporter.FormatConsole
		config.IncludeSuggestions = true
	case "json":
		config.Format = reporter.FormatJSON
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
	default:
		return nil, apperrors.ConfigurationError(
			apperrors.CodeInvalidConfig, "output-format", format,
			fmt.Errorf("unknown output format (want console, json, or csv)"))
	}

	return config, nil
}

// CreateLoanTerms resolves loan terms from CLI overrides layered over the
// system defaults. Zero-valued flags leave the default in place.
func CreateLoanTerms(annualRate float64, loanStart string, termMonths int) (models.LoanTerms, error) {
	override := &models.LoanTermsOverride{}

	if annualRate != 0 {
		if annualRate < 0 || annualRate >= 1 {
			return models.LoanTerms{}, apperrors.ConfigurationError(
				apperrors.CodeInvalidConfig, "rate", annualRate,
				fmt.Errorf("annual rate must be a fraction between 0 and 1 (e.g. 0.105 for 10.5%%)"))
		}
		rate := decimal.NewFromFloat(annualRate)
		override.InterestRateAnnual = &rate
	}

	if loanStart != "" {
		start, err := time.Parse("2006-01-02", loanStart)
		if err != nil {
			return models.LoanTerms{}, apperrors.ConfigurationError(
				apperrors.CodeInvalidConfig, "loan-start", loanStart,
				fmt.Errorf("loan start date must use YYYY-MM-DD: %w", err))
		}
		override.LoanStartDate = &start
	}

	if termMonths != 0 {
		if termMonths < 1 {
			return models.LoanTerms{}, apperrors.ConfigurationError(
				apperrors.CodeInvalidConfig, "term-months", termMonths,
				fmt.Errorf("loan term must be at least one month"))
		}
		override.LoanTermMonths = &termMonths
	}

	terms := models.ResolveLoanTerms(models.DefaultLoanTerms(), nil, override)
	if err := terms.Validate(); err != nil {
		return models.LoanTerms{}, apperrors.ConfigurationError(
			apperrors.CodeInvalidConfig, "loan-terms", "", err)
	}
	return terms, nil
}

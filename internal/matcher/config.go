// Package matcher implements invoice-to-draw-line matching: candidate
// generation over weighted sub-scores, threshold-based classification, and
// the processing pipeline that applies match outcomes through the ledger.
package matcher

import (
	"fmt"
	"math"
)

// MatchingConfig holds configuration parameters for invoice matching
type MatchingConfig struct {
	// AmountWeight is the weight of amount proximity in the composite score
	AmountWeight float64 `json:"amount_weight"`

	// TradeWeight is the weight of trade/category alignment
	TradeWeight float64 `json:"trade_weight"`

	// KeywordWeight is the weight of description keyword overlap
	KeywordWeight float64 `json:"keyword_weight"`

	// TrainingWeight is the weight of the historical vendor signal. When no
	// training signal is available the remaining weights are re-normalized
	// so composites stay on the same 0..1 scale.
	TrainingWeight float64 `json:"training_weight"`

	// MinConfidenceScore is the minimum composite score for a candidate to
	// be considered at all
	MinConfidenceScore float64 `json:"min_confidence_score"`

	// AmbiguityBand is the maximum gap between the top two candidates below
	// which the result is ambiguous rather than a clear winner
	AmbiguityBand float64 `json:"ambiguity_band"`

	// LowConfidenceThreshold marks auto-applied matches below it with the
	// LOW_CONFIDENCE flag
	LowConfidenceThreshold float64 `json:"low_confidence_threshold"`

	// AmountMismatchPct flags matches whose invoice amount deviates from the
	// requested amount by more than this fraction
	AmountMismatchPct float64 `json:"amount_mismatch_pct"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults for
// typical construction draw matching
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountWeight:           0.5,
		TradeWeight:            0.25,
		KeywordWeight:          0.15,
		TrainingWeight:         0.1,
		MinConfidenceScore:     0.5,
		AmbiguityBand:          0.1,
		LowConfidenceThreshold: 0.7,
		AmountMismatchPct:      0.10,
	}
}

// StrictMatchingConfig returns a configuration requiring higher confidence
// before auto-applying matches
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.MinConfidenceScore = 0.7
	config.AmbiguityBand = 0.15
	config.LowConfidenceThreshold = 0.85
	config.AmountMismatchPct = 0.05
	return config
}

// RelaxedMatchingConfig returns a configuration tolerant of noisy vendor
// names and rounded amounts
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.MinConfidenceScore = 0.35
	config.AmbiguityBand = 0.05
	config.LowConfidenceThreshold = 0.6
	config.AmountMismatchPct = 0.20
	return config
}

// Validate checks the configuration for consistency
func (c *MatchingConfig) Validate() error {
	weights := []struct {
		name  string
		value float64
	}{
		{"amount_weight", c.AmountWeight},
		{"trade_weight", c.TradeWeight},
		{"keyword_weight", c.KeywordWeight},
		{"training_weight", c.TrainingWeight},
	}
	for _, w := range weights {
		if w.value < 0 || w.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1: %f", w.name, w.value)
		}
	}

	sum := c.AmountWeight + c.TradeWeight + c.KeywordWeight + c.TrainingWeight
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("sub-score weights must sum to 1.0, got %f", sum)
	}

	if c.MinConfidenceScore < 0 || c.MinConfidenceScore > 1 {
		return fmt.Errorf("min confidence score must be between 0 and 1: %f", c.MinConfidenceScore)
	}
	if c.AmbiguityBand < 0 || c.AmbiguityBand > 1 {
		return fmt.Errorf("ambiguity band must be between 0 and 1: %f", c.AmbiguityBand)
	}
	if c.LowConfidenceThreshold < c.MinConfidenceScore {
		return fmt.Errorf("low confidence threshold %f cannot sit below min confidence %f",
			c.LowConfidenceThreshold, c.MinConfidenceScore)
	}
	if c.AmountMismatchPct <= 0 {
		return fmt.Errorf("amount mismatch pct must be positive: %f", c.AmountMismatchPct)
	}
	return nil
}

// Clone creates a copy of the configuration
func (c *MatchingConfig) Clone() *MatchingConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

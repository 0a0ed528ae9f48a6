package matcher

import (
	"context"
	"time"

	"draw-management-service/internal/ledger"
	"draw-management-service/internal/models"
	apperrors "draw-management-service/pkg/errors"
	"draw-management-service/pkg/logger"
)

// Disambiguator resolves a MULTIPLE_CANDIDATES set down to one choice. The
// production implementation calls an external AI selection step; the core
// only depends on this interface so the deterministic pipeline stays
// testable without it.
type Disambiguator interface {
	Disambiguate(ctx context.Context, invoice *models.Invoice, candidates []Candidate) (*Candidate, error)
}

// ProcessResult reports the outcome of processing one invoice
type ProcessResult struct {
	InvoiceID      string               `json:"invoice_id"`
	Status         ClassificationStatus `json:"status"`
	MatchStatus    models.MatchStatus   `json:"match_status"`
	MatchedLineID  string               `json:"matched_line_id,omitempty"`
	Confidence     float64              `json:"confidence,omitempty"`
	CandidateCount int                  `json:"candidate_count"`
}

// Processor orchestrates invoice matching: candidate generation,
// classification, auto-apply of clear winners, and escalation of the rest
type Processor struct {
	engine        *Engine
	store         ledger.Store
	disambiguator Disambiguator
	log           logger.Logger
}

// NewProcessor creates a processor. disambiguator may be nil; multiple
// candidate sets then fall through to manual review.
func NewProcessor(engine *Engine, store ledger.Store, disambiguator Disambiguator) *Processor {
	return &Processor{
		engine:        engine,
		store:         store,
		disambiguator: disambiguator,
		log:           logger.WithComponent("matcher"),
	}
}

// ProcessInvoice runs the matching pipeline for one invoice against the
// open lines of its draw request.
//
// Invoices without extracted data are marked extraction_failed and skipped
// entirely; that state is terminal until an explicit retry re-runs the
// upstream extraction.
func (p *Processor) ProcessInvoice(ctx context.Context, invoice *models.Invoice) (*ProcessResult, error) {
	result := &ProcessResult{InvoiceID: invoice.ID}
	log := p.log.WithField("invoice_id", invoice.ID)

	if invoice.Extracted == nil {
		log.Warn("invoice has no extracted data, marking extraction failed")
		invoice.MatchStatus = models.MatchStatusExtractionFailed
		if err := p.store.UpdateInvoiceMatch(ctx, invoice); err != nil {
			return nil, err
		}
		result.MatchStatus = models.MatchStatusExtractionFailed
		return result, nil
	}

	lines, err := p.store.GetDrawLines(ctx, invoice.DrawRequestID)
	if err != nil {
		return nil, err
	}

	budgets, err := p.store.GetBudgets(ctx, invoice.ProjectID)
	if err != nil {
		return nil, err
	}

	// lines already claimed by other invoices are off the table
	invoices, err := p.store.GetInvoices(ctx, invoice.DrawRequestID)
	if err != nil {
		return nil, err
	}
	matched := make(map[string]struct{})
	for _, other := range invoices {
		if other.ID != invoice.ID && other.MatchedDrawLineID != "" {
			matched[other.MatchedDrawLineID] = struct{}{}
		}
	}

	candidates := p.engine.GenerateCandidates(invoice, lines, budgets, matched)
	classification := p.engine.Classify(candidates)
	result.Status = classification.Status
	result.CandidateCount = len(candidates)

	log.WithFields(logger.Fields{
		"status":     classification.Status.String(),
		"candidates": len(candidates),
	}).Debug("invoice classified")

	switch classification.Status {
	case StatusSingleMatch:
		return p.applyMatch(ctx, invoice, classification.Best(), result,
			models.DecisionAutoSingle, models.SourceSystem, models.MatchStatusAutoMatched)

	case StatusMultipleCandidates:
		return p.escalate(ctx, invoice, classification, result)

	case StatusAmbiguous:
		return p.finishUnmatched(ctx, invoice, result, models.MatchStatusNeedsReview)

	default:
		return p.finishUnmatched(ctx, invoice, result, models.MatchStatusNoMatch)
	}
}

// applyMatch records a chosen candidate on both the invoice and the draw
// line, merges computed flags, and writes the match decision
func (p *Processor) applyMatch(ctx context.Context, invoice *models.Invoice, chosen *Candidate, result *ProcessResult, decisionType models.DecisionType, source models.DecisionSource, status models.MatchStatus) (*ProcessResult, error) {
	line := chosen.DrawLine
	confidence := chosen.Scores.Composite
	invoiceAmount := invoice.Extracted.Amount

	invoice.MatchStatus = status
	invoice.ConfidenceScore = confidence
	invoice.MatchedDrawLineID = line.ID
	if err := p.store.UpdateInvoiceMatch(ctx, invoice); err != nil {
		return nil, err
	}

	variance := invoiceAmount.Sub(line.AmountRequested)
	line.VendorName = invoice.Extracted.VendorName
	line.MatchedInvoiceAmount = &invoiceAmount
	line.ConfidenceScore = confidence
	line.Variance = &variance

	flags := line.Flags.Clone()
	flags = flags.Remove(models.FlagNoInvoice)
	if line.AmountRequested.IsPositive() {
		mismatch, _ := variance.Abs().Div(line.AmountRequested).Float64()
		if mismatch > p.engine.config.AmountMismatchPct {
			flags = flags.Add(models.FlagAmountMismatch)
		}
	}
	if confidence < p.engine.config.LowConfidenceThreshold {
		flags = flags.Add(models.FlagLowConfidence)
	}
	line.Flags = flags

	if err := p.store.UpdateDrawLineMatch(ctx, line); err != nil {
		return nil, err
	}

	decision := &models.MatchDecision{
		InvoiceID:        invoice.ID,
		DecisionType:     decisionType,
		Source:           source,
		CandidateCount:   result.CandidateCount,
		ChosenDrawLineID: line.ID,
		Confidence:       confidence,
		CreatedAt:        time.Now().UTC(),
	}
	if err := p.store.SaveMatchDecision(ctx, decision); err != nil {
		return nil, err
	}

	event := &models.AuditEvent{
		EntityType: "invoice",
		EntityID:   invoice.ID,
		Action:     models.ActionMatchDecision,
		Actor:      string(source),
		NewData: map[string]interface{}{
			"draw_line_id":  line.ID,
			"decision_type": string(decisionType),
			"confidence":    confidence,
		},
	}
	if err := p.store.AppendAuditEvent(ctx, event); err != nil {
		// audit trail failure never blocks the applied match
		p.log.WithError(err).WithField("invoice_id", invoice.ID).Warn("match audit write failed")
	}

	result.MatchStatus = status
	result.MatchedLineID = line.ID
	result.Confidence = confidence

	p.log.WithFields(logger.Fields{
		"invoice_id":   invoice.ID,
		"draw_line_id": line.ID,
		"confidence":   confidence,
		"variance":     variance.StringFixed(2),
	}).Info("invoice matched")

	return result, nil
}

// escalate hands a close candidate set to the disambiguator, falling back to
// manual review when none is configured or it cannot decide
func (p *Processor) escalate(ctx context.Context, invoice *models.Invoice, classification Classification, result *ProcessResult) (*ProcessResult, error) {
	if p.disambiguator == nil {
		return p.finishUnmatched(ctx, invoice, result, models.MatchStatusNeedsReview)
	}

	chosen, err := p.disambiguator.Disambiguate(ctx, invoice, classification.Candidates)
	if err != nil {
		// surfaced through the needs_review state, not the return path
		appErr := apperrors.MatchingError(apperrors.CodeDisambiguationFailed, "disambiguate", err)
		p.log.WithError(appErr).WithField("invoice_id", invoice.ID).
			Warn("disambiguation failed, routing to manual review")
		return p.finishUnmatched(ctx, invoice, result, models.MatchStatusNeedsReview)
	}
	if chosen == nil {
		return p.finishUnmatched(ctx, invoice, result, models.MatchStatusNeedsReview)
	}

	return p.applyMatch(ctx, invoice, chosen, result,
		models.DecisionAISelected, models.SourceAI, models.MatchStatusAIMatched)
}

func (p *Processor) finishUnmatched(ctx context.Context, invoice *models.Invoice, result *ProcessResult, status models.MatchStatus) (*ProcessResult, error) {
	invoice.MatchStatus = status
	invoice.MatchedDrawLineID = ""
	if err := p.store.UpdateInvoiceMatch(ctx, invoice); err != nil {
		return nil, err
	}
	result.MatchStatus = status
	return result, nil
}

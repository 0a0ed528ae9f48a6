package ledger

import (
	"context"
	"errors"
	"fmt"

	"draw-management-service/internal/models"
	apperrors "draw-management-service/pkg/errors"
	"draw-management-service/pkg/logger"
)

// ReconcilerConfig controls spend application behavior
type ReconcilerConfig struct {
	// Actor is recorded on every audit event the reconciler writes
	Actor string `json:"actor"`

	// FlagOverBudget adds the OVER_BUDGET flag to lines whose application
	// pushes their budget past its current amount
	FlagOverBudget bool `json:"flag_over_budget"`
}

// DefaultReconcilerConfig returns the standard reconciler configuration
func DefaultReconcilerConfig() *ReconcilerConfig {
	return &ReconcilerConfig{
		Actor:          "system",
		FlagOverBudget: true,
	}
}

// LineResult records the outcome of one draw line during spend application
type LineResult struct {
	DrawLineID string
	BudgetID   string
	Applied    bool
	Skipped    bool
	Err        error
}

// ApplyResult summarizes one ApplySpend run over a draw request
type ApplyResult struct {
	DrawRequestID string
	Updated       int
	Skipped       int
	Failed        int
	Lines         []LineResult
}

// Reconciler applies funded draw spending to budget categories and keeps
// line-level flags consistent with invoice state
type Reconciler struct {
	store  Store
	config *ReconcilerConfig
	log    logger.Logger
}

// NewReconciler creates a reconciler over the given store
func NewReconciler(store Store, config *ReconcilerConfig) *Reconciler {
	if config == nil {
		config = DefaultReconcilerConfig()
	}
	return &Reconciler{
		store:  store,
		config: config,
		log:    logger.WithComponent("reconciler"),
	}
}

// ApplySpend applies each budgeted, positive-amount line of a funded draw
// to its budget; other lines are counted as skipped. Each line's
// amount is recorded at most once: lines whose spend event already exists
// are counted as skipped, and a failure on one line never blocks the rest.
func (r *Reconciler) ApplySpend(ctx context.Context, drawRequestID string) (*ApplyResult, error) {
	draw, err := r.store.GetDrawRequest(ctx, drawRequestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.LedgerError(apperrors.CodeDrawNotFound, "apply spend", err)
		}
		return nil, err
	}

	if draw.Status != models.DrawStatusFunded {
		return nil, apperrors.LedgerError(apperrors.CodeDrawNotFound, "apply spend",
			fmt.Errorf("draw request %s is %s, not funded", drawRequestID, draw.Status))
	}

	lines, err := r.store.GetDrawLines(ctx, drawRequestID)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{DrawRequestID: drawRequestID}
	for _, line := range lines {
		lr := r.applyLine(ctx, drawRequestID, line)
		result.Lines = append(result.Lines, lr)
		switch {
		case lr.Applied:
			result.Updated++
		case lr.Skipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	r.log.WithFields(logger.Fields{
		"draw_request_id": drawRequestID,
		"updated":         result.Updated,
		"skipped":         result.Skipped,
		"failed":          result.Failed,
	}).Info("spend application complete")

	return result, nil
}

func (r *Reconciler) applyLine(ctx context.Context, drawRequestID string, line *models.DrawLine) LineResult {
	lr := LineResult{DrawLineID: line.ID, BudgetID: line.BudgetID}

	if line.BudgetID == "" {
		r.log.WithField("draw_line_id", line.ID).Warn("draw line has no budget, skipping")
		lr.Skipped = true
		return lr
	}

	amount := line.AmountToRecord()
	if !amount.IsPositive() {
		r.log.WithFields(logger.Fields{
			"draw_line_id": line.ID,
			"amount":       amount.StringFixed(2),
		}).Warn("draw line amount is not positive, skipping")
		lr.Skipped = true
		return lr
	}

	// fast path for reruns; the store's ApplySpend still guards the race
	recorded, err := r.store.HasSpendRecorded(ctx, line.ID)
	if err != nil {
		lr.Err = err
		r.log.WithError(err).WithField("draw_line_id", line.ID).Error("spend event check failed")
		return lr
	}
	if recorded {
		lr.Skipped = true
		return lr
	}

	record, err := r.store.ApplySpend(ctx, line.BudgetID, line.ID, drawRequestID, amount, r.config.Actor)
	if errors.Is(err, ErrAlreadyRecorded) {
		lr.Skipped = true
		return lr
	}
	if err != nil {
		lr.Err = err
		r.log.WithError(err).WithFields(logger.Fields{
			"draw_line_id": line.ID,
			"budget_id":    line.BudgetID,
		}).Error("spend application failed")
		return lr
	}

	lr.Applied = true
	r.log.WithFields(logger.Fields{
		"draw_line_id": line.ID,
		"budget_id":    line.BudgetID,
		"amount":       record.AmountApplied.StringFixed(2),
		"spent_after":  record.SpentAfter.StringFixed(2),
	}).Debug("spend applied")

	if r.config.FlagOverBudget && record.RemainingAfter.IsNegative() && !line.Flags.Has(models.FlagOverBudget) {
		flags := line.Flags.Clone().Add(models.FlagOverBudget)
		if err := r.updateFlags(ctx, line, flags); err != nil {
			r.log.WithError(err).WithField("draw_line_id", line.ID).Warn("over-budget flag update failed")
		}
	}

	return lr
}

// FlagResult summarizes a no-invoice flag reconciliation run
type FlagResult struct {
	DrawRequestID string
	Flagged       int
	Cleared       int
	Unchanged     int
}

// ReconcileNoInvoiceFlags recomputes the NO_INVOICE flag on every line of a
// draw from current invoice linkage. Only lines requesting a positive amount
// are flagged. When the draw has no invoices at all the run is a no-op:
// absence of uploads says nothing about individual lines.
// The operation is idempotent; reruns converge on the same flag state.
func (r *Reconciler) ReconcileNoInvoiceFlags(ctx context.Context, drawRequestID string) (*FlagResult, error) {
	invoices, err := r.store.GetInvoices(ctx, drawRequestID)
	if err != nil {
		return nil, err
	}

	result := &FlagResult{DrawRequestID: drawRequestID}
	if len(invoices) == 0 {
		r.log.WithField("draw_request_id", drawRequestID).
			Debug("no invoices uploaded, leaving flags untouched")
		return result, nil
	}

	matched := make(map[string]struct{})
	for _, inv := range invoices {
		if inv.MatchedDrawLineID != "" {
			matched[inv.MatchedDrawLineID] = struct{}{}
		}
	}

	lines, err := r.store.GetDrawLines(ctx, drawRequestID)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		_, hasMatch := matched[line.ID]
		hasFlag := line.Flags.Has(models.FlagNoInvoice)

		switch {
		case !hasMatch && !hasFlag && line.AmountRequested.IsPositive():
			flags := line.Flags.Clone().Add(models.FlagNoInvoice)
			if err := r.updateFlags(ctx, line, flags); err != nil {
				return nil, err
			}
			result.Flagged++
		case hasMatch && hasFlag:
			flags := line.Flags.Clone().Remove(models.FlagNoInvoice)
			if err := r.updateFlags(ctx, line, flags); err != nil {
				return nil, err
			}
			result.Cleared++
		default:
			result.Unchanged++
		}
	}

	r.log.WithFields(logger.Fields{
		"draw_request_id": drawRequestID,
		"flagged":         result.Flagged,
		"cleared":         result.Cleared,
	}).Info("no-invoice flags reconciled")

	return result, nil
}

func (r *Reconciler) updateFlags(ctx context.Context, line *models.DrawLine, flags models.FlagSet) error {
	if err := r.store.UpdateDrawLineFlags(ctx, line.ID, flags); err != nil {
		return err
	}
	event := &models.AuditEvent{
		EntityType: "draw_line",
		EntityID:   line.ID,
		Action:     models.ActionFlagsUpdated,
		Actor:      r.config.Actor,
		OldData:    map[string]interface{}{"flags": line.Flags.Slice()},
		NewData:    map[string]interface{}{"flags": flags.Slice()},
	}
	if err := r.store.AppendAuditEvent(ctx, event); err != nil {
		r.log.WithError(err).WithField("draw_line_id", line.ID).Warn("flag audit write failed")
	}
	line.Flags = flags
	return nil
}

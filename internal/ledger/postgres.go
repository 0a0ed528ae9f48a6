package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"draw-management-service/internal/models"
	apperrors "draw-management-service/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore is a Store backed by PostgreSQL via pgx.
//
// Expected schema (abridged):
//
//	CREATE TABLE budgets (
//	    id TEXT PRIMARY KEY,
//	    project_id TEXT NOT NULL,
//	    category TEXT NOT NULL,
//	    nahb_category TEXT,
//	    original_amount NUMERIC NOT NULL DEFAULT 0,
//	    current_amount NUMERIC NOT NULL DEFAULT 0,
//	    spent_amount NUMERIC NOT NULL DEFAULT 0
//	);
//
//	CREATE TABLE audit_events (
//	    id UUID PRIMARY KEY,
//	    entity_type TEXT NOT NULL,
//	    entity_id TEXT NOT NULL,
//	    action TEXT NOT NULL,
//	    actor TEXT,
//	    old_data JSONB,
//	    new_data JSONB,
//	    draw_line_id TEXT,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE UNIQUE INDEX audit_spend_once
//	    ON audit_events (entity_id, action, draw_line_id)
//	    WHERE action = 'spend_recorded';
//
// The partial unique index makes the spend audit event the idempotency
// guard: a second insert for the same draw line violates the index, the
// transaction rolls back, and ApplySpend reports ErrAlreadyRecorded.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and verifies connectivity
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "ping", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// GetBudget returns the budget with the given id
func (s *PostgresStore) GetBudget(ctx context.Context, id string) (*models.Budget, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, category, COALESCE(nahb_category, ''),
		       original_amount, current_amount, spent_amount
		FROM budgets WHERE id = $1`, id)

	b, err := scanBudget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("budget %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "get budget", err)
	}
	return b, nil
}

// GetBudgets returns all budgets for a project
func (s *PostgresStore) GetBudgets(ctx context.Context, projectID string) ([]*models.Budget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, category, COALESCE(nahb_category, ''),
		       original_amount, current_amount, spent_amount
		FROM budgets WHERE project_id = $1 ORDER BY category`, projectID)
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "list budgets", err)
	}
	defer rows.Close()

	var out []*models.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "scan budget", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBudget(row pgx.Row) (*models.Budget, error) {
	var b models.Budget
	err := row.Scan(&b.ID, &b.ProjectID, &b.Category, &b.NAHBCategory,
		&b.OriginalAmount, &b.CurrentAmount, &b.SpentAmount)
	if err != nil {
		return nil, err
	}
	b.RemainingAmount = b.CurrentAmount.Sub(b.SpentAmount)
	return &b, nil
}

// GetDrawRequest returns the draw request with the given id
func (s *PostgresStore) GetDrawRequest(ctx context.Context, id string) (*models.DrawRequest, error) {
	var d models.DrawRequest
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, draw_number, total_amount, status, funded_at
		FROM draw_requests WHERE id = $1`, id).
		Scan(&d.ID, &d.ProjectID, &d.DrawNumber, &d.TotalAmount, &status, &d.FundedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("draw request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "get draw request", err)
	}

	// legacy rows may still carry "paid"; normalize on read
	d.Status, err = models.ParseDrawStatus(status)
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "get draw request", err)
	}
	return &d, nil
}

// GetDrawLines returns all lines of a draw request
func (s *PostgresStore) GetDrawLines(ctx context.Context, drawRequestID string) ([]*models.DrawLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, draw_request_id, COALESCE(budget_id, ''), COALESCE(description, ''),
		       amount_requested, amount_approved, COALESCE(vendor_name, ''),
		       matched_invoice_amount, COALESCE(confidence_score, 0), variance,
		       COALESCE(flags, '[]'::jsonb)
		FROM draw_lines WHERE draw_request_id = $1 ORDER BY id`, drawRequestID)
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "list draw lines", err)
	}
	defer rows.Close()

	var out []*models.DrawLine
	for rows.Next() {
		var l models.DrawLine
		var flagsJSON []byte
		err := rows.Scan(&l.ID, &l.DrawRequestID, &l.BudgetID, &l.Description,
			&l.AmountRequested, &l.AmountApproved, &l.VendorName,
			&l.MatchedInvoiceAmount, &l.ConfidenceScore, &l.Variance, &flagsJSON)
		if err != nil {
			return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "scan draw line", err)
		}
		if err := json.Unmarshal(flagsJSON, &l.Flags); err != nil {
			return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "decode draw line flags", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// GetInvoices returns all invoices attached to a draw request
func (s *PostgresStore) GetInvoices(ctx context.Context, drawRequestID string) ([]*models.Invoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, COALESCE(draw_request_id, ''), match_status,
		       COALESCE(confidence_score, 0), COALESCE(matched_draw_line_id, ''),
		       extracted_data
		FROM invoices WHERE draw_request_id = $1 ORDER BY id`, drawRequestID)
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "list invoices", err)
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		var inv models.Invoice
		var status string
		var extractedJSON []byte
		err := rows.Scan(&inv.ID, &inv.ProjectID, &inv.DrawRequestID, &status,
			&inv.ConfidenceScore, &inv.MatchedDrawLineID, &extractedJSON)
		if err != nil {
			return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "scan invoice", err)
		}
		inv.MatchStatus = models.MatchStatus(status)
		if len(extractedJSON) > 0 {
			var extracted models.ExtractedInvoiceData
			if err := json.Unmarshal(extractedJSON, &extracted); err == nil {
				inv.Extracted = &extracted
			}
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

// UpdateDrawLineFlags replaces a draw line's flag set
func (s *PostgresStore) UpdateDrawLineFlags(ctx context.Context, drawLineID string, flags models.FlagSet) error {
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return apperrors.LedgerError(apperrors.CodeStoreUnavailable, "encode flags", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE draw_lines SET flags = $1 WHERE id = $2`, flagsJSON, drawLineID)
	if err != nil {
		return apperrors.LedgerError(apperrors.CodeStoreUnavailable, "update flags", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("draw line %s: %w", drawLineID, ErrNotFound)
	}
	return nil
}

// UpdateDrawLineMatch records match results on a draw line
func (s *PostgresStore) UpdateDrawLineMatch(ctx context.Context, line *models.DrawLine) error {
	flagsJSON, err := json.Marshal(line.Flags)
	if err != nil {
		return apperrors.LedgerError(apperrors.CodeStoreUnavailable, "encode flags", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE draw_lines
		SET vendor_name = $1, matched_invoice_amount = $2,
		    confidence_score = $3, variance = $4, flags = $5
		WHERE id = $6`,
		line.VendorName, line.MatchedInvoiceAmount,
		line.ConfidenceScore, line.Variance, flagsJSON, line.ID)
	if err != nil {
		return apperrors.LedgerError(apperrors.CodeStoreUnavailable, "update draw line match", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("draw line %s: %w", line.ID, ErrNotFound)
	}
	return nil
}

// UpdateInvoiceMatch records an invoice's match outcome
func (s *PostgresStore) UpdateInvoiceMatch(ctx context.Context, invoice *models.Invoice) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET match_status = $1, confidence_score = $2, matched_draw_line_id = NULLIF($3, '')
		WHERE id = $4`,
		string(invoice.MatchStatus), invoice.ConfidenceScore, invoice.MatchedDrawLineID, invoice.ID)
	if err != nil {
		return apperrors.LedgerError(apperrors.CodeStoreUnavailable, "update invoice match", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %s: %w", invoice.ID, ErrNotFound)
	}
	return nil
}

// HasSpendRecorded reports whether a spend event exists for the draw line
func (s *PostgresStore) HasSpendRecorded(ctx context.Context, drawLineID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM audit_events
			WHERE action = $1 AND draw_line_id = $2
		)`, models.ActionSpendRecorded, drawLineID).Scan(&exists)
	if err != nil {
		return false, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "check spend event", err)
	}
	return exists, nil
}

// ApplySpend increments the budget and writes the guarding audit event in a
// single transaction. The audit_spend_once unique index closes the window
// between the existence check and the increment: when two processes race,
// one insert hits the index, that transaction rolls back, and the caller
// sees ErrAlreadyRecorded with the budget untouched.
func (s *PostgresStore) ApplySpend(ctx context.Context, budgetID, drawLineID, drawRequestID string, amount decimal.Decimal, actor string) (*SpendRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "begin spend transaction", err)
	}
	defer tx.Rollback(ctx)

	var oldSpent, newSpent, currentAmount decimal.Decimal
	err = tx.QueryRow(ctx, `
		UPDATE budgets
		SET spent_amount = spent_amount + $1
		WHERE id = $2
		RETURNING spent_amount - $1, spent_amount, current_amount`,
		amount, budgetID).Scan(&oldSpent, &newSpent, &currentAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("budget %s: %w", budgetID, ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeIncrementFailed, "increment budget", err)
	}

	event := &models.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: "budget",
		EntityID:   budgetID,
		Action:     models.ActionSpendRecorded,
		Actor:      actor,
		OldData:    map[string]interface{}{"spent_amount": oldSpent.StringFixed(2)},
		NewData: map[string]interface{}{
			"spent_amount":    newSpent.StringFixed(2),
			"amount_applied":  amount.StringFixed(2),
			"draw_line_id":    drawLineID,
			"draw_request_id": drawRequestID,
		},
		CreatedAt: time.Now().UTC(),
	}

	oldJSON, _ := json.Marshal(event.OldData)
	newJSON, _ := json.Marshal(event.NewData)
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_events (id, entity_type, entity_id, action, actor,
		                          old_data, new_data, draw_line_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.EntityType, event.EntityID, event.Action, event.Actor,
		oldJSON, newJSON, drawLineID, event.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyRecorded
		}
		return nil, apperrors.LedgerError(apperrors.CodeAuditWriteFailed, "insert spend event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeStoreUnavailable, "commit spend transaction", err)
	}

	return &SpendRecord{
		Event:          event,
		BudgetID:       budgetID,
		AmountApplied:  amount,
		SpentAfter:     newSpent,
		RemainingAfter: currentAmount.Sub(newSpent),
	}, nil
}

// AppendAuditEvent writes a non-guarding audit event
func (s *PostgresStore) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	oldJSON, _ := json.Marshal(event.OldData)
	newJSON, _ := json.Marshal(event.NewData)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, entity_type, entity_id, action, actor,
		                          old_data, new_data, draw_line_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		event.ID, event.EntityType, event.EntityID, event.Action, event.Actor,
		oldJSON, newJSON, event.DrawLineID(), event.CreatedAt)
	if err != nil {
		return apperrors.LedgerError(apperrors.CodeAuditWriteFailed, "insert audit event", err)
	}
	return nil
}

// SaveMatchDecision persists a match decision record
func (s *PostgresStore) SaveMatchDecision(ctx context.Context, decision *models.MatchDecision) error {
	if decision.ID == "" {
		decision.ID = uuid.NewString()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO match_decisions (id, invoice_id, decision_type, source,
		                             candidate_count, chosen_draw_line_id, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		decision.ID, decision.InvoiceID, string(decision.DecisionType), string(decision.Source),
		decision.CandidateCount, decision.ChosenDrawLineID, decision.Confidence, decision.CreatedAt)
	if err != nil {
		return apperrors.LedgerError(apperrors.CodeAuditWriteFailed, "insert match decision", err)
	}
	return nil
}

// Package ledger provides durable storage for budgets, draws, invoices, and
// the append-only audit trail, plus the reconciler that applies funded draw
// spending to budget categories.
//
// Two Store implementations are provided: MemoryStore for CSV-driven runs
// and tests, and PostgresStore backed by pgx for deployments with a shared
// database. Both enforce the same idempotency contract: a draw line's amount
// is applied to its budget at most once, no matter how often the reconciler
// reruns.
package ledger

import (
	"context"
	"errors"

	"draw-management-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrAlreadyRecorded is returned by ApplySpend when the draw line's spend
// event already exists. Callers treat it as a skip, not a failure.
var ErrAlreadyRecorded = errors.New("spend already recorded for draw line")

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("entity not found")

// SpendRecord describes one applied spend: the audit event plus the budget
// state after the increment
type SpendRecord struct {
	Event          *models.AuditEvent
	BudgetID       string
	AmountApplied  decimal.Decimal
	SpentAfter     decimal.Decimal
	RemainingAfter decimal.Decimal
}

// Store is the persistence boundary for draw management state. All methods
// take a context so implementations can honor cancellation; MemoryStore
// ignores it, PostgresStore passes it through to pgx.
type Store interface {
	// GetBudget returns the budget with the given id, or ErrNotFound
	GetBudget(ctx context.Context, id string) (*models.Budget, error)

	// GetBudgets returns all budgets for a project
	GetBudgets(ctx context.Context, projectID string) ([]*models.Budget, error)

	// GetDrawRequest returns the draw request with the given id, or ErrNotFound
	GetDrawRequest(ctx context.Context, id string) (*models.DrawRequest, error)

	// GetDrawLines returns all lines of a draw request
	GetDrawLines(ctx context.Context, drawRequestID string) ([]*models.DrawLine, error)

	// GetInvoices returns all invoices attached to a draw request
	GetInvoices(ctx context.Context, drawRequestID string) ([]*models.Invoice, error)

	// UpdateDrawLineFlags replaces a draw line's flag set
	UpdateDrawLineFlags(ctx context.Context, drawLineID string, flags models.FlagSet) error

	// UpdateDrawLineMatch records match results on a draw line: vendor,
	// matched amount, confidence, and variance
	UpdateDrawLineMatch(ctx context.Context, line *models.DrawLine) error

	// UpdateInvoiceMatch records an invoice's match outcome
	UpdateInvoiceMatch(ctx context.Context, invoice *models.Invoice) error

	// HasSpendRecorded reports whether a spend event exists for the draw line
	HasSpendRecorded(ctx context.Context, drawLineID string) (bool, error)

	// ApplySpend atomically increments the budget's spent amount and writes
	// the guarding audit event. Returns ErrAlreadyRecorded when the line's
	// spend event already exists; the budget is not touched in that case.
	ApplySpend(ctx context.Context, budgetID, drawLineID, drawRequestID string, amount decimal.Decimal, actor string) (*SpendRecord, error)

	// AppendAuditEvent writes a non-guarding audit event
	AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error

	// SaveMatchDecision persists a match decision record
	SaveMatchDecision(ctx context.Context, decision *models.MatchDecision) error
}

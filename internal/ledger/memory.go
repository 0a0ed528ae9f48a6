package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"draw-management-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store used for CSV-driven runs and tests.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex

	budgets      map[string]*models.Budget
	drawRequests map[string]*models.DrawRequest
	drawLines    map[string]*models.DrawLine
	invoices     map[string]*models.Invoice
	decisions    []*models.MatchDecision
	auditEvents  []*models.AuditEvent

	// spendRecorded indexes spend events by draw line id
	spendRecorded map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		budgets:       make(map[string]*models.Budget),
		drawRequests:  make(map[string]*models.DrawRequest),
		drawLines:     make(map[string]*models.DrawLine),
		invoices:      make(map[string]*models.Invoice),
		spendRecorded: make(map[string]struct{}),
	}
}

// SeedBudgets loads budgets into the store, replacing existing entries
func (s *MemoryStore) SeedBudgets(budgets []*models.Budget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range budgets {
		copy := *b
		s.budgets[b.ID] = &copy
	}
}

// SeedDrawRequest loads a draw request and its lines
func (s *MemoryStore) SeedDrawRequest(draw *models.DrawRequest, lines []*models.DrawLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drawCopy := *draw
	s.drawRequests[draw.ID] = &drawCopy
	for _, l := range lines {
		lineCopy := *l
		lineCopy.Flags = l.Flags.Clone()
		s.drawLines[l.ID] = &lineCopy
	}
}

// SeedInvoices loads invoices into the store
func (s *MemoryStore) SeedInvoices(invoices []*models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range invoices {
		copy := *inv
		s.invoices[inv.ID] = &copy
	}
}

// GetBudget returns the budget with the given id
func (s *MemoryStore) GetBudget(ctx context.Context, id string) (*models.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[id]
	if !ok {
		return nil, fmt.Errorf("budget %s: %w", id, ErrNotFound)
	}
	copy := *b
	return &copy, nil
}

// GetBudgets returns all budgets for a project sorted by category
func (s *MemoryStore) GetBudgets(ctx context.Context, projectID string) ([]*models.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Budget
	for _, b := range s.budgets {
		if projectID == "" || b.ProjectID == projectID {
			copy := *b
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// GetDrawRequest returns the draw request with the given id
func (s *MemoryStore) GetDrawRequest(ctx context.Context, id string) (*models.DrawRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drawRequests[id]
	if !ok {
		return nil, fmt.Errorf("draw request %s: %w", id, ErrNotFound)
	}
	copy := *d
	return &copy, nil
}

// GetDrawLines returns all lines of a draw request sorted by id
func (s *MemoryStore) GetDrawLines(ctx context.Context, drawRequestID string) ([]*models.DrawLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DrawLine
	for _, l := range s.drawLines {
		if l.DrawRequestID == drawRequestID {
			copy := *l
			copy.Flags = l.Flags.Clone()
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetInvoices returns all invoices attached to a draw request sorted by id
func (s *MemoryStore) GetInvoices(ctx context.Context, drawRequestID string) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Invoice
	for _, inv := range s.invoices {
		if inv.DrawRequestID == drawRequestID {
			copy := *inv
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateDrawLineFlags replaces a draw line's flag set
func (s *MemoryStore) UpdateDrawLineFlags(ctx context.Context, drawLineID string, flags models.FlagSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.drawLines[drawLineID]
	if !ok {
		return fmt.Errorf("draw line %s: %w", drawLineID, ErrNotFound)
	}
	l.Flags = flags.Clone()
	return nil
}

// UpdateDrawLineMatch records match results on a draw line
func (s *MemoryStore) UpdateDrawLineMatch(ctx context.Context, line *models.DrawLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.drawLines[line.ID]
	if !ok {
		return fmt.Errorf("draw line %s: %w", line.ID, ErrNotFound)
	}
	existing.VendorName = line.VendorName
	existing.MatchedInvoiceAmount = line.MatchedInvoiceAmount
	existing.ConfidenceScore = line.ConfidenceScore
	existing.Variance = line.Variance
	existing.Flags = line.Flags.Clone()
	return nil
}

// UpdateInvoiceMatch records an invoice's match outcome
func (s *MemoryStore) UpdateInvoiceMatch(ctx context.Context, invoice *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.invoices[invoice.ID]
	if !ok {
		return fmt.Errorf("invoice %s: %w", invoice.ID, ErrNotFound)
	}
	existing.MatchStatus = invoice.MatchStatus
	existing.ConfidenceScore = invoice.ConfidenceScore
	existing.MatchedDrawLineID = invoice.MatchedDrawLineID
	return nil
}

// HasSpendRecorded reports whether a spend event exists for the draw line
func (s *MemoryStore) HasSpendRecorded(ctx context.Context, drawLineID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.spendRecorded[drawLineID]
	return ok, nil
}

// ApplySpend atomically increments the budget's spent amount and writes the
// guarding audit event. The check and the increment happen under one lock,
// so concurrent callers for the same line see exactly one success.
func (s *MemoryStore) ApplySpend(ctx context.Context, budgetID, drawLineID, drawRequestID string, amount decimal.Decimal, actor string) (*SpendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.spendRecorded[drawLineID]; done {
		return nil, ErrAlreadyRecorded
	}

	b, ok := s.budgets[budgetID]
	if !ok {
		return nil, fmt.Errorf("budget %s: %w", budgetID, ErrNotFound)
	}

	oldSpent := b.SpentAmount
	b.SpentAmount = b.SpentAmount.Add(amount)
	b.RemainingAmount = b.CurrentAmount.Sub(b.SpentAmount)

	event := &models.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: "budget",
		EntityID:   budgetID,
		Action:     models.ActionSpendRecorded,
		Actor:      actor,
		OldData:    map[string]interface{}{"spent_amount": oldSpent.StringFixed(2)},
		NewData: map[string]interface{}{
			"spent_amount":    b.SpentAmount.StringFixed(2),
			"amount_applied":  amount.StringFixed(2),
			"draw_line_id":    drawLineID,
			"draw_request_id": drawRequestID,
		},
		CreatedAt: time.Now().UTC(),
	}
	s.auditEvents = append(s.auditEvents, event)
	s.spendRecorded[drawLineID] = struct{}{}

	return &SpendRecord{
		Event:          event,
		BudgetID:       budgetID,
		AmountApplied:  amount,
		SpentAfter:     b.SpentAmount,
		RemainingAfter: b.RemainingAmount,
	}, nil
}

// AppendAuditEvent writes a non-guarding audit event
func (s *MemoryStore) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.auditEvents = append(s.auditEvents, event)
	return nil
}

// SaveMatchDecision persists a match decision record
func (s *MemoryStore) SaveMatchDecision(ctx context.Context, decision *models.MatchDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if decision.ID == "" {
		decision.ID = uuid.NewString()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}
	copy := *decision
	s.decisions = append(s.decisions, &copy)
	return nil
}

// AuditEvents returns a snapshot of the audit trail, oldest first
func (s *MemoryStore) AuditEvents() []*models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditEvent, len(s.auditEvents))
	copy(out, s.auditEvents)
	return out
}

// MatchDecisions returns a snapshot of saved match decisions
func (s *MemoryStore) MatchDecisions() []*models.MatchDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.MatchDecision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

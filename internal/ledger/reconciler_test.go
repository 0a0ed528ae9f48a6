package ledger

import (
	"context"
	"sync"
	"testing"

	"draw-management-service/internal/models"

	"github.com/shopspring/decimal"
)

func createTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()

	store.SeedBudgets([]*models.Budget{
		{
			ID:            "b-foundation",
			ProjectID:     "proj-1",
			Category:      "Foundation",
			CurrentAmount: decimal.NewFromFloat(100000),
			SpentAmount:   decimal.NewFromFloat(20000),
		},
		{
			ID:            "b-framing",
			ProjectID:     "proj-1",
			Category:      "Framing",
			CurrentAmount: decimal.NewFromFloat(50000),
			SpentAmount:   decimal.Zero,
		},
	})

	approved := decimal.NewFromFloat(9500)
	store.SeedDrawRequest(
		&models.DrawRequest{
			ID:          "dr-1",
			ProjectID:   "proj-1",
			DrawNumber:  3,
			TotalAmount: decimal.NewFromFloat(24500),
			Status:      models.DrawStatusFunded,
		},
		[]*models.DrawLine{
			{
				ID:              "dl-1",
				DrawRequestID:   "dr-1",
				BudgetID:        "b-foundation",
				AmountRequested: decimal.NewFromFloat(10000),
				AmountApproved:  &approved,
			},
			{
				ID:              "dl-2",
				DrawRequestID:   "dr-1",
				BudgetID:        "b-framing",
				AmountRequested: decimal.NewFromFloat(15000),
			},
		},
	)

	return store
}

func TestApplySpend(t *testing.T) {
	store := createTestStore(t)
	rec := NewReconciler(store, nil)
	ctx := context.Background()

	result, err := rec.ApplySpend(ctx, "dr-1")
	if err != nil {
		t.Fatalf("ApplySpend() error = %v", err)
	}
	if result.Updated != 2 || result.Skipped != 0 || result.Failed != 0 {
		t.Errorf("expected 2 updated, got updated=%d skipped=%d failed=%d",
			result.Updated, result.Skipped, result.Failed)
	}

	// approved amount wins over requested
	foundation, _ := store.GetBudget(ctx, "b-foundation")
	if !foundation.SpentAmount.Equal(decimal.NewFromFloat(29500)) {
		t.Errorf("expected foundation spent 29500, got %s", foundation.SpentAmount)
	}
	framing, _ := store.GetBudget(ctx, "b-framing")
	if !framing.SpentAmount.Equal(decimal.NewFromFloat(15000)) {
		t.Errorf("expected framing spent 15000, got %s", framing.SpentAmount)
	}

	events := store.AuditEvents()
	spendEvents := 0
	for _, e := range events {
		if e.Action == models.ActionSpendRecorded {
			spendEvents++
		}
	}
	if spendEvents != 2 {
		t.Errorf("expected 2 spend events, got %d", spendEvents)
	}
}

func TestApplySpendIdempotent(t *testing.T) {
	store := createTestStore(t)
	rec := NewReconciler(store, nil)
	ctx := context.Background()

	if _, err := rec.ApplySpend(ctx, "dr-1"); err != nil {
		t.Fatalf("first ApplySpend() error = %v", err)
	}

	result, err := rec.ApplySpend(ctx, "dr-1")
	if err != nil {
		t.Fatalf("second ApplySpend() error = %v", err)
	}
	if result.Updated != 0 {
		t.Errorf("rerun should apply nothing, got updated=%d", result.Updated)
	}
	if result.Skipped != 2 {
		t.Errorf("rerun should skip both lines, got skipped=%d", result.Skipped)
	}

	// spent amounts unchanged by the rerun
	foundation, _ := store.GetBudget(ctx, "b-foundation")
	if !foundation.SpentAmount.Equal(decimal.NewFromFloat(29500)) {
		t.Errorf("rerun changed foundation spent to %s", foundation.SpentAmount)
	}
}

func TestApplySpendConcurrent(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := NewReconciler(store, nil)
			if _, err := rec.ApplySpend(ctx, "dr-1"); err != nil {
				t.Errorf("concurrent ApplySpend() error = %v", err)
			}
		}()
	}
	wg.Wait()

	foundation, _ := store.GetBudget(ctx, "b-foundation")
	if !foundation.SpentAmount.Equal(decimal.NewFromFloat(29500)) {
		t.Errorf("concurrent runs double-applied: foundation spent %s", foundation.SpentAmount)
	}

	spendEvents := 0
	for _, e := range store.AuditEvents() {
		if e.Action == models.ActionSpendRecorded {
			spendEvents++
		}
	}
	if spendEvents != 2 {
		t.Errorf("expected exactly 2 spend events across all runs, got %d", spendEvents)
	}
}

func TestApplySpendUnfundedDraw(t *testing.T) {
	store := createTestStore(t)
	store.SeedDrawRequest(&models.DrawRequest{
		ID:         "dr-2",
		ProjectID:  "proj-1",
		DrawNumber: 4,
		Status:     models.DrawStatusReview,
	}, nil)

	rec := NewReconciler(store, nil)
	if _, err := rec.ApplySpend(context.Background(), "dr-2"); err == nil {
		t.Error("expected error applying spend for an unfunded draw")
	}
}

func TestApplySpendSkipsLinesWithoutBudget(t *testing.T) {
	store := createTestStore(t)
	store.SeedDrawRequest(
		&models.DrawRequest{
			ID: "dr-3", ProjectID: "proj-1", DrawNumber: 5, Status: models.DrawStatusFunded,
		},
		[]*models.DrawLine{
			{ID: "dl-10", DrawRequestID: "dr-3", AmountRequested: decimal.NewFromFloat(5000)},
		},
	)

	rec := NewReconciler(store, nil)
	result, err := rec.ApplySpend(context.Background(), "dr-3")
	if err != nil {
		t.Fatalf("ApplySpend() error = %v", err)
	}
	if result.Skipped != 1 || result.Updated != 0 {
		t.Errorf("expected unbudgeted line skipped, got %+v", result)
	}
}

func TestApplySpendSkipsNonPositiveAmounts(t *testing.T) {
	store := createTestStore(t)
	zeroApproved := decimal.Zero
	store.SeedDrawRequest(
		&models.DrawRequest{
			ID: "dr-5", ProjectID: "proj-1", DrawNumber: 7, Status: models.DrawStatusFunded,
		},
		[]*models.DrawLine{
			// approved at zero overrides the requested amount
			{
				ID: "dl-30", DrawRequestID: "dr-5", BudgetID: "b-foundation",
				AmountRequested: decimal.NewFromFloat(500),
				AmountApproved:  &zeroApproved,
			},
			{
				ID: "dl-31", DrawRequestID: "dr-5", BudgetID: "b-framing",
				AmountRequested: decimal.Zero,
			},
		},
	)

	rec := NewReconciler(store, nil)
	ctx := context.Background()
	result, err := rec.ApplySpend(ctx, "dr-5")
	if err != nil {
		t.Fatalf("ApplySpend() error = %v", err)
	}
	if result.Updated != 0 || result.Skipped != 2 || result.Failed != 0 {
		t.Errorf("expected both zero-amount lines skipped, got updated=%d skipped=%d failed=%d",
			result.Updated, result.Skipped, result.Failed)
	}

	foundation, _ := store.GetBudget(ctx, "b-foundation")
	if !foundation.SpentAmount.Equal(decimal.NewFromFloat(20000)) {
		t.Errorf("zero-amount line changed foundation spent to %s", foundation.SpentAmount)
	}

	for _, e := range store.AuditEvents() {
		if e.Action == models.ActionSpendRecorded {
			t.Errorf("zero-amount line wrote a spend event for %s", e.EntityID)
		}
	}

	// a later positive approval must still be recordable
	approved := decimal.NewFromFloat(400)
	lines, _ := store.GetDrawLines(ctx, "dr-5")
	for _, line := range lines {
		if line.ID == "dl-30" {
			line.AmountApproved = &approved
		}
	}
	store.SeedDrawRequest(&models.DrawRequest{
		ID: "dr-5", ProjectID: "proj-1", DrawNumber: 7, Status: models.DrawStatusFunded,
	}, lines)

	result, err = rec.ApplySpend(ctx, "dr-5")
	if err != nil {
		t.Fatalf("rerun ApplySpend() error = %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("expected re-approved line applied, got %+v", result)
	}
}

func TestApplySpendOverBudgetFlag(t *testing.T) {
	store := createTestStore(t)
	big := decimal.NewFromFloat(90000)
	store.SeedDrawRequest(
		&models.DrawRequest{
			ID: "dr-4", ProjectID: "proj-1", DrawNumber: 6, Status: models.DrawStatusFunded,
		},
		[]*models.DrawLine{
			{ID: "dl-20", DrawRequestID: "dr-4", BudgetID: "b-foundation", AmountRequested: big},
		},
	)

	rec := NewReconciler(store, nil)
	ctx := context.Background()
	if _, err := rec.ApplySpend(ctx, "dr-4"); err != nil {
		t.Fatalf("ApplySpend() error = %v", err)
	}

	lines, _ := store.GetDrawLines(ctx, "dr-4")
	if !lines[0].Flags.Has(models.FlagOverBudget) {
		t.Error("expected OVER_BUDGET flag on the overage line")
	}
}

func TestReconcileNoInvoiceFlags(t *testing.T) {
	store := createTestStore(t)
	rec := NewReconciler(store, nil)
	ctx := context.Background()

	store.SeedInvoices([]*models.Invoice{
		{
			ID:                "inv-1",
			ProjectID:         "proj-1",
			DrawRequestID:     "dr-1",
			MatchStatus:       models.MatchStatusAutoMatched,
			MatchedDrawLineID: "dl-1",
		},
	})

	result, err := rec.ReconcileNoInvoiceFlags(ctx, "dr-1")
	if err != nil {
		t.Fatalf("ReconcileNoInvoiceFlags() error = %v", err)
	}
	if result.Flagged != 1 {
		t.Errorf("expected 1 line flagged, got %d", result.Flagged)
	}

	lines, _ := store.GetDrawLines(ctx, "dr-1")
	for _, line := range lines {
		switch line.ID {
		case "dl-1":
			if line.Flags.Has(models.FlagNoInvoice) {
				t.Error("matched line dl-1 should not carry NO_INVOICE")
			}
		case "dl-2":
			if !line.Flags.Has(models.FlagNoInvoice) {
				t.Error("unmatched line dl-2 should carry NO_INVOICE")
			}
		}
	}

	// rerun converges without further changes
	result, err = rec.ReconcileNoInvoiceFlags(ctx, "dr-1")
	if err != nil {
		t.Fatalf("rerun error = %v", err)
	}
	if result.Flagged != 0 || result.Cleared != 0 {
		t.Errorf("rerun should change nothing, got %+v", result)
	}
}

func TestReconcileNoInvoiceFlagsClearsStaleFlag(t *testing.T) {
	store := createTestStore(t)
	rec := NewReconciler(store, nil)
	ctx := context.Background()

	// dl-1 starts wrongly flagged, then its invoice match lands
	if err := store.UpdateDrawLineFlags(ctx, "dl-1", models.NewFlagSet(models.FlagNoInvoice)); err != nil {
		t.Fatalf("seed flag error = %v", err)
	}
	store.SeedInvoices([]*models.Invoice{
		{
			ID:                "inv-1",
			ProjectID:         "proj-1",
			DrawRequestID:     "dr-1",
			MatchStatus:       models.MatchStatusAutoMatched,
			MatchedDrawLineID: "dl-1",
		},
	})

	result, err := rec.ReconcileNoInvoiceFlags(ctx, "dr-1")
	if err != nil {
		t.Fatalf("ReconcileNoInvoiceFlags() error = %v", err)
	}
	if result.Cleared != 1 {
		t.Errorf("expected 1 flag cleared, got %d", result.Cleared)
	}

	lines, _ := store.GetDrawLines(ctx, "dr-1")
	for _, line := range lines {
		if line.ID == "dl-1" && line.Flags.Has(models.FlagNoInvoice) {
			t.Error("stale NO_INVOICE flag should have been cleared")
		}
	}
}

func TestReconcileNoInvoiceFlagsIgnoresZeroAmountLines(t *testing.T) {
	store := createTestStore(t)
	store.SeedDrawRequest(
		&models.DrawRequest{
			ID: "dr-6", ProjectID: "proj-1", DrawNumber: 8, Status: models.DrawStatusFunded,
		},
		[]*models.DrawLine{
			{
				ID: "dl-40", DrawRequestID: "dr-6", BudgetID: "b-foundation",
				AmountRequested: decimal.Zero,
			},
			{
				ID: "dl-41", DrawRequestID: "dr-6", BudgetID: "b-framing",
				AmountRequested: decimal.NewFromFloat(7500),
			},
		},
	)
	store.SeedInvoices([]*models.Invoice{
		{
			ID:            "inv-9",
			ProjectID:     "proj-1",
			DrawRequestID: "dr-6",
			MatchStatus:   models.MatchStatusNeedsReview,
		},
	})

	rec := NewReconciler(store, nil)
	ctx := context.Background()
	result, err := rec.ReconcileNoInvoiceFlags(ctx, "dr-6")
	if err != nil {
		t.Fatalf("ReconcileNoInvoiceFlags() error = %v", err)
	}
	if result.Flagged != 1 {
		t.Errorf("expected only the positive-amount line flagged, got %d", result.Flagged)
	}

	lines, _ := store.GetDrawLines(ctx, "dr-6")
	for _, line := range lines {
		switch line.ID {
		case "dl-40":
			if line.Flags.Has(models.FlagNoInvoice) {
				t.Error("zero-amount line dl-40 should not carry NO_INVOICE")
			}
		case "dl-41":
			if !line.Flags.Has(models.FlagNoInvoice) {
				t.Error("positive-amount line dl-41 should carry NO_INVOICE")
			}
		}
	}
}

func TestReconcileNoInvoiceFlagsNoInvoicesIsNoOp(t *testing.T) {
	store := createTestStore(t)
	rec := NewReconciler(store, nil)
	ctx := context.Background()

	result, err := rec.ReconcileNoInvoiceFlags(ctx, "dr-1")
	if err != nil {
		t.Fatalf("ReconcileNoInvoiceFlags() error = %v", err)
	}
	if result.Flagged != 0 || result.Cleared != 0 || result.Unchanged != 0 {
		t.Errorf("expected full no-op without invoices, got %+v", result)
	}

	lines, _ := store.GetDrawLines(ctx, "dr-1")
	for _, line := range lines {
		if line.Flags.Has(models.FlagNoInvoice) {
			t.Errorf("line %s flagged despite no uploaded invoices", line.ID)
		}
	}
}

package parsers

import (
	"io"

	"draw-management-service/internal/models"
)

// BudgetParser parses project budget CSV exports
type BudgetParser struct {
	base *BaseParser
}

// NewBudgetParser creates a budget parser with the given configuration
func NewBudgetParser(config *ParseConfig) *BudgetParser {
	return &BudgetParser{base: NewBaseParser(config)}
}

var budgetRequiredHeaders = []string{"id", "project_id", "category", "current_amount"}

// ParseBudgets reads all budgets from a CSV file. Invalid records are
// collected in the stats and skipped; they never abort the run.
func (p *BudgetParser) ParseBudgets(filePath string) ([]*models.Budget, *ParseStats, error) {
	file, reader, err := p.base.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := &ParseContext{}
	stats := NewParseStats()

	if err := p.base.ReadHeaders(reader, parseCtx, budgetRequiredHeaders); err != nil {
		return nil, stats, err
	}

	var budgets []*models.Budget
	for {
		record, err := p.base.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.AddError(parseCtx.LineNumber, "record", "", "unreadable record", err)
			continue
		}

		stats.RecordsParsed++
		budget, recErr := p.parseRecord(record, parseCtx)
		if recErr != nil {
			stats.Errors = append(stats.Errors, recErr)
			stats.ErrorCount++
			continue
		}
		budgets = append(budgets, budget)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	return budgets, stats, nil
}

func (p *BudgetParser) parseRecord(record []string, parseCtx *ParseContext) (*models.Budget, *RecordError) {
	budget := &models.Budget{
		ID:           p.base.GetFieldValue(record, parseCtx, "id"),
		ProjectID:    p.base.GetFieldValue(record, parseCtx, "project_id"),
		Category:     p.base.GetFieldValue(record, parseCtx, "category"),
		NAHBCategory: p.base.GetFieldValue(record, parseCtx, "nahb_category"),
	}

	current := p.base.GetFieldValue(record, parseCtx, "current_amount")
	currentAmount, err := models.ParseDecimalFromString(current)
	if err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "current_amount", Value: current,
			Message: "invalid amount", Err: err,
		}
	}
	budget.CurrentAmount = currentAmount

	if original := p.base.GetFieldValue(record, parseCtx, "original_amount"); original != "" {
		originalAmount, err := models.ParseDecimalFromString(original)
		if err != nil {
			return nil, &RecordError{
				Line: parseCtx.LineNumber, Field: "original_amount", Value: original,
				Message: "invalid amount", Err: err,
			}
		}
		budget.OriginalAmount = originalAmount
	} else {
		budget.OriginalAmount = budget.CurrentAmount
	}

	if spent := p.base.GetFieldValue(record, parseCtx, "spent_amount"); spent != "" {
		spentAmount, err := models.ParseDecimalFromString(spent)
		if err != nil {
			return nil, &RecordError{
				Line: parseCtx.LineNumber, Field: "spent_amount", Value: spent,
				Message: "invalid amount", Err: err,
			}
		}
		budget.SpentAmount = spentAmount
	}
	budget.RemainingAmount = budget.CurrentAmount.Sub(budget.SpentAmount)

	if err := budget.Validate(); err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "record", Value: budget.ID,
			Message: "validation failed", Err: err,
		}
	}
	return budget, nil
}

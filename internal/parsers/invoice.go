package parsers

import (
	"io"

	"draw-management-service/internal/models"
)

// InvoiceParser parses invoice CSV exports, including the extracted fields
// produced by the upstream extraction step. Rows with no extracted amount
// are still valid invoices; they surface as extraction_failed downstream.
type InvoiceParser struct {
	base *BaseParser
}

// NewInvoiceParser creates an invoice parser with the given configuration
func NewInvoiceParser(config *ParseConfig) *InvoiceParser {
	return &InvoiceParser{base: NewBaseParser(config)}
}

var invoiceRequiredHeaders = []string{"id", "project_id"}

// ParseInvoices reads all invoices from a CSV file
func (p *InvoiceParser) ParseInvoices(filePath string) ([]*models.Invoice, *ParseStats, error) {
	file, reader, err := p.base.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := &ParseContext{}
	stats := NewParseStats()

	if err := p.base.ReadHeaders(reader, parseCtx, invoiceRequiredHeaders); err != nil {
		return nil, stats, err
	}

	var invoices []*models.Invoice
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
		invoice, recErr := p.parseRecord(record, parseCtx)
		if recErr != nil {
			stats.Errors = append(stats.Errors, recErr)
			stats.ErrorCount++
			continue
		}
		invoices = append(invoices, invoice)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	return invoices, stats, nil
}

func (p *InvoiceParser) parseRecord(record []string, parseCtx *ParseContext) (*models.Invoice, *RecordError) {
	invoice := &models.Invoice{
		ID:            p.base.GetFieldValue(record, parseCtx, "id"),
		ProjectID:     p.base.GetFieldValue(record, parseCtx, "project_id"),
		DrawRequestID: p.base.GetFieldValue(record, parseCtx, "draw_request_id"),
		MatchStatus:   models.MatchStatusPending,
	}

	if rawStatus := p.base.GetFieldValue(record, parseCtx, "match_status"); rawStatus != "" {
		status := models.MatchStatus(rawStatus)
		if !status.IsValid() {
			return nil, &RecordError{
				Line: parseCtx.LineNumber, Field: "match_status", Value: rawStatus,
				Message: "invalid match status",
			}
		}
		invoice.MatchStatus = status
	}

	vendor := p.base.GetFieldValue(record, parseCtx, "vendor_name")
	rawAmount := p.base.GetFieldValue(record, parseCtx, "amount")

	// no extracted amount means extraction never ran or failed; leave
	// Extracted nil so the matcher routes the invoice accordingly
	if rawAmount == "" {
		return invoice, nil
	}

	amount, err := models.ParseDecimalFromString(rawAmount)
	if err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "amount", Value: rawAmount,
			Message: "invalid amount", Err: err,
		}
	}

	extracted := &models.ExtractedInvoiceData{
		VendorName:           vendor,
		Amount:               amount,
		InvoiceNumber:        p.base.GetFieldValue(record, parseCtx, "invoice_number"),
		ConstructionCategory: p.base.GetFieldValue(record, parseCtx, "construction_category"),
		ProjectReference:     p.base.GetFieldValue(record, parseCtx, "project_reference"),
	}

	if rawDate := p.base.GetFieldValue(record, parseCtx, "invoice_date"); rawDate != "" {
		invoiceDate, err := models.ParseTimeWithFormats(rawDate)
		if err != nil {
			return nil, &RecordError{
				Line: parseCtx.LineNumber, Field: "invoice_date", Value: rawDate,
				Message: "invalid date", Err: err,
			}
		}
		extracted.InvoiceDate = &invoiceDate
	}

	invoice.Extracted = extracted

	if err := invoice.Validate(); err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "record", Value: invoice.ID,
			Message: "validation failed", Err: err,
		}
	}
	return invoice, nil
}

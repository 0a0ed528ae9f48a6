package parsers

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"draw-management-service/internal/models"
)

// DrawLineParser parses draw line CSV exports. This is the compatibility
// boundary for two legacy encodings: the "paid" status alias on the parent
// draw, and the flags column, which older exports write as a comma-separated
// list while newer ones write a JSON array.
type DrawLineParser struct {
	base *BaseParser
}

// NewDrawLineParser creates a draw line parser with the given configuration
func NewDrawLineParser(config *ParseConfig) *DrawLineParser {
	return &DrawLineParser{base: NewBaseParser(config)}
}

var drawLineRequiredHeaders = []string{"id", "draw_request_id", "amount_requested"}

// ParseDrawLines reads all draw lines from a CSV file
func (p *DrawLineParser) ParseDrawLines(filePath string) ([]*models.DrawLine, *ParseStats, error) {
	file, reader, err := p.base.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := &ParseContext{}
	stats := NewParseStats()

	if err := p.base.ReadHeaders(reader, parseCtx, drawLineRequiredHeaders); err != nil {
		return nil, stats, err
	}

	var lines []*models.DrawLine
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
		line, recErr := p.parseRecord(record, parseCtx)
		if recErr != nil {
			stats.Errors = append(stats.Errors, recErr)
			stats.ErrorCount++
			continue
		}
		lines = append(lines, line)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	return lines, stats, nil
}

func (p *DrawLineParser) parseRecord(record []string, parseCtx *ParseContext) (*models.DrawLine, *RecordError) {
	line := &models.DrawLine{
		ID:            p.base.GetFieldValue(record, parseCtx, "id"),
		DrawRequestID: p.base.GetFieldValue(record, parseCtx, "draw_request_id"),
		BudgetID:      p.base.GetFieldValue(record, parseCtx, "budget_id"),
		Description:   p.base.GetFieldValue(record, parseCtx, "description"),
		VendorName:    p.base.GetFieldValue(record, parseCtx, "vendor_name"),
	}

	requested := p.base.GetFieldValue(record, parseCtx, "amount_requested")
	amountRequested, err := models.ParseDecimalFromString(requested)
	if err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "amount_requested", Value: requested,
			Message: "invalid amount", Err: err,
		}
	}
	line.AmountRequested = amountRequested

	if approved := p.base.GetFieldValue(record, parseCtx, "amount_approved"); approved != "" {
		amountApproved, err := models.ParseDecimalFromString(approved)
		if err != nil {
			return nil, &RecordError{
				Line: parseCtx.LineNumber, Field: "amount_approved", Value: approved,
				Message: "invalid amount", Err: err,
			}
		}
		line.AmountApproved = &amountApproved
	}

	if flagsRaw := p.base.GetFieldValue(record, parseCtx, "flags"); flagsRaw != "" {
		flags, err := ParseFlags(flagsRaw)
		if err != nil {
			return nil, &RecordError{
				Line: parseCtx.LineNumber, Field: "flags", Value: flagsRaw,
				Message: "invalid flags", Err: err,
			}
		}
		line.Flags = flags
	}

	if err := line.Validate(); err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "record", Value: line.ID,
			Message: "validation failed", Err: err,
		}
	}
	return line, nil
}

// ParseFlags decodes a flags column value. New exports carry a JSON array;
// legacy ones a comma-separated list. Both normalize to the same FlagSet.
func ParseFlags(raw string) (models.FlagSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return models.NewFlagSet(), nil
	}

	if strings.HasPrefix(raw, "[") {
		var flags models.FlagSet
		if err := json.Unmarshal([]byte(raw), &flags); err != nil {
			return nil, err
		}
		return flags, nil
	}

	flags := models.NewFlagSet()
	for _, token := range strings.Split(raw, ",") {
		if strings.TrimSpace(token) == "" {
			continue
		}
		flag, err := models.ParseLineFlag(token)
		if err != nil {
			return nil, err
		}
		flags = flags.Add(flag)
	}
	return flags, nil
}

// DrawRequestParser parses draw request CSV exports
type DrawRequestParser struct {
	base *BaseParser
}

// NewDrawRequestParser creates a draw request parser
func NewDrawRequestParser(config *ParseConfig) *DrawRequestParser {
	return &DrawRequestParser{base: NewBaseParser(config)}
}

var drawRequestRequiredHeaders = []string{"id", "project_id", "draw_number", "status"}

// ParseDrawRequests reads all draw requests from a CSV file, normalizing the
// legacy "paid" status to funded
func (p *DrawRequestParser) ParseDrawRequests(filePath string) ([]*models.DrawRequest, *ParseStats, error) {
	file, reader, err := p.base.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := &ParseContext{}
	stats := NewParseStats()

	if err := p.base.ReadHeaders(reader, parseCtx, drawRequestRequiredHeaders); err != nil {
		return nil, stats, err
	}

	var draws []*models.DrawRequest
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
		draw, recErr := p.parseRecord(record, parseCtx)
		if recErr != nil {
			stats.Errors = append(stats.Errors, recErr)
			stats.ErrorCount++
			continue
		}
		draws = append(draws, draw)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	return draws, stats, nil
}

func (p *DrawRequestParser) parseRecord(record []string, parseCtx *ParseContext) (*models.DrawRequest, *RecordError) {
	draw := &models.DrawRequest{
		ID:        p.base.GetFieldValue(record, parseCtx, "id"),
		ProjectID: p.base.GetFieldValue(record, parseCtx, "project_id"),
	}

	rawStatus := p.base.GetFieldValue(record, parseCtx, "status")
	status, err := models.ParseDrawStatus(rawStatus)
	if err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "status", Value: rawStatus,
			Message: "invalid draw status", Err: err,
		}
	}
	draw.Status = status

	rawNumber := p.base.GetFieldValue(record, parseCtx, "draw_number")
	drawNumber, err := strconv.Atoi(rawNumber)
	if err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "draw_number", Value: rawNumber,
			Message: "invalid draw number", Err: err,
		}
	}
	draw.DrawNumber = drawNumber

	if total := p.base.GetFieldValue(record, parseCtx, "total_amount"); total != "" {
		totalAmount, err := models.ParseDecimalFromString(total)
		if err != nil {
			return nil, &RecordError{
				Line: parseCtx.LineNumber, Field: "total_amount", Value: total,
				Message: "invalid amount", Err: err,
			}
		}
		draw.TotalAmount = totalAmount
	}

	if funded := p.base.GetFieldValue(record, parseCtx, "funded_at"); funded != "" {
		fundedAt, err := models.ParseTimeWithFormats(funded)
		if err != nil {
			return nil, &RecordError{
				Line: parseCtx.LineNumber, Field: "funded_at", Value: funded,
				Message: "invalid date", Err: err,
			}
		}
		draw.FundedAt = &fundedAt
	}

	if err := draw.Validate(); err != nil {
		return nil, &RecordError{
			Line: parseCtx.LineNumber, Field: "record", Value: draw.ID,
			Message: "validation failed", Err: err,
		}
	}
	return draw, nil
}

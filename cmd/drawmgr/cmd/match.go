package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"draw-management-service/cmd/drawmgr/config"
	"draw-management-service/internal/ledger"
	"draw-management-service/internal/matcher"
	"draw-management-service/internal/models"
	"draw-management-service/internal/parsers"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the match command
var (
	matchDrawLinesFile string
	matchInvoicesFile  string
	matchBudgetsFile   string
	matchDrawID        string
	matchProfile       string
	matchOutputFormat  string
	matchOutputFile    string
)

// matchCmd represents the match command
var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match uploaded invoices against draw lines",
	Long: `Match scores each invoice's extracted data against the open lines of a
draw request and classifies the outcome: clear winners are matched
automatically, crowded fields go to disambiguation, and everything else
lands in manual review. Lines already claimed by another invoice are
excluded from scoring.

After matching, lines without any linked invoice are flagged NO_INVOICE.

This command requires:
- A draw line CSV file
- An invoice CSV file with extracted vendor and amount columns; rows
  without extracted data are marked extraction_failed

A budget CSV file is optional; when given, trade scoring uses each
line's budget category and NAHB code instead of only the line
description.

Examples:
  # Match with the default profile
  drawmgr match --draw-lines lines.csv --invoices invoices.csv --draw dr-42

  # Score against budget categories, strict thresholds, JSON results
  drawmgr match --draw-lines lines.csv --invoices invoices.csv --draw dr-42 \
    --budgets budget.csv --profile strict --output-format json`,

	PreRunE: validateMatchFlags,
	RunE:    runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringVarP(&matchDrawLinesFile, "draw-lines", "l", "", "path to draw line CSV file (required)")
	matchCmd.Flags().StringVarP(&matchInvoicesFile, "invoices", "i", "", "path to invoice CSV file (required)")
	matchCmd.Flags().StringVarP(&matchBudgetsFile, "budgets", "b", "", "path to budget CSV file for category scoring")
	matchCmd.Flags().StringVar(&matchDrawID, "draw", "", "draw request id (default: taken from the draw line rows)")
	matchCmd.Flags().StringVar(&matchProfile, "profile", "default", "matching profile: default, strict, relaxed")

	matchCmd.Flags().StringVarP(&matchOutputFormat, "output-format", "f", "console", "output format: console, json")
	matchCmd.Flags().StringVarP(&matchOutputFile, "output-file", "o", "", "output file path (default: stdout)")

	matchCmd.MarkFlagRequired("draw-lines")
	matchCmd.MarkFlagRequired("invoices")

	viper.BindPFlag("match.profile", matchCmd.Flags().Lookup("profile"))
	viper.BindPFlag("match.output-format", matchCmd.Flags().Lookup("output-format"))
}

func validateMatchFlags(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(matchDrawLinesFile, "draw line file"); err != nil {
		return err
	}
	if err := validateFileExists(matchInvoicesFile, "invoice file"); err != nil {
		return err
	}
	if matchBudgetsFile != "" {
		if err := validateFileExists(matchBudgetsFile, "budget file"); err != nil {
			return err
		}
	}

	if matchOutputFormat != "console" && matchOutputFormat != "json" {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json", matchOutputFormat)
	}

	return validateOutputDir(matchOutputFile)
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	parseConfig := config.CreateParseConfig()

	lines, lineStats, err := parsers.NewDrawLineParser(parseConfig).ParseDrawLines(matchDrawLinesFile)
	if err != nil {
		return err
	}
	reportParseStats("draw lines", lineStats)

	invoices, invoiceStats, err := parsers.NewInvoiceParser(parseConfig).ParseInvoices(matchInvoicesFile)
	if err != nil {
		return err
	}
	reportParseStats("invoices", invoiceStats)

	drawID := matchDrawID
	if drawID == "" && len(lines) > 0 {
		drawID = lines[0].DrawRequestID
	}
	if drawID == "" {
		return fmt.Errorf("no draw request id: pass --draw or include draw_request_id in the line file")
	}

	store := ledger.NewMemoryStore()
	store.SeedDrawRequest(&models.DrawRequest{
		ID:     drawID,
		Status: models.DrawStatusFunded,
	}, lines)

	if matchBudgetsFile != "" {
		budgets, budgetStats, err := parsers.NewBudgetParser(parseConfig).ParseBudgets(matchBudgetsFile)
		if err != nil {
			return err
		}
		reportParseStats("budgets", budgetStats)
		store.SeedBudgets(budgets)
	}

	for _, invoice := range invoices {
		if invoice.DrawRequestID == "" {
			invoice.DrawRequestID = drawID
		}
	}
	store.SeedInvoices(invoices)

	matchingConfig, err := config.CreateMatchingConfig(matchProfile)
	if err != nil {
		return err
	}

	engine := matcher.NewEngine(matchingConfig, nil)
	processor := matcher.NewProcessor(engine, store, nil)

	var results []*matcher.ProcessResult
	for _, invoice := range invoices {
		result, err := processor.ProcessInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	reconciler := ledger.NewReconciler(store, config.CreateReconcilerConfig(""))
	flagResult, err := reconciler.ReconcileNoInvoiceFlags(ctx, drawID)
	if err != nil {
		return err
	}

	output, cleanup, err := openOutput(matchOutputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	return writeMatchResults(output, results, flagResult)
}

func writeMatchResults(w *os.File, results []*matcher.ProcessResult, flags *ledger.FlagResult) error {
	if matchOutputFormat == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Results []*matcher.ProcessResult `json:"results"`
			Flags   *ledger.FlagResult       `json:"no_invoice_flags"`
		}{results, flags})
	}

	fmt.Fprintf(w, "Invoice Matching Results\n")
	fmt.Fprintf(w, "========================\n\n")
	for _, result := range results {
		fmt.Fprintf(w, "%s: %s -> %s", result.InvoiceID, result.Status, result.MatchStatus)
		if result.MatchedLineID != "" {
			fmt.Fprintf(w, " (line %s, confidence %.2f)", result.MatchedLineID, result.Confidence)
		} else if result.CandidateCount > 0 {
			fmt.Fprintf(w, " (%d candidates)", result.CandidateCount)
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "\nNO_INVOICE flags: %d flagged, %d cleared, %d unchanged\n",
		flags.Flagged, flags.Cleared, flags.Unchanged)
	return nil
}

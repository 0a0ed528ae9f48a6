package cmd

import (
	"context"
	"fmt"
	"os"

	"draw-management-service/cmd/drawmgr/config"
	"draw-management-service/internal/ledger"
	"draw-management-service/internal/models"
	"draw-management-service/internal/parsers"
	"draw-management-service/internal/reporter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the fund command
var (
	fundDrawID        string
	fundActor         string
	fundBudgetsFile   string
	fundDrawsFile     string
	fundDrawLinesFile string
	fundOutputFormat  string
	fundOutputFile    string
)

// fundCmd represents the fund command
var fundCmd = &cobra.Command{
	Use:   "fund",
	Short: "Apply a funded draw's spending to project budgets",
	Long: `Fund records a funded draw against its budget categories: each line's
approved amount (falling back to the requested amount) increments the
spent total of its budget, with an audit event per application.

The operation is idempotent. Lines already recorded are skipped on rerun,
never double-counted, so a crashed run can simply be re-executed. Lines
whose budget goes negative are flagged OVER_BUDGET but still recorded.

The ledger backing store is chosen by environment: when DATABASE_URL is
set (directly, via DRAWMGR_DATABASE_URL, or from a .env file) the command
runs against Postgres; otherwise it needs budget, draw, and draw line CSV
files and runs in memory.

Examples:
  # Against Postgres
  DATABASE_URL=postgres://... drawmgr fund --draw dr-42

  # Against CSV files
  drawmgr fund --draw dr-42 --budgets budgets.csv --draws draws.csv \
    --draw-lines lines.csv`,

	PreRunE: validateFundFlags,
	RunE:    runFund,
}

func init() {
	rootCmd.AddCommand(fundCmd)

	fundCmd.Flags().StringVarP(&fundDrawID, "draw", "d", "", "draw request id to apply (required)")
	fundCmd.Flags().StringVar(&fundActor, "actor", "", "actor recorded on audit events (default: system)")

	fundCmd.Flags().StringVarP(&fundBudgetsFile, "budgets", "b", "", "path to budget CSV file (file mode)")
	fundCmd.Flags().StringVar(&fundDrawsFile, "draws", "", "path to draw request CSV file (file mode)")
	fundCmd.Flags().StringVarP(&fundDrawLinesFile, "draw-lines", "l", "", "path to draw line CSV file (file mode)")

	fundCmd.Flags().StringVarP(&fundOutputFormat, "output-format", "f", "console", "output format: console, json, csv")
	fundCmd.Flags().StringVarP(&fundOutputFile, "output-file", "o", "", "output file path (default: stdout)")

	fundCmd.MarkFlagRequired("draw")

	viper.BindPFlag("fund.actor", fundCmd.Flags().Lookup("actor"))
	viper.BindPFlag("fund.output-format", fundCmd.Flags().Lookup("output-format"))
}

// databaseURL resolves the Postgres connection string from the environment.
// godotenv has already folded .env into the process environment.
func databaseURL() string {
	if url := viper.GetString("database_url"); url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

func validateFundFlags(cmd *cobra.Command, args []string) error {
	if databaseURL() == "" {
		for _, f := range []struct {
			path, description string
		}{
			{fundBudgetsFile, "budget file"},
			{fundDrawsFile, "draw request file"},
			{fundDrawLinesFile, "draw line file"},
		} {
			if f.path == "" {
				return fmt.Errorf("no DATABASE_URL set: file mode requires --budgets, --draws, and --draw-lines")
			}
			if err := validateFileExists(f.path, f.description); err != nil {
				return err
			}
		}
	}

	if !reporter.OutputFormat(fundOutputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", fundOutputFormat)
	}

	return validateOutputDir(fundOutputFile)
}

func runFund(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, closeStore, err := openFundStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reconciler := ledger.NewReconciler(store, config.CreateReconcilerConfig(fundActor))
	result, err := reconciler.ApplySpend(ctx, fundDrawID)
	if err != nil {
		return err
	}

	reportConfig, err := config.CreateReportConfig(fundOutputFormat)
	if err != nil {
		return err
	}
	generator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return err
	}

	output, cleanup, err := openOutput(fundOutputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	return generator.WriteSpendReport(output, result)
}

// openFundStore builds the ledger store for this run: Postgres when a
// connection string is available, otherwise an in-memory store seeded from
// the CSV flags.
func openFundStore(ctx context.Context) (ledger.Store, func(), error) {
	if url := databaseURL(); url != "" {
		pg, err := ledger.NewPostgresStore(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}

	parseConfig := config.CreateParseConfig()

	budgets, budgetStats, err := parsers.NewBudgetParser(parseConfig).ParseBudgets(fundBudgetsFile)
	if err != nil {
		return nil, nil, err
	}
	reportParseStats("budgets", budgetStats)

	requests, drawStats, err := parsers.NewDrawRequestParser(parseConfig).ParseDrawRequests(fundDrawsFile)
	if err != nil {
		return nil, nil, err
	}
	reportParseStats("draws", drawStats)

	lines, lineStats, err := parsers.NewDrawLineParser(parseConfig).ParseDrawLines(fundDrawLinesFile)
	if err != nil {
		return nil, nil, err
	}
	reportParseStats("draw lines", lineStats)

	var draw *models.DrawRequest
	for _, request := range requests {
		if request.ID == fundDrawID {
			draw = request
			break
		}
	}
	if draw == nil {
		return nil, nil, fmt.Errorf("draw request %s not found in %s", fundDrawID, fundDrawsFile)
	}

	var drawLines []*models.DrawLine
	for _, line := range lines {
		if line.DrawRequestID == fundDrawID {
			drawLines = append(drawLines, line)
		}
	}

	store := ledger.NewMemoryStore()
	store.SeedBudgets(budgets)
	store.SeedDrawRequest(draw, drawLines)
	return store, func() {}, nil
}

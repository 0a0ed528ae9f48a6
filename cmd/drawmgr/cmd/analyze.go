package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"draw-management-service/cmd/drawmgr/config"
	"draw-management-service/internal/anomaly"
	"draw-management-service/internal/models"
	"draw-management-service/internal/parsers"
	"draw-management-service/internal/reporter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the analyze command
var (
	analyzeBudgetsFile   string
	analyzeDrawsFile     string
	analyzeDrawLinesFile string
	analyzeProjectID     string
	analyzeLoanStart     string
	analyzeTermMonths    int
	analyzeDormantDays   int
	analyzeOutputFormat  string
	analyzeOutputFile    string
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Scan project budgets for spending anomalies",
	Long: `Analyze runs anomaly detection over a project's budget categories and
draw history: over-budget and near-limit categories, spending spikes,
dormant categories, concentration risk, invoice variances, and overall
draw velocity against the loan term.

This command requires:
- A budget CSV file (id, project_id, category, current_amount, spent_amount)

Optional inputs sharpen the scan:
- Draw request and draw line CSVs enable spike, variance, and velocity checks
- Loan start date and term enable velocity pacing

Examples:
  # Basic budget scan
  drawmgr analyze --budgets budgets.csv

  # Full scan with draw history and loan pacing
  drawmgr analyze --budgets budgets.csv --draws draws.csv --draw-lines lines.csv \
    --loan-start 2024-01-01 --term-months 12

  # JSON report to a file
  drawmgr analyze --budgets budgets.csv --output-format json --output-file scan.json`,

	PreRunE: validateAnalyzeFlags,
	RunE:    runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeBudgetsFile, "budgets", "b", "", "path to budget CSV file (required)")
	analyzeCmd.Flags().StringVar(&analyzeDrawsFile, "draws", "", "path to draw request CSV file")
	analyzeCmd.Flags().StringVar(&analyzeDrawLinesFile, "draw-lines", "", "path to draw line CSV file")
	analyzeCmd.Flags().StringVarP(&analyzeProjectID, "project", "p", "", "project id for the report header")

	analyzeCmd.Flags().StringVar(&analyzeLoanStart, "loan-start", "", "loan start date (YYYY-MM-DD), enables velocity checks")
	analyzeCmd.Flags().IntVar(&analyzeTermMonths, "term-months", 0, "loan term in months (default 12 when loan-start is set)")
	analyzeCmd.Flags().IntVar(&analyzeDormantDays, "dormant-after-days", 0, "days without spending before a category is dormant")

	analyzeCmd.Flags().StringVarP(&analyzeOutputFormat, "output-format", "f", "console", "output format: console, json, csv")
	analyzeCmd.Flags().StringVarP(&analyzeOutputFile, "output-file", "o", "", "output file path (default: stdout)")

	analyzeCmd.MarkFlagRequired("budgets")

	viper.BindPFlag("analyze.budgets", analyzeCmd.Flags().Lookup("budgets"))
	viper.BindPFlag("analyze.output-format", analyzeCmd.Flags().Lookup("output-format"))
}

func validateAnalyzeFlags(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(analyzeBudgetsFile, "budget file"); err != nil {
		return err
	}
	if analyzeDrawsFile != "" {
		if err := validateFileExists(analyzeDrawsFile, "draw request file"); err != nil {
			return err
		}
	}
	if analyzeDrawLinesFile != "" {
		if err := validateFileExists(analyzeDrawLinesFile, "draw line file"); err != nil {
			return err
		}
	}

	if analyzeLoanStart != "" {
		if _, err := time.Parse("2006-01-02", analyzeLoanStart); err != nil {
			return fmt.Errorf("invalid loan start date format. Use YYYY-MM-DD: %w", err)
		}
	}
	if analyzeTermMonths < 0 {
		return fmt.Errorf("term months cannot be negative")
	}

	if !reporter.OutputFormat(analyzeOutputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", analyzeOutputFormat)
	}

	return validateOutputDir(analyzeOutputFile)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	parseConfig := config.CreateParseConfig()

	budgets, budgetStats, err := parsers.NewBudgetParser(parseConfig).ParseBudgets(analyzeBudgetsFile)
	if err != nil {
		return err
	}
	reportParseStats("budgets", budgetStats)

	var draws []*models.DrawRequest
	if analyzeDrawsFile != "" {
		var stats *parsers.ParseStats
		draws, stats, err = parsers.NewDrawRequestParser(parseConfig).ParseDrawRequests(analyzeDrawsFile)
		if err != nil {
			return err
		}
		reportParseStats("draws", stats)
	}

	var lines []*models.DrawLine
	if analyzeDrawLinesFile != "" {
		var stats *parsers.ParseStats
		lines, stats, err = parsers.NewDrawLineParser(parseConfig).ParseDrawLines(analyzeDrawLinesFile)
		if err != nil {
			return err
		}
		reportParseStats("draw lines", stats)
	}

	detectorConfig, err := config.CreateDetectorConfig(analyzeDormantDays)
	if err != nil {
		return err
	}

	projectID := analyzeProjectID
	if projectID == "" && len(budgets) > 0 {
		projectID = budgets[0].ProjectID
	}

	project := anomaly.ProjectContext{
		ProjectID: projectID,
		AsOf:      time.Now(),
	}
	if analyzeLoanStart != "" {
		project.LoanStartDate, _ = time.Parse("2006-01-02", analyzeLoanStart)
		project.LoanTermMonths = analyzeTermMonths
		if project.LoanTermMonths == 0 {
			project.LoanTermMonths = models.DefaultLoanTerms().LoanTermMonths
		}
	}

	anomalies := anomaly.NewDetector(detectorConfig).Detect(budgets, draws, lines, project)

	reportConfig, err := config.CreateReportConfig(analyzeOutputFormat)
	if err != nil {
		return err
	}
	generator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return err
	}

	output, cleanup, err := openOutput(analyzeOutputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	return generator.WriteAnomalyReport(output, projectID, anomalies)
}

// validateFileExists checks that a flag-supplied path is a readable file
func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

// validateOutputDir checks the parent directory of an output path exists
func validateOutputDir(outputFile string) error {
	if outputFile == "" {
		return nil
	}
	dir := filepath.Dir(outputFile)
	if dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", dir)
		}
	}
	return nil
}

// openOutput returns the report destination and a cleanup func
func openOutput(outputFile string) (*os.File, func(), error) {
	if outputFile == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// reportParseStats surfaces skipped-record counts in verbose mode
func reportParseStats(name string, stats *parsers.ParseStats) {
	if stats == nil || !viper.GetBool("verbose") {
		return
	}
	fmt.Fprintf(os.Stderr, "Parsed %s: %d records (%d valid), %d errors\n",
		name, stats.RecordsParsed, stats.RecordsValid, stats.ErrorCount)
}

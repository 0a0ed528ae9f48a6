package cmd

import (
	"fmt"
	"sort"
	"time"

	"draw-management-service/cmd/drawmgr/config"
	"draw-management-service/internal/amortization"
	"draw-management-service/internal/models"
	"draw-management-service/internal/parsers"
	"draw-management-service/internal/reporter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the schedule command
var (
	scheduleDrawsFile      string
	scheduleRate           float64
	scheduleLoanStart      string
	scheduleTermMonths     int
	schedulePayoffDate     string
	scheduleAsOf           string
	scheduleSimulateAmount string
	scheduleSimulateDate   string
	scheduleOutputFormat   string
	scheduleOutputFile     string
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Build an amortization schedule from funded draws",
	Long: `Schedule builds a draw-by-draw amortization table from the funded draw
history: each funded draw raises the outstanding balance, interest accrues
on the running balance between events using actual day counts over a
365-day year, and the loan's fee rate for each period is shown alongside.

Interest accrues only on funded draws. Pending and approved draws carry
no balance until funding.

This command requires:
- A draw request CSV file; only rows with status funded and a funded_at
  date enter the schedule

Examples:
  # Schedule through today
  drawmgr schedule --draws draws.csv --rate 0.105 --loan-start 2024-01-01

  # Payoff quote for a specific date
  drawmgr schedule --draws draws.csv --rate 0.105 --loan-start 2024-01-01 \
    --payoff-date 2024-09-15

  # What-if: simulate one more draw on top of the history
  drawmgr schedule --draws draws.csv --rate 0.105 --loan-start 2024-01-01 \
    --simulate-amount 25000 --simulate-date 2024-07-01`,

	PreRunE: validateScheduleFlags,
	RunE:    runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringVarP(&scheduleDrawsFile, "draws", "d", "", "path to draw request CSV file (required)")

	scheduleCmd.Flags().Float64VarP(&scheduleRate, "rate", "r", 0, "annual interest rate as a fraction (e.g. 0.105)")
	scheduleCmd.Flags().StringVar(&scheduleLoanStart, "loan-start", "", "loan start date (YYYY-MM-DD)")
	scheduleCmd.Flags().IntVar(&scheduleTermMonths, "term-months", 0, "loan term in months")

	scheduleCmd.Flags().StringVar(&schedulePayoffDate, "payoff-date", "", "terminate the schedule with a payoff row on this date (YYYY-MM-DD)")
	scheduleCmd.Flags().StringVar(&scheduleAsOf, "as-of", "", "accrue the trailing row to this date (YYYY-MM-DD, default today)")

	scheduleCmd.Flags().StringVar(&scheduleSimulateAmount, "simulate-amount", "", "simulate an additional draw of this amount")
	scheduleCmd.Flags().StringVar(&scheduleSimulateDate, "simulate-date", "", "date for the simulated draw (YYYY-MM-DD)")

	scheduleCmd.Flags().StringVarP(&scheduleOutputFormat, "output-format", "f", "console", "output format: console, json, csv")
	scheduleCmd.Flags().StringVarP(&scheduleOutputFile, "output-file", "o", "", "output file path (default: stdout)")

	scheduleCmd.MarkFlagRequired("draws")

	viper.BindPFlag("schedule.rate", scheduleCmd.Flags().Lookup("rate"))
	viper.BindPFlag("schedule.output-format", scheduleCmd.Flags().Lookup("output-format"))
}

func validateScheduleFlags(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(scheduleDrawsFile, "draw request file"); err != nil {
		return err
	}

	for _, dateFlag := range []struct {
		name, value string
	}{
		{"payoff-date", schedulePayoffDate},
		{"as-of", scheduleAsOf},
		{"simulate-date", scheduleSimulateDate},
	} {
		if dateFlag.value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", dateFlag.value); err != nil {
			return fmt.Errorf("invalid %s format. Use YYYY-MM-DD: %w", dateFlag.name, err)
		}
	}

	if (scheduleSimulateAmount == "") != (scheduleSimulateDate == "") {
		return fmt.Errorf("simulate-amount and simulate-date must be set together")
	}
	if scheduleSimulateAmount != "" {
		if _, err := decimal.NewFromString(scheduleSimulateAmount); err != nil {
			return fmt.Errorf("invalid simulate-amount '%s': %w", scheduleSimulateAmount, err)
		}
	}

	if !reporter.OutputFormat(scheduleOutputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", scheduleOutputFormat)
	}

	return validateOutputDir(scheduleOutputFile)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	terms, err := config.CreateLoanTerms(scheduleRate, scheduleLoanStart, scheduleTermMonths)
	if err != nil {
		return err
	}

	parseConfig := config.CreateParseConfig()
	requests, stats, err := parsers.NewDrawRequestParser(parseConfig).ParseDrawRequests(scheduleDrawsFile)
	if err != nil {
		return err
	}
	reportParseStats("draws", stats)

	var events []amortization.DrawEvent
	for _, request := range requests {
		if request.Status != models.DrawStatusFunded || request.FundedAt == nil {
			continue
		}
		events = append(events, amortization.DrawEvent{
			Amount:     request.TotalAmount,
			Date:       *request.FundedAt,
			DrawNumber: request.DrawNumber,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })

	opts := amortization.Options{AsOf: time.Now()}
	if scheduleAsOf != "" {
		opts.AsOf, _ = time.Parse("2006-01-02", scheduleAsOf)
	}
	if schedulePayoffDate != "" {
		payoff, _ := time.Parse("2006-01-02", schedulePayoffDate)
		opts.PayoffDate = &payoff
	}

	engine := amortization.NewEngine(terms)
	rows := engine.BuildSchedule(events, opts)

	if scheduleSimulateAmount != "" {
		amount, _ := decimal.NewFromString(scheduleSimulateAmount)
		date, _ := time.Parse("2006-01-02", scheduleSimulateDate)
		rows = engine.SimulateNextDraw(rows, amount, date)
	}

	reportConfig, err := config.CreateReportConfig(scheduleOutputFormat)
	if err != nil {
		return err
	}
	generator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return err
	}

	output, cleanup, err := openOutput(scheduleOutputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	return generator.WriteScheduleReport(output, rows)
}

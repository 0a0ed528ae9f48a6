package cmd

import (
	"fmt"
	"os"

	"draw-management-service/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drawmgr",
	Short: "Construction draw management tool",
	Long: `Drawmgr manages construction-loan draws: it applies funded draw
spending to project budgets, matches uploaded invoices against draw lines,
scans budgets for spending anomalies, and projects interest and fee
schedules from the draw history.

Examples:
  drawmgr analyze --budgets budgets.csv --loan-start 2024-01-01
  drawmgr schedule --draws draws.csv --rate 0.105 --loan-start 2024-01-01
  drawmgr match --draw-lines lines.csv --invoices invoices.csv
  drawmgr fund --draw dr-42 --budgets budgets.csv --draws draws.csv --draw-lines lines.csv
  drawmgr version`,
	Version:       getVersionString(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		handler := NewCLIErrorHandler()
		os.Exit(handler.HandleError(err))
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in the config file, .env, and environment variables
func initConfig() {
	// .env carries DATABASE_URL in deployments; absence is fine
	_ = godotenv.Load()

	if verbose {
		if debugLogger, err := logger.NewLogger(logger.DebugConfig()); err == nil {
			logger.SetGlobalLogger(debugLogger)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	viper.SetEnvPrefix("DRAWMGR")
	viper.AutomaticEnv()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

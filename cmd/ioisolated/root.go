// Command ioisolated is a demonstration host embedding the isolation
// runtime: it loads configuration the way a real embedder would (flags,
// a YAML file, or environment variables), starts a Manager, and reports
// its stats until interrupted.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joeycumines/ioisolate/internal/telemetry"
)

var (
	cfgFile    string
	verbose    bool
	logger     *telemetry.Logger
)

var rootCmd = &cobra.Command{
	Use:     "ioisolated",
	Short:   "Run a demonstration I/O isolation runtime host",
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger()
	},
	RunE: runServe,
}

// Execute adds all child commands and runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ioisolated.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().Int("max-concurrent-ops", 20, "maximum concurrent file operations")
	rootCmd.Flags().Int("io-threads", 0, "I/O thread pool size (0 selects 2×CPU)")
	rootCmd.Flags().Int("high-capacity", 1000, "High-priority queue capacity")
	rootCmd.Flags().Int("medium-capacity", 2000, "Medium-priority queue capacity")
	rootCmd.Flags().Int("low-capacity", 5000, "Low-priority queue capacity")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("max_concurrent_ops", rootCmd.Flags().Lookup("max-concurrent-ops"))
	_ = viper.BindPFlag("io_threads", rootCmd.Flags().Lookup("io-threads"))
	_ = viper.BindPFlag("high_capacity", rootCmd.Flags().Lookup("high-capacity"))
	_ = viper.BindPFlag("medium_capacity", rootCmd.Flags().Lookup("medium-capacity"))
	_ = viper.BindPFlag("low_capacity", rootCmd.Flags().Lookup("low-capacity"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("ioisolated")
	}

	viper.SetEnvPrefix("IOISOLATED")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
		}
	}
}

func initLogger() {
	logger = telemetry.New(os.Stderr)
}

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

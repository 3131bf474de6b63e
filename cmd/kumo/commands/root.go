// Package commands implements the CLI commands for kumo.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mangatek/kumo/internal/config"
	"github.com/mangatek/kumo/internal/logger"
	"github.com/mangatek/kumo/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "kumo",
	Version: version.String(),
	Short:   "Resilient scraper API for manga catalog sites",
	Long: `Kumo fetches manga listings, series details and chapter pages from
a hostile upstream site, escalating through plain HTTP, headless
browser rendering and challenge-solving clients until one works.

Examples:
  # Serve the HTTP API
  kumo serve --listen :8000

  # Fetch a single page and print the HTML
  kumo fetch https://mangatek.com/manga-list

  # Force a specific strategy
  kumo fetch https://mangatek.com/manga/one-piece --strategy rendering`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.kumo.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".kumo")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("KUMO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadConfig materializes the validated configuration and initializes
// logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}
	logger.Init(logger.Options{
		Debug: cfg.Debug,
		Quiet: cfg.Quiet,
		JSON:  cfg.LogJSON,
	})
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

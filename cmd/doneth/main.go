// Command doneth indexes Doneth crowdfunding campaigns, serves them over
// HTTP and submits campaign transactions.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/0xredeth/doneth/pkg/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "doneth",
	Short: "Decentralized crowdfunding indexer and API",
	Long: `doneth follows a campaign factory on chain, indexes every campaign it
deploys and serves the results over a JSON API and a websocket feed.

Configuration is read from doneth.yaml (or --config) and the environment.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./doneth.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(campaignsCmd)
	rootCmd.AddCommand(txCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// initConfig reads the config file and sets up logging.
func initConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("doneth")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.doneth")
	}

	viper.SetEnvPrefix("DONETH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	if logLevel != "" {
		viper.Set("log.level", logLevel)
	}
	if logFormat != "" {
		viper.Set("log.format", logFormat)
	}

	if err := setupLogging(viper.GetString("log.level"), viper.GetString("log.format")); err != nil {
		return err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug().Str("file", used).Msg("config loaded")
	}
	return nil
}

// setupLogging configures the global zerolog logger.
func setupLogging(level, format string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "", "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	default:
		return fmt.Errorf("unknown log format %q (valid: console, json)", format)
	}
	return nil
}

// loadConfig loads and validates the full configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

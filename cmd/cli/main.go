package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/souqnear/ranking-service/config"
	"github.com/souqnear/ranking-service/internal/app"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ranking-service",
	Short: "Ranking Service CLI - offer ranking cache maintenance tool",
	Long: `A CLI tool for rebuilding and inspecting the offer ranking caches:
per reference point top offers, nearest merchants and common category
offers. Reads the same configuration as the server.`,
	PersistentPreRunE: persistentPreRun,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")
}

// persistentPreRun loads the configuration and initializes the logger
func persistentPreRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger = initLogger()
	log.Logger = *logger
	return nil
}

func initLogger() *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if cfg.Logging.Level != "" {
		if parsedLevel, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			level = parsedLevel
		}
	}

	// Always console format, on stderr so query output can be piped.
	output := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: cfg.Logging.NoColor}

	l := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &l
}

// openApp wires the engine against the configured backends.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	return a, nil
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

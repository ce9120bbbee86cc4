package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/cobra"

	"github.com/chameleon-db/rowsync/internal/config"
	"github.com/chameleon-db/rowsync/pkg/engine"
	_ "github.com/chameleon-db/rowsync/pkg/engine/mutation"
)

var (
	verbose bool
	workDir string
)

var rootCmd = &cobra.Command{
	Use:   "rowsync",
	Short: "Offline record snapshots for relational databases",
	Long: `rowsync keeps rows in memory, tracks their changes and writes them back
through ad-hoc SQL or stored procedures.

Configuration is read from .rowsync.yml in the working directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewLoader(resolveWorkDir()).LoadOrDefault()
		if err != nil {
			// config commands report the problem themselves
			setupLogging(config.Defaults())
			return nil
		}
		setupLogging(cfg)
		return nil
	},
}

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", "", "Working directory (default: current directory)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, engine.FormatError(err))
		os.Exit(1)
	}
}

// setupLogging points the global logger at stderr using the configured
// level and format. --verbose forces debug.
func setupLogging(cfg *config.Config) {
	level := cfg.LogLevel()
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(cfg.Logging.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func resolveWorkDir() string {
	if workDir != "" {
		return workDir
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func loadConfig() (*config.Config, error) {
	return config.NewLoader(resolveWorkDir()).LoadOrDefault()
}

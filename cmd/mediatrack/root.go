package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var (
	logLevel string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: error, warn, info, debug or trace")
}

var rootCmd = &cobra.Command{
	Use:           "mediatrack",
	Short:         "Exercise media track pipelines",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func newLoggerFactory() (logging.LoggerFactory, error) {
	levels := map[string]logging.LogLevel{
		"error": logging.LogLevelError,
		"warn":  logging.LogLevelWarn,
		"info":  logging.LogLevelInfo,
		"debug": logging.LogLevelDebug,
		"trace": logging.LogLevelTrace,
	}

	level, ok := levels[strings.ToLower(logLevel)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", logLevel)
	}

	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = level
	return f, nil
}

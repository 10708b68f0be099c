// Package cli implements the dagrun command line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/dagrun/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking DAGRUN_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("DAGRUN_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the dagrun CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dagrun",
		Short: "dagrun runs typed-port workflow DAGs",
		Long:  "dagrun validates, executes, and monitors workflow pipelines described as typed-port DAGs.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "dagrun server URL (or DAGRUN_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newDagCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newRunsCmd(),
		newCancelCmd(),
	)

	return root
}

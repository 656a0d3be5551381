package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var appVersion string

// Execute creates the root command tree and runs it.
func Execute(version, commit string) error {
	appVersion = version
	return newRootCmd(version, commit).Execute()
}

func newRootCmd(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Authentication, quota and audit gatekeeper for the abund API",
		Long: `gatekeeper resolves bearer credentials into accounts, enforces per-route
quotas over a shared TTL cache and keeps a privacy-preserving audit log.

Configuration is read from the environment (DATABASE_URL, REDIS_URL,
AUDIT_SALT_SECRET, ...).`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newAccountCmd())
	cmd.AddCommand(newKeyCmd())

	return cmd
}

// setupLogging configures the global zerolog logger.
func setupLogging(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

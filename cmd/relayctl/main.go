// Command relayctl drives a running call transcript relay: it posts provider
// webhooks, injects test entries, replays recorded calls and watches a call's
// stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	server  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Drive and observe a call transcript relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if opts.verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().
				Timestamp().
				Logger()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("RELAY_SERVER", "http://localhost:8080"), "Relay base URL")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(
		newWebhookCmd(opts),
		newInjectCmd(opts),
		newCompleteCmd(opts),
		newReplayCmd(opts),
		newWatchCmd(opts),
		newTailCmd(),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("relayctl failed")
		stop()
		os.Exit(1)
	}
}

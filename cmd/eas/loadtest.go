package main

import (
	"github.com/spf13/cobra"

	"github.com/lowmax205/eas/internal/loadtest"
	"github.com/lowmax205/eas/pkg/logger"
)

func loadtestCommand() *cobra.Command {
	cfg := loadtest.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Send synthetic submissions to a running service and report the outcomes",
		Long: `Registers an event, sends synthetic submissions around it through
POST /v1/submissions and polls until every queued one has an outcome.
Offsite submissions are expected to be rejected and onsite ones accepted;
anything else is reported as mismatched.

Run the target with EAS_RATE_LIMIT_PER_MIN=0 or most requests will be throttled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := logger.Init(); err != nil {
				return err
			}
			defer syncLogger()
			_, err := loadtest.Run(ctx, cfg, logger.Named("loadtest"))
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the service")
	f.StringVar(&cfg.EventID, "event", cfg.EventID, "event id to register and target")
	f.IntVar(&cfg.Submissions, "submissions", cfg.Submissions, "number of distinct submissions")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent senders")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	f.DurationVar(&cfg.Settle, "settle", cfg.Settle, "how long to wait for verification")
	f.Float64Var(&cfg.OffsiteRate, "offsite", cfg.OffsiteRate, "share of submissions placed far from the event")
	f.Float64Var(&cfg.ResendRate, "resend", cfg.ResendRate, "share of submissions sent twice")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	return cmd
}

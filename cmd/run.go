// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/telekom/hoplite/internal/helper"
	"github.com/telekom/hoplite/internal/logger"
	"github.com/telekom/hoplite/pkg/api"
	"github.com/telekom/hoplite/pkg/config"
	"github.com/telekom/hoplite/pkg/report"
	"github.com/telekom/hoplite/pkg/telemetry"
	"github.com/telekom/hoplite/pkg/trace"
)

const resolveTimeout = time.Second

// NewCmdRun creates a new run command
func NewCmdRun(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a trace session",
		RunE:  run(version),
	}

	cmd.PersistentFlags().String("target", "", "host name or IP address to trace to")
	cmd.PersistentFlags().String("protocol", "", "probing protocol (icmp, udp or tcp)")
	_ = viper.BindPFlag("target", cmd.PersistentFlags().Lookup("target"))
	_ = viper.BindPFlag("trace.protocol", cmd.PersistentFlags().Lookup("protocol"))

	return cmd
}

// run is the entry point to start the trace session
func run(version string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := logger.NewContextWithLogger(cmd.Context())
		defer cancel()
		log := logger.FromContext(ctx)

		cfg := &config.Config{}
		if err := viper.Unmarshal(cfg); err != nil {
			log.ErrorContext(ctx, "Failed to parse config", "error", err)
			return fmt.Errorf("failed to parse config: %w", err)
		}
		if err := cfg.Validate(ctx); err != nil {
			return err
		}

		settings, err := cfg.TraceSettings(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to resolve target", "error", err)
			return err
		}

		session, err := trace.New(settings)
		if err != nil {
			return err
		}

		tel := telemetry.New(cfg.Telemetry, version)
		if cfg.HasTelemetry() {
			if err = tel.InitTracing(ctx); err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				if sErr := tel.Shutdown(ctx); sErr != nil {
					log.ErrorContext(ctx, "Failed to shut down telemetry", "error", sErr)
				}
			}()
		}
		tel.GetRegistry().MustRegister(session.GetMetricCollectors()...)

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.HasApi() {
			srv := api.New(cfg.Api, session, tel.GetRegistry())
			go func() {
				if aErr := srv.Run(ctx); aErr != nil {
					log.ErrorContext(ctx, "API server failed, stopping session", "error", aErr)
					session.Stop()
				}
			}()
		}

		// Transient socket failures restart the session with backoff.
		runErr := helper.Retry(session.Run, helper.RetryConfig{
			Count: 3,
			Delay: time.Second,
		})(ctx)

		if rErr := writeReport(cmd, cfg, session); rErr != nil {
			log.ErrorContext(ctx, "Failed to write report", "error", rErr)
		}
		return runErr
	}
}

// writeReport renders the final snapshot to stdout.
func writeReport(cmd *cobra.Command, cfg *config.Config, session *trace.Session) error {
	var resolver report.Resolver
	if cfg.Report.ResolveNames {
		resolver = report.ReverseDNS(resolveTimeout)
	}

	rep, err := report.New(cfg.Report.Format, resolver)
	if err != nil {
		return err
	}
	return rep.Write(cmd.Context(), os.Stdout, session.Snapshot())
}

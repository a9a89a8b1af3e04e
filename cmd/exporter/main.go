package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/internal/config"
	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/handler"
	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/provision"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	rootCmd := &cobra.Command{
		Use:           "exporter",
		Short:         "Scheduled CloudWatch log export to S3",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRunCmd(logger))
	rootCmd.AddCommand(newWatchCmd(logger))
	rootCmd.AddCommand(newProvisionCmd(logger))
	rootCmd.AddCommand(newTeardownCmd(logger))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var logGroup, bucket, region string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one export invocation for a single log group",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv := handler.Invocation{
				LogGroupName:      logGroup,
				DestinationBucket: bucket,
				Region:            region,
			}
			h := &handler.Handler{
				Clients: handler.AWSClients{},
				Logger:  logger,
			}
			resp := h.Handle(cmd.Context(), inv)
			out, err := json.Marshal(resp)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if resp.StatusCode == 500 {
				return errors.New(resp.Body.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logGroup, "log-group", "", "log group to export")
	cmd.Flags().StringVar(&bucket, "bucket", "", "destination bucket")
	cmd.Flags().StringVar(&region, "region", "", "AWS region")
	return cmd
}

func newWatchCmd(logger *slog.Logger) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Invoke all configured log groups on a fixed interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			h := &handler.Handler{
				Clients: handler.AWSClients{
					S3Endpoint:       cfg.S3.Endpoint,
					S3ForcePathStyle: cfg.S3.ForcePathStyle,
				},
				Logger: logger,
			}

			ctx := cmd.Context()
			startMetricsServer(ctx, cfg.MetricsAddr, logger)
			logger.Info("watching log groups", "groups", len(cfg.LogGroups), "interval", cfg.IntervalDuration())

			runAll := func() {
				for _, group := range cfg.LogGroups {
					resp := h.Handle(ctx, handler.Invocation{
						LogGroupName:      group,
						DestinationBucket: cfg.DestinationBucket,
						Region:            cfg.Region,
					})
					logger.Info("invocation finished", "log_group", group, "status", resp.StatusCode, "message", resp.Body.Message)
				}
			}

			runAll()
			ticker := time.NewTicker(cfg.IntervalDuration())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					logger.Info("shutting down")
					return nil
				case <-ticker.C:
					runAll()
				}
			}
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "exporter.yaml", "path to config file")
	return cmd
}

func newProvisionCmd(logger *slog.Logger) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create one recurring trigger per configured log group",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			p, err := provision.New(cmd.Context(), cfg.Region, logger.With("component", "provision"))
			if err != nil {
				return err
			}
			names, err := p.Apply(cmd.Context(), planFromConfig(cfg))
			if err != nil {
				return err
			}
			logger.Info("provisioning complete", "rules", names)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "exporter.yaml", "path to config file")
	return cmd
}

func newTeardownCmd(logger *slog.Logger) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Remove provisioned triggers (exported data and watermarks are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			p, err := provision.New(cmd.Context(), cfg.Region, logger.With("component", "provision"))
			if err != nil {
				return err
			}
			if err := p.Teardown(cmd.Context(), planFromConfig(cfg)); err != nil {
				return err
			}
			logger.Info("teardown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "exporter.yaml", "path to config file")
	return cmd
}

func planFromConfig(cfg config.Config) provision.Plan {
	return provision.Plan{
		LogGroups:           cfg.LogGroups,
		InvocationTargetARN: cfg.LambdaARN,
		ResourcePrefix:      cfg.ResourcePrefix,
		DestinationBucket:   cfg.DestinationBucket,
		Region:              cfg.Region,
		Interval:            cfg.IntervalDuration(),
	}
}

func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_EXPORTER_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With("component", "exporter")
}

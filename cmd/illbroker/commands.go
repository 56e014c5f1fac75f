package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/open-ill-broker/pkg/telemetry"
)

var traceStdout bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "print spans to stdout when no OTLP endpoint is configured")
}

func runServe(ctx context.Context) error {
	opts := telemetry.Options{ServiceName: "illbroker", Version: version}
	if !traceStdout {
		opts.Stdout = io.Discard
	}
	shutdownTracer, err := telemetry.InitTracer(ctx, opts)
	if err != nil {
		slog.Warn("failed to init tracer", "error", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           setupRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("illbroker starting", "addr", httpSrv.Addr, "targets", a.targets.Len(), "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down illbroker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced to shutdown", "error", err)
	}
	slog.Info("illbroker exiting")
	return nil
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List configured partner targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPROTOCOL\tENDPOINT\tHOLDS")
		for _, t := range cfg.TargetTable().All() {
			endpoint := t.SearchURL
			if endpoint == "" {
				endpoint = fmt.Sprintf("%s:%d/%s", t.Host, t.Port, t.Database)
			}
			holds := t.HoldsURL
			if holds == "" {
				holds = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Protocol, endpoint, holds)
		}
		return w.Flush()
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping <target>",
	Short: "Check that a target's search endpoint answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, ok := cfg.TargetTable().Lookup(args[0])
		if !ok {
			return fmt.Errorf("unknown target %q", args[0])
		}
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Search.Timeout)
		defer cancel()
		start := time.Now()
		if err := a.ping(ctx, t); err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ok (%s)\n", t.Name, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "illbroker", version)
	},
}

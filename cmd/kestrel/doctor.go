package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/waylight/kestrel/internal/config"
	"github.com/waylight/kestrel/internal/integrity"
	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

func doctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Read-only integrity checks and summary stats (spec §4.7)",
	}
	cmd.AddCommand(doctorHealthCmd())
	cmd.AddCommand(doctorOrphansCmd())
	cmd.AddCommand(doctorGhostsCmd())
	cmd.AddCommand(doctorEstimatesCmd())
	cmd.AddCommand(doctorPendingCmd())
	return cmd
}

func openChecker(ctx context.Context) (*store.Store, *integrity.Checker, error) {
	s, err := store.Open(ctx, dbPath, false)
	if err != nil {
		return nil, nil, err
	}
	// The CLI doesn't know the scraper's declared speculation slots, so the
	// checker runs without a speculation-progress source here; a scraper's
	// own tooling can call integrity.NewChecker with its speculate.Engine
	// for that detail.
	return s, integrity.NewChecker(s, nil), nil
}

func doctorHealthCmd() *cobra.Command {
	var serveMetrics bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the summary stats view: queue counts, compression ratios, result/error tallies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, checker, err := openChecker(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := checker.Summary(ctx)
			if err != nil {
				return err
			}

			header := []string{"continuation", "status", "count"}
			rows := make([]row, 0, len(stats.QueueStatus))
			for _, qc := range stats.QueueStatus {
				rows = append(rows, row{"continuation": qc.Continuation, "status": qc.Status, "count": qc.Count})
			}
			if err := renderRows(header, rows); err != nil {
				return err
			}

			for resultType, c := range stats.ResultTypeCounts {
				fmt.Printf("results[%s]: valid=%d invalid=%d\n", resultType, c.Valid, c.Invalid)
			}
			for errType, c := range stats.ErrorTypeCounts {
				fmt.Printf("errors[%s]: resolved=%d unresolved=%d\n", errType, c.Resolved, c.Unresolved)
			}
			for continuation, ratio := range stats.CompressionRatios {
				fmt.Printf("compression[%s]: original=%d compressed=%d\n", continuation, ratio[0], ratio[1])
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("loading config for metrics: %w", err)
			}
			if serveMetrics || cfg.Metrics.Enabled {
				return serveMetricsBlocking(ctx, cfg, checker)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&serveMetrics, "serve-metrics", false, "also start the Prometheus /metrics endpoint, regardless of config; blocks until interrupted")
	return cmd
}

// serveMetricsBlocking registers an integrity.Collector against a fresh
// Prometheus registry and serves it on cfg.Metrics.Port
// until the process receives an interrupt.
func serveMetricsBlocking(ctx context.Context, cfg *config.Config, checker *integrity.Checker) error {
	logger := setupLogger()
	collector := integrity.NewCollector(ctx, checker, logger)
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return fmt.Errorf("registering metrics collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	logger.Info("serving metrics", "addr", addr, "path", cfg.Metrics.Path)
	server := &http.Server{Addr: addr, Handler: mux}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func doctorOrphansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List completed requests missing a response, and responses missing a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, checker, err := openChecker(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			reports, err := checker.Orphans(ctx)
			if err != nil {
				return err
			}
			header := []string{"kind", "request_id"}
			rows := make([]row, 0, len(reports))
			for _, r := range reports {
				rows = append(rows, row{"kind": r.Kind, "request_id": r.RequestID})
			}
			return renderRows(header, rows)
		},
	}
}

func doctorGhostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ghosts",
		Short: "List completed requests with neither children nor results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, checker, err := openChecker(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			reports, err := checker.Ghosts(ctx)
			if err != nil {
				return err
			}
			header := []string{"request_id", "continuation"}
			rows := make([]row, 0, len(reports))
			for _, r := range reports {
				rows = append(rows, row{"request_id": r.RequestID, "continuation": r.Continuation})
			}
			return renderRows(header, rows)
		},
	}
}

func doctorEstimatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estimates",
		Short: "Validate every stored estimate against its subtree's actual result counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, checker, err := openChecker(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := checker.Estimates(ctx)
			if err != nil {
				return err
			}
			header := []string{"request_id", "expected_types", "min_count", "max_count", "actual_count", "passed"}
			rows := make([]row, 0, len(results))
			for _, r := range results {
				rows = append(rows, row{
					"request_id": r.RequestID, "expected_types": r.ExpectedTypes,
					"min_count": r.MinCount, "max_count": r.MaxCount,
					"actual_count": r.ActualCount, "passed": r.Passed,
				})
			}
			return renderRows(header, rows)
		},
	}
}

func doctorPendingCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending requests awaiting dequeue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			status := types.StatusPending
			reqs, err := s.ListRequests(ctx, &status, "", limit)
			if err != nil {
				return err
			}
			header := []string{"id", "continuation", "url", "priority", "not_before"}
			rows := make([]row, 0, len(reqs))
			for _, r := range reqs {
				rows = append(rows, row{
					"id": r.ID, "continuation": r.Continuation, "url": r.URL,
					"priority": r.Priority, "not_before": r.NotBefore,
				})
			}
			return renderRows(header, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to return (0 = unlimited)")
	return cmd
}

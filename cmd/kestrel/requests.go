package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect queued and completed requests",
	}
	cmd.AddCommand(requestsListCmd())
	cmd.AddCommand(requestsShowCmd())
	return cmd
}

func requestsListCmd() *cobra.Command {
	var status string
	var continuation string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, most recently created first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			var statusPtr *types.Status
			if status != "" {
				st := types.Status(status)
				statusPtr = &st
			}

			reqs, err := s.ListRequests(ctx, statusPtr, continuation, limit)
			if err != nil {
				return err
			}

			header := []string{"id", "status", "priority", "continuation", "url", "retry_count", "created_at"}
			rows := make([]row, 0, len(reqs))
			for _, r := range reqs {
				rows = append(rows, row{
					"id": r.ID, "status": r.Status, "priority": r.Priority,
					"continuation": r.Continuation, "url": r.URL,
					"retry_count": r.RetryCount, "created_at": r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				})
			}
			return renderRows(header, rows)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, in_progress, completed, failed, held)")
	cmd.Flags().StringVar(&continuation, "continuation", "", "filter by continuation (step name)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return (0 = unlimited)")
	return cmd
}

func requestsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one request in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid request id %q: %w", args[0], err)
			}
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.GetRequest(ctx, id)
			if err != nil {
				return err
			}

			order := []string{
				"id", "status", "priority", "kind", "method", "url", "continuation",
				"current_location", "retry_count", "cumulative_backoff", "next_retry_delay",
				"last_error", "dedup_key", "parent_request_id", "is_speculative",
				"expected_type", "created_at",
			}
			fields := row{
				"id": r.ID, "status": r.Status, "priority": r.Priority, "kind": r.Kind,
				"method": r.Method, "url": r.URL, "continuation": r.Continuation,
				"current_location": r.CurrentLocation, "retry_count": r.RetryCount,
				"cumulative_backoff": r.CumulativeBackoff, "next_retry_delay": r.NextRetryDelay,
				"last_error": r.LastError, "dedup_key": r.DedupKey,
				"parent_request_id": r.ParentRequestID, "is_speculative": r.IsSpeculative,
				"expected_type": r.ExpectedType, "created_at": r.CreatedAt,
			}
			return renderOne(fields, order)
		},
	}
}

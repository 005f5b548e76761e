package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/waylight/kestrel/internal/store"
)

func errorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect and manage classified errors",
	}
	cmd.AddCommand(errorsListCmd())
	cmd.AddCommand(errorsShowCmd())
	cmd.AddCommand(errorsResolveCmd())
	cmd.AddCommand(errorsRequeueCmd())
	return cmd
}

func errorsListCmd() *cobra.Command {
	var unresolvedOnly bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List classified errors, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			errs, err := s.ListErrors(ctx, unresolvedOnly, limit)
			if err != nil {
				return err
			}

			header := []string{"id", "error_type", "error_class", "message", "request_id", "is_resolved", "created_at"}
			rows := make([]row, 0, len(errs))
			for _, e := range errs {
				rows = append(rows, row{
					"id": e.ID, "error_type": e.ErrorType, "error_class": e.ErrorClass,
					"message": e.Message, "request_id": e.RequestID,
					"is_resolved": e.IsResolved, "created_at": e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				})
			}
			return renderRows(header, rows)
		},
	}
	cmd.Flags().BoolVar(&unresolvedOnly, "unresolved", false, "show only unresolved errors")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return (0 = unlimited)")
	return cmd
}

func errorsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one classified error in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid error id %q: %w", args[0], err)
			}
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			e, err := s.GetError(ctx, id)
			if err != nil {
				return err
			}

			order := []string{
				"id", "request_id", "error_type", "error_class", "message", "request_url",
				"selector", "selector_type", "status_code", "is_resolved", "resolution_notes", "created_at",
			}
			fields := row{
				"id": e.ID, "request_id": e.RequestID, "error_type": e.ErrorType,
				"error_class": e.ErrorClass, "message": e.Message, "request_url": e.RequestURL,
				"selector": e.Selector, "selector_type": e.SelectorType, "status_code": e.StatusCode,
				"is_resolved": e.IsResolved, "resolution_notes": e.ResolutionNotes, "created_at": e.CreatedAt,
			}
			return renderOne(fields, order)
		},
	}
}

func errorsResolveCmd() *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a classified error resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid error id %q: %w", args[0], err)
			}
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ResolveError(ctx, id, notes); err != nil {
				return err
			}
			fmt.Printf("error %d marked resolved\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "operator notes explaining the resolution")
	return cmd
}

func errorsRequeueCmd() *cobra.Command {
	var clearDownstream bool

	cmd := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Requeue the request behind a classified error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid error id %q: %w", args[0], err)
			}
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			e, err := s.GetError(ctx, id)
			if err != nil {
				return err
			}
			if e.RequestID == nil {
				return fmt.Errorf("error %d has no associated request to requeue", id)
			}

			newID, err := s.RequeueRequest(ctx, *e.RequestID, clearDownstream)
			if err != nil {
				return err
			}
			fmt.Printf("requeued request %d as new request %d\n", *e.RequestID, newID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearDownstream, "clear-downstream", false, "also delete the response, results, and descendant requests rooted at the original request")
	return cmd
}

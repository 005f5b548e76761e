package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/waylight/kestrel/internal/store"
)

func requeueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Requeue work: a single request, or every held request for a continuation",
	}
	cmd.AddCommand(requeueRequestCmd())
	cmd.AddCommand(requeueContinuationCmd())
	return cmd
}

func requeueRequestCmd() *cobra.Command {
	var clearDownstream bool

	cmd := &cobra.Command{
		Use:   "request <id>",
		Short: "Insert a new pending request copying the fields of an existing one",
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

			newID, err := s.RequeueRequest(ctx, id, clearDownstream)
			if err != nil {
				return err
			}
			fmt.Printf("requeued request %d as new request %d\n", id, newID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearDownstream, "clear-downstream", false, "also delete the response, results, and descendant requests rooted at the original request")
	return cmd
}

func requeueContinuationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "continuation <name>",
		Short: "Move every held request for a continuation back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			continuation := args[0]
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ResumeStep(ctx, continuation); err != nil {
				return err
			}
			fmt.Printf("resumed held requests for continuation %q\n", continuation)
			return nil
		},
	}
	return cmd
}

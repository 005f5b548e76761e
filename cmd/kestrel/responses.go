package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/waylight/kestrel/internal/codec"
	"github.com/waylight/kestrel/internal/store"
)

func responsesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "responses",
		Short: "Inspect stored responses",
	}
	cmd.AddCommand(responsesListCmd())
	cmd.AddCommand(responsesShowCmd())
	cmd.AddCommand(responsesContentCmd())
	return cmd
}

func responsesListCmd() *cobra.Command {
	var continuation string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List responses, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			resps, err := s.ListResponses(ctx, continuation, limit)
			if err != nil {
				return err
			}

			header := []string{"id", "request_id", "status_code", "continuation", "url", "size_original", "size_compressed"}
			rows := make([]row, 0, len(resps))
			for _, r := range resps {
				rows = append(rows, row{
					"id": r.ID, "request_id": r.RequestID, "status_code": r.StatusCode,
					"continuation": r.Continuation, "url": r.URL,
					"size_original": r.ContentSizeOriginal, "size_compressed": r.ContentSizeCompressed,
				})
			}
			return renderRows(header, rows)
		},
	}
	cmd.Flags().StringVar(&continuation, "continuation", "", "filter by continuation (step name)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return (0 = unlimited)")
	return cmd
}

func responsesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show response metadata for a request, without its body",
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

			r, err := s.GetResponse(ctx, id)
			if err != nil {
				return err
			}

			order := []string{
				"id", "request_id", "status_code", "url", "continuation",
				"size_original", "size_compressed", "compression_dict_id",
				"warc_record_id", "created_at",
			}
			fields := row{
				"id": r.ID, "request_id": r.RequestID, "status_code": r.StatusCode,
				"url": r.URL, "continuation": r.Continuation,
				"size_original": r.ContentSizeOriginal, "size_compressed": r.ContentSizeCompressed,
				"compression_dict_id": r.CompressionDictID, "warc_record_id": r.WARCRecordID,
				"created_at": r.CreatedAt,
			}
			return renderOne(fields, order)
		},
	}
}

func responsesContentCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "content <request-id>",
		Short: "Decompress and print a response's stored content",
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

			resp, err := s.GetResponse(ctx, id)
			if err != nil {
				return err
			}

			var dict []byte
			if resp.CompressionDictID != nil {
				d, err := s.GetCompressionDict(ctx, *resp.CompressionDictID)
				if err != nil {
					return fmt.Errorf("loading dictionary %d: %w", *resp.CompressionDictID, err)
				}
				dict = d.DictionaryData
			}

			c, err := codec.New(1)
			if err != nil {
				return err
			}
			content, err := c.Decompress(resp.ContentCompressed, resp.CompressionDictID, dict)
			if err != nil {
				return fmt.Errorf("decompressing response %d: %w", id, err)
			}

			if outPath != "" {
				return os.WriteFile(outPath, content, 0o644)
			}
			_, err = os.Stdout.Write(content)
			return err
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write content to a file instead of stdout")
	return cmd
}

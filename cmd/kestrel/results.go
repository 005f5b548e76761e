package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect and export extracted results",
	}
	cmd.AddCommand(resultsListCmd())
	cmd.AddCommand(resultsShowCmd())
	cmd.AddCommand(resultsExportCmd())
	return cmd
}

func resultsListCmd() *cobra.Command {
	var resultType string
	var invalidOnly bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extracted results, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := s.ListResults(ctx, resultType, invalidOnly, limit)
			if err != nil {
				return err
			}

			header := []string{"id", "request_id", "result_type", "is_valid", "created_at"}
			rows := make([]row, 0, len(results))
			for _, r := range results {
				rows = append(rows, row{
					"id": r.ID, "request_id": r.RequestID, "result_type": r.ResultType,
					"is_valid": r.IsValid, "created_at": r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				})
			}
			return renderRows(header, rows)
		},
	}
	cmd.Flags().StringVar(&resultType, "type", "", "filter by result_type")
	cmd.Flags().BoolVar(&invalidOnly, "invalid", false, "show only failed-validation results")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return (0 = unlimited)")
	return cmd
}

func resultsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one result's full payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid result id %q: %w", args[0], err)
			}
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.GetResult(ctx, id)
			if err != nil {
				return err
			}

			order := []string{"id", "request_id", "result_type", "is_valid", "validation_errors_json", "data_json", "created_at"}
			fields := row{
				"id": r.ID, "request_id": r.RequestID, "result_type": r.ResultType,
				"is_valid": r.IsValid, "validation_errors_json": r.ValidationErrorsJSON,
				"data_json": r.DataJSON, "created_at": r.CreatedAt,
			}
			return renderOne(fields, order)
		},
	}
}

func resultsExportCmd() *cobra.Command {
	var resultType string
	var validOnly bool
	var limit int
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <jsonl|warc>",
		Short: "Bulk-export results as JSON Lines or WARC resource records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFormat := args[0]
			if exportFormat != "jsonl" && exportFormat != "warc" {
				return fmt.Errorf("unknown export format %q (want jsonl or warc)", exportFormat)
			}

			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := s.ListResults(ctx, resultType, false, limit)
			if err != nil {
				return err
			}
			if validOnly {
				filtered := results[:0]
				for _, r := range results {
					if r.IsValid {
						filtered = append(filtered, r)
					}
				}
				results = filtered
			}

			out := os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			if exportFormat == "jsonl" {
				return exportResultsJSONL(out, results)
			}
			return exportResultsWARC(out, results)
		},
	}
	cmd.Flags().StringVar(&resultType, "type", "", "filter by result_type")
	cmd.Flags().BoolVar(&validOnly, "valid-only", false, "export only results that passed validation")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to export (0 = unlimited)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func exportResultsJSONL(out *os.File, results []*types.Result) error {
	w := bufio.NewWriter(out)
	defer w.Flush()
	for _, r := range results {
		var data any
		if err := json.Unmarshal([]byte(r.DataJSON), &data); err != nil {
			data = r.DataJSON
		}
		line := map[string]any{
			"id": r.ID, "request_id": r.RequestID, "result_type": r.ResultType,
			"is_valid": r.IsValid, "data": data, "created_at": r.CreatedAt,
		}
		b, err := json.Marshal(line)
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

func exportResultsWARC(out *os.File, results []*types.Result) error {
	w := bufio.NewWriter(out)
	defer w.Flush()
	for _, r := range results {
		uri := fmt.Sprintf("urn:kestrel:result:%d", r.ID)
		if err := writeWARCRecord(w, uri, r.CreatedAt, "application/json", []byte(r.DataJSON)); err != nil {
			return err
		}
	}
	return nil
}

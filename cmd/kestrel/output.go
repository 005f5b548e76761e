package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
)

// row is one renderable line of output: a fixed set of named columns,
// rendered as a table row, a JSON object, or one line of JSONL depending on
// the --format flag.
type row map[string]any

// renderRows writes rows to stdout in the format the --format flag names.
// header gives the column order for the table format; it is ignored by
// json/jsonl.
func renderRows(header []string, rows []row) error {
	switch format {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(rows)
	case "jsonl":
		w := bufio.NewWriter(os.Stdout)
		defer w.Flush()
		enc := json.NewEncoder(w)
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case "table":
		return renderTable(os.Stdout, header, rows)
	default:
		return fmt.Errorf("unknown format %q (want table, json, or jsonl)", format)
	}
}

func renderTable(w io.Writer, header []string, rows []row) error {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	for _, r := range rows {
		line := make([]string, len(header))
		for i, col := range header {
			line[i] = fmt.Sprintf("%v", r[col])
		}
		tw.Append(line)
	}
	tw.Render()
	return nil
}

// renderOne renders a single record (a "show" command) as a table with one
// row per field, or as a plain JSON object.
func renderOne(fields row, order []string) error {
	switch format {
	case "json", "jsonl":
		return json.NewEncoder(os.Stdout).Encode(fields)
	case "table":
		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"field", "value"})
		for _, k := range order {
			tw.Append([]string{k, fmt.Sprintf("%v", fields[k])})
		}
		tw.Render()
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json, or jsonl)", format)
	}
}

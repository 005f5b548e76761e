package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waylight/kestrel/internal/codec"
	"github.com/waylight/kestrel/internal/config"
	"github.com/waylight/kestrel/internal/store"
)

func compressionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compression",
		Short: "Train, apply, and report on per-continuation compression dictionaries",
	}
	cmd.AddCommand(compressionTrainCmd())
	cmd.AddCommand(compressionRecompressCmd())
	cmd.AddCommand(compressionStatsCmd())
	return cmd
}

func compressionTrainCmd() *cobra.Command {
	var sampleLimit int
	var dictSize int

	cmd := &cobra.Command{
		Use:   "train <continuation>",
		Short: "Train a new compression dictionary from stored responses for a continuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			continuation := args[0]
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			d := config.DefaultConfig()
			if sampleLimit == 0 {
				sampleLimit = d.Codec.TrainSampleSize
			}
			if dictSize == 0 {
				dictSize = d.Codec.TrainDictSize
			}

			c, err := codec.New(d.Codec.DictCacheSize)
			if err != nil {
				return err
			}
			dict, err := c.Train(ctx, s, continuation, sampleLimit, dictSize)
			if err != nil {
				return err
			}
			fmt.Printf("trained dictionary id=%d continuation=%s version=%d sample_count=%d bytes=%d\n",
				dict.ID, dict.Continuation, dict.Version, dict.SampleCount, len(dict.DictionaryData))
			return nil
		},
	}
	cmd.Flags().IntVar(&sampleLimit, "sample-limit", 0, "max responses to sample (0 = config default)")
	cmd.Flags().IntVar(&dictSize, "dict-size", 0, "trained dictionary size in bytes (0 = config default)")
	return cmd
}

func compressionRecompressCmd() *cobra.Command {
	var level int
	var dictID int64
	var clearDict bool

	cmd := &cobra.Command{
		Use:   "recompress <continuation>",
		Short: "Re-encode every stored response for a continuation against a (possibly new) dictionary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			continuation := args[0]
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			d := config.DefaultConfig()
			if level == 0 {
				level = d.Codec.Level
			}

			var targetDictID *int64
			if clearDict {
				targetDictID = nil
			} else if dictID != 0 {
				targetDictID = &dictID
			} else if latest, err := s.LatestCompressionDict(ctx, continuation); err == nil {
				targetDictID = &latest.ID
			}

			c, err := codec.New(d.Codec.DictCacheSize)
			if err != nil {
				return err
			}
			report, err := c.Recompress(ctx, s, continuation, level, targetDictID)
			if err != nil {
				return err
			}
			fmt.Printf("recompressed %d responses: %d -> %d bytes\n", report.Count, report.OriginalBytes, report.CompressedBytes)
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "zstd compression level (0 = config default)")
	cmd.Flags().Int64Var(&dictID, "dict-id", 0, "dictionary id to recompress against (0 = latest trained dictionary)")
	cmd.Flags().BoolVar(&clearDict, "no-dict", false, "recompress without any dictionary")
	return cmd
}

func compressionStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print compression ratios observed per continuation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, err := store.Open(ctx, dbPath, false)
			if err != nil {
				return err
			}
			defer s.Close()

			ratios, err := s.CompressionRatioByContinuation(ctx)
			if err != nil {
				return err
			}
			header := []string{"continuation", "original_bytes", "compressed_bytes", "ratio"}
			rows := make([]row, 0, len(ratios))
			for continuation, pair := range ratios {
				ratio := 0.0
				if pair[1] > 0 {
					ratio = float64(pair[0]) / float64(pair[1])
				}
				rows = append(rows, row{
					"continuation": continuation, "original_bytes": pair[0],
					"compressed_bytes": pair[1], "ratio": ratio,
				})
			}
			return renderRows(header, rows)
		},
	}
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/example/go-voxdecoder/internal/bench"
	"github.com/example/go-voxdecoder/internal/decoder"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var input string
	var runs int
	var format string
	var rtfThreshold float64

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark decode latency and realtime factor",
		RunE: func(_ *cobra.Command, _ []string) error {
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			ff, err := readFramesFile(input)
			if err != nil {
				return err
			}

			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}

			audioDur := time.Duration(len(ff.Frames)*cfg.Runtime.FrameShiftMS) * time.Millisecond

			results := make([]bench.RunResult, 0, runs)
			for i := 0; i < runs; i++ {
				start := time.Now()
				if err := decodeOnce(engine, ff.Frames); err != nil {
					return fmt.Errorf("run %d failed: %w", i+1, err)
				}
				dur := time.Since(start)

				results = append(results, bench.RunResult{
					Index:       i,
					Cold:        i == 0,
					Duration:    dur,
					WAVDuration: audioDur,
					RTF:         bench.CalcRTF(dur, audioDur),
				})
			}

			durations := make([]time.Duration, len(results))
			for i, r := range results {
				durations[i] = r.Duration
			}
			stats := bench.ComputeStats(durations)

			switch format {
			case "json":
				bench.FormatJSON(results, stats, os.Stdout)
			default:
				bench.FormatTable(results, stats, os.Stdout)
			}

			var totalRTF float64
			for _, r := range results {
				totalRTF += r.RTF
			}
			meanRTF := totalRTF / float64(len(results))

			return bench.CheckRTFThreshold(meanRTF, rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Path to a frames JSON file (required)")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of decode runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func decodeOnce(engine *decoder.Engine, frames [][]float32) error {
	sess := decoder.NewSession(engine)
	if err := sess.SetSearch(decoder.ModeTreeFlat); err != nil {
		return err
	}
	if err := sess.StartUtt(); err != nil {
		return err
	}
	for _, cep := range frames {
		if err := sess.ProcessCep(cep); err != nil {
			return err
		}
	}
	return sess.EndUtt()
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/go-voxdecoder/internal/decoder"
	"github.com/spf13/cobra"
)

// framesFile is the on-disk shape decode/align read their input from: a
// JSON document carrying pre-extracted cepstral feature frames, the same
// wire shape internal/server's /decode and /align endpoints accept. This
// repo implements no front-end feature extraction (spec.md's own
// non-goal), so frame extraction is always the caller's job.
type framesFile struct {
	Frames [][]float32 `json:"frames"`
	Words  []string    `json:"words,omitempty"`
}

func readFramesFile(path string) (framesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return framesFile{}, fmt.Errorf("read frames file %q: %w", path, err)
	}

	var ff framesFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return framesFile{}, fmt.Errorf("parse frames file %q: %w", path, err)
	}
	if len(ff.Frames) == 0 {
		return framesFile{}, fmt.Errorf("frames file %q has no frames", path)
	}

	return ff, nil
}

func newDecodeCmd() *cobra.Command {
	var input string
	var format string

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a cepstral feature frame file to a word hypothesis",
		RunE: func(_ *cobra.Command, _ []string) error {
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

			sess := decoder.NewSession(engine)
			if err := sess.SetSearch(decoder.ModeTreeFlat); err != nil {
				return err
			}
			if err := sess.StartUtt(); err != nil {
				return err
			}
			for _, cep := range ff.Frames {
				if err := sess.ProcessCep(cep); err != nil {
					return err
				}
			}
			if err := sess.EndUtt(); err != nil {
				return err
			}

			hyp, err := sess.Hypothesis()
			if err != nil {
				return err
			}

			dictionary := engine.Models().Dict
			words := make([]string, 0, len(hyp))
			for _, wid := range hyp {
				words = append(words, dictionary.Word(wid).Name)
			}

			return printDecodeResult(os.Stdout, format, words)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Path to a frames JSON file (required)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func printDecodeResult(w *os.File, format string, words []string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string][]string{"words": words})
	}

	for _, word := range words {
		if _, err := fmt.Fprintln(w, word); err != nil {
			return err
		}
	}

	return nil
}

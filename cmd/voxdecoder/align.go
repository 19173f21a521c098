package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/go-voxdecoder/internal/decoder"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/spf13/cobra"
)

type alignedWord struct {
	Word       string `json:"word"`
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
}

func newAlignCmd() *cobra.Command {
	var input string
	var format string

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Force-align a known transcript against a cepstral feature frame file",
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
			if len(ff.Words) == 0 {
				return fmt.Errorf("frames file %q has no transcript (words field is required for align)", input)
			}

			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}

			dictionary := engine.Models().Dict
			wids := make([]dict.WordID, 0, len(ff.Words))
			for _, w := range ff.Words {
				wid, ok := dictionary.WordToID(w)
				if !ok {
					return fmt.Errorf("unknown word %q in transcript", w)
				}
				wids = append(wids, wid)
			}

			sess := decoder.NewSession(engine)
			if err := sess.SetAlignTranscript(wids); err != nil {
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

			segs, err := sess.SegmentIter()
			if err != nil {
				return err
			}

			aligned := make([]alignedWord, 0, len(segs))
			for _, seg := range segs {
				aligned = append(aligned, alignedWord{
					Word:       dictionary.Word(seg.Wid).Name,
					StartFrame: seg.StartFrame,
					EndFrame:   seg.EndFrame,
				})
			}

			return printAlignResult(os.Stdout, format, aligned)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Path to a frames JSON file with a words transcript (required)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func printAlignResult(w *os.File, format string, aligned []alignedWord) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string][]alignedWord{"segments": aligned})
	}

	for _, a := range aligned {
		if _, err := fmt.Fprintf(w, "%-20s %6d %6d\n", a.Word, a.StartFrame, a.EndFrame); err != nil {
			return err
		}
	}

	return nil
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/logmath"
)

// writeFixtureBundle lays out a minimal one-content-word/one-filler-word
// bundle directory, the same fixture internal/decoder's own load_test.go
// and internal/server's server_test.go use, so the CLI can be exercised
// end-to-end without a real model bundle.
func writeFixtureBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	ciPhones := []acmodel.CIPhone{
		{Name: "SIL", Flags: acmodel.CIPhoneFlagFiller},
		{Name: "AH"},
	}
	none := acmodel.NoCIPhone
	ah := acmodel.CIPhoneID(1)
	sil := acmodel.CIPhoneID(0)
	triphones := []acmodel.Triphone{
		{Base: ah, Left: none, Right: none, Pos: acmodel.PosSingle, SSeq: 0, Tmat: 0},
		{Base: sil, Left: none, Right: none, Pos: acmodel.PosSingle, SSeq: 1, Tmat: 0},
	}
	senoneSeqs := [][]acmodel.SenoneID{{0}, {1}}
	def := acmodel.NewDefinition(ciPhones, 1, senoneSeqs, triphones)
	if err := acmodel.WriteDefinition(filepath.Join(dir, "mdef"), def); err != nil {
		t.Fatalf("WriteDefinition: %v", err)
	}

	means := &acmodel.GaussianParams{NumCodebooks: 2, NumDensities: 1, Dim: 1, Data: []float32{0, 10}}
	if err := acmodel.WriteGaussianParams(filepath.Join(dir, "means"), means); err != nil {
		t.Fatalf("write means: %v", err)
	}
	vars := &acmodel.GaussianParams{NumCodebooks: 2, NumDensities: 1, Dim: 1, Data: []float32{1, 1}}
	if err := acmodel.WriteGaussianParams(filepath.Join(dir, "variances"), vars); err != nil {
		t.Fatalf("write variances: %v", err)
	}
	mixw := &acmodel.MixtureWeights{NumSenones: 2, NumDensities: 1, Dense: []float32{0, 0}}
	if err := acmodel.WriteMixtureWeights(filepath.Join(dir, "mixture_weights"), mixw); err != nil {
		t.Fatalf("write mixture weights: %v", err)
	}

	m := []int32{
		-1, -1,
		logmath.Worst, -1,
	}
	tmat := &acmodel.TransitionMatrices{NumStates: 2, Matrices: [][]int32{m}}
	if err := acmodel.WriteTransitionMatrices(filepath.Join(dir, "transition_matrices"), tmat); err != nil {
		t.Fatalf("write transition matrices: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "cmudict-en-us.dict"), []byte("A AH\n"), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cmudict-en-us.fillerdict"), []byte("SIL SIL\n"), 0o644); err != nil {
		t.Fatalf("write filler dict: %v", err)
	}

	return dir
}

// writeFramesFile writes a frames JSON file of the shape decode/align/bench
// read, optionally carrying a transcript.
func writeFramesFile(t *testing.T, frames [][]float32, words []string) string {
	t.Helper()

	data, err := json.Marshal(framesFile{Frames: frames, Words: words})
	if err != nil {
		t.Fatalf("marshal frames file: %v", err)
	}

	path := filepath.Join(t.TempDir(), "frames.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write frames file: %v", err)
	}

	return path
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

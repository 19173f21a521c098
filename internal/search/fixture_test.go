package search

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
	"github.com/example/go-voxdecoder/internal/lextree"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/vithist"
)

// instantTmat is a 1-emitting-state, 2-total-state topology whose single
// emitting state both self-loops and exits at every frame (mirroring
// internal/hmm's TestEvalSelfLoopKeepsFirstPredecessorOnTie fixture), so a
// test utterance of even one or two frames produces a reachable word exit
// without needing a multi-frame phone duration model.
func instantTmat() *acmodel.TransitionMatrices {
	m := []int32{
		-1, -1,
		logmath.Worst, -1,
	}
	return &acmodel.TransitionMatrices{NumStates: 2, Matrices: [][]int32{m}}
}

// fixture is a complete, minimal one-content-word model: CI phones SIL
// (filler) and AH, a dictionary with word "A" (pron AH) and filler "SIL",
// and a 2-senone acoustic scorer: senone 0 (AH, mean 0) outscores senone 1
// (SIL, mean 10) for input near 0, so "A" wins there, while input near 10
// favours senone 1 and the filler "SIL".
type fixture struct {
	def    *acmodel.Definition
	d      *dict.Dictionary
	d2p    *dict2pid.Table
	tmats  *acmodel.TransitionMatrices
	scorer *acmod.Scorer
	aWid   dict.WordID
	silWid dict.WordID
}

func buildFixture(t *testing.T) *fixture {
	t.Helper()

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
	senoneSeqs := [][]acmodel.SenoneID{
		{0},
		{1},
	}
	def := acmodel.NewDefinition(ciPhones, 1, senoneSeqs, triphones)

	path := filepath.Join(t.TempDir(), "test.dict")
	if err := os.WriteFile(path, []byte("A AH\n"), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	d := dict.New()
	if err := d.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	fillerPath := filepath.Join(t.TempDir(), "test.filler")
	if err := os.WriteFile(fillerPath, []byte("SIL SIL\n"), 0o644); err != nil {
		t.Fatalf("write filler dict: %v", err)
	}
	if err := d.LoadFiller(fillerPath); err != nil {
		t.Fatalf("LoadFiller: %v", err)
	}

	d2p, err := dict2pid.Build(def, d)
	if err != nil {
		t.Fatalf("dict2pid.Build: %v", err)
	}

	means := &acmodel.GaussianParams{
		NumCodebooks: 2, NumDensities: 1, Dim: 1,
		Data: []float32{0, 10},
	}
	vars := &acmodel.GaussianParams{
		NumCodebooks: 2, NumDensities: 1, Dim: 1,
		Data: []float32{1, 1},
	}
	mixw := &acmodel.MixtureWeights{
		NumSenones: 2, NumDensities: 1,
		Dense: []float32{0, 0},
	}
	lmTable := logmath.NewTable(logmath.DefaultBase)
	scorer, err := acmod.NewScorer(def, means, vars, mixw, lmTable, acmod.Continuous, 1)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	aWid, ok := d.WordToID("A")
	if !ok {
		t.Fatal("expected A in dictionary")
	}
	silWid, ok := d.WordToID("SIL")
	if !ok {
		t.Fatal("expected SIL in dictionary")
	}

	return &fixture{def: def, d: d, d2p: d2p, tmats: instantTmat(), scorer: scorer, aWid: aWid, silWid: silWid}
}

// fixedLM is a tiny lm.Model stub scoring every word at a fixed log prob.
type fixedLM struct {
	vocab *lm.Vocab
}

func (m *fixedLM) Score(wid lm.WordID, history []lm.WordID) (int32, int) {
	return -10, len(history) + 1
}
func (m *fixedLM) Vocab() *lm.Vocab { return m.vocab }
func (m *fixedLM) Order() int       { return 2 }

func (f *fixture) newVithist(t *testing.T) *vithist.Table {
	t.Helper()
	vocab := lm.NewVocab("<unk>", "<s>", "</s>")
	aLM := vocab.IDOrAdd("A")
	model := &fixedLM{vocab: vocab}
	fillers := lm.NewFillerPenalties(-20)

	wordToLM := func(w dict.WordID) lm.WordID {
		if w == f.aWid {
			return aLM
		}
		return lm.WordID(0)
	}
	isFiller := func(w dict.WordID) bool { return w == f.silWid }

	lmTable := logmath.NewTable(logmath.DefaultBase)
	return vithist.New(model, fillers, lmTable, wordToLM, isFiller)
}

func (f *fixture) newTree(t *testing.T) *lextree.Tree {
	t.Helper()
	tree, err := lextree.Build(f.def, f.d, f.d2p, f.def.NEmitStates, nil)
	if err != nil {
		t.Fatalf("lextree.Build: %v", err)
	}
	return tree
}

// defaultConfig returns a Config whose beams are wide enough that nothing
// in these small test fixtures is ever pruned by width alone (beams are
// magnitudes subtracted from the best score, so a large positive value
// keeps the threshold far below anything reachable).
func defaultConfig() Config {
	return Config{
		HMMBeam:          100000,
		PhoneBeam:        100000,
		WordBeam:         100000,
		MaxWordsPerFrame: 0,
		MaxHistPerFrame:  0,
		// vithist.Table.Prune computes threshold = curBestScore + VithistBeam
		// directly (no subtraction), so this one beam is a negative width
		// rather than a positive magnitude like the others above.
		VithistBeam: -1000000,
	}
}

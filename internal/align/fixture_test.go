package align

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
	"github.com/example/go-voxdecoder/internal/logmath"
)

// instantTmat mirrors internal/search's fixture: one emitting state that
// both self-loops and exits every frame, so a two- or three-frame test
// utterance already reaches every phone's exit.
func instantTmat() *acmodel.TransitionMatrices {
	m := []int32{
		-1, -1,
		logmath.Worst, -1,
	}
	return &acmodel.TransitionMatrices{NumStates: 2, Matrices: [][]int32{m}}
}

// alignFixture is a two-word model ("A" = AH, "B" = IY), each a single
// phone, whose cross-word triphones are only defined for the exact
// contexts the two-word sequence "A B" actually produces — enough to
// exercise NewAligner's context resolution without a full triphone table.
type alignFixture struct {
	def    *acmodel.Definition
	d      *dict.Dictionary
	d2p    *dict2pid.Table
	tmats  *acmodel.TransitionMatrices
	scorer *acmod.Scorer
	aWid   dict.WordID
	bWid   dict.WordID
}

func buildAlignFixture(t *testing.T) *alignFixture {
	t.Helper()

	ciPhones := []acmodel.CIPhone{
		{Name: "AH"},
		{Name: "IY"},
	}
	none := acmodel.NoCIPhone
	ah := acmodel.CIPhoneID(0)
	iy := acmodel.CIPhoneID(1)

	triphones := []acmodel.Triphone{
		// "A" (AH), utterance-initial, followed by "B" (IY).
		{Base: ah, Left: none, Right: iy, Pos: acmodel.PosSingle, SSeq: 0, Tmat: 0},
		// "B" (IY), preceded by "A" (AH), utterance-final.
		{Base: iy, Left: ah, Right: none, Pos: acmodel.PosSingle, SSeq: 1, Tmat: 0},
	}
	senoneSeqs := [][]acmodel.SenoneID{
		{0},
		{1},
	}
	def := acmodel.NewDefinition(ciPhones, 1, senoneSeqs, triphones)

	path := filepath.Join(t.TempDir(), "test.dict")
	if err := os.WriteFile(path, []byte("A AH\nB IY\n"), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	d := dict.New()
	if err := d.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
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
	bWid, ok := d.WordToID("B")
	if !ok {
		t.Fatal("expected B in dictionary")
	}

	return &alignFixture{def: def, d: d, d2p: d2p, tmats: instantTmat(), scorer: scorer, aWid: aWid, bWid: bWid}
}

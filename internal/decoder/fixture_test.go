package decoder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/search"
)

// instantTmat mirrors internal/search and internal/align's fixture: one
// emitting state that both self-loops and exits every frame, so a one-
// frame test utterance already reaches a word exit.
func instantTmat() *acmodel.TransitionMatrices {
	m := []int32{
		-1, -1,
		logmath.Worst, -1,
	}
	return &acmodel.TransitionMatrices{NumStates: 2, Matrices: [][]int32{m}}
}

// fixedLM scores every word at a fixed log probability, same stub
// internal/search's own fixture uses.
type fixedLM struct {
	vocab *lm.Vocab
}

func (m *fixedLM) Score(wid lm.WordID, history []lm.WordID) (int32, int) {
	return -10, len(history) + 1
}
func (m *fixedLM) Vocab() *lm.Vocab { return m.vocab }
func (m *fixedLM) Order() int       { return 2 }

// decoderFixture is a one-content-word, one-filler-word model ("A" = AH,
// filler "SIL"), small enough to drive a whole Engine/Session lifecycle
// without a real model bundle.
type decoderFixture struct {
	models Models
	aWid   dict.WordID
	silWid dict.WordID
}

func buildDecoderFixture(t *testing.T) *decoderFixture {
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

	vocab := lm.NewVocab("<unk>", "<s>", "</s>")
	aLM := vocab.IDOrAdd("A")
	model := &fixedLM{vocab: vocab}
	fillers := lm.NewFillerPenalties(-20)

	wordToLM := func(w dict.WordID) lm.WordID {
		if w == aWid {
			return aLM
		}
		return lm.WordID(0)
	}
	isFiller := func(w dict.WordID) bool { return w == silWid }

	models := Models{
		Def:         def,
		Dict:        d,
		D2P:         d2p,
		Tmats:       instantTmat(),
		Scorer:      scorer,
		LogMath:     lmTable,
		LM:          model,
		Fillers:     fillers,
		WordToLM:    wordToLM,
		IsFiller:    isFiller,
		NEmitStates: def.NEmitStates,
	}

	return &decoderFixture{models: models, aWid: aWid, silWid: silWid}
}

// defaultTestConfig returns a Config whose beams are wide enough that
// nothing in these small fixtures is ever pruned by width alone (mirrors
// internal/search's own defaultConfig rationale).
func defaultTestConfig() Config {
	return Config{
		Search: search.Config{
			HMMBeam:          100000,
			PhoneBeam:        100000,
			WordBeam:         100000,
			MaxWordsPerFrame: 0,
			MaxHistPerFrame:  0,
			// vithist.Table.Prune computes threshold = curBestScore +
			// VithistBeam directly (no subtraction), so this beam is a
			// negative width rather than a positive magnitude.
			VithistBeam: -1000000,
		},
		TreeCopies: 1,
		CacheSize:  1,
		LMWeight:   1.0,
	}
}

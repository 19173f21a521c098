package search

import (
	"testing"

	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/hmm"
)

// buildKeywordSearch binds word A's triphone to a one-phone keyword chain,
// the same way buildFSGSearch resolves it via def.Lookup, racing it against
// the fixture's SIL background loop.
func buildKeywordSearch(t *testing.T, threshold int32) (*fixture, *KeywordSearch) {
	t.Helper()
	f := buildFixture(t)

	ci, ok := f.def.CIPhoneByName("AH")
	if !ok {
		t.Fatal("expected AH to be a known CI phone")
	}
	tri, ok := f.def.Lookup(ci, acmodel.NoCIPhone, acmodel.NoCIPhone, acmodel.PosSingle)
	if !ok {
		t.Fatal("expected a PosSingle triphone for AH")
	}
	h := hmm.New(f.def.NEmitStates)
	h.SSeq = tri.SSeq
	h.Tmat = tri.Tmat

	bg := BuildFillerBank(f.def, f.d, f.def.NEmitStates)
	kws := []Keyword{{Wid: f.aWid, Chain: []*hmm.HMM{h}, Threshold: threshold}}
	ks := NewKeywordSearch(f.def, f.tmats, f.scorer, kws, bg)
	return f, ks
}

func TestKeywordSearchNoKeywordsErrors(t *testing.T) {
	f := buildFixture(t)
	bg := BuildFillerBank(f.def, f.d, f.def.NEmitStates)
	ks := NewKeywordSearch(f.def, f.tmats, f.scorer, nil, bg)
	if err := ks.Start(); err != ErrNoKeywords {
		t.Fatalf("Start = %v, want ErrNoKeywords", err)
	}
}

func TestKeywordSearchSpotsWordWellBelowBackground(t *testing.T) {
	f, ks := buildKeywordSearch(t, -100000)
	if err := ks.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Frame 0 only spawns the sliding-window instance; it races the
	// background loop and can exit starting with frame 1.
	if err := ks.Step(0, []float32{0}); err != nil {
		t.Fatalf("Step(0): %v", err)
	}
	if err := ks.Step(1, []float32{0}); err != nil {
		t.Fatalf("Step(1): %v", err)
	}
	hyp, err := ks.Hypothesis()
	if err != nil {
		t.Fatalf("Hypothesis: %v", err)
	}
	found := false
	for _, w := range hyp {
		if w == f.aWid {
			found = true
		}
	}
	if !found {
		t.Fatalf("Hypothesis = %v, want a detection of word A given its generous threshold", hyp)
	}
}

func TestKeywordSearchNoDetectionWhenThresholdUnreachable(t *testing.T) {
	_, ks := buildKeywordSearch(t, 1000000)
	if err := ks.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ks.Step(0, []float32{0}); err != nil {
		t.Fatalf("Step(0): %v", err)
	}
	if err := ks.Step(1, []float32{0}); err != nil {
		t.Fatalf("Step(1): %v", err)
	}
	hyp, err := ks.Hypothesis()
	if err != nil {
		t.Fatalf("Hypothesis: %v", err)
	}
	if len(hyp) != 0 {
		t.Fatalf("Hypothesis = %v, want no detections given an unreachable threshold", hyp)
	}
}

func TestKeywordSearchSegmentIterOrdersDetections(t *testing.T) {
	f, ks := buildKeywordSearch(t, -100000)
	if err := ks.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for frame := 0; frame < 3; frame++ {
		if err := ks.Step(frame, []float32{0}); err != nil {
			t.Fatalf("Step(%d): %v", frame, err)
		}
	}
	segs, err := ks.SegmentIter()
	if err != nil {
		t.Fatalf("SegmentIter: %v", err)
	}
	for i := 1; i < len(segs); i++ {
		if segs[i-1].StartFrame > segs[i].StartFrame {
			t.Fatalf("SegmentIter not ordered by start frame: %v", segs)
		}
	}
	for _, seg := range segs {
		if seg.Wid != f.aWid {
			t.Fatalf("unexpected detected word %d, want %d", seg.Wid, f.aWid)
		}
	}
}

func TestKeywordSearchFinishIsNoop(t *testing.T) {
	_, ks := buildKeywordSearch(t, -100000)
	if err := ks.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ks.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestKeywordSearchLatticeUnsupported(t *testing.T) {
	_, ks := buildKeywordSearch(t, -100000)
	if dag, err := ks.Lattice(); dag != nil || err != nil {
		t.Fatalf("Lattice = (%v, %v), want (nil, nil)", dag, err)
	}
}

package align

import (
	"testing"

	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/logmath"
)

func buildAligner(t *testing.T, words []dict.WordID) (*alignFixture, *Aligner) {
	t.Helper()
	f := buildAlignFixture(t)
	a, err := NewAligner(f.def, f.d, f.d2p, f.tmats, f.scorer, words, f.def.NEmitStates)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	return f, a
}

func TestAlignerReachesFinalWithMatchingTranscript(t *testing.T) {
	f := buildAlignFixture(t)
	a, err := NewAligner(f.def, f.d, f.d2p, f.tmats, f.scorer, []dict.WordID{f.aWid, f.bWid}, f.def.NEmitStates)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Step(0, []float32{0}); err != nil {
		t.Fatalf("Step(0): %v", err)
	}
	if err := a.Step(1, []float32{0}); err != nil {
		t.Fatalf("Step(1): %v", err)
	}
	if err := a.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	res, err := a.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(res.Words) != 2 {
		t.Fatalf("len(Words) = %d, want 2", len(res.Words))
	}
	if res.Words[0].Wid != f.aWid || res.Words[1].Wid != f.bWid {
		t.Fatalf("Words = %+v, want [A B]", res.Words)
	}
	if res.Words[0].StartFrame > res.Words[0].EndFrame {
		t.Fatalf("word A: start %d > end %d", res.Words[0].StartFrame, res.Words[0].EndFrame)
	}
	if res.Words[1].StartFrame < res.Words[0].EndFrame {
		t.Fatalf("word B starts (%d) before word A ends (%d)", res.Words[1].StartFrame, res.Words[0].EndFrame)
	}
	if res.Score == logmath.Worst {
		t.Fatal("Score = Worst, want a real alignment score")
	}
}

func TestAlignerEmptyWordsErrors(t *testing.T) {
	_, a := buildAligner(t, nil)
	if err := a.Start(); err != ErrNoWords {
		t.Fatalf("Start = %v, want ErrNoWords", err)
	}
}

func TestAlignerFinishFailsWithoutEnoughFrames(t *testing.T) {
	f := buildAlignFixture(t)
	a, err := NewAligner(f.def, f.d, f.d2p, f.tmats, f.scorer, []dict.WordID{f.aWid, f.bWid}, f.def.NEmitStates)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// No Step calls at all: the final phone's exit state never leaves
	// Worst, so the transcript cannot be aligned to zero frames of audio.
	if err := a.Finish(); err != ErrAlignmentImpossible {
		t.Fatalf("Finish = %v, want ErrAlignmentImpossible", err)
	}
}

func TestAlignerHypothesisReturnsFixedSequence(t *testing.T) {
	f := buildAlignFixture(t)
	a, err := NewAligner(f.def, f.d, f.d2p, f.tmats, f.scorer, []dict.WordID{f.aWid, f.bWid}, f.def.NEmitStates)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.Hypothesis(); err != ErrNotFinished {
		t.Fatalf("Hypothesis before Finish = %v, want ErrNotFinished", err)
	}
	for frame := 0; frame < 2; frame++ {
		if err := a.Step(frame, []float32{0}); err != nil {
			t.Fatalf("Step(%d): %v", frame, err)
		}
	}
	if err := a.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	hyp, err := a.Hypothesis()
	if err != nil {
		t.Fatalf("Hypothesis: %v", err)
	}
	if len(hyp) != 2 || hyp[0] != f.aWid || hyp[1] != f.bWid {
		t.Fatalf("Hypothesis = %v, want [A B]", hyp)
	}
}

func TestAlignerSegmentIterOrdered(t *testing.T) {
	f := buildAlignFixture(t)
	a, err := NewAligner(f.def, f.d, f.d2p, f.tmats, f.scorer, []dict.WordID{f.aWid, f.bWid}, f.def.NEmitStates)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for frame := 0; frame < 3; frame++ {
		if err := a.Step(frame, []float32{0}); err != nil {
			t.Fatalf("Step(%d): %v", frame, err)
		}
	}
	if err := a.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	segs, err := a.SegmentIter()
	if err != nil {
		t.Fatalf("SegmentIter: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].StartFrame < segs[i-1].StartFrame {
			t.Fatalf("segments not ordered by start frame: %+v", segs)
		}
	}
	if segs[0].Wid != f.aWid || segs[1].Wid != f.bWid {
		t.Fatalf("segment words = [%d %d], want [%d %d]", segs[0].Wid, segs[1].Wid, f.aWid, f.bWid)
	}
}

func TestAlignerLatticeUnsupported(t *testing.T) {
	_, a := buildAligner(t, []dict.WordID{})
	if dag, err := a.Lattice(); dag != nil || err != nil {
		t.Fatalf("Lattice = (%v, %v), want (nil, nil)", dag, err)
	}
}

func TestAlignerPosteriorMatchesFinalScore(t *testing.T) {
	f := buildAlignFixture(t)
	a, err := NewAligner(f.def, f.d, f.d2p, f.tmats, f.scorer, []dict.WordID{f.aWid, f.bWid}, f.def.NEmitStates)
	if err != nil {
		t.Fatalf("NewAligner: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.Posterior(); err != ErrNotFinished {
		t.Fatalf("Posterior before Finish = %v, want ErrNotFinished", err)
	}
	for frame := 0; frame < 2; frame++ {
		if err := a.Step(frame, []float32{0}); err != nil {
			t.Fatalf("Step(%d): %v", frame, err)
		}
	}
	if err := a.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	post, err := a.Posterior()
	if err != nil {
		t.Fatalf("Posterior: %v", err)
	}
	res, err := a.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if post != res.Score {
		t.Fatalf("Posterior = %d, Result.Score = %d, want equal", post, res.Score)
	}
}

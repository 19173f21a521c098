package search

import (
	"testing"
)

func TestBuildFillerBankBindsOnlyFillerEntries(t *testing.T) {
	f := buildFixture(t)
	fb := BuildFillerBank(f.def, f.d, f.def.NEmitStates)

	if fb.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (only SIL is a filler entry)", fb.Len())
	}
	wid, _ := fb.Word(0)
	if wid != f.silWid {
		t.Fatalf("bound word = %d, want SIL (%d)", wid, f.silWid)
	}
}

func TestFillerBankEnterActivatesEveryWord(t *testing.T) {
	f := buildFixture(t)
	fb := BuildFillerBank(f.def, f.d, f.def.NEmitStates)

	fb.Enter(0, 7, 0)
	fb.SwapActive()
	if len(fb.Active()) != fb.Len() {
		t.Fatalf("Active() len = %d, want %d after Enter", len(fb.Active()), fb.Len())
	}
	_, h := fb.Word(fb.Active()[0])
	if h.State(0) != 0 {
		t.Fatalf("entered HMM state0 = %d, want 0", h.State(0))
	}
	if h.StateHistory(0) != 7 {
		t.Fatalf("entered HMM history = %d, want 7", h.StateHistory(0))
	}
}

func TestFillerBankActiveSenonesUnionsActiveHMMs(t *testing.T) {
	f := buildFixture(t)
	fb := BuildFillerBank(f.def, f.d, f.def.NEmitStates)
	fb.Enter(0, -1, 0)
	fb.SwapActive()

	senones := fb.ActiveSenones(f.def)
	if len(senones) == 0 {
		t.Fatal("expected at least one active senone after Enter")
	}
	if senones[0] != 1 {
		t.Fatalf("active senone = %d, want 1 (SIL's bound senone)", senones[0])
	}
}

func TestFillerBankResetClearsActiveAndHMMState(t *testing.T) {
	f := buildFixture(t)
	fb := BuildFillerBank(f.def, f.d, f.def.NEmitStates)
	fb.Enter(0, -1, 0)

	fb.Reset()
	if len(fb.Active()) != 0 {
		t.Fatalf("Active() len = %d after Reset, want 0", len(fb.Active()))
	}
	_, h := fb.Word(0)
	if h.IsActive(0) {
		t.Fatal("filler HMM should be inert after Reset")
	}
}

func TestFillerBankSwapActivePromotesNext(t *testing.T) {
	f := buildFixture(t)
	fb := BuildFillerBank(f.def, f.d, f.def.NEmitStates)

	fb.MarkActiveNext(0)
	fb.SwapActive()
	if len(fb.Active()) != 1 || fb.Active()[0] != 0 {
		t.Fatalf("Active() after SwapActive = %v, want [0]", fb.Active())
	}
}

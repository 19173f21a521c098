package hmm

import (
	"testing"

	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/logmath"
)

// threeStateBakis returns a 3-emitting-state left-to-right transition
// matrix (4 states total: 0,1,2 emitting, 3 the non-emitting exit), all
// allowed transitions at log-prob 0 (certainty) for simplicity.
func threeStateBakis() *acmodel.TransitionMatrices {
	const n = 4
	m := make([]int32, n*n)
	for i := range m {
		m[i] = logmath.Worst
	}
	set := func(from, to int, v int32) { m[from*n+to] = v }
	set(0, 0, -1)
	set(0, 1, -1)
	set(1, 1, -1)
	set(1, 2, -1)
	set(2, 2, -1)
	set(2, 3, -1)
	return &acmodel.TransitionMatrices{NumStates: n, Matrices: [][]int32{m}}
}

func TestNewClearIsActive(t *testing.T) {
	h := New(3)
	if h.IsActive(0) {
		t.Fatal("fresh HMM should not be active")
	}
	for i := 0; i < h.NStates(); i++ {
		if h.State(i) != logmath.Worst {
			t.Fatalf("state %d = %d, want Worst", i, h.State(i))
		}
	}
}

func TestEnterSeedsEntryState(t *testing.T) {
	h := New(3)
	h.Enter(-5, 42, 0)
	if h.State(0) != -5 {
		t.Fatalf("State(0) = %d, want -5", h.State(0))
	}
	if h.StateHistory(0) != 42 {
		t.Fatalf("StateHistory(0) = %d, want 42", h.StateHistory(0))
	}
	if !h.IsActive(0) {
		t.Fatal("expected HMM active at frame 0")
	}
	if h.IsActive(1) {
		t.Fatal("expected HMM inactive at frame 1 before any eval")
	}
}

func TestEnterDoesNotOverwriteBetterScore(t *testing.T) {
	h := New(3)
	h.Enter(-5, 1, 0)
	h.Enter(-10, 2, 0) // worse score, must not overwrite
	if h.State(0) != -5 || h.StateHistory(0) != 1 {
		t.Fatalf("Enter overwrote a better existing score: state=%d hist=%d", h.State(0), h.StateHistory(0))
	}
}

func TestEvalPropagatesThroughStates(t *testing.T) {
	tmat := threeStateBakis()
	h := New(3)
	h.Tmat = 0
	h.SSeq = 0
	h.Enter(0, 7, 0)

	senoneSeq := []acmodel.SenoneID{0, 1, 2}
	// Senone scores: senone i always scores -1.
	senscore := []int32{-1, -1, -1}

	best := h.Eval(senscore, tmat, senoneSeq)
	// state0: from state0 (-1 tmat) + senscore(-1) = 0 + -1 + -1 = -2
	if h.State(0) != -2 {
		t.Fatalf("State(0) after eval = %d, want -2", h.State(0))
	}
	if h.State(1) != logmath.Worst {
		t.Fatalf("State(1) after first eval should be unreachable, got %d", h.State(1))
	}
	if best != -2 {
		t.Fatalf("best = %d, want -2", best)
	}

	// Second frame: state1 becomes reachable from state0.
	best2 := h.Eval(senscore, tmat, senoneSeq)
	if h.State(1) == logmath.Worst {
		t.Fatal("State(1) should be reachable after second eval")
	}
	if best2 == logmath.Worst {
		t.Fatal("best after second eval must be a real score")
	}
}

func TestEvalExitScore(t *testing.T) {
	tmat := threeStateBakis()
	h := New(3)
	h.Enter(0, 1, 0)
	senoneSeq := []acmodel.SenoneID{0, 1, 2}
	senscore := []int32{0, 0, 0}

	for f := 0; f < 3; f++ {
		h.Eval(senscore, tmat, senoneSeq)
	}
	if h.OutScore() == logmath.Worst {
		t.Fatal("expected a reachable exit score after 3 frames")
	}
}

func TestEvalSelfLoopKeepsFirstPredecessorOnTie(t *testing.T) {
	// A single emitting state with only a self-loop transition: the state's
	// own score is its only predecessor, so history must propagate from
	// itself rather than being reset to NoHistory.
	const n = 2 // state 0 emitting, state 1 the non-emitting exit
	m := []int32{
		-1, -1,
		logmath.Worst, -1,
	}
	tmat := &acmodel.TransitionMatrices{NumStates: n, Matrices: [][]int32{m}}
	h := New(1)
	h.Enter(0, 99, 0)
	senoneSeq := []acmodel.SenoneID{0}
	senscore := []int32{0}
	h.Eval(senscore, tmat, senoneSeq)
	if h.StateHistory(0) != 99 {
		t.Fatalf("expected history to propagate from the self-loop predecessor, got %d", h.StateHistory(0))
	}
	if h.OutScore() == logmath.Worst {
		t.Fatal("expected a reachable exit score")
	}
}

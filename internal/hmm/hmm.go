// Package hmm implements the fixed-topology HMM evaluator (spec.md §4.B):
// one Viterbi step per frame over a small left-to-right-with-skip state
// chain, shared by every search and by state-level alignment.
package hmm

import (
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/logmath"
)

// NoHistory is the sentinel "no backpointer" value for a state's history
// pointer, mirroring logmath.Worst's role for scores.
const NoHistory int32 = -1

// HMM is one instantiated hidden Markov model: a senone sequence and
// transition matrix bound to per-state Viterbi scores and history
// pointers. Instances are arena-allocated by the owning search (tree node,
// flat-lexicon word, or aligner) and reset with Clear rather than
// reallocated, per spec.md's "it does not allocate" failure-mode note.
type HMM struct {
	SSeq acmodel.SSeqID
	Tmat acmodel.TmatID

	score   []int32 // per emitting state, log domain
	history []int32 // per emitting state, backpointer id

	outScore   int32 // score of the non-emitting exit state
	outHistory int32

	frame     int // frame of the last Eval/Enter call
	lastFrame int // last frame this HMM was active (for IsActive)
}

// New allocates an HMM with nEmitStates emitting states (spec.md §4.B:
// "typical: three emitting states"; SPEC_FULL.md generalizes this to a
// 5-state Bakis topology by default, but the evaluator itself is agnostic
// to the exact count).
func New(nEmitStates int) *HMM {
	h := &HMM{
		score:   make([]int32, nEmitStates),
		history: make([]int32, nEmitStates),
	}
	h.Clear()
	return h
}

// NStates returns the number of emitting states.
func (h *HMM) NStates() int { return len(h.score) }

// Clear resets all state and exit scores to logmath.Worst ("clear" in
// spec.md §4.B) so the HMM is inert until Enter seeds it.
func (h *HMM) Clear() {
	for i := range h.score {
		h.score[i] = logmath.Worst
		h.history[i] = NoHistory
	}
	h.outScore = logmath.Worst
	h.outHistory = NoHistory
	h.frame = -1
	h.lastFrame = -1
}

// Enter seeds the entry (state 0) score and history, marking the HMM
// active this frame ("enter" in spec.md §4.B). If inScore does not beat
// the existing state-0 score, the HMM is left as-is: Enter is used to
// inject a competing path, not to unconditionally overwrite.
func (h *HMM) Enter(inScore int32, inHistory int32, frame int) {
	if inScore > h.score[0] {
		h.score[0] = inScore
		h.history[0] = inHistory
	}
	h.frame = frame
	h.lastFrame = frame
}

// IsActive reports whether this HMM was active at or after frame, per
// spec.md §4.B's "is_active(hmm, frame) := hmm.last_frame >= frame".
func (h *HMM) IsActive(frame int) bool {
	return h.lastFrame >= frame
}

// OutScore returns the score of the non-emitting exit state, i.e. the
// score a word/phone transition out of this HMM carries forward.
func (h *HMM) OutScore() int32 { return h.outScore }

// OutHistory returns the backpointer id associated with OutScore.
func (h *HMM) OutHistory() int32 { return h.outHistory }

// State returns the current Viterbi score for emitting state i.
func (h *HMM) State(i int) int32 { return h.score[i] }

// StateHistory returns the backpointer id for emitting state i.
func (h *HMM) StateHistory(i int) int32 { return h.history[i] }

// Eval performs one Viterbi step: for every emitting state, scan all
// candidate predecessor states (within-state self-loop, all strictly
// lower-indexed predecessor states allowed by the transition matrix, per
// the left-to-right-with-skip topology) and combine predecessor score +
// log transition probability + senone score, keeping the best. The
// non-emitting exit state is then updated from the best scoring state that
// transitions into it. Returns the best of the (new) emitting-state
// scores, for beam pruning. Ties are broken by lower state index by
// scanning states in increasing order and using strict '>' to keep an
// earlier-found equal score (spec.md §4.B).
func (h *HMM) Eval(senscore []int32, tmat *acmodel.TransitionMatrices, senoneSeq []acmodel.SenoneID) int32 {
	n := len(h.score)
	newScore := make([]int32, n)
	newHistory := make([]int32, n)
	for i := range newScore {
		newScore[i] = logmath.Worst
		newHistory[i] = NoHistory
	}

	for to := 0; to < n; to++ {
		for from := 0; from <= to; from++ {
			tp := tmat.At(h.Tmat, from, to)
			if tp == logmath.Worst {
				continue
			}
			cand := h.score[from] + tp
			if cand > newScore[to] {
				newScore[to] = cand
				newHistory[to] = h.history[from]
			}
		}
		if newScore[to] != logmath.Worst {
			sen := senoneSeq[to]
			newScore[to] += senscore[sen]
		}
	}

	h.score = newScore
	h.history = newHistory

	best := logmath.Worst
	for i := 0; i < n; i++ {
		if h.score[i] > best {
			best = h.score[i]
		}
	}

	// Non-emitting exit: best transition from any emitting state into the
	// final (exit) column of the transition matrix.
	exitCol := tmat.NumStates - 1
	h.outScore = logmath.Worst
	h.outHistory = NoHistory
	for from := 0; from < n; from++ {
		tp := tmat.At(h.Tmat, from, exitCol)
		if tp == logmath.Worst {
			continue
		}
		cand := h.score[from] + tp
		if cand > h.outScore {
			h.outScore = cand
			h.outHistory = h.history[from]
		}
	}

	return best
}

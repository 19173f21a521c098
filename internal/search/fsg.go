package search

import (
	"errors"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/hmm"
	"github.com/example/go-voxdecoder/internal/lattice"
	"github.com/example/go-voxdecoder/internal/logmath"
)

// ErrNoFSG is returned when an FSG search is stepped before a grammar has
// been loaded.
var ErrNoFSG = errors.New("search: no finite-state grammar loaded")

// FSGState is one node of a caller-supplied finite-state grammar: a word
// (dict.NoWord for an epsilon/non-emitting node) and its outgoing
// transitions.
type FSGState struct {
	Wid   dict.WordID
	Trans []FSGTransition
}

// FSGTransition is one edge out of an FSGState, naming the destination
// state and an optional log probability weight.
type FSGTransition struct {
	To      int
	LogProb int32
}

// FSGSearch is a minimal Viterbi search over a caller-supplied finite-
// state grammar instead of the shared lexical tree (SPEC_FULL.md §10
// supplement #5: stubbed relative to G/I since spec.md does not specify
// FSG internals beyond naming it as a façade sub-search). Word transitions
// carry their own HMM chain the same way a flat-lexicon instance does;
// this search only differs from TreeSearch in having the grammar, not the
// lexicon, dictate legal word sequences.
type FSGSearch struct {
	def    *acmodel.Definition
	d      *dict.Dictionary
	tmats  *acmodel.TransitionMatrices
	scorer *acmod.Scorer
	states []FSGState
	chains map[int][]*hmm.HMM // per-state word HMM chain (built externally, bound once)

	start, final int
	cur          map[int]int32 // state -> best score reaching it this frame
	next         map[int]int32
	hist         map[int]int32
	frame        int
}

// NewFSGSearch builds a search over a fixed grammar: states, a start and
// final state index, and a pre-bound HMM chain per word-bearing state
// (the caller is responsible for resolving each state's word into a
// chain via the same dict2pid bindings FlatSearch uses — grammar
// construction is caller-specific and out of this package's scope).
func NewFSGSearch(def *acmodel.Definition, d *dict.Dictionary, tmats *acmodel.TransitionMatrices, scorer *acmod.Scorer, states []FSGState, chains map[int][]*hmm.HMM, start, final int) *FSGSearch {
	return &FSGSearch{
		def:    def,
		d:      d,
		tmats:  tmats,
		scorer: scorer,
		states: states,
		chains: chains,
		start:  start,
		final:  final,
	}
}

// Start seeds the grammar's start state with score 0.
func (s *FSGSearch) Start() error {
	if len(s.states) == 0 {
		return ErrNoFSG
	}
	for _, chain := range s.chains {
		for _, h := range chain {
			h.Clear()
		}
	}
	s.frame = 0
	s.cur = map[int]int32{s.start: 0}
	s.next = map[int]int32{}
	s.hist = map[int]int32{s.start: -1}
	return nil
}

// Reinit is a no-op: a new grammar is installed via NewFSGSearch, not by
// mutating this one in place.
func (s *FSGSearch) Reinit() error { return nil }

// Step advances every live grammar state by one frame: word-bearing
// states run their bound HMM chain one step, epsilon states propagate
// immediately along outgoing transitions.
func (s *FSGSearch) Step(frame int, cep []float32) error {
	s.frame = frame
	active := make(map[acmodel.SenoneID]bool)
	for st := range s.cur {
		for _, h := range s.chains[st] {
			for _, sen := range s.def.SenoneSeqs[h.SSeq] {
				active[sen] = true
			}
		}
	}
	senscore, err := s.scorer.Score(frame, cep, active)
	if err != nil {
		return err
	}

	s.next = map[int]int32{}
	for st, score := range s.cur {
		chain := s.chains[st]
		if len(chain) == 0 {
			// Epsilon state: propagate directly to successors.
			s.relax(st, score, frame)
			continue
		}
		h := chain[0]
		if score > h.State(0) {
			h.Enter(score, -1, frame)
		}
		exit := h.Eval(senscore, s.tmats, s.def.SenoneSeqs[h.SSeq])
		_ = exit
		if h.OutScore() > logmath.Worst {
			s.relax(st, h.OutScore(), frame)
		}
		if h.State(0) > logmath.Worst {
			s.next[st] = h.State(0)
		}
	}
	s.cur = s.next
	return nil
}

func (s *FSGSearch) relax(from int, score int32, frame int) {
	for _, tr := range s.states[from].Trans {
		cand := score + tr.LogProb
		if cur, ok := s.next[tr.To]; !ok || cand > cur {
			s.next[tr.To] = cand
		}
	}
}

// Finish is a no-op: FSGSearch has no backpointer table to close out.
func (s *FSGSearch) Finish() error { return nil }

// Hypothesis returns the word at the final state, if reached, as a
// single-word result (a fuller grammar-path backtrace is left to a
// caller that needs more than reachability).
func (s *FSGSearch) Hypothesis() ([]dict.WordID, error) {
	if _, ok := s.cur[s.final]; !ok {
		return nil, nil
	}
	return []dict.WordID{s.states[s.final].Wid}, nil
}

// SegmentIter is unsupported: FSGSearch does not maintain per-word timing.
func (s *FSGSearch) SegmentIter() ([]Segment, error) { return nil, nil }

// Lattice is unsupported: FSGSearch has no lattice-producing backpointer
// table.
func (s *FSGSearch) Lattice() (*lattice.DAG, error) { return nil, nil }

// Posterior returns the best score reaching the final state, if any.
func (s *FSGSearch) Posterior() (int32, error) {
	if score, ok := s.cur[s.final]; ok {
		return score, nil
	}
	return logmath.Worst, nil
}

package search

import (
	"fmt"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/lattice"
	"github.com/example/go-voxdecoder/internal/lextree"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/vithist"
)

// exitState is the minimal read surface TreeSearch needs from a word-
// bearing HMM, satisfied by *hmm.HMM, to keep wordExit's bookkeeping
// shared between tree leaves and filler-bank entries.
type exitState interface {
	OutScore() int32
	OutHistory() int32
}

// TreeSearch is the first-pass, frame-synchronous Viterbi search over a
// shared-prefix lexical tree (spec.md §4.G). It interleaves N copies of
// the tree to absorb path collisions that Viterbi's single-token-per-
// state rule would otherwise force, runs a flat filler bank alongside
// for non-speech words, and records every word exit into a backpointer
// table for lattice construction and hypothesis extraction.
type TreeSearch struct {
	cfg Config

	def     *acmodel.Definition
	d       *dict.Dictionary
	tmats   *acmodel.TransitionMatrices
	scorer  *acmod.Scorer
	vh      *vithist.Table
	trees   []*lextree.Tree
	fillers *FillerBank

	frame       int
	root        vithist.EntryID
	bestScore   int32
	bestWordExi int32
	finalID     vithist.EntryID
}

// NewTreeSearch builds a search over trees (one or more interleaved
// copies sharing the same static structure) and a filler bank, all bound
// to the same acoustic scorer and backpointer table.
func NewTreeSearch(cfg Config, def *acmodel.Definition, d *dict.Dictionary, tmats *acmodel.TransitionMatrices, scorer *acmod.Scorer, vh *vithist.Table, trees []*lextree.Tree, fillers *FillerBank) *TreeSearch {
	return &TreeSearch{
		cfg:     cfg,
		def:     def,
		d:       d,
		tmats:   tmats,
		scorer:  scorer,
		vh:      vh,
		trees:   trees,
		fillers: fillers,
	}
}

// Start resets every tree copy, the filler bank, and the backpointer
// table, then seeds the utterance-start entry and enters every lc-root
// and filler word from it (spec.md §4.G's implicit frame-0 seeding: the
// search begins with the sentence-start symbol as the sole predecessor).
func (s *TreeSearch) Start() error {
	for _, t := range s.trees {
		t.Reset()
	}
	s.fillers.Reset()
	s.vh.StartUtt()
	s.frame = 0
	s.finalID = vithist.NoEntry

	s.root = s.vh.Enter(vithist.Entry{
		Wid:        dict.NoWord,
		StartFrame: 0,
		EndFrame:   0,
		Score:      0,
		LMState:    []lm.WordID{lm.Start},
	})

	for _, t := range s.trees {
		for _, id := range t.LCRoots(acmodel.NoCIPhone) {
			s.enterRoot(t, id, 0, int32(s.root), 0)
		}
	}
	s.fillers.Enter(0, int32(s.root), 0)

	// enterRoot and FillerBank.Enter both queue into next-frame active
	// lists (the same mechanism word-boundary re-entry uses mid-utterance,
	// where the following Step's own SwapActive promotes them); Start has
	// no preceding Step to do that promotion, so it swaps once itself to
	// make frame 0's seed words actually active for the first Step call.
	for _, t := range s.trees {
		t.SwapActive()
	}
	s.fillers.SwapActive()
	return nil
}

// Reinit is a no-op for TreeSearch: the lexical tree's static structure
// is rebuilt by lextree.Build, not by this search, and nothing here caches
// anything derived from the lexicon beyond per-utterance state that Start
// already resets.
func (s *TreeSearch) Reinit() error { return nil }

// Step runs one frame of the algorithm spec.md §4.G lays out.
func (s *TreeSearch) Step(frame int, cep []float32) error {
	s.frame = frame

	active := s.activeSenones()
	senscore, err := s.scorer.Score(frame, cep, active)
	if err != nil {
		return fmt.Errorf("search: score frame %d: %w", frame, err)
	}

	type evalResult struct {
		tree  *lextree.Tree
		id    lextree.NodeID
		score int32
	}
	var results []evalResult
	var fillerResults []int
	var fillerScores []int32

	s.bestScore = logmath.Worst
	s.bestWordExi = logmath.Worst
	var liveScores []int32

	for _, t := range s.trees {
		for _, id := range t.Active() {
			node := t.Node(id)
			h := node.HMM
			score := h.Eval(senscore, s.tmats, s.def.SenoneSeqs[h.SSeq])
			if score > s.bestScore {
				s.bestScore = score
			}
			liveScores = append(liveScores, score)
			results = append(results, evalResult{tree: t, id: id, score: score})
			if node.Wid != dict.NoWord && h.OutScore() > s.bestWordExi {
				s.bestWordExi = h.OutScore()
			}
		}
	}
	for _, idx := range s.fillers.Active() {
		_, h := s.fillers.Word(idx)
		score := h.Eval(senscore, s.tmats, s.def.SenoneSeqs[h.SSeq])
		if score > s.bestScore {
			s.bestScore = score
		}
		liveScores = append(liveScores, score)
		fillerResults = append(fillerResults, idx)
		fillerScores = append(fillerScores, score)
		if h.OutScore() > s.bestWordExi {
			s.bestWordExi = h.OutScore()
		}
	}

	hmmThresh := s.bestScore - s.cfg.HMMBeam
	phoneThresh := s.bestScore - s.cfg.PhoneBeam
	wordThresh := s.bestWordExi - s.cfg.WordBeam

	if s.cfg.MaxHMMPerFrame > 0 && len(liveScores) > s.cfg.MaxHMMPerFrame {
		if tight := histogramThreshold(liveScores, s.cfg.MaxHMMPerFrame); tight > hmmThresh {
			hmmThresh = tight
		}
	}

	// Self-continuation: an HMM whose own Viterbi state still clears
	// hmm_thresh keeps running its self-loop next frame regardless of
	// whether it also propagates into a child or exits as a word (spec.md
	// §4.G's per-frame loop implicitly keeps every surviving HMM active
	// until it falls out of the beam).
	for _, r := range results {
		if r.score >= hmmThresh {
			r.tree.MarkActiveNext(r.id)
		}
	}
	for i, idx := range fillerResults {
		if fillerScores[i] >= hmmThresh {
			s.fillers.MarkActiveNext(idx)
		}
	}

	// Step 4: intra-tree propagation for internal (non-leaf, non-filler)
	// nodes whose exit clears phoneThresh.
	for _, r := range results {
		node := r.tree.Node(r.id)
		if node.Wid != dict.NoWord {
			continue // leaves are handled as word exits below, not propagated here
		}
		if node.HMM.OutScore() < phoneThresh {
			continue
		}
		s.propagate(r.tree, r.id, hmmThresh, frame+1)
	}

	// Step 5: word exits (tree leaves and filler words).
	for _, r := range results {
		node := r.tree.Node(r.id)
		if node.Wid == dict.NoWord {
			continue
		}
		if node.HMM.OutScore() < wordThresh {
			continue
		}
		if err := s.wordExit(node.Wid, node.HMM, frame); err != nil {
			return err
		}
	}
	for _, idx := range fillerResults {
		wid, h := s.fillers.Word(idx)
		if h.OutScore() < wordThresh {
			continue
		}
		if err := s.wordExit(wid, h, frame); err != nil {
			return err
		}
	}

	// Step 6: prune this frame's exits, then enter every tree/filler root
	// from each surviving exit.
	s.vh.Prune(frame, s.cfg.MaxWordsPerFrame, s.cfg.MaxHistPerFrame, s.cfg.VithistBeam)
	for _, id := range s.vh.FrameEntries(frame) {
		entry := s.vh.Entry(id)
		if entry.Wid == dict.NoWord {
			continue
		}
		lc := s.lastPhone(entry.Wid)
		tree := s.trees[frame%len(s.trees)]
		for _, rootID := range tree.LCRoots(lc) {
			s.enterRoot(tree, rootID, entry.Score, int32(id), frame+1)
		}
		s.fillers.Enter(entry.Score, int32(id), frame+1)
	}

	// Step 7: frame advance.
	for _, t := range s.trees {
		t.SwapActive()
	}
	s.fillers.SwapActive()
	return nil
}

// enterRoot seeds a tree root with an incoming path score and history. A
// single-phone word's root is itself an unexpanded leaf (its right
// context is not yet known), so it is expanded into every right-context
// slot and each slot entered in parallel, the same cross-word handling
// Expand's leaf children get from propagate/seedChild.
func (s *TreeSearch) enterRoot(t *lextree.Tree, id lextree.NodeID, score, hist int32, frame int) {
	if t.Node(id).HMM == nil {
		s.enterLeafAllSlots(t, id, score, hist, frame)
		return
	}
	// Queue rather than activate immediately (matching seedChild), since
	// this is also called mid-utterance at word-boundary re-entry (step 6)
	// where the root must survive the frame's closing SwapActive rather
	// than be discarded by it.
	h := t.Node(id).HMM
	if score > h.State(0) {
		h.Enter(score, hist, frame)
		t.MarkActiveNext(id)
	}
}

// propagate recurses into id's children (expanding a leaf's right-context
// fan-out first, if needed), seeding each with the parent's exit score.
func (s *TreeSearch) propagate(t *lextree.Tree, id lextree.NodeID, hmmThresh int32, nextFrame int) {
	node := t.Node(id)
	exit := node.HMM.OutScore()
	hist := node.HMM.OutHistory()
	for _, childID := range node.Children {
		s.seedChild(t, id, childID, exit, hist, hmmThresh, nextFrame)
	}
}

// seedChild enters childID from parent's exit score, applying the
// lookahead differential spec.md §4.G step 4 describes. If the child is
// an unexpanded leaf placeholder, every right-context equivalence class
// is expanded and entered now instead, since the actual next word is
// unknown until this word itself exits (SPEC_FULL.md §11 decision #1's
// full cross-word-triphone replication).
func (s *TreeSearch) seedChild(t *lextree.Tree, parentID, childID lextree.NodeID, parentExit, parentHist, hmmThresh int32, nextFrame int) {
	parent := t.Node(parentID)
	child := t.Node(childID)

	cand := parentExit + (child.LMLookahead - parent.LMLookahead)
	if cand < hmmThresh {
		return
	}

	if child.HMM == nil {
		s.enterLeafAllSlots(t, childID, cand, parentHist, nextFrame)
		return
	}

	if cand > child.HMM.State(0) {
		t.Node(childID).HMM.Enter(cand, parentHist, nextFrame)
		t.MarkActiveNext(childID)
	}
}

// enterLeafAllSlots forces every right-context equivalence class of an
// unexpanded leaf into existence and enters each one with the same
// incoming score and history, per the full cross-word triphone strategy:
// all slots run in parallel from the instant the leaf is first reached,
// since only one of them will turn out to match the next word's actual
// first phone.
func (s *TreeSearch) enterLeafAllSlots(t *lextree.Tree, leafID lextree.NodeID, score, hist int32, nextFrame int) {
	seen := map[lextree.NodeID]bool{}
	for _, right := range allCIContexts(s.def) {
		slotID := t.Expand(leafID, right)
		if seen[slotID] {
			continue
		}
		seen[slotID] = true
		h := t.Node(slotID).HMM
		if score > h.State(0) {
			h.Enter(score, hist, nextFrame)
			t.MarkActiveNext(slotID)
		}
	}
}

func allCIContexts(def *acmodel.Definition) []acmodel.CIPhoneID {
	ctx := make([]acmodel.CIPhoneID, 0, len(def.CIPhones)+1)
	ctx = append(ctx, acmodel.NoCIPhone)
	for i := range def.CIPhones {
		ctx = append(ctx, acmodel.CIPhoneID(i))
	}
	return ctx
}

// wordExit rescores one leaf/filler exit via the backpointer table,
// recovering the pure acoustic increment by subtracting the predecessor's
// already-cumulative score from the HMM's cumulative exit score (this
// search seeds every word-root HMM with the predecessor's full path
// score rather than resetting to zero, so beam thresholds stay globally
// comparable across HMMs at unrelated tree positions).
func (s *TreeSearch) wordExit(wid dict.WordID, h exitState, frame int) error {
	predID := vithist.EntryID(h.OutHistory())
	if predID == vithist.NoEntry {
		return nil // no viable predecessor reached this HMM; drop per spec.md §4.G failure mode
	}
	predEntry := s.vh.Entry(predID)
	acScore := h.OutScore() - predEntry.Score

	_, err := s.vh.Rescore(wid, frame, acScore, predID, 0)
	if err != nil {
		return fmt.Errorf("search: word exit for wid %d at frame %d: %w", wid, frame, err)
	}
	return nil
}

// lastPhone returns the CI phone id of wid's final pronunciation phone,
// the outgoing left context for the next word's root lookup.
func (s *TreeSearch) lastPhone(wid dict.WordID) acmodel.CIPhoneID {
	w := s.d.Word(wid)
	if len(w.Pron) == 0 {
		return acmodel.NoCIPhone
	}
	ci, ok := s.def.CIPhoneByName(w.Pron[len(w.Pron)-1])
	if !ok {
		return acmodel.NoCIPhone
	}
	return ci
}

func (s *TreeSearch) activeSenones() map[acmodel.SenoneID]bool {
	active := make(map[acmodel.SenoneID]bool)
	for _, t := range s.trees {
		for _, sen := range t.ActiveSenones(s.def) {
			active[sen] = true
		}
	}
	for _, sen := range s.fillers.ActiveSenones(s.def) {
		active[sen] = true
	}
	return active
}

// Finish inserts the terminal </s> transition and records the exit entry
// used by Hypothesis/SegmentIter/Lattice.
func (s *TreeSearch) Finish() error {
	id, err := s.vh.FinalResult()
	if err != nil {
		return err
	}
	s.finalID = id
	return nil
}

// Hypothesis backtraces from the final entry, dropping the leading
// sentence-start and trailing sentence-end markers.
func (s *TreeSearch) Hypothesis() ([]dict.WordID, error) {
	if s.finalID == vithist.NoEntry {
		return nil, vithist.ErrEmptyUtterance
	}
	words := s.vh.Backtrace(s.finalID)
	return trimMarkers(words), nil
}

func trimMarkers(words []dict.WordID) []dict.WordID {
	if len(words) == 0 {
		return words
	}
	lo, hi := 0, len(words)
	if words[lo] == dict.NoWord {
		lo++
	}
	if hi > lo && words[hi-1] == dict.NoWord {
		hi--
	}
	return words[lo:hi]
}

// SegmentIter backtraces from the final entry, keeping per-word timing
// and score detail.
func (s *TreeSearch) SegmentIter() ([]Segment, error) {
	if s.finalID == vithist.NoEntry {
		return nil, vithist.ErrEmptyUtterance
	}
	var segs []Segment
	for id := s.finalID; id != vithist.NoEntry; {
		e := s.vh.Entry(id)
		if e.Wid != dict.NoWord {
			segs = append(segs, Segment{
				Wid:        e.Wid,
				StartFrame: e.StartFrame,
				EndFrame:   e.EndFrame,
				AcScore:    e.AcScore,
				LmScore:    e.LmScore,
			})
		}
		id = e.Pred
	}
	sortSegments(segs)
	return segs, nil
}

// Lattice builds a word DAG from the current backpointer table.
func (s *TreeSearch) Lattice() (*lattice.DAG, error) {
	if s.finalID == vithist.NoEntry {
		return nil, vithist.ErrEmptyUtterance
	}
	return lattice.Build(s.vh, s.finalID)
}

// Posterior returns the final entry's total path score as a whole-
// utterance confidence measure (spec.md §4.L "get_prob" uses the
// simplest available signal when no lattice posterior has been computed).
func (s *TreeSearch) Posterior() (int32, error) {
	if s.finalID == vithist.NoEntry {
		return logmath.Worst, vithist.ErrEmptyUtterance
	}
	return s.vh.Entry(s.finalID).Score, nil
}

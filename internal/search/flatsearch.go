package search

import (
	"fmt"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
	"github.com/example/go-voxdecoder/internal/hmm"
	"github.com/example/go-voxdecoder/internal/lattice"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/vithist"
)

// flatInstance is one (candidate word, incoming left context) binding in
// the flat lexicon: an explicit HMM chain with no sharing, the last phone
// replicated once per right-context equivalence class exactly like a
// lexical-tree leaf (spec.md §4.I: "cross-word effects are exact (one
// HMM per right context of the last phone)").
type flatInstance struct {
	wid   dict.WordID
	lc    acmodel.CIPhoneID
	chain []*hmm.HMM // word-internal phones, empty for a single-phone word
	final []*hmm.HMM // parallel right-context slots for the last phone
}

// FlatSearch implements spec.md §4.I's second pass: a compact, unshared
// lexicon over the candidate word set a first pass identified, restricted
// so that a word may only exit at a (wid, frame) the first pass actually
// produced.
type FlatSearch struct {
	cfg Config

	def    *acmodel.Definition
	d      *dict.Dictionary
	tmats  *acmodel.TransitionMatrices
	scorer *acmod.Scorer
	vh     *vithist.Table

	instances []*flatInstance
	allowed   map[dict.WordID]map[int]bool // candidate (wid, end_frame) pairs from the first pass

	root        vithist.EntryID
	finalID     vithist.EntryID
	bestScore   int32
	bestWordExi int32

	active     []activeUnit
	nextActive []activeUnit
}

type activeUnit struct {
	inst  *flatInstance
	stage int // index into inst.chain, or len(inst.chain)+slot into inst.final
}

// NewFlatSearch builds a flat lexicon over candidates, one instance per
// (word, left-context) combination the model definition actually
// supports, gated at exit time by allowed (spec.md §4.I's W and time
// ranges, reduced here to the simpler "legal end frame" form: a caller
// builds allowed from the first pass's vithist.Table by recording every
// entry's (Wid, EndFrame)).
func NewFlatSearch(cfg Config, def *acmodel.Definition, d *dict.Dictionary, d2p *dict2pid.Table, tmats *acmodel.TransitionMatrices, scorer *acmod.Scorer, vh *vithist.Table, candidates []dict.WordID, allowed map[dict.WordID]map[int]bool, nEmitStates int) (*FlatSearch, error) {
	fs := &FlatSearch{
		cfg:     cfg,
		def:     def,
		d:       d,
		tmats:   tmats,
		scorer:  scorer,
		vh:      vh,
		allowed: allowed,
	}

	contexts := allCIContexts(def)
	for _, wid := range candidates {
		w := d.Word(wid)
		pron, err := resolvePron(def, w)
		if err != nil {
			return nil, err
		}
		for _, lc := range contexts {
			inst, ok := buildFlatInstance(def, d2p, wid, lc, pron, nEmitStates)
			if ok {
				fs.instances = append(fs.instances, inst)
			}
		}
	}
	return fs, nil
}

func resolvePron(def *acmodel.Definition, w dict.Word) ([]acmodel.CIPhoneID, error) {
	ids := make([]acmodel.CIPhoneID, len(w.Pron))
	for i, name := range w.Pron {
		id, ok := def.CIPhoneByName(name)
		if !ok {
			return nil, fmt.Errorf("search: word %q: unknown phone %q", w.Name, name)
		}
		ids[i] = id
	}
	return ids, nil
}

func buildFlatInstance(def *acmodel.Definition, d2p *dict2pid.Table, wid dict.WordID, lc acmodel.CIPhoneID, pron []acmodel.CIPhoneID, nEmitStates int) (*flatInstance, bool) {
	n := len(pron)
	inst := &flatInstance{wid: wid, lc: lc}

	if n == 1 {
		slotOf := make(map[acmodel.SSeqID]int)
		for _, right := range allCIContexts(def) {
			ref, ok := d2p.SinglePhone(pron[0], lc, right)
			if !ok {
				continue
			}
			if _, exists := slotOf[ref.SSeq]; exists {
				continue
			}
			slotOf[ref.SSeq] = len(inst.final)
			inst.final = append(inst.final, boundHMM(nEmitStates, ref))
		}
		return inst, len(inst.final) > 0
	}

	ref0, ok := d2p.LeftDiphone(pron[0], pron[1], lc)
	if !ok {
		return nil, false
	}
	inst.chain = append(inst.chain, boundHMM(nEmitStates, ref0))

	for pos := 1; pos < n-1; pos++ {
		iref, ok := d2p.Internal(wid, pos)
		if !ok {
			return nil, false
		}
		inst.chain = append(inst.chain, boundHMM(nEmitStates, iref))
	}

	rc, ok := d2p.RightContexts(pron[n-1], pron[n-2])
	if !ok {
		return nil, false
	}
	for _, ref := range rc.Slots {
		inst.final = append(inst.final, boundHMM(nEmitStates, ref))
	}
	return inst, true
}

func boundHMM(nEmitStates int, ref dict2pid.TriphoneRef) *hmm.HMM {
	h := hmm.New(nEmitStates)
	h.SSeq = ref.SSeq
	h.Tmat = ref.Tmat
	return h
}

// Start resets every instance's HMM chain and the backpointer table, and
// enters every instance whose left context is NoCIPhone (utterance-
// initial words) from the sentence-start entry.
func (s *FlatSearch) Start() error {
	for _, inst := range s.instances {
		for _, h := range inst.chain {
			h.Clear()
		}
		for _, h := range inst.final {
			h.Clear()
		}
	}
	s.vh.StartUtt()
	s.active = nil
	s.nextActive = nil
	s.finalID = vithist.NoEntry

	s.root = s.vh.Enter(vithist.Entry{
		Wid:        dict.NoWord,
		StartFrame: 0,
		EndFrame:   0,
		Score:      0,
		LMState:    []lm.WordID{lm.Start},
	})
	for _, inst := range s.instances {
		if inst.lc == acmodel.NoCIPhone {
			s.enterInstance(inst, 0, int32(s.root), 0)
		}
	}

	// enterInstance queues into nextActive (word-boundary re-entry mid-
	// utterance relies on Step's own closing swap to promote it); Start
	// has no preceding Step, so it promotes frame 0's seed words itself.
	s.active, s.nextActive = s.nextActive, s.nextActive[:0]
	return nil
}

func (s *FlatSearch) enterInstance(inst *flatInstance, score, hist int32, frame int) {
	if len(inst.chain) > 0 {
		h := inst.chain[0]
		if score > h.State(0) {
			h.Enter(score, hist, frame)
			s.nextActive = append(s.nextActive, activeUnit{inst: inst, stage: 0})
		}
		return
	}
	for i, h := range inst.final {
		if score > h.State(0) {
			h.Enter(score, hist, frame)
			s.nextActive = append(s.nextActive, activeUnit{inst: inst, stage: len(inst.chain) + i})
		}
	}
}

func (s *FlatSearch) hmmAt(u activeUnit) *hmm.HMM {
	if u.stage < len(u.inst.chain) {
		return u.inst.chain[u.stage]
	}
	return u.inst.final[u.stage-len(u.inst.chain)]
}

// Reinit is a no-op: the flat lexicon is rebuilt by the caller (a new
// NewFlatSearch) whenever the candidate set changes, since it is cheap
// relative to the full lexical tree.
func (s *FlatSearch) Reinit() error { return nil }

// Step runs one frame of the flat Viterbi pass.
func (s *FlatSearch) Step(frame int, cep []float32) error {
	active := make(map[acmodel.SenoneID]bool)
	for _, u := range s.active {
		h := s.hmmAt(u)
		for _, sen := range s.def.SenoneSeqs[h.SSeq] {
			active[sen] = true
		}
	}
	senscore, err := s.scorer.Score(frame, cep, active)
	if err != nil {
		return fmt.Errorf("search: flat score frame %d: %w", frame, err)
	}

	s.bestScore = logmath.Worst
	s.bestWordExi = logmath.Worst
	scores := make([]int32, len(s.active))
	for i, u := range s.active {
		h := s.hmmAt(u)
		score := h.Eval(senscore, s.tmats, s.def.SenoneSeqs[h.SSeq])
		scores[i] = score
		if score > s.bestScore {
			s.bestScore = score
		}
		if u.stage >= len(u.inst.chain) && h.OutScore() > s.bestWordExi {
			s.bestWordExi = h.OutScore()
		}
	}
	hmmThresh := s.bestScore - s.cfg.HMMBeam
	wordThresh := s.bestWordExi - s.cfg.WordBeam

	// Self-continuation: every HMM whose own state still clears hmm_thresh
	// keeps running its self-loop next frame, independent of whether it
	// also propagates into the next stage (mirrors TreeSearch's Step).
	for i, u := range s.active {
		if scores[i] >= hmmThresh {
			s.nextActive = append(s.nextActive, u)
		}
	}

	for i, u := range s.active {
		if scores[i] < hmmThresh {
			continue
		}
		h := s.hmmAt(u)
		if u.stage+1 < len(u.inst.chain) {
			next := u.inst.chain[u.stage+1]
			if h.OutScore() > next.State(0) {
				next.Enter(h.OutScore(), h.OutHistory(), frame+1)
				s.nextActive = append(s.nextActive, activeUnit{inst: u.inst, stage: u.stage + 1})
			}
			continue
		}
		if u.stage == len(u.inst.chain)-1 && len(u.inst.chain) > 0 {
			// Last internal phone: fan out into every final right-context slot.
			for fi, fh := range u.inst.final {
				if h.OutScore() > fh.State(0) {
					fh.Enter(h.OutScore(), h.OutHistory(), frame+1)
					s.nextActive = append(s.nextActive, activeUnit{inst: u.inst, stage: len(u.inst.chain) + fi})
				}
			}
		}
	}

	for _, u := range s.active {
		if u.stage < len(u.inst.chain) {
			continue
		}
		h := s.hmmAt(u)
		if h.OutScore() < wordThresh {
			continue
		}
		if !s.isAllowed(u.inst.wid, frame) {
			continue
		}
		if err := s.wordExit(u.inst.wid, h, frame); err != nil {
			return err
		}
	}

	s.vh.Prune(frame, s.cfg.MaxWordsPerFrame, s.cfg.MaxHistPerFrame, s.cfg.VithistBeam)
	for _, id := range s.vh.FrameEntries(frame) {
		entry := s.vh.Entry(id)
		if entry.Wid == dict.NoWord {
			continue
		}
		lc := s.lastPhone(entry.Wid)
		for _, inst := range s.instances {
			if inst.lc == lc {
				s.enterInstance(inst, entry.Score, int32(id), frame+1)
			}
		}
	}

	s.active, s.nextActive = s.nextActive, s.nextActive[:0]
	return nil
}

func (s *FlatSearch) isAllowed(wid dict.WordID, frame int) bool {
	frames, ok := s.allowed[wid]
	return ok && frames[frame]
}

func (s *FlatSearch) lastPhone(wid dict.WordID) acmodel.CIPhoneID {
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

func (s *FlatSearch) wordExit(wid dict.WordID, h exitState, frame int) error {
	predID := vithist.EntryID(h.OutHistory())
	if predID == vithist.NoEntry {
		return nil
	}
	predEntry := s.vh.Entry(predID)
	acScore := h.OutScore() - predEntry.Score
	_, err := s.vh.Rescore(wid, frame, acScore, predID, 0)
	if err != nil {
		return fmt.Errorf("search: flat word exit for wid %d at frame %d: %w", wid, frame, err)
	}
	return nil
}

// Finish inserts the terminal </s> transition.
func (s *FlatSearch) Finish() error {
	id, err := s.vh.FinalResult()
	if err != nil {
		return err
	}
	s.finalID = id
	return nil
}

// Hypothesis backtraces the best path, dropping the boundary markers.
func (s *FlatSearch) Hypothesis() ([]dict.WordID, error) {
	if s.finalID == vithist.NoEntry {
		return nil, vithist.ErrEmptyUtterance
	}
	return trimMarkers(s.vh.Backtrace(s.finalID)), nil
}

// SegmentIter backtraces the best path with per-word timing and score.
func (s *FlatSearch) SegmentIter() ([]Segment, error) {
	if s.finalID == vithist.NoEntry {
		return nil, vithist.ErrEmptyUtterance
	}
	var segs []Segment
	for id := s.finalID; id != vithist.NoEntry; {
		e := s.vh.Entry(id)
		if e.Wid != dict.NoWord {
			segs = append(segs, Segment{Wid: e.Wid, StartFrame: e.StartFrame, EndFrame: e.EndFrame, AcScore: e.AcScore, LmScore: e.LmScore})
		}
		id = e.Pred
	}
	sortSegments(segs)
	return segs, nil
}

// Lattice builds a fresh DAG superseding the first pass's, per spec.md
// §4.I: "on finalize, produce a new lattice superseding the first-pass
// one."
func (s *FlatSearch) Lattice() (*lattice.DAG, error) {
	if s.finalID == vithist.NoEntry {
		return nil, vithist.ErrEmptyUtterance
	}
	return lattice.Build(s.vh, s.finalID)
}

// Posterior returns the final entry's total path score.
func (s *FlatSearch) Posterior() (int32, error) {
	if s.finalID == vithist.NoEntry {
		return logmath.Worst, vithist.ErrEmptyUtterance
	}
	return s.vh.Entry(s.finalID).Score, nil
}

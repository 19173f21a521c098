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

// ErrNoKeywords is returned when a keyword search is stepped before any
// spotting phrase has been loaded.
var ErrNoKeywords = errors.New("search: no keyword phrases loaded")

// Keyword is one spotting target: a phone-loop HMM chain (its pronunciation,
// already bound to triphone-or-CI HMMs by the caller) and the detection
// threshold it must clear above the competing background phone loop.
type Keyword struct {
	Wid       dict.WordID
	Chain     []*hmm.HMM
	Threshold int32 // log-domain bonus a detection must beat the background by
}

// spot is one live instance of a keyword chain racing the background
// model, indexed by how far along its phone chain it has progressed.
type spot struct {
	kwIdx   int
	phoneAt int
	entered int // frame this instance entered the chain
}

// KeywordSearch is a sliding-window phone-loop detector (SPEC_FULL.md §10
// supplement #5): instead of constraining the search to a lexicon or
// grammar, every frame re-seeds a fresh instance of each keyword's phone
// chain racing a continuously-active background (filler) phone loop, and
// reports a detection whenever a keyword chain exits with a score that
// beats the background by more than its threshold. This mirrors
// pocketsphinx's keyword-spotting mode, which is a restricted, always-on
// variant of the filler loop FillerBank already models for the tree
// search's out-of-vocabulary path.
type KeywordSearch struct {
	def      *acmodel.Definition
	tmats    *acmodel.TransitionMatrices
	scorer   *acmod.Scorer
	keywords []Keyword
	bg       *FillerBank

	live    []spot
	bgScore int32
	frame   int

	detections []Segment
}

// NewKeywordSearch builds a keyword spotter over kws, racing against bg's
// background phone loop (see BuildFillerBank).
func NewKeywordSearch(def *acmodel.Definition, tmats *acmodel.TransitionMatrices, scorer *acmod.Scorer, kws []Keyword, bg *FillerBank) *KeywordSearch {
	return &KeywordSearch{def: def, tmats: tmats, scorer: scorer, keywords: kws, bg: bg}
}

// Start clears all chains and re-arms the background loop.
func (s *KeywordSearch) Start() error {
	if len(s.keywords) == 0 {
		return ErrNoKeywords
	}
	for _, kw := range s.keywords {
		for _, h := range kw.Chain {
			h.Clear()
		}
	}
	s.bg.Reset()
	s.live = nil
	s.bgScore = 0
	s.frame = 0
	s.detections = nil
	return nil
}

// Reinit is a no-op: a new keyword list is installed via NewKeywordSearch.
func (s *KeywordSearch) Reinit() error { return nil }

// Step scores the active senone set, advances every live keyword
// instance's chain by one phone-state step, spawns a fresh instance of
// every keyword at the current frame (the "sliding window"), advances the
// background loop, and records a detection wherever a keyword chain just
// exited its last phone beating the background by its threshold.
func (s *KeywordSearch) Step(frame int, cep []float32) error {
	s.frame = frame

	active := make(map[acmodel.SenoneID]bool)
	for _, sp := range s.live {
		h := s.keywords[sp.kwIdx].Chain[sp.phoneAt]
		for _, sen := range s.def.SenoneSeqs[h.SSeq] {
			active[sen] = true
		}
	}
	for _, sen := range s.bg.ActiveSenones(s.def) {
		active[sen] = true
	}
	senscore, err := s.scorer.Score(frame, cep, active)
	if err != nil {
		return err
	}

	// Background phone loop: every filler stays perpetually active,
	// re-entering itself on exit so it always has a current score to
	// compare keyword detections against.
	if len(s.bg.Active()) == 0 {
		s.bg.Enter(0, hmm.NoHistory, frame)
		s.bg.SwapActive()
	}
	bestBG := logmath.Worst
	for _, i := range s.bg.Active() {
		_, h := s.bg.Word(i)
		h.Eval(senscore, s.tmats, s.def.SenoneSeqs[h.SSeq])
		if h.OutScore() > bestBG {
			bestBG = h.OutScore()
		}
		if h.OutScore() > logmath.Worst {
			h.Enter(h.OutScore(), hmm.NoHistory, frame+1)
		}
		s.bg.MarkActiveNext(i)
	}
	s.bg.SwapActive()
	if bestBG > logmath.Worst {
		s.bgScore = bestBG
	}

	var nextLive []spot
	for _, sp := range s.live {
		kw := s.keywords[sp.kwIdx]
		h := kw.Chain[sp.phoneAt]
		exit := h.Eval(senscore, s.tmats, s.def.SenoneSeqs[h.SSeq])
		if exit <= logmath.Worst {
			continue
		}
		if sp.phoneAt == len(kw.Chain)-1 {
			if h.OutScore()-s.bgScore >= kw.Threshold {
				s.detections = append(s.detections, Segment{
					Wid:        kw.Wid,
					StartFrame: sp.entered,
					EndFrame:   frame,
					AcScore:    h.OutScore(),
				})
			}
			continue
		}
		if h.OutScore() > logmath.Worst {
			next := kw.Chain[sp.phoneAt+1]
			if h.OutScore() > next.State(0) {
				next.Enter(h.OutScore(), hmm.NoHistory, frame+1)
			}
			nextLive = append(nextLive, spot{kwIdx: sp.kwIdx, phoneAt: sp.phoneAt + 1, entered: sp.entered})
		}
		nextLive = append(nextLive, spot{kwIdx: sp.kwIdx, phoneAt: sp.phoneAt, entered: sp.entered})
	}

	// Spawn a fresh instance of every keyword this frame.
	for i, kw := range s.keywords {
		if len(kw.Chain) == 0 {
			continue
		}
		kw.Chain[0].Enter(0, hmm.NoHistory, frame+1)
		nextLive = append(nextLive, spot{kwIdx: i, phoneAt: 0, entered: frame})
	}
	s.live = nextLive
	return nil
}

// Finish is a no-op: detections are recorded as they occur in Step.
func (s *KeywordSearch) Finish() error { return nil }

// Hypothesis returns the spotted keywords in detection order.
func (s *KeywordSearch) Hypothesis() ([]dict.WordID, error) {
	wids := make([]dict.WordID, len(s.detections))
	for i, d := range s.detections {
		wids[i] = d.Wid
	}
	return wids, nil
}

// SegmentIter returns every detection with its triggering frame range.
func (s *KeywordSearch) SegmentIter() ([]Segment, error) {
	out := make([]Segment, len(s.detections))
	copy(out, s.detections)
	sortSegments(out)
	return out, nil
}

// Lattice is unsupported: a keyword spotter has no word-sequence lattice.
func (s *KeywordSearch) Lattice() (*lattice.DAG, error) { return nil, nil }

// Posterior returns the strongest detection's margin over the background,
// or logmath.Worst if nothing was spotted.
func (s *KeywordSearch) Posterior() (int32, error) {
	best := logmath.Worst
	for _, d := range s.detections {
		if d.AcScore-s.bgScore > best {
			best = d.AcScore - s.bgScore
		}
	}
	return best, nil
}

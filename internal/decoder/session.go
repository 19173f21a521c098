package decoder

import (
	"fmt"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/align"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/lattice"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/nbest"
	"github.com/example/go-voxdecoder/internal/search"
	"github.com/example/go-voxdecoder/internal/vithist"
)

// SearchMode names one of the façade's swappable named searches
// (spec.md §4.L: "set/add/remove named sub-searches (n-gram LM, FSG,
// keyword, alignment)").
type SearchMode string

const (
	ModeTreeFlat SearchMode = "tree+flat"
	ModeFSG      SearchMode = "fsg"
	ModeKeyword  SearchMode = "keyword"
	ModeAlign    SearchMode = "align"
)

// FeatureExtractor turns a chunk of raw PCM samples into zero or more
// per-frame cepstral feature vectors. The decoder façade does not
// implement front-end signal processing itself (component A/B, outside
// this package's scope — see DESIGN.md); ProcessRaw is only usable once
// a Session has one of these installed.
type FeatureExtractor func(samples []float32) [][]float32

// Session is one utterance's worth of mutable decoding state: the
// active named search, its backpointer table(s), and the frame-by-frame
// buffering spec.md §4.L's cache/lookahead rule describes. A Session is
// not safe for concurrent use; spec.md §5 scopes concurrency across
// Sessions/Engines, not within one.
type Session struct {
	engine *Engine
	mode   SearchMode

	// tree+flat pass state.
	treeVH  *vithist.Table
	tree    *search.TreeSearch
	fillers *search.FillerBank

	flatVH     *vithist.Table
	flat       *search.FlatSearch
	cepHistory [][]float32

	fsg *search.FSGSearch
	kw  *search.KeywordSearch

	aligner *align.Aligner

	cur search.Search

	featureExtractor FeatureExtractor

	pending  [][]float32
	frame    int
	started  bool
	finished bool
	poisoned bool
	inSpeech bool

	framesProcessed int
}

// NewSession creates a Session bound to engine. A search mode must be
// selected (SetSearch or SetAlignTranscript) before StartUtt.
func NewSession(engine *Engine) *Session {
	return &Session{engine: engine}
}

// SetFeatureExtractor installs the front-end hook ProcessRaw needs.
func (s *Session) SetFeatureExtractor(fx FeatureExtractor) {
	s.featureExtractor = fx
}

func (s *Session) checkIdle() error {
	if s.poisoned {
		return ErrInternalInvariant
	}
	if s.started {
		return ErrConfig
	}
	return nil
}

// SetSearch selects mode ("tree+flat", "fsg", or "keyword") as the
// active search, building whatever per-utterance scaffolding it needs
// from the engine's shared models. Use SetAlignTranscript for "align".
func (s *Session) SetSearch(mode SearchMode) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	m := s.engine.models

	switch mode {
	case ModeTreeFlat:
		s.treeVH = vithist.New(m.LM, m.Fillers, m.LogMath, m.WordToLM, m.IsFiller)
		s.fillers = search.BuildFillerBank(m.Def, m.Dict, m.NEmitStates)
		s.tree = search.NewTreeSearch(s.engine.cfg.Search, m.Def, m.Dict, m.Tmats, m.Scorer, s.treeVH, s.engine.trees, s.fillers)
		s.cur = s.tree

	case ModeFSG:
		if len(s.engine.fsgStates) == 0 {
			return ErrConfig
		}
		s.fsg = search.NewFSGSearch(m.Def, m.Dict, m.Tmats, m.Scorer, s.engine.fsgStates, s.engine.fsgChains, s.engine.fsgStart, s.engine.fsgFinal)
		s.cur = s.fsg

	case ModeKeyword:
		if len(s.engine.keywords) == 0 {
			return ErrConfig
		}
		bg := search.BuildFillerBank(m.Def, m.Dict, m.NEmitStates)
		s.kw = search.NewKeywordSearch(m.Def, m.Tmats, m.Scorer, s.engine.keywords, bg)
		s.cur = s.kw

	default:
		return ErrConfig
	}

	s.mode = mode
	return nil
}

// SetAlignTranscript selects the "align" search mode: forced alignment
// of words against whatever audio StartUtt/ProcessCep are given next.
func (s *Session) SetAlignTranscript(words []dict.WordID) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	m := s.engine.models
	a, err := align.NewAligner(m.Def, m.Dict, m.D2P, m.Tmats, m.Scorer, words, m.NEmitStates)
	if err != nil {
		return err
	}
	s.aligner = a
	s.cur = a
	s.mode = ModeAlign
	return nil
}

// StartUtt resets per-utterance state and arms the active search for
// the first ProcessCep/ProcessRaw call (spec.md §4.L).
func (s *Session) StartUtt() error {
	if s.poisoned {
		return ErrInternalInvariant
	}
	if s.cur == nil {
		return ErrConfig
	}
	if s.started {
		return ErrConfig
	}

	s.pending = nil
	s.cepHistory = nil
	s.frame = 0
	s.inSpeech = false
	s.finished = false
	s.flat = nil
	s.flatVH = nil
	s.framesProcessed = 0

	s.engine.models.Scorer.StartUtt()
	if err := s.cur.Start(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// ProcessCep feeds one already-extracted, already-CMN'd feature frame
// into the session, buffering it per spec.md §4.L's cache/lookahead
// rule: frames accumulate until more than LookaheadWindow are pending,
// then the oldest are driven through the active search, at most
// cache_size - lookahead_window per call.
func (s *Session) ProcessCep(cep []float32) error {
	if s.poisoned {
		return ErrInternalInvariant
	}
	if !s.started {
		return ErrConfig
	}

	s.pending = append(s.pending, cep)
	maxStep := s.engine.cfg.cacheSize() - s.engine.cfg.LookaheadWindow
	if maxStep <= 0 {
		maxStep = 1
	}

	stepped := 0
	for len(s.pending) > s.engine.cfg.LookaheadWindow && stepped < maxStep {
		if err := s.stepOne(); err != nil {
			return err
		}
		stepped++
	}
	return nil
}

// ProcessRaw feeds raw PCM samples through the installed feature
// extractor, then ProcessCep's each resulting frame in turn.
func (s *Session) ProcessRaw(samples []float32) error {
	if s.featureExtractor == nil {
		return ErrNoFeatureExtractor
	}
	for _, cep := range s.featureExtractor(samples) {
		if err := s.ProcessCep(cep); err != nil {
			return err
		}
	}
	return nil
}

// stepOne pops the oldest pending frame and drives it through the
// active search, updating the in-speech gate and (for tree+flat) the
// cepstrum history the second pass replays.
func (s *Session) stepOne() error {
	cep := s.pending[0]
	s.pending = s.pending[1:]

	if err := s.cur.Step(s.frame, cep); err != nil {
		s.poisoned = true
		return fmt.Errorf("decoder: step frame %d: %w", s.frame, err)
	}
	if acmod.InSpeech(cep, s.engine.cfg.inSpeechThreshold()) {
		s.inSpeech = true
	}
	if s.mode == ModeTreeFlat {
		s.cepHistory = append(s.cepHistory, cep)
	}
	s.frame++
	s.framesProcessed++
	return nil
}

// EndUtt flushes any still-pending frames, finishes the active search,
// and — for tree+flat — runs the second-pass flat rescoring search over
// the candidate words the first pass found (spec.md §4.I).
func (s *Session) EndUtt() error {
	if s.poisoned {
		return ErrInternalInvariant
	}
	if !s.started {
		return ErrConfig
	}

	for len(s.pending) > 0 {
		if err := s.stepOne(); err != nil {
			return err
		}
	}

	if s.framesProcessed == 0 {
		s.started = false
		return ErrEmptyUtterance
	}

	if err := s.cur.Finish(); err != nil {
		s.started = false
		return err
	}

	if s.mode == ModeTreeFlat {
		if err := s.runFlatPass(); err != nil {
			s.started = false
			return err
		}
	}

	s.started = false
	s.finished = true
	return nil
}

// runFlatPass derives the candidate word set and allowed (wid, end
// frame) pairs from the first pass's backpointer table, builds a flat
// lexicon search restricted to them, and replays the buffered cepstra
// through it (spec.md §4.I: the second pass rescores only what the
// first pass judged plausible).
func (s *Session) runFlatPass() error {
	m := s.engine.models

	seen := map[dict.WordID]bool{}
	var candidates []dict.WordID
	allowed := map[dict.WordID]map[int]bool{}
	for i := 0; i < s.treeVH.Len(); i++ {
		e := s.treeVH.Entry(vithist.EntryID(i))
		if e.Wid == dict.NoWord {
			continue
		}
		if !seen[e.Wid] {
			seen[e.Wid] = true
			candidates = append(candidates, e.Wid)
		}
		if allowed[e.Wid] == nil {
			allowed[e.Wid] = map[int]bool{}
		}
		allowed[e.Wid][e.EndFrame] = true
	}
	if len(candidates) == 0 {
		return ErrEmptyUtterance
	}

	s.flatVH = vithist.New(m.LM, m.Fillers, m.LogMath, m.WordToLM, m.IsFiller)
	flat, err := search.NewFlatSearch(s.engine.cfg.Search, m.Def, m.Dict, m.D2P, m.Tmats, m.Scorer, s.flatVH, candidates, allowed, m.NEmitStates)
	if err != nil {
		return fmt.Errorf("decoder: build flat pass: %w", err)
	}
	if err := flat.Start(); err != nil {
		return err
	}
	for i, cep := range s.cepHistory {
		if err := flat.Step(i, cep); err != nil {
			return fmt.Errorf("decoder: flat pass step %d: %w", i, err)
		}
	}
	if err := flat.Finish(); err != nil {
		return err
	}

	s.flat = flat
	s.cur = flat
	return nil
}

// Hypothesis returns the best word sequence for the finished utterance
// (spec.md §4.L "get_hyp").
func (s *Session) Hypothesis() ([]dict.WordID, error) {
	if !s.finished {
		return nil, ErrConfig
	}
	return s.cur.Hypothesis()
}

// SegmentIter returns per-word timing and score detail for the
// finished utterance (spec.md §4.L "seg_iter").
func (s *Session) SegmentIter() ([]search.Segment, error) {
	if !s.finished {
		return nil, ErrConfig
	}
	return s.cur.SegmentIter()
}

// Lattice returns the word lattice backing the hypothesis, or nil for
// search modes that do not build one (spec.md §4.L "get_lattice").
func (s *Session) Lattice() (*lattice.DAG, error) {
	if !s.finished {
		return nil, ErrConfig
	}
	return s.cur.Lattice()
}

// NBestIter returns an A* n-best search over the finished utterance's
// lattice (spec.md §4.J, §4.L "nbest_iter"). minEfRange and lmWeight
// come from the engine config; rescoreModel is optional (nil reuses the
// lattice's own first-pass scores, as internal/nbest's own tests do).
func (s *Session) NBestIter(rescoreModel lm.Model) (*nbest.Search, error) {
	if !s.finished {
		return nil, ErrConfig
	}
	dag, err := s.cur.Lattice()
	if err != nil {
		return nil, err
	}
	if dag == nil {
		return nil, ErrEmptyUtterance
	}
	lmWeight := s.engine.cfg.LMWeight
	if lmWeight == 0 {
		lmWeight = 1.0
	}
	return nbest.NewSearch(dag, rescoreModel, s.engine.models.WordToLM, lmWeight, s.engine.cfg.MinEFRange), nil
}

// Probability returns the whole-utterance confidence score (spec.md
// §4.L "get_prob").
func (s *Session) Probability() (int32, error) {
	if !s.finished {
		return 0, ErrConfig
	}
	return s.cur.Posterior()
}

// InSpeech reports whether any frame processed so far cleared the
// in-speech energy gate (spec.md §4.L "get_in_speech",
// SPEC_FULL.md §10 supplement #2).
func (s *Session) InSpeech() bool {
	return s.inSpeech
}

// PartialHypothesis returns the best word sequence reachable by the
// frames processed so far, without waiting for end_utt (spec.md §4.F
// "partial_result", exposed at the façade level as spec.md §4.L's
// "allow mid-utterance partial_hypothesis"). Only the tree+flat search
// keeps a backpointer table live mid-utterance; other modes return
// ErrConfig.
func (s *Session) PartialHypothesis() ([]dict.WordID, error) {
	if s.mode != ModeTreeFlat || s.treeVH == nil {
		return nil, ErrConfig
	}
	if s.frame == 0 {
		return nil, ErrEmptyUtterance
	}
	words, err := s.treeVH.PartialResult(s.frame - 1)
	if err != nil {
		return nil, err
	}
	return trimLeadingMarker(words), nil
}

func trimLeadingMarker(words []dict.WordID) []dict.WordID {
	if len(words) > 0 && words[0] == dict.NoWord {
		return words[1:]
	}
	return words
}

// FramesProcessed returns the performance counter spec.md §4.L names
// ("expose... performance counters"): the number of frames actually
// stepped through the active search this utterance.
func (s *Session) FramesProcessed() int {
	return s.framesProcessed
}

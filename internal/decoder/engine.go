// Package decoder implements the decoder façade (spec.md §4.L): the
// object a caller actually creates, feeds audio to, and reads hypotheses
// from. It owns the engine's lifetime objects (models, scorer, lexical
// tree, log-math, LM) in Engine, and the per-utterance mutable state
// (active search, backpointer table, frame buffering) in Session, the
// same split spec.md draws between "engine-wide" and "per-utterance"
// state.
package decoder

import (
	"fmt"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
	"github.com/example/go-voxdecoder/internal/hmm"
	"github.com/example/go-voxdecoder/internal/lextree"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/search"
)

// Models bundles every model-derived component a Session's searches are
// built over. All fields are required except the FSG/keyword ones, which
// a caller wires in later via Engine.SetFSG/SetKeywords if those search
// modes are used.
type Models struct {
	Def    *acmodel.Definition
	Dict   *dict.Dictionary
	D2P    *dict2pid.Table
	Tmats  *acmodel.TransitionMatrices
	Scorer *acmod.Scorer

	LogMath *logmath.Table
	LM      lm.Model
	Fillers *lm.FillerPenalties

	// WordToLM and IsFiller adapt the dictionary's WordID space to the
	// language model's WordID space and filler classification, the same
	// closures internal/vithist.New and internal/lattice.Build require.
	WordToLM func(dict.WordID) lm.WordID
	IsFiller func(dict.WordID) bool

	NEmitStates int
}

// Config holds the engine-wide knobs spec.md §4.L and §4.G name: the
// search beams, the two-pass cache/lookahead split, and the in-speech
// gate's threshold.
type Config struct {
	Search search.Config

	// TreeCopies is the number of interleaved lexical-tree copies the
	// tree+flat search runs (spec.md §4.G step 6); <= 0 defaults to
	// search.Config's own default of 3.
	TreeCopies int

	// CacheSize and LookaheadWindow bound how many buffered frames
	// ProcessCep drives through the active search per call (spec.md
	// §4.L: "drive the active search forward by at most cache_size -
	// lookahead_window frames at a time").
	CacheSize       int
	LookaheadWindow int

	// MinEFRange filters nbest.NewSearch hypotheses the same way
	// internal/nbest's own fixture does.
	MinEFRange int
	// LMWeight scales the n-best rescoring model's contribution.
	LMWeight float32

	// InSpeechThreshold feeds acmod.InSpeech (SPEC_FULL.md §10
	// supplement #2); zero defaults to acmod.DefaultInSpeechThreshold.
	InSpeechThreshold float32
}

func (c Config) inSpeechThreshold() float32 {
	if c.InSpeechThreshold == 0 {
		return acmod.DefaultInSpeechThreshold
	}
	return c.InSpeechThreshold
}

func (c Config) cacheSize() int {
	if c.CacheSize <= 0 {
		return 1
	}
	return c.CacheSize
}

// Engine holds everything that outlives a single utterance: the model
// set, the lexical tree copies the tree search interleaves, and any FSG
// or keyword grammars a caller has wired in. One Engine backs many
// sequential Sessions (spec.md §5: "one decoder, one utterance in
// flight at a time" — concurrency is across Engines, not within one).
type Engine struct {
	models Models
	cfg    Config

	trees []*lextree.Tree

	fsgStates []search.FSGState
	fsgChains map[int][]*hmm.HMM
	fsgStart  int
	fsgFinal  int

	keywords []search.Keyword
}

// NewEngine builds the shared lexical-tree copies over models.Dict and
// returns an Engine ready for Session creation. FSG and keyword search
// modes are unavailable until SetFSG/SetKeywords is also called.
func NewEngine(models Models, cfg Config) (*Engine, error) {
	if models.Def == nil || models.Dict == nil || models.D2P == nil || models.Tmats == nil || models.Scorer == nil {
		return nil, fmt.Errorf("decoder: %w: acoustic model components incomplete", ErrConfig)
	}
	if models.LM == nil || models.Fillers == nil || models.WordToLM == nil || models.IsFiller == nil {
		return nil, fmt.Errorf("decoder: %w: language model components incomplete", ErrConfig)
	}
	if models.LogMath == nil {
		return nil, fmt.Errorf("decoder: %w: no log-math table", ErrConfig)
	}

	n := cfg.Search.N
	if n <= 0 {
		n = cfg.TreeCopies
	}
	if n <= 0 {
		n = 3
	}

	lookahead := func(wid dict.WordID) int32 {
		score, _ := models.LM.Score(models.WordToLM(wid), nil)
		return score
	}

	trees := make([]*lextree.Tree, n)
	for i := range trees {
		t, err := lextree.Build(models.Def, models.Dict, models.D2P, models.NEmitStates, lookahead)
		if err != nil {
			return nil, fmt.Errorf("decoder: build lexical tree %d/%d: %w", i+1, n, err)
		}
		trees[i] = t
	}

	return &Engine{models: models, cfg: cfg, trees: trees}, nil
}

// Models returns the model set the engine was built from, letting a
// caller (internal/server, cmd/voxdecoder) resolve hypothesis word ids
// back to dictionary strings without duplicating the dictionary itself.
func (e *Engine) Models() Models { return e.models }

// SetFSG wires a finite-state grammar into the engine, enabling the
// "fsg" search mode. states/chains/start/final are as NewFSGSearch
// expects: grammar construction (resolving a grammar's words into HMM
// chains) is the caller's responsibility, same as FSGSearch itself
// documents.
func (e *Engine) SetFSG(states []search.FSGState, chains map[int][]*hmm.HMM, start, final int) {
	e.fsgStates = states
	e.fsgChains = chains
	e.fsgStart = start
	e.fsgFinal = final
}

// SetKeywords wires a keyword-spotting phrase list into the engine,
// enabling the "keyword" search mode.
func (e *Engine) SetKeywords(kws []search.Keyword) {
	e.keywords = kws
}

// Reinit rebuilds every lexical-tree copy, used when the dictionary or
// LM changes without recreating the Engine (spec.md §4.L "add/remove
// named sub-searches" implies the lexicon backing tree+flat can change
// mid-lifetime; each live Session must call its own search's Reinit
// afterward, as search.Search.Reinit documents).
func (e *Engine) Reinit() error {
	lookahead := func(wid dict.WordID) int32 {
		score, _ := e.models.LM.Score(e.models.WordToLM(wid), nil)
		return score
	}
	for i, t := range e.trees {
		rebuilt, err := lextree.Build(e.models.Def, e.models.Dict, e.models.D2P, e.models.NEmitStates, lookahead)
		if err != nil {
			return fmt.Errorf("decoder: reinit lexical tree %d/%d: %w", i+1, len(e.trees), err)
		}
		e.trees[i] = rebuilt
	}
	return nil
}

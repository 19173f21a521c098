// Package align implements forced alignment (spec.md §4.K): given a fixed
// word sequence, find the single best frame-to-state assignment. It shares
// internal/hmm's evaluation core with internal/search's tree and flat
// searches, but the topology is a plain linear chain — one phone after
// another, no branching, no beam — since the word sequence is already
// known and only its timing is in question.
package align

import (
	"errors"
	"fmt"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
	"github.com/example/go-voxdecoder/internal/hmm"
	"github.com/example/go-voxdecoder/internal/lattice"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/search"
)

// ErrNoWords is returned by Start when the aligner was built over an empty
// word sequence.
var ErrNoWords = errors.New("align: empty word sequence")

// ErrAlignmentImpossible is returned by Finish when no token ever reaches
// the final phone's exit state: the utterance is shorter than the model's
// minimum duration for the given transcript (spec.md §4.K).
var ErrAlignmentImpossible = errors.New("align: no token reached the final state")

// ErrNotFinished is returned by the result accessors before Finish
// succeeds.
var ErrNotFinished = errors.New("align: alignment not finished")

// StateAlignment is the start frame of one HMM emitting state, in the
// order spec.md §4.K's backtrace fills them in.
type StateAlignment struct {
	State      int
	StartFrame int
}

// PhoneAlignment is one phone's span within the alignment, with its state
// breakdown.
type PhoneAlignment struct {
	Phone      acmodel.CIPhoneID
	StartFrame int
	EndFrame   int
	States     []StateAlignment
}

// WordAlignment is one word's span, summed from its phones' spans per
// spec.md §4.K ("word durations by summing their phones").
type WordAlignment struct {
	Wid        dict.WordID
	StartFrame int
	EndFrame   int
	Score      int32
	Phones     []PhoneAlignment
}

// Result is the full forced-alignment output.
type Result struct {
	Words []WordAlignment
	Score int32
}

// phoneSeg is one linear-chain link: the bound HMM plus enough bookkeeping
// to backtrace state, phone, and word spans once the alignment finishes.
type phoneSeg struct {
	h  *hmm.HMM
	ci acmodel.CIPhoneID

	stateFrame []int // per emitting state, first frame the state left Worst; -1 until then
	exitFrame  int   // first frame the non-emitting exit left Worst; -1 until then
}

// Aligner is the state aligner of spec.md §4.K: a single linear HMM chain
// spanning every phone of every word in a fixed transcript, walked
// frame-by-frame with no pruning (there is nothing to prune against —
// the word sequence is already decided, only its timing is open).
type Aligner struct {
	def    *acmodel.Definition
	tmats  *acmodel.TransitionMatrices
	scorer *acmod.Scorer

	words  []dict.WordID
	phones []*phoneSeg
	// wordPhoneStart[i] is the index into phones of word i's first phone;
	// wordPhoneStart[len(words)] is len(phones).
	wordPhoneStart []int

	active  []int // indices into phones, once entered always active
	entered []bool

	finished bool
}

// NewAligner builds the linear phone chain for words, resolving each
// phone's triphone the way internal/search's flat lexicon does (spec.md
// §4.I's buildFlatInstance pattern) except context here is exact rather
// than enumerated: a forced transcript already fixes each phone's actual
// neighbor, so every phone resolves to a single TriphoneRef instead of a
// per-right-context slot set.
func NewAligner(def *acmodel.Definition, d *dict.Dictionary, d2p *dict2pid.Table, tmats *acmodel.TransitionMatrices, scorer *acmod.Scorer, words []dict.WordID, nEmitStates int) (*Aligner, error) {
	a := &Aligner{
		def:    def,
		tmats:  tmats,
		scorer: scorer,
		words:  words,
	}

	a.wordPhoneStart = make([]int, len(words)+1)
	for wi, wid := range words {
		a.wordPhoneStart[wi] = len(a.phones)

		pron, err := resolvePron(def, d.Word(wid))
		if err != nil {
			return nil, err
		}
		if len(pron) == 0 {
			return nil, fmt.Errorf("align: word %q has an empty pronunciation", d.Word(wid).Name)
		}

		left := leftContext(def, d, words, wi)
		right := rightContext(def, d, words, wi)

		if len(pron) == 1 {
			ref, ok := d2p.SinglePhone(pron[0], left, right)
			if !ok {
				return nil, fmt.Errorf("align: word %q: no single-phone triphone for context (%v,%v)", d.Word(wid).Name, left, right)
			}
			a.phones = append(a.phones, newPhoneSeg(nEmitStates, pron[0], ref))
			continue
		}

		ref0, ok := d2p.LeftDiphone(pron[0], pron[1], left)
		if !ok {
			return nil, fmt.Errorf("align: word %q: no left-diphone triphone", d.Word(wid).Name)
		}
		a.phones = append(a.phones, newPhoneSeg(nEmitStates, pron[0], ref0))

		for pos := 1; pos < len(pron)-1; pos++ {
			iref, ok := d2p.Internal(wid, pos)
			if !ok {
				return nil, fmt.Errorf("align: word %q: no internal triphone at position %d", d.Word(wid).Name, pos)
			}
			a.phones = append(a.phones, newPhoneSeg(nEmitStates, pron[pos], iref))
		}

		rc, ok := d2p.RightContexts(pron[len(pron)-1], pron[len(pron)-2])
		if !ok {
			return nil, fmt.Errorf("align: word %q: no right-context set for final phone", d.Word(wid).Name)
		}
		last := pron[len(pron)-1]
		a.phones = append(a.phones, newPhoneSeg(nEmitStates, last, rc.RefFor(right)))
	}
	a.wordPhoneStart[len(words)] = len(a.phones)

	return a, nil
}

func newPhoneSeg(nEmitStates int, ci acmodel.CIPhoneID, ref dict2pid.TriphoneRef) *phoneSeg {
	h := hmm.New(nEmitStates)
	h.SSeq = ref.SSeq
	h.Tmat = ref.Tmat
	sf := make([]int, nEmitStates)
	for i := range sf {
		sf[i] = -1
	}
	return &phoneSeg{h: h, ci: ci, stateFrame: sf, exitFrame: -1}
}

func resolvePron(def *acmodel.Definition, w dict.Word) ([]acmodel.CIPhoneID, error) {
	ids := make([]acmodel.CIPhoneID, len(w.Pron))
	for i, name := range w.Pron {
		id, ok := def.CIPhoneByName(name)
		if !ok {
			return nil, fmt.Errorf("align: word %q: unknown phone %q", w.Name, name)
		}
		ids[i] = id
	}
	return ids, nil
}

// leftContext returns the CI phone the preceding word contributes as left
// context for word index wi: the last phone of words[wi-1], or
// acmodel.NoCIPhone at the utterance start.
func leftContext(def *acmodel.Definition, d *dict.Dictionary, words []dict.WordID, wi int) acmodel.CIPhoneID {
	if wi <= 0 {
		return acmodel.NoCIPhone
	}
	w := d.Word(words[wi-1])
	if len(w.Pron) == 0 {
		return acmodel.NoCIPhone
	}
	ci, ok := def.CIPhoneByName(w.Pron[len(w.Pron)-1])
	if !ok {
		return acmodel.NoCIPhone
	}
	return ci
}

// rightContext returns the CI phone the following word contributes as
// right context for word index wi: the first phone of words[wi+1], or
// acmodel.NoCIPhone at the utterance end.
func rightContext(def *acmodel.Definition, d *dict.Dictionary, words []dict.WordID, wi int) acmodel.CIPhoneID {
	if wi+1 >= len(words) {
		return acmodel.NoCIPhone
	}
	w := d.Word(words[wi+1])
	if len(w.Pron) == 0 {
		return acmodel.NoCIPhone
	}
	ci, ok := def.CIPhoneByName(w.Pron[0])
	if !ok {
		return acmodel.NoCIPhone
	}
	return ci
}

// Start seeds the token at phone 0 state 0 with score 0 (spec.md §4.K
// "start"); every other state is left Worst by hmm.New's own Clear.
func (a *Aligner) Start() error {
	if len(a.phones) == 0 {
		return ErrNoWords
	}
	for _, p := range a.phones {
		p.h.Clear()
		for i := range p.stateFrame {
			p.stateFrame[i] = -1
		}
		p.exitFrame = -1
	}
	a.entered = make([]bool, len(a.phones))
	a.active = a.active[:0]
	a.finished = false

	a.phones[0].h.Enter(0, hmm.NoHistory, 0)
	a.entered[0] = true
	a.active = append(a.active, 0)
	return nil
}

// Reinit is a no-op: a changed transcript means a fresh NewAligner, not an
// in-place rebuild, mirroring FlatSearch.Reinit's rationale.
func (a *Aligner) Reinit() error { return nil }

// Step runs phone B over every active phone this frame, then propagates
// each phone's exit score into the next phone's entry state for the next
// frame (spec.md §4.K "step": "propagate the exit non-emitting state's
// score into the next phone's entry state").
func (a *Aligner) Step(frame int, cep []float32) error {
	active := make(map[acmodel.SenoneID]bool)
	for _, idx := range a.active {
		h := a.phones[idx].h
		for _, sen := range a.def.SenoneSeqs[h.SSeq] {
			active[sen] = true
		}
	}
	senscore, err := a.scorer.Score(frame, cep, active)
	if err != nil {
		return fmt.Errorf("align: score frame %d: %w", frame, err)
	}

	for _, idx := range a.active {
		p := a.phones[idx]
		p.h.Eval(senscore, a.tmats, a.def.SenoneSeqs[p.h.SSeq])
		for i := range p.stateFrame {
			if p.stateFrame[i] == -1 && p.h.State(i) != logmath.Worst {
				p.stateFrame[i] = frame
			}
		}
		if p.exitFrame == -1 && p.h.OutScore() != logmath.Worst {
			p.exitFrame = frame
		}
	}

	for _, idx := range a.active {
		next := idx + 1
		if next >= len(a.phones) {
			continue
		}
		p := a.phones[idx]
		if p.h.OutScore() == logmath.Worst {
			continue
		}
		nh := a.phones[next].h
		nh.Enter(p.h.OutScore(), p.h.OutHistory(), frame+1)
		if !a.entered[next] && nh.State(0) != logmath.Worst {
			a.entered[next] = true
			a.active = append(a.active, next)
		}
	}

	return nil
}

// Finish closes out the alignment (spec.md §4.K "finish"): the final
// phone's exit score at the last processed frame is the alignment score.
// If that exit was never reached, the transcript does not fit the
// utterance (ErrAlignmentImpossible), and the skeleton is left unfilled.
func (a *Aligner) Finish() error {
	if len(a.phones) == 0 {
		return ErrNoWords
	}
	last := a.phones[len(a.phones)-1]
	if last.h.OutScore() == logmath.Worst {
		return ErrAlignmentImpossible
	}
	a.finished = true
	return nil
}

// Result backtraces the filled skeleton into word/phone/state spans
// (spec.md §4.K: "phone durations are derived by propagating state spans
// up to the phone level; word durations by summing their phones").
func (a *Aligner) Result() (Result, error) {
	if !a.finished {
		return Result{}, ErrNotFinished
	}

	var words []WordAlignment
	var cumBefore int32
	for wi := range a.words {
		lo, hi := a.wordPhoneStart[wi], a.wordPhoneStart[wi+1]
		var phones []PhoneAlignment
		for pi := lo; pi < hi; pi++ {
			p := a.phones[pi]
			var states []StateAlignment
			for si, sf := range p.stateFrame {
				states = append(states, StateAlignment{State: si, StartFrame: sf})
			}
			phones = append(phones, PhoneAlignment{
				Phone:      p.ci,
				StartFrame: p.stateFrame[0],
				EndFrame:   p.exitFrame,
				States:     states,
			})
		}
		last := a.phones[hi-1]
		wordEnd := last.h.OutScore()
		words = append(words, WordAlignment{
			Wid:        a.words[wi],
			StartFrame: a.phones[lo].stateFrame[0],
			EndFrame:   last.exitFrame,
			Score:      wordEnd - cumBefore,
			Phones:     phones,
		})
		cumBefore = wordEnd
	}

	return Result{Words: words, Score: a.phones[len(a.phones)-1].h.OutScore()}, nil
}

// Hypothesis returns the fixed word sequence the aligner was built over,
// satisfying search.Search even though the sequence was never in doubt —
// only its timing was.
func (a *Aligner) Hypothesis() ([]dict.WordID, error) {
	if !a.finished {
		return nil, ErrNotFinished
	}
	out := make([]dict.WordID, len(a.words))
	copy(out, a.words)
	return out, nil
}

// SegmentIter returns the word-level timing, the same shape every other
// search's SegmentIter produces.
func (a *Aligner) SegmentIter() ([]search.Segment, error) {
	res, err := a.Result()
	if err != nil {
		return nil, err
	}
	segs := make([]search.Segment, len(res.Words))
	for i, w := range res.Words {
		segs[i] = search.Segment{Wid: w.Wid, StartFrame: w.StartFrame, EndFrame: w.EndFrame, AcScore: w.Score}
	}
	return segs, nil
}

// Lattice is unsupported: a forced alignment has exactly one path, so
// there is no meaningful lattice to build.
func (a *Aligner) Lattice() (*lattice.DAG, error) { return nil, nil }

// Posterior returns the alignment score, the log-likelihood of the best
// (only) path through the fixed transcript's skeleton.
func (a *Aligner) Posterior() (int32, error) {
	if !a.finished {
		return logmath.Worst, ErrNotFinished
	}
	return a.phones[len(a.phones)-1].h.OutScore(), nil
}

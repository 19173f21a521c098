package search

import (
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/hmm"
)

// fillerWord binds one filler dictionary entry to a single context-
// independent HMM (spec.md §4.E's filler-word carve-out: dict2pid.Build
// skips filler phones as base phones, so filler words cannot be bound via
// the triphone tables the lexical tree uses — they are modeled
// context-independently instead, per the model definition's PosSingle row
// looked up with both contexts absent).
type fillerWord struct {
	Wid dict.WordID
	HMM *hmm.HMM
}

// FillerBank is the flat, context-independent counterpart to Tree for the
// filler vocabulary (silence, noise, and other non-speech words):
// SPEC_FULL.md's ambient-stack expansion of spec.md §4.E, since fillers
// are always active input for a word transition (the caller does not
// know in advance whether the next sound is speech or noise) but never
// appear inside the shared-prefix tree itself.
type FillerBank struct {
	words []fillerWord

	active     []int
	nextActive []int
}

// BuildFillerBank binds every filler entry in d to its context-
// independent HMM. A filler whose CI phone has no PosSingle row in def
// (e.g. a multi-phone filler entry, which this decoder does not model) is
// skipped.
func BuildFillerBank(def *acmodel.Definition, d *dict.Dictionary, nEmitStates int) *FillerBank {
	fb := &FillerBank{}
	for i := 0; i < d.Len(); i++ {
		wid := dict.WordID(i)
		w := d.Word(wid)
		if !w.IsFiller || len(w.Pron) != 1 {
			continue
		}
		ci, ok := def.CIPhoneByName(w.Pron[0])
		if !ok {
			continue
		}
		tri, ok := def.Lookup(ci, acmodel.NoCIPhone, acmodel.NoCIPhone, acmodel.PosSingle)
		if !ok {
			continue
		}
		h := hmm.New(nEmitStates)
		h.SSeq = tri.SSeq
		h.Tmat = tri.Tmat
		fb.words = append(fb.words, fillerWord{Wid: wid, HMM: h})
	}
	return fb
}

// Reset clears every filler HMM and empties the active lists, for reuse
// across utterances.
func (fb *FillerBank) Reset() {
	for _, fw := range fb.words {
		fw.HMM.Clear()
	}
	fb.active = nil
	fb.nextActive = nil
}

// Enter seeds every filler word's HMM with the same incoming path score
// and history and queues it active for the next SwapActive (fillers have
// no left-context dependence, so a single shared entry point serves every
// predecessor). Queuing rather than activating immediately keeps this
// consistent with word-boundary re-entry mid-utterance, where the queued
// words must survive the current frame's closing SwapActive instead of
// being discarded by it; a caller seeding the very first frame (before
// any Step has run) must call SwapActive itself once to promote them.
func (fb *FillerBank) Enter(inScore, inHistory int32, frame int) {
	for i, fw := range fb.words {
		fw.HMM.Enter(inScore, inHistory, frame)
		fb.nextActive = append(fb.nextActive, i)
	}
}

// MarkActiveNext records filler index i as active for the upcoming frame.
func (fb *FillerBank) MarkActiveNext(i int) {
	fb.nextActive = append(fb.nextActive, i)
}

// SwapActive promotes next-frame fillers to active, matching Tree's
// double-buffering idiom.
func (fb *FillerBank) SwapActive() {
	fb.active, fb.nextActive = fb.nextActive, fb.active[:0]
}

// Active returns the filler indices active in the current frame.
func (fb *FillerBank) Active() []int { return fb.active }

// Word returns the dictionary word id and bound HMM for filler index i.
func (fb *FillerBank) Word(i int) (dict.WordID, *hmm.HMM) {
	fw := fb.words[i]
	return fw.Wid, fw.HMM
}

// Len returns the number of bound filler words.
func (fb *FillerBank) Len() int { return len(fb.words) }

// ActiveSenones collects every senone referenced by an active filler's
// bound HMM, to union into the scorer's active-senone mask.
func (fb *FillerBank) ActiveSenones(def *acmodel.Definition) []acmodel.SenoneID {
	seen := make(map[acmodel.SenoneID]bool)
	var out []acmodel.SenoneID
	for _, i := range fb.active {
		h := fb.words[i].HMM
		for _, sen := range def.SenoneSeqs[h.SSeq] {
			if !seen[sen] {
				seen[sen] = true
				out = append(out, sen)
			}
		}
	}
	return out
}

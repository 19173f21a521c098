// Package dict2pid builds the phone-identity map (spec.md §4.D): the
// tables that translate a word's pronunciation, together with the CI
// phone context it actually occurs in, into the senone-sequence ids the
// acoustic model and HMM evaluator operate on. It is built once from the
// context-dependent model definition and the pronunciation dictionary and
// is read-only for the rest of the session's lifetime.
package dict2pid

import (
	"fmt"

	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
)

// TriphoneRef is the pair of ids a search needs to bind an HMM instance:
// which senone sequence scores it and which transition matrix governs it.
type TriphoneRef struct {
	SSeq acmodel.SSeqID
	Tmat acmodel.TmatID
}

// RightContextSet is the compressed `rssid` entry for one (base, left)
// pair: the distinct senone sequences reachable over every right-context
// CI phone, plus a total map from right-context phone to the slot holding
// its sequence (spec.md §4.D: "Fan-out minimality").
type RightContextSet struct {
	Slots []TriphoneRef
	slot  map[acmodel.CIPhoneID]int
}

// RefFor returns the triphone reference for right-context phone right. The
// map is total per spec.md §4.D: a right-context phone never seen in the
// model definition for this (base, left) falls back to slot 0, matching
// the reference decoder's convention of degrading to the first context
// class rather than failing the query.
func (r *RightContextSet) RefFor(right acmodel.CIPhoneID) TriphoneRef {
	if slot, ok := r.slot[right]; ok {
		return r.Slots[slot]
	}
	return r.Slots[0]
}

// SlotFor returns the compressed slot index right maps to (again total,
// degrading to slot 0), for callers that only need to detect "same slot"
// rather than the triphone details.
func (r *RightContextSet) SlotFor(right acmodel.CIPhoneID) int {
	if slot, ok := r.slot[right]; ok {
		return slot
	}
	return 0
}

// NumSlots returns the number of distinct senone sequences stored (the
// compressed fan-out width).
func (r *RightContextSet) NumSlots() int { return len(r.Slots) }

type internalKey struct {
	wid dict.WordID
	pos int
}

type ldiphKey struct {
	base, right, left acmodel.CIPhoneID
}

type lrdiphKey struct {
	base, left, right acmodel.CIPhoneID
}

type rssidKey struct {
	base, left acmodel.CIPhoneID
}

// Table holds the four sub-tables spec.md §4.D describes.
type Table struct {
	internal map[internalKey]TriphoneRef
	ldiph    map[ldiphKey]TriphoneRef
	rssid    map[rssidKey]*RightContextSet
	lrdiph   map[lrdiphKey]TriphoneRef
}

// Internal returns the triphone reference for a fully word-internal phone
// (neither first nor last in the pronunciation), which is completely
// determined by the word's own pronunciation.
func (t *Table) Internal(wid dict.WordID, pos int) (TriphoneRef, bool) {
	s, ok := t.internal[internalKey{wid, pos}]
	return s, ok
}

// LeftDiphone returns the triphone reference for the first phone of a
// multi-phone word (base, with fixed right context from the word's second
// phone) entered from incoming left-context phone left.
func (t *Table) LeftDiphone(base, right, left acmodel.CIPhoneID) (TriphoneRef, bool) {
	s, ok := t.ldiph[ldiphKey{base, right, left}]
	return s, ok
}

// RightContexts returns the compressed right-context set for the last
// phone of a multi-phone word (base, with fixed left context from the
// word's second-to-last phone).
func (t *Table) RightContexts(base, left acmodel.CIPhoneID) (*RightContextSet, bool) {
	s, ok := t.rssid[rssidKey{base, left}]
	return s, ok
}

// SinglePhone returns the triphone reference for a single-phone word,
// which depends on both the incoming left context and the outgoing right
// context.
func (t *Table) SinglePhone(base, left, right acmodel.CIPhoneID) (TriphoneRef, bool) {
	s, ok := t.lrdiph[lrdiphKey{base, left, right}]
	return s, ok
}

// Build constructs a Table from a model definition and a pronunciation
// dictionary (spec.md §4.D). The ldiph/rssid/lrdiph tables are a pure
// function of the model definition's triphone table, scanned over every
// CI phone combination; the internal table is keyed per word because it
// depends on the word's own phone sequence.
func Build(def *acmodel.Definition, d *dict.Dictionary) (*Table, error) {
	t := &Table{
		internal: make(map[internalKey]TriphoneRef),
		ldiph:    make(map[ldiphKey]TriphoneRef),
		rssid:    make(map[rssidKey]*RightContextSet),
		lrdiph:   make(map[lrdiphKey]TriphoneRef),
	}

	contexts := contextPhones(def)

	for baseIdx, ci := range def.CIPhones {
		if ci.IsFiller() {
			continue
		}
		base := acmodel.CIPhoneID(baseIdx)

		for _, left := range contexts {
			buildRightContextSet(t, def, base, left, contexts)
			buildSinglePhone(t, def, base, left, contexts)
		}
		for _, right := range contexts {
			buildLeftDiphone(t, def, base, right, contexts)
		}
	}

	if err := buildInternal(t, def, d); err != nil {
		return nil, err
	}

	return t, nil
}

// contextPhones returns every context a phone may be adjacent to: every CI
// phone (filler phones included — a word may follow a filler like silence)
// plus the utterance-boundary sentinel. Filler phones are still excluded
// as the "base" phone a triphone table row is built for, since fillers are
// not context-dependently modeled; the exclusion lives in Build's outer
// loop, not here.
func contextPhones(def *acmodel.Definition) []acmodel.CIPhoneID {
	ctx := make([]acmodel.CIPhoneID, 0, len(def.CIPhones)+1)
	ctx = append(ctx, acmodel.NoCIPhone)
	for i := range def.CIPhones {
		ctx = append(ctx, acmodel.CIPhoneID(i))
	}
	return ctx
}

func buildRightContextSet(t *Table, def *acmodel.Definition, base, left acmodel.CIPhoneID, contexts []acmodel.CIPhoneID) {
	var refs []TriphoneRef
	slot := make(map[acmodel.CIPhoneID]int)

	for _, right := range contexts {
		tri, ok := def.Lookup(base, left, right, acmodel.PosEnd)
		if !ok {
			continue
		}
		found := -1
		for j, r := range refs {
			if r.SSeq == tri.SSeq {
				found = j
				break
			}
		}
		if found >= 0 {
			slot[right] = found
		} else {
			slot[right] = len(refs)
			refs = append(refs, TriphoneRef{SSeq: tri.SSeq, Tmat: tri.Tmat})
		}
	}
	if len(refs) == 0 {
		return
	}
	// Total map: any context not directly observed degrades to slot 0.
	for _, right := range contexts {
		if _, ok := slot[right]; !ok {
			slot[right] = 0
		}
	}
	t.rssid[rssidKey{base, left}] = &RightContextSet{Slots: refs, slot: slot}
}

func buildSinglePhone(t *Table, def *acmodel.Definition, base, left acmodel.CIPhoneID, contexts []acmodel.CIPhoneID) {
	for _, right := range contexts {
		tri, ok := def.Lookup(base, left, right, acmodel.PosSingle)
		if ok {
			t.lrdiph[lrdiphKey{base, left, right}] = TriphoneRef{SSeq: tri.SSeq, Tmat: tri.Tmat}
		}
	}
}

func buildLeftDiphone(t *Table, def *acmodel.Definition, base, right acmodel.CIPhoneID, contexts []acmodel.CIPhoneID) {
	for _, left := range contexts {
		tri, ok := def.Lookup(base, left, right, acmodel.PosBegin)
		if ok {
			t.ldiph[ldiphKey{base, right, left}] = TriphoneRef{SSeq: tri.SSeq, Tmat: tri.Tmat}
		}
	}
}

func buildInternal(t *Table, def *acmodel.Definition, d *dict.Dictionary) error {
	for i := 0; i < d.Len(); i++ {
		wid := dict.WordID(i)
		w := d.Word(wid)
		if len(w.Pron) < 3 {
			continue // no purely-internal phone in a 1- or 2-phone word
		}
		for pos := 1; pos < len(w.Pron)-1; pos++ {
			base, ok := def.CIPhoneByName(w.Pron[pos])
			if !ok {
				return fmt.Errorf("dict2pid: word %q: unknown phone %q", w.Name, w.Pron[pos])
			}
			left, ok := def.CIPhoneByName(w.Pron[pos-1])
			if !ok {
				return fmt.Errorf("dict2pid: word %q: unknown phone %q", w.Name, w.Pron[pos-1])
			}
			right, ok := def.CIPhoneByName(w.Pron[pos+1])
			if !ok {
				return fmt.Errorf("dict2pid: word %q: unknown phone %q", w.Name, w.Pron[pos+1])
			}
			tri, ok := def.Lookup(base, left, right, acmodel.PosInternal)
			if !ok {
				return fmt.Errorf("dict2pid: word %q: no triphone for internal phone %q at position %d", w.Name, w.Pron[pos], pos)
			}
			t.internal[internalKey{wid, pos}] = TriphoneRef{SSeq: tri.SSeq, Tmat: tri.Tmat}
		}
	}
	return nil
}

// Package vithist implements the backpointer table (spec.md §4.F,
// component F, also called "bptbl" in the original decoder): an
// append-only log of word exits across an utterance, organized into
// per-frame segments, from which both the hypothesis string and the word
// lattice are eventually derived.
package vithist

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
)

// EntryID identifies a backpointer entry. Entries are never physically
// moved once a later frame has begun, so an EntryID handed out for a
// finalized frame remains valid for the rest of the utterance.
type EntryID int32

// NoEntry is the sentinel "no predecessor" value (spec.md §3's "pred_id").
const NoEntry EntryID = -1

// ErrEmptyUtterance is returned by PartialResult/FinalResult when no
// entry was ever appended (spec.md §4.F failure mode).
var ErrEmptyUtterance = errors.New("vithist: empty utterance")

// ErrNilPredecessor is returned by Rescore when asked to extend NoEntry
// (spec.md §4.G: "if step 5 would call rescore with a predecessor of
// NONE, treat as a bug (assert); in release, drop the exit and
// continue" — this package surfaces it as an error so the caller decides
// whether to assert or drop).
var ErrNilPredecessor = errors.New("vithist: rescore with nil predecessor")

// Entry is one backpointer record (spec.md §3 "Backpointer entry").
type Entry struct {
	Wid            dict.WordID
	StartFrame     int
	EndFrame       int
	Score          int32 // accum_score: total path score through this exit
	AcScore        int32
	LmScore        int32
	Pred           EntryID
	LMState        []lm.WordID // n-1 preceding words, oldest to most recent
	RightCtxSlot   int         // which compressed right-context slot this exit used
	RightCtxScores []int32     // exit score per right-context slot, for lattice expansion
}

type lmStateKey string

func keyOf(wid dict.WordID, state []lm.WordID) lmStateKey {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(wid), 10))
	for _, w := range state {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(w), 10))
	}
	return lmStateKey(b.String())
}

type frameSegment struct {
	start, end int // half-open range into Table.entries
}

// Table is the backpointer table for one utterance.
type Table struct {
	model     lm.Model
	fillers   *lm.FillerPenalties
	logMath   *logmath.Table
	wordToLM  func(dict.WordID) lm.WordID
	isFiller  func(dict.WordID) bool
	histOrder int

	entries []Entry
	frames  []frameSegment

	curFrame    int
	curDedup    map[lmStateKey]EntryID
	curBestScor int32
}

// New builds an empty Table bound to a language model, its filler
// penalty table, the log-math table used for score arithmetic, and two
// small adapters: wordToLM maps a dictionary word id to the LM's own id
// space (internal/lm keeps its own vocabulary, spec.md §6), and isFiller
// reports whether a word is in the filler vocabulary (spec.md §4.F:
// "For filler words, use the filler penalty instead of the n-gram
// score... retain the predecessor's lm_state unchanged").
func New(model lm.Model, fillers *lm.FillerPenalties, logMath *logmath.Table, wordToLM func(dict.WordID) lm.WordID, isFiller func(dict.WordID) bool) *Table {
	return &Table{
		model:     model,
		fillers:   fillers,
		logMath:   logMath,
		wordToLM:  wordToLM,
		isFiller:  isFiller,
		histOrder: model.Order() - 1,
	}
}

// StartUtt resets the table for a new utterance.
func (t *Table) StartUtt() {
	t.entries = nil
	t.frames = nil
	t.curFrame = -1
	t.curDedup = nil
	t.curBestScor = logmath.Worst
}

// ensureFrame opens frame as the current frame if it is not already,
// closing out any earlier frame's dedup state (spec.md §4.F: entries are
// "organized into per-frame segments").
func (t *Table) ensureFrame(frame int) {
	if frame == t.curFrame {
		return
	}
	t.curFrame = frame
	t.curDedup = make(map[lmStateKey]EntryID)
	t.curBestScor = logmath.Worst
	for len(t.frames) <= frame {
		t.frames = append(t.frames, frameSegment{start: len(t.entries), end: len(t.entries)})
	}
}

// Enter records entry, deduplicating against any existing entry in the
// same frame with the same (wid, lm_state) per spec.md §4.F: "if an
// entry with the same lm_state already exists in the current frame,
// update it in place (keep the higher score and its right_ctx_scores[rc]
// slot); otherwise append."
func (t *Table) Enter(entry Entry) EntryID {
	t.ensureFrame(entry.EndFrame)

	key := keyOf(entry.Wid, entry.LMState)
	if existingID, ok := t.curDedup[key]; ok {
		existing := &t.entries[existingID]
		if entry.Score > existing.Score {
			rc := existing.RightCtxScores
			if rc == nil {
				rc = entry.RightCtxScores
			} else if entry.RightCtxScores != nil && entry.RightCtxSlot < len(rc) {
				rc[entry.RightCtxSlot] = entry.RightCtxScores[entry.RightCtxSlot]
			}
			*existing = entry
			existing.RightCtxScores = rc
		}
		if entry.Score > t.curBestScor {
			t.curBestScor = entry.Score
		}
		return existingID
	}

	id := EntryID(len(t.entries))
	if entry.Pred == id {
		// No entry is its own predecessor: a zero Pred on the first entry
		// (the utterance-start root) means it has none.
		entry.Pred = NoEntry
	}
	t.entries = append(t.entries, entry)
	t.curDedup[key] = id
	t.frames[entry.EndFrame].end = len(t.entries)
	if entry.Score > t.curBestScor {
		t.curBestScor = entry.Score
	}
	return id
}

// Rescore computes the path score for word wid exiting at endFrame from
// predecessor pred with acoustic score acScore over right-context slot
// rightCtx, and enters the derived record (spec.md §4.F "rescore"). For
// a filler word, the filler penalty substitutes for the n-gram score and
// the predecessor's LM state passes through unchanged.
func (t *Table) Rescore(wid dict.WordID, endFrame int, acScore int32, pred EntryID, rightCtx int) (EntryID, error) {
	if pred == NoEntry {
		return NoEntry, ErrNilPredecessor
	}
	if int(pred) < 0 || int(pred) >= len(t.entries) {
		return NoEntry, fmt.Errorf("vithist: predecessor %d out of range", pred)
	}
	predEntry := t.entries[pred]

	var lmScore int32
	var newState []lm.WordID
	if t.isFiller != nil && t.isFiller(wid) {
		lmScore = t.fillers.Penalty(t.wordToLM(wid))
		newState = predEntry.LMState
	} else {
		lmWid := t.wordToLM(wid)
		lmScore, _ = t.model.Score(lmWid, predEntry.LMState)
		newState = pushHistory(predEntry.LMState, lmWid, t.histOrder)
	}

	total := predEntry.Score + acScore + lmScore
	entry := Entry{
		Wid:          wid,
		StartFrame:   predEntry.EndFrame,
		EndFrame:     endFrame,
		Score:        total,
		AcScore:      acScore,
		LmScore:      lmScore,
		Pred:         pred,
		LMState:      newState,
		RightCtxSlot: rightCtx,
	}
	return t.Enter(entry), nil
}

func pushHistory(state []lm.WordID, w lm.WordID, order int) []lm.WordID {
	if order <= 0 {
		return nil
	}
	next := make([]lm.WordID, 0, order)
	start := 0
	if len(state)+1 > order {
		start = len(state) + 1 - order
	}
	next = append(next, state[start:]...)
	next = append(next, w)
	return next
}

// Entry returns a copy of the entry identified by id.
func (t *Table) Entry(id EntryID) Entry { return t.entries[id] }

// Len returns the total number of entries appended so far.
func (t *Table) Len() int { return len(t.entries) }

// Prune marks entries below best_this_frame+beam invalid, keeps at most
// maxWords distinct base words and maxHistPerFrame entries overall
// (ties broken by score), retains at most one filler entry, and
// physically compacts frame's segment (spec.md §4.F "prune"). Only the
// current (most recently opened) frame may be pruned.
func (t *Table) Prune(frame int, maxWordsPerFrame, maxHistPerFrame int, beam int32) {
	if frame != t.curFrame {
		return
	}
	seg := t.frames[frame]
	if seg.start >= seg.end {
		return
	}

	type cand struct {
		idx   int
		entry Entry
	}
	var survivors []cand
	threshold := t.curBestScor + beam
	for i := seg.start; i < seg.end; i++ {
		e := t.entries[i]
		if e.Score >= threshold {
			survivors = append(survivors, cand{idx: i, entry: e})
		}
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].entry.Score > survivors[j].entry.Score })

	kept := make([]Entry, 0, len(survivors))
	seenBase := make(map[dict.WordID]bool)
	fillerKept := false
	for _, c := range survivors {
		if maxHistPerFrame > 0 && len(kept) >= maxHistPerFrame {
			break
		}
		isFiller := t.isFiller != nil && t.isFiller(c.entry.Wid)
		if isFiller {
			if fillerKept {
				continue
			}
			fillerKept = true
		} else {
			if maxWordsPerFrame > 0 && !seenBase[c.entry.Wid] && len(seenBase) >= maxWordsPerFrame {
				continue
			}
			seenBase[c.entry.Wid] = true
		}
		kept = append(kept, c.entry)
	}

	newEnd := seg.start + len(kept)
	copy(t.entries[seg.start:newEnd], kept)
	t.entries = t.entries[:newEnd]
	t.frames[frame] = frameSegment{start: seg.start, end: newEnd}

	t.curDedup = make(map[lmStateKey]EntryID)
	for i := seg.start; i < newEnd; i++ {
		t.curDedup[keyOf(t.entries[i].Wid, t.entries[i].LMState)] = EntryID(i)
	}
}

// FrameEntries returns the (post-prune, if Prune was called) entry ids
// for frame.
func (t *Table) FrameEntries(frame int) []EntryID {
	if frame < 0 || frame >= len(t.frames) {
		return nil
	}
	seg := t.frames[frame]
	ids := make([]EntryID, 0, seg.end-seg.start)
	for i := seg.start; i < seg.end; i++ {
		ids = append(ids, EntryID(i))
	}
	return ids
}

// bestUpTo returns the id of the highest-scoring entry with
// end_frame <= frame, or NoEntry if there is none. Sentinel bookkeeping
// entries (dict.NoWord: the utterance-start root and any prior
// end-of-sentence marker) are skipped — their score carries no acoustic
// evidence, so they would otherwise always beat every real word path in
// this log-probability domain, where consuming more frames can only ever
// subtract from the cumulative score.
func (t *Table) bestUpTo(frame int) EntryID {
	best := NoEntry
	var bestScore int32 = logmath.Worst
	limit := frame
	if limit >= len(t.frames) {
		limit = len(t.frames) - 1
	}
	for f := 0; f <= limit; f++ {
		seg := t.frames[f]
		for i := seg.start; i < seg.end; i++ {
			if t.entries[i].Wid == dict.NoWord {
				continue
			}
			if t.entries[i].Score > bestScore {
				bestScore = t.entries[i].Score
				best = EntryID(i)
			}
		}
	}
	return best
}

// Backtrace walks predecessor links from id back to the utterance start,
// returning the word sequence oldest first.
func (t *Table) Backtrace(id EntryID) []dict.WordID {
	var words []dict.WordID
	for id != NoEntry {
		e := t.entries[id]
		words = append(words, e.Wid)
		id = e.Pred
	}
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return words
}

// PartialResult backtraces from the highest-scoring entry with
// end_frame <= frame, without appending a final sentence-end marker
// (spec.md §4.F "partial_result").
func (t *Table) PartialResult(frame int) ([]dict.WordID, error) {
	if len(t.entries) == 0 {
		return nil, ErrEmptyUtterance
	}
	best := t.bestUpTo(frame)
	if best == NoEntry {
		return nil, ErrEmptyUtterance
	}
	return t.Backtrace(best), nil
}

// FinalResult locates the highest-scoring entry in the last non-empty
// frame, rescores an implicit end-of-sentence transition, appends it,
// and returns its id as the utterance's exit entry (spec.md §4.F
// "final_result").
func (t *Table) FinalResult() (EntryID, error) {
	if len(t.entries) == 0 {
		return NoEntry, ErrEmptyUtterance
	}
	lastFrame := len(t.frames) - 1
	for lastFrame >= 0 && t.frames[lastFrame].start == t.frames[lastFrame].end {
		lastFrame--
	}
	if lastFrame < 0 {
		return NoEntry, ErrEmptyUtterance
	}
	best := NoEntry
	var bestScore int32 = logmath.Worst
	seg := t.frames[lastFrame]
	for i := seg.start; i < seg.end; i++ {
		if t.entries[i].Wid != dict.NoWord && t.entries[i].Score > bestScore {
			bestScore = t.entries[i].Score
			best = EntryID(i)
		}
	}
	if best == NoEntry {
		return NoEntry, ErrEmptyUtterance
	}

	predEntry := t.entries[best]
	lmScore, _ := t.model.Score(lm.End, predEntry.LMState)
	entry := Entry{
		Wid:        dict.NoWord,
		StartFrame: predEntry.EndFrame,
		EndFrame:   predEntry.EndFrame,
		Score:      predEntry.Score + lmScore,
		LmScore:    lmScore,
		Pred:       best,
		LMState:    pushHistory(predEntry.LMState, lm.End, t.histOrder),
	}
	return t.Enter(entry), nil
}

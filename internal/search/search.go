// Package search implements the decoder's polymorphic search layer
// (spec.md §4.G forward tree search, §4.I forward-flat rescoring, and the
// FSG/keyword-spot variants SPEC_FULL.md §10 supplement #5 adds): every
// search shares one interface so the façade (component L, not yet built)
// can dispatch by name without caring which algorithm is behind it.
package search

import (
	"sort"

	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/lattice"
)

// Segment is one word in a time-aligned hypothesis, as produced by
// SegmentIter.
type Segment struct {
	Wid        dict.WordID
	StartFrame int
	EndFrame   int
	AcScore    int32
	LmScore    int32
}

// Search is the polymorphic interface spec.md §9 calls out ("polymorphic
// searches"): start/step/finish the per-utterance frame loop, reinit to
// pick up a changed lexicon/LM without rebuilding the whole search, and
// read back the hypothesis in three shapes (word sequence, time-aligned
// segments, full lattice) plus a whole-utterance confidence score.
type Search interface {
	// Start resets per-utterance state, ready for the first Step.
	Start() error
	// Step processes one frame of already-CMN'd cepstral input.
	Step(frame int, cep []float32) error
	// Finish closes out the utterance, inserting the final word-end
	// transition so Hypothesis/SegmentIter/Lattice become valid.
	Finish() error
	// Reinit rebuilds whatever internal structures depend on the lexicon
	// or LM (e.g. the lexical tree), without discarding model bindings.
	Reinit() error
	// Hypothesis returns the best word sequence found, oldest first.
	Hypothesis() ([]dict.WordID, error)
	// SegmentIter returns the best word sequence with per-word timing and
	// score detail.
	SegmentIter() ([]Segment, error)
	// Lattice returns the word lattice backing the hypothesis.
	Lattice() (*lattice.DAG, error)
	// Posterior returns a whole-utterance confidence score in the
	// decoder's log-math domain (spec.md §4.L "get_prob").
	Posterior() (int32, error)
}

// Config bundles the frame-synchronous pruning knobs spec.md §4.G step 3
// names. HMMBeam, PhoneBeam and WordBeam are magnitudes subtracted from the
// frame's best score (hmm_thresh = best - HMMBeam), so larger values widen
// the search; VithistBeam is the exception described below.
type Config struct {
	HMMBeam   int32
	PhoneBeam int32
	WordBeam  int32

	// MaxHMMPerFrame triggers histogram pruning when the active HMM count
	// exceeds it; <= 0 disables the cap.
	MaxHMMPerFrame int

	// MaxWordsPerFrame/MaxHistPerFrame/VithistBeam feed directly into
	// vithist.Table.Prune for the per-frame backpointer-table prune in
	// step 6. Prune adds VithistBeam to the frame's best score, so it is a
	// negative width: more negative values keep more entries.
	MaxWordsPerFrame int
	MaxHistPerFrame  int
	VithistBeam      int32

	// N is the number of interleaved lexical-tree copies used to
	// alleviate single-token-per-state path collisions (spec.md §4.G step
	// 6, SPEC_FULL.md §11 decision #2). N <= 0 defaults to 3.
	N int
}

func (c Config) n() int {
	if c.N <= 0 {
		return 3
	}
	return c.N
}

// histogramBins is the fixed bin count spec.md §4.G step 3 names for
// histogram pruning ("a coarse histogram (fixed 1000 bins across the
// beam)").
const histogramBins = 1000

// histogramThreshold returns a score threshold that keeps approximately
// want of scores (which may include logmath.Worst entries, ignored), by
// bucketing the live range [min,max] into histogramBins bins and walking
// from the top bin down until the cumulative count reaches want. This
// trades exactness for a single linear pass, matching the "coarse"
// characterization in spec.md §4.G step 3; it never prunes more
// aggressively than the caller's own hmm_thresh, since callers take
// max(hmm_thresh, this).
func histogramThreshold(scores []int32, want int) int32 {
	if want <= 0 || len(scores) <= want {
		return scoresMin(scores)
	}

	lo, hi := scoresMinMax(scores)
	if lo == hi {
		return lo
	}

	counts := make([]int, histogramBins)
	span := float64(hi - lo)
	for _, s := range scores {
		bin := int(float64(s-lo) / span * float64(histogramBins-1))
		if bin < 0 {
			bin = 0
		}
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		counts[bin]++
	}

	kept := 0
	for bin := histogramBins - 1; bin >= 0; bin-- {
		kept += counts[bin]
		if kept >= want {
			// Threshold is the lower edge of the bin that tipped us over.
			return lo + int32(float64(bin)/float64(histogramBins-1)*span)
		}
	}
	return lo
}

func scoresMin(scores []int32) int32 {
	if len(scores) == 0 {
		return 0
	}
	m := scores[0]
	for _, s := range scores[1:] {
		if s < m {
			m = s
		}
	}
	return m
}

func scoresMinMax(scores []int32) (int32, int32) {
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return lo, hi
}

// sortSegments orders segments by start frame, used by searches whose
// internal bookkeeping does not otherwise guarantee result ordering.
func sortSegments(segs []Segment) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartFrame < segs[j].StartFrame })
}

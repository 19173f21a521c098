package lm

// FillerPenalties holds a configurable per-filler-word insertion penalty,
// used in place of the n-gram score whenever a search exits into a filler
// word (SPEC_FULL.md §10 supplement #1, grounded on original_source's
// fillpen.c/fillpen.h — not retained verbatim since there is no file
// format to match, just the one knob it exposes).
type FillerPenalties struct {
	defaultPenalty int32
	byWord         map[WordID]int32
}

// DefaultSilenceLogPenalty is the penalty applied to the distinguished
// silence filler when no per-word override is configured.
const DefaultSilenceLogPenalty int32 = -50

// NewFillerPenalties returns a table defaulting every filler word to
// defaultPenalty.
func NewFillerPenalties(defaultPenalty int32) *FillerPenalties {
	return &FillerPenalties{
		defaultPenalty: defaultPenalty,
		byWord:         make(map[WordID]int32),
	}
}

// Set overrides the penalty for a specific filler word id.
func (f *FillerPenalties) Set(wid WordID, logPenalty int32) {
	f.byWord[wid] = logPenalty
}

// Penalty returns the configured log penalty for wid, falling back to the
// table's default.
func (f *FillerPenalties) Penalty(wid WordID) int32 {
	if p, ok := f.byWord[wid]; ok {
		return p
	}
	return f.defaultPenalty
}

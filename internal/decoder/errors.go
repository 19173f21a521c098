package decoder

import "errors"

// Sentinel errors of the façade (spec.md §4.L: "all functions return
// a negative int on failure" in the C API this package stands in for;
// Go callers get a typed error instead of a sentinel int).
var (
	// ErrConfig is returned when a Session or Engine is asked to do
	// something its configuration does not support (e.g. stepping before
	// StartUtt, or selecting a search that was never wired in).
	ErrConfig = errors.New("decoder: invalid configuration or call order")

	// ErrModelMismatch names loaded components that disagree on a shared
	// dimension (spec.md §8 failure mode: "feature dimension, sample
	// rate, or cepstral layout inconsistent among loaded files"). No
	// function in this package returns it; LoadModels passes on the
	// wrapped errors acmodel and acmod.NewScorer report instead.
	ErrModelMismatch = errors.New("decoder: model component mismatch")

	// ErrOutOfBounds names a frame index or buffer offset outside the
	// utterance processed so far. No function in this package returns it.
	ErrOutOfBounds = errors.New("decoder: frame index out of bounds")

	// ErrEmptyUtterance is returned by get_hyp/seg_iter/get_lattice
	// equivalents when end_utt was never reached or no frame was ever
	// scored.
	ErrEmptyUtterance = errors.New("decoder: empty utterance")

	// ErrLatticeTooLarge names a lattice that exceeds a node/edge cap. No
	// function in this package returns it; internal/lattice's
	// BypassFillers reports an over-budget lattice with its own
	// lattice.ErrLatticeTooLarge.
	ErrLatticeTooLarge = errors.New("decoder: lattice exceeds configured size limit")

	// ErrAlignmentImpossible names a forced transcript that cannot be fit
	// to the frames given. No function in this package returns it: in
	// "align" mode EndUtt returns internal/align's own
	// align.ErrAlignmentImpossible unchanged.
	ErrAlignmentImpossible = errors.New("decoder: forced alignment impossible for given audio")

	// ErrInternalInvariant marks a bug: a condition that should be
	// statically impossible given the calling code's own guarantees. A
	// session that ever returns it is poisoned and must not be reused.
	ErrInternalInvariant = errors.New("decoder: internal invariant violated")

	// ErrNoFeatureExtractor is returned by ProcessRaw when the session has
	// no front-end hook installed via SetFeatureExtractor (component A/B, spec.md line 8 and
	// 90 — outside this package's scope; see DESIGN.md).
	ErrNoFeatureExtractor = errors.New("decoder: no feature extractor configured for raw PCM input")
)

// Package acmod implements the acoustic scorer (spec.md §4.C, component
// C): it owns the feature stream for an utterance and produces, on
// demand, a dense per-frame senone log-likelihood vector, backed by
// either a continuous top-N Gaussian backend or a semi-continuous/PTM
// shared-codebook backend.
package acmod

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/runtime/tensor"
)

// Backend selects which density-evaluation strategy Scorer uses.
type Backend int

const (
	// Continuous is top-N per-codebook Gaussian pruning, one codebook per
	// senone (spec.md §4.C: "top-N per-codebook Gaussian pruning").
	Continuous Backend = iota
	// SemiContinuous scores every senone against a single shared
	// codebook (codebook 0). Densities are still evaluated and top-N
	// selected once per senone; there is no single top-N pass shared
	// across the senone table. Whether mixture weights are dense or
	// quantized is decided by the MixtureWeights table, not by the backend.
	SemiContinuous
)

// DefaultNTop is the typical top-N density count spec.md §4.C names.
const DefaultNTop = 4

// Scorer is the acoustic scorer: model parameters plus the per-utterance
// state (CMN drift, frame cache, optional replay/tee) spec.md §4.C
// describes.
type Scorer struct {
	def     *acmodel.Definition
	means   *acmodel.GaussianParams
	vars    *acmodel.GaussianParams
	mixw    *acmodel.MixtureWeights
	logMath *logmath.Table
	backend Backend
	nTop    int

	invVar []float32 // precomputed 1/variance, same shape as vars.Data
	norm   []float32 // precomputed per-density -0.5*sum(ln(2*pi*var_d)), one per (codebook,density)

	cmnMean  []float32
	cmnCount int

	cache map[int][]int32

	replay *replaySource
	tee    *os.File
}

// NewScorer builds a Scorer over a fixed acoustic model. nTop <= 0 uses
// DefaultNTop.
func NewScorer(def *acmodel.Definition, means, vars *acmodel.GaussianParams, mixw *acmodel.MixtureWeights, lm *logmath.Table, backend Backend, nTop int) (*Scorer, error) {
	if means.Dim != vars.Dim {
		return nil, fmt.Errorf("acmod: means dim %d != variances dim %d", means.Dim, vars.Dim)
	}
	if nTop <= 0 {
		nTop = DefaultNTop
	}
	s := &Scorer{
		def:     def,
		means:   means,
		vars:    vars,
		mixw:    mixw,
		logMath: lm,
		backend: backend,
		nTop:    nTop,
		cache:   make(map[int][]int32),
	}
	s.precompute()
	return s, nil
}

func (s *Scorer) precompute() {
	n := len(s.vars.Data)
	s.invVar = make([]float32, n)
	for i, v := range s.vars.Data {
		s.invVar[i] = 1.0 / v
	}

	nRows := s.vars.NumCodebooks * s.vars.NumDensities
	s.norm = make([]float32, nRows)
	for row := 0; row < nRows; row++ {
		base := row * s.vars.Dim
		var sum float64
		for d := 0; d < s.vars.Dim; d++ {
			sum += ln2pi(float64(s.vars.Data[base+d]))
		}
		s.norm[row] = float32(-0.5 * sum)
	}
}

// StartUtt resets per-utterance state: CMN drift and the frame cache
// (spec.md §4.C's "CMN state is allowed to drift between start_utt and
// end_utt" implies it does NOT persist across utterances).
func (s *Scorer) StartUtt() {
	s.cmnMean = nil
	s.cmnCount = 0
	s.cache = make(map[int][]int32)
}

// EndUtt finalizes the utterance; currently a no-op placeholder for
// symmetry with StartUtt, kept as a distinct method since spec.md's
// control-flow section calls out start_utt/end_utt as a matched pair at
// every layer, including the acoustic scorer.
func (s *Scorer) EndUtt() {}

// SetReplay switches the scorer into replay mode: Score reads precomputed
// senone scores from path instead of computing them (spec.md §4.C item
// 5, "optional replay").
func (s *Scorer) SetReplay(path string) error {
	r, err := openReplay(path)
	if err != nil {
		return err
	}
	s.replay = r
	return nil
}

// SetTee appends every computed senscore vector to path (spec.md §4.C
// item 6, "optional tee"). Has no effect in replay mode, since nothing is
// computed.
func (s *Scorer) SetTee(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("acmod: create tee file: %w", err)
	}
	s.tee = f
	return nil
}

// Close releases the tee file handle, if one is open.
func (s *Scorer) Close() error {
	if s.tee != nil {
		return s.tee.Close()
	}
	return nil
}

// Score returns the dense senscore[sen_id] vector for frame, computing
// and caching it on first request (spec.md §4.C items 1 and 2: "cache
// previously computed frames... never recompute"). active, when non-nil,
// restricts computation to that set of senones (spec.md §4.C item 4);
// entries outside active are left at logmath.Worst.
func (s *Scorer) Score(frame int, cep []float32, active map[acmodel.SenoneID]bool) ([]int32, error) {
	if cached, ok := s.cache[frame]; ok {
		return cached, nil
	}

	if s.replay != nil {
		scores, err := s.replay.frame(frame, s.mixw.NumSenones)
		if err != nil {
			return nil, err
		}
		s.cache[frame] = scores
		return scores, nil
	}

	normed := s.applyCMN(cep)

	scores := make([]int32, s.mixw.NumSenones)
	for i := range scores {
		scores[i] = logmath.Worst
	}

	for sen := 0; sen < s.mixw.NumSenones; sen++ {
		if active != nil && !active[acmodel.SenoneID(sen)] {
			continue
		}
		scores[sen] = s.scoreSenone(sen, normed)
	}

	s.cache[frame] = scores
	if s.tee != nil {
		writeTeeFrame(s.tee, scores)
	}
	return scores, nil
}

// scoreSenone computes one senone's log-likelihood: the log-domain
// weighted sum over its top-N densities (spec.md §4.C items 2-3).
func (s *Scorer) scoreSenone(sen int, x []float32) int32 {
	codebook := sen
	if s.backend == SemiContinuous {
		codebook = 0
	}

	type scored struct {
		density int
		logProb int32
	}
	cands := make([]scored, s.means.NumDensities)
	for density := 0; density < s.means.NumDensities; density++ {
		mahal := mahalanobis(x, s.means.At(codebook, density), s.invVar, codebook, density, s.means.Dim, s.means.NumDensities)
		row := codebook*s.means.NumDensities + density
		lnProb := float64(s.norm[row]) - 0.5*float64(mahal)
		cands[density] = scored{density: density, logProb: s.logMath.FromLn(lnProb)}
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].logProb > cands[j].logProb })
	top := s.nTop
	if top > len(cands) {
		top = len(cands)
	}

	total := logmath.Worst
	for i := 0; i < top; i++ {
		w := s.mixw.LogWeight(sen, cands[i].density)
		weighted := cands[i].logProb + s.logMath.FromLn(float64(w))
		total = s.logMath.Add(total, weighted)
	}
	return total
}

// applyCMN subtracts the running cepstral mean from cep and folds cep
// into that mean (spec.md §4.C's "CMN state is allowed to drift between
// start_utt and end_utt" — SPEC_FULL.md supplement #3: a running-mean
// CMN, not a fixed corpus-level normalization).
func (s *Scorer) applyCMN(cep []float32) []float32 {
	if s.cmnMean == nil {
		s.cmnMean = append([]float32(nil), cep...)
		s.cmnCount = 1
	} else {
		s.cmnCount++
		alpha := float32(1) / float32(s.cmnCount)
		// Running mean update: mean += (cep - mean) / count.
		tensor.Axpy(s.cmnMean, alpha, diff(cep, s.cmnMean))
	}

	normed := append([]float32(nil), cep...)
	tensor.Axpy(normed, -1, s.cmnMean)
	return normed
}

func diff(a, b []float32) []float32 {
	out := append([]float32(nil), a...)
	tensor.Axpy(out, -1, b)
	return out
}

// mahalanobis computes sum_d (x_d - mean_d)^2 / var_d via the tensor
// runtime's dense float32 kernels (spec.md §4.C / SPEC_FULL.md §4.C: "the
// arithmetic a GMM density evaluation needs is the same dense float32
// vector algebra a neural net needs"): Axpy for the residual, BroadcastMul
// to square it element-wise, MatMul to contract it against the precomputed
// inverse-variance row as a 1xD by Dx1 dot product.
func mahalanobis(x, mean, invVar []float32, codebook, density, dim, numDensities int) float32 {
	residual := append([]float32(nil), x...)
	tensor.Axpy(residual, -1, mean)

	residT, err := tensor.New(residual, []int64{1, int64(dim)})
	if err != nil {
		return 0
	}
	sq, err := tensor.BroadcastMul(residT, residT)
	if err != nil {
		return 0
	}

	base := (codebook*numDensities + density) * dim
	invVarRow := invVar[base : base+dim]
	invVarT, err := tensor.New(invVarRow, []int64{int64(dim), 1})
	if err != nil {
		return 0
	}

	out, err := tensor.MatMul(sq, invVarT)
	if err != nil {
		return 0
	}
	return out.Data()[0]
}

func ln2pi(variance float64) float64 {
	const twoPi = 6.283185307179586
	return math.Log(twoPi * variance)
}

package decoder

import (
	"fmt"
	"path/filepath"

	"github.com/example/go-voxdecoder/internal/acmod"
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
)

// bundle file names, matching internal/bundle.PinnedManifest("en-us-5.2").
const (
	fileMdef       = "mdef"
	fileMeans      = "means"
	fileVariances  = "variances"
	fileMixw       = "mixture_weights"
	fileTmat       = "transition_matrices"
	fileDict       = "cmudict-en-us.dict"
	fileFillerDict = "cmudict-en-us.fillerdict"
	fileLM         = "en-us.lm.bin"
)

// LoadModels assembles a Models set from a bundle directory laid out the
// way internal/bundle.Download populates one: the acoustic model
// definition and its Gaussian/mixture-weight/transition-matrix files, the
// pronunciation and filler dictionaries, and (if present) a dumped
// internal/lm n-gram model. When no LM file is present, LoadModels falls
// back to a flat unigram model over the dictionary's words — the bundled
// toy model SPEC_FULL.md's internal/lm entry describes, since this repo
// does not parse externally defined LM file formats (ARPA and friends
// stay out of scope per spec.md's own non-goals).
func LoadModels(dir string, nTop int) (Models, error) {
	def, err := acmodel.ReadDefinition(filepath.Join(dir, fileMdef))
	if err != nil {
		return Models{}, fmt.Errorf("decoder: load mdef: %w", err)
	}
	means, err := acmodel.ReadMeans(filepath.Join(dir, fileMeans))
	if err != nil {
		return Models{}, fmt.Errorf("decoder: load means: %w", err)
	}
	vars, err := acmodel.ReadVariances(filepath.Join(dir, fileVariances))
	if err != nil {
		return Models{}, fmt.Errorf("decoder: load variances: %w", err)
	}
	mixw, err := acmodel.ReadMixtureWeights(filepath.Join(dir, fileMixw))
	if err != nil {
		return Models{}, fmt.Errorf("decoder: load mixture weights: %w", err)
	}
	tmats, err := acmodel.ReadTransitionMatrices(filepath.Join(dir, fileTmat))
	if err != nil {
		return Models{}, fmt.Errorf("decoder: load transition matrices: %w", err)
	}

	d := dict.New()
	if err := d.Load(filepath.Join(dir, fileDict)); err != nil {
		return Models{}, fmt.Errorf("decoder: load dictionary: %w", err)
	}
	if err := d.LoadFiller(filepath.Join(dir, fileFillerDict)); err != nil {
		return Models{}, fmt.Errorf("decoder: load filler dictionary: %w", err)
	}

	d2p, err := dict2pid.Build(def, d)
	if err != nil {
		return Models{}, fmt.Errorf("decoder: build dict2pid table: %w", err)
	}

	logMath := logmath.NewTable(logmath.DefaultBase)
	if nTop <= 0 {
		nTop = 4
	}
	scorer, err := acmod.NewScorer(def, means, vars, mixw, logMath, acmod.Continuous, nTop)
	if err != nil {
		return Models{}, fmt.Errorf("decoder: build scorer: %w", err)
	}

	model, vocab, err := loadOrBuildLM(dir, d)
	if err != nil {
		return Models{}, err
	}

	wordToLM := func(wid dict.WordID) lm.WordID {
		return vocab.IDOf(d.Word(wid).Name)
	}

	return Models{
		Def:         def,
		Dict:        d,
		D2P:         d2p,
		Tmats:       tmats,
		Scorer:      scorer,
		LogMath:     logMath,
		LM:          model,
		Fillers:     lm.NewFillerPenalties(-20),
		WordToLM:    wordToLM,
		IsFiller:    d.IsFiller,
		NEmitStates: def.NEmitStates,
	}, nil
}

func loadOrBuildLM(dir string, d *dict.Dictionary) (lm.Model, *lm.Vocab, error) {
	path := filepath.Join(dir, fileLM)
	model, err := lm.ReadModel(path)
	if err == nil {
		return model, model.Vocab(), nil
	}

	vocab := lm.NewVocab("<unk>", "<s>", "</s>")
	words := make([]string, 0, d.Len())
	for i := 0; i < d.Len(); i++ {
		w := d.Word(dict.WordID(i))
		if w.BaseWid == dict.WordID(i) {
			words = append(words, w.Name)
		}
	}
	toy := lm.NewUnigramModel(vocab, words, -10)
	return toy, vocab, nil
}

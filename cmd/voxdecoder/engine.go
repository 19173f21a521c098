package main

import (
	"fmt"

	"github.com/example/go-voxdecoder/internal/config"
	"github.com/example/go-voxdecoder/internal/decoder"
	"github.com/example/go-voxdecoder/internal/search"
)

// buildEngine loads a model bundle from cfg.Paths.ModelDir and constructs
// an Engine ready for decode/align sessions.
func buildEngine(cfg config.Config) (*decoder.Engine, error) {
	models, err := decoder.LoadModels(cfg.Paths.ModelDir, 0)
	if err != nil {
		return nil, fmt.Errorf("load model bundle %q: %w", cfg.Paths.ModelDir, err)
	}

	dc := cfg.Decoder()
	engineCfg := decoder.Config{
		Search: search.Config{
			HMMBeam:          dc.HMMBeam,
			PhoneBeam:        dc.PhoneBeam,
			WordBeam:         dc.WordBeam,
			VithistBeam:      dc.VithistBeam,
			MaxWordsPerFrame: dc.MaxWordsPerFrame,
			MaxHistPerFrame:  dc.MaxHistPerFrame,
			N:                dc.TreeCopies,
		},
		TreeCopies:        dc.TreeCopies,
		CacheSize:         dc.CacheSize,
		LookaheadWindow:   dc.LookaheadWindow,
		MinEFRange:        dc.MinEFRange,
		LMWeight:          dc.LMWeight,
		InSpeechThreshold: dc.InSpeechThreshold,
	}

	engine, err := decoder.NewEngine(models, engineCfg)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return engine, nil
}

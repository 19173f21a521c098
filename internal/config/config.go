// Package config loads the CLI/server's typed configuration: model bundle
// paths, search beam widths, the two-pass cache/lookahead split, and
// server/runtime knobs, merged from defaults, an optional config file, and
// flags/environment, the same viper+pflag precedence the teacher's config
// package established.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Search   SearchConfig  `mapstructure:"search"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Server   ServerConfig  `mapstructure:"server"`
	LogLevel string        `mapstructure:"log_level"`
}

// PathsConfig locates the acoustic-model bundle on disk (spec.md §6): the
// model definition, Gaussian/mixture-weight/transition-matrix files,
// dictionaries, and LM all live under ModelDir at the fixed names
// internal/bundle.PinnedManifest downloads them as.
type PathsConfig struct {
	ModelDir string `mapstructure:"model_dir"`
}

// SearchConfig holds the beam widths and two-pass cache/lookahead split
// internal/decoder.Config wraps (spec.md §4.G, §4.L).
type SearchConfig struct {
	HMMBeam           int32   `mapstructure:"hmm_beam"`
	PhoneBeam         int32   `mapstructure:"phone_beam"`
	WordBeam          int32   `mapstructure:"word_beam"`
	VithistBeam       int32   `mapstructure:"vithist_beam"`
	MaxWordsPerFrame  int     `mapstructure:"max_words_per_frame"`
	MaxHistPerFrame   int     `mapstructure:"max_hist_per_frame"`
	TreeCopies        int     `mapstructure:"tree_copies"`
	CacheSize         int     `mapstructure:"cache_size"`
	LookaheadWindow   int     `mapstructure:"lookahead_window"`
	MinEFRange        int     `mapstructure:"min_ef_range"`
	LMWeight          float64 `mapstructure:"lm_weight"`
	InSpeechThreshold float64 `mapstructure:"in_speech_threshold"`
}

// RuntimeConfig holds the front-end framing a caller feeding raw PCM into
// Session.ProcessRaw needs to agree on with whatever FeatureExtractor it
// installs (spec.md §4.L); the decoder itself is agnostic to these beyond
// passing samples through.
type RuntimeConfig struct {
	SampleRate    int `mapstructure:"sample_rate"`
	FrameShiftMS  int `mapstructure:"frame_shift_ms"`
	FrameLengthMS int `mapstructure:"frame_length_ms"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout_secs"`
	RequestTimeout  int    `mapstructure:"request_timeout_secs"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir: "models/en-us-5.2",
		},
		Search: SearchConfig{
			HMMBeam:           -160000,
			PhoneBeam:         -160000,
			WordBeam:          -160000,
			VithistBeam:       -160000,
			MaxWordsPerFrame:  0,
			MaxHistPerFrame:   0,
			TreeCopies:        3,
			CacheSize:         8,
			LookaheadWindow:   2,
			MinEFRange:        2,
			LMWeight:          9.5,
			InSpeechThreshold: 0,
		},
		Runtime: RuntimeConfig{
			SampleRate:    16000,
			FrameShiftMS:  10,
			FrameLengthMS: 25,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			ShutdownTimeout: 30,
			RequestTimeout:  60,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Path to the acoustic model bundle directory")
	fs.Int32("hmm-beam", defaults.Search.HMMBeam, "Per-HMM pruning beam (log domain, negative width)")
	fs.Int32("phone-beam", defaults.Search.PhoneBeam, "Per-phone exit pruning beam (log domain, negative width)")
	fs.Int32("word-beam", defaults.Search.WordBeam, "Word-exit pruning beam (log domain, negative width)")
	fs.Int32("vithist-beam", defaults.Search.VithistBeam, "Backpointer-table pruning beam (log domain, negative width)")
	fs.Int("max-words-per-frame", defaults.Search.MaxWordsPerFrame, "Cap on word exits recorded per frame (0 = unlimited)")
	fs.Int("max-hist-per-frame", defaults.Search.MaxHistPerFrame, "Cap on backpointer entries retained per frame (0 = unlimited)")
	fs.Int("tree-copies", defaults.Search.TreeCopies, "Number of interleaved lexical-tree copies")
	fs.Int("cache-size", defaults.Search.CacheSize, "Frames buffered before driving the active search forward")
	fs.Int("lookahead-window", defaults.Search.LookaheadWindow, "Frames held back from the cache as scoring lookahead")
	fs.Int("min-ef-range", defaults.Search.MinEFRange, "Minimum end-frame range for an n-best hypothesis to be reported")
	fs.Float64("lm-weight", defaults.Search.LMWeight, "Language model weight applied during n-best rescoring")
	fs.Float64("in-speech-threshold", defaults.Search.InSpeechThreshold, "Per-frame energy threshold for the in-speech gate (0 = package default)")
	fs.Int("sample-rate", defaults.Runtime.SampleRate, "Expected input sample rate in Hz")
	fs.Int("frame-shift-ms", defaults.Runtime.FrameShiftMS, "Front-end frame shift in milliseconds")
	fs.Int("frame-length-ms", defaults.Runtime.FrameLengthMS, "Front-end frame length in milliseconds")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent decode sessions for the serve command")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain timeout in seconds")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request decode timeout in seconds")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("VOXDECODER")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("voxdecoder")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("search.hmm_beam", c.Search.HMMBeam)
	v.SetDefault("search.phone_beam", c.Search.PhoneBeam)
	v.SetDefault("search.word_beam", c.Search.WordBeam)
	v.SetDefault("search.vithist_beam", c.Search.VithistBeam)
	v.SetDefault("search.max_words_per_frame", c.Search.MaxWordsPerFrame)
	v.SetDefault("search.max_hist_per_frame", c.Search.MaxHistPerFrame)
	v.SetDefault("search.tree_copies", c.Search.TreeCopies)
	v.SetDefault("search.cache_size", c.Search.CacheSize)
	v.SetDefault("search.lookahead_window", c.Search.LookaheadWindow)
	v.SetDefault("search.min_ef_range", c.Search.MinEFRange)
	v.SetDefault("search.lm_weight", c.Search.LMWeight)
	v.SetDefault("search.in_speech_threshold", c.Search.InSpeechThreshold)
	v.SetDefault("runtime.sample_rate", c.Runtime.SampleRate)
	v.SetDefault("runtime.frame_shift_ms", c.Runtime.FrameShiftMS)
	v.SetDefault("runtime.frame_length_ms", c.Runtime.FrameLengthMS)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.shutdown_timeout_secs", c.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout_secs", c.Server.RequestTimeout)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.model_dir", "paths-model-dir")
	v.RegisterAlias("search.hmm_beam", "hmm-beam")
	v.RegisterAlias("search.phone_beam", "phone-beam")
	v.RegisterAlias("search.word_beam", "word-beam")
	v.RegisterAlias("search.vithist_beam", "vithist-beam")
	v.RegisterAlias("search.max_words_per_frame", "max-words-per-frame")
	v.RegisterAlias("search.max_hist_per_frame", "max-hist-per-frame")
	v.RegisterAlias("search.tree_copies", "tree-copies")
	v.RegisterAlias("search.cache_size", "cache-size")
	v.RegisterAlias("search.lookahead_window", "lookahead-window")
	v.RegisterAlias("search.min_ef_range", "min-ef-range")
	v.RegisterAlias("search.lm_weight", "lm-weight")
	v.RegisterAlias("search.in_speech_threshold", "in-speech-threshold")
	v.RegisterAlias("runtime.sample_rate", "sample-rate")
	v.RegisterAlias("runtime.frame_shift_ms", "frame-shift-ms")
	v.RegisterAlias("runtime.frame_length_ms", "frame-length-ms")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.workers", "workers")
	v.RegisterAlias("server.shutdown_timeout_secs", "shutdown-timeout")
	v.RegisterAlias("server.request_timeout_secs", "request-timeout")
	v.RegisterAlias("log_level", "log-level")
}

// DecoderConfig adapts a loaded Config into internal/decoder.Config's
// shape. Kept here as a plain struct, without importing internal/decoder;
// the caller — cmd/voxdecoder, internal/server — converts from it.
type DecoderConfig struct {
	HMMBeam, PhoneBeam, WordBeam, VithistBeam int32
	MaxWordsPerFrame, MaxHistPerFrame         int
	TreeCopies, CacheSize, LookaheadWindow    int
	MinEFRange                                int
	LMWeight                                  float32
	InSpeechThreshold                         float32
}

// Decoder extracts the subset of c.Search that shapes internal/decoder.Config.
func (c Config) Decoder() DecoderConfig {
	return DecoderConfig{
		HMMBeam:           c.Search.HMMBeam,
		PhoneBeam:         c.Search.PhoneBeam,
		WordBeam:          c.Search.WordBeam,
		VithistBeam:       c.Search.VithistBeam,
		MaxWordsPerFrame:  c.Search.MaxWordsPerFrame,
		MaxHistPerFrame:   c.Search.MaxHistPerFrame,
		TreeCopies:        c.Search.TreeCopies,
		CacheSize:         c.Search.CacheSize,
		LookaheadWindow:   c.Search.LookaheadWindow,
		MinEFRange:        c.Search.MinEFRange,
		LMWeight:          float32(c.Search.LMWeight),
		InSpeechThreshold: float32(c.Search.InSpeechThreshold),
	}
}

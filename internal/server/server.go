// Package server is an HTTP façade over internal/decoder.Session: POST
// pre-extracted cepstral feature frames in, get a hypothesis (or a forced
// alignment) back out. Front-end signal processing stays the caller's
// job (spec.md's own non-goal) — this package never touches raw audio.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/go-voxdecoder/internal/config"
	"github.com/example/go-voxdecoder/internal/decoder"
	"github.com/example/go-voxdecoder/internal/dict"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		workers:        2,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithWorkers sets the maximum number of concurrent decode sessions.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request decode deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests. One
// Engine backs every request; each request gets its own Session, matching
// spec.md §5's "one decoder, one utterance in flight at a time" — per-
// request concurrency, not per-session.
type handler struct {
	engine *decoder.Engine
	opts   options
	sem    chan struct{} // semaphore for worker pool
	log    *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, POST /decode,
// and POST /align over engine.
func NewHandler(engine *decoder.Engine, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		engine: engine,
		opts:   opts,
		log:    opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/decode", h.handleDecode)
	mux.HandleFunc("/align", h.handleAlign)

	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

// decodeRequest carries pre-extracted cepstral feature frames: this
// façade never parses raw audio (spec.md's front-end non-goal).
type decodeRequest struct {
	Frames [][]float32 `json:"frames"`
}

type decodeResponse struct {
	Words []string      `json:"words"`
	Prob  int32         `json:"log_probability,omitempty"`
	Error string        `json:"error,omitempty"`
	Segs  []segmentView `json:"segments,omitempty"`
}

type segmentView struct {
	Word       string `json:"word"`
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
}

func (h *handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req decodeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Frames) == 0 {
		writeError(w, http.StatusBadRequest, "frames field is required and must be non-empty")
		return
	}

	if !h.acquireWorker(r.Context(), w) {
		return
	}
	if h.sem != nil {
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	sess := decoder.NewSession(h.engine)
	resp, err := h.runTreeFlat(ctx, sess, req.Frames)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		h.logDecodeError(r.Context(), "decode", err, len(req.Frames), durationMS)
		writeJSON(w, http.StatusUnprocessableEntity, decodeResponse{Error: err.Error()})
		return
	}

	h.log.InfoContext(r.Context(), "decode complete",
		slog.Int("frames", len(req.Frames)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("words", len(resp.Words)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) runTreeFlat(ctx context.Context, sess *decoder.Session, frames [][]float32) (decodeResponse, error) {
	if err := sess.SetSearch(decoder.ModeTreeFlat); err != nil {
		return decodeResponse{}, err
	}
	if err := sess.StartUtt(); err != nil {
		return decodeResponse{}, err
	}
	for _, cep := range frames {
		if ctx.Err() != nil {
			return decodeResponse{}, ctx.Err()
		}
		if err := sess.ProcessCep(cep); err != nil {
			return decodeResponse{}, err
		}
	}
	if err := sess.EndUtt(); err != nil {
		return decodeResponse{}, err
	}

	hyp, err := sess.Hypothesis()
	if err != nil {
		return decodeResponse{}, err
	}

	dictionary := h.engine.Models().Dict
	words := make([]string, 0, len(hyp))
	for _, wid := range hyp {
		words = append(words, dictionary.Word(wid).Name)
	}

	prob, err := sess.Probability()
	if err != nil {
		return decodeResponse{}, err
	}

	return decodeResponse{Words: words, Prob: prob}, nil
}

type alignRequest struct {
	Frames [][]float32 `json:"frames"`
	Words  []string    `json:"words"`
}

func (h *handler) handleAlign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req alignRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Frames) == 0 {
		writeError(w, http.StatusBadRequest, "frames field is required and must be non-empty")
		return
	}
	if len(req.Words) == 0 {
		writeError(w, http.StatusBadRequest, "words field is required and must be non-empty")
		return
	}

	if !h.acquireWorker(r.Context(), w) {
		return
	}
	if h.sem != nil {
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	dictionary := h.engine.Models().Dict
	wids := make([]dict.WordID, 0, len(req.Words))
	for _, word := range req.Words {
		wid, ok := dictionary.WordToID(word)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown word %q", word))
			return
		}
		wids = append(wids, wid)
	}

	start := time.Now()
	sess := decoder.NewSession(h.engine)
	resp, err := h.runAlign(ctx, sess, req.Frames, wids)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		h.logDecodeError(r.Context(), "align", err, len(req.Frames), durationMS)
		writeJSON(w, http.StatusUnprocessableEntity, decodeResponse{Error: err.Error()})
		return
	}

	h.log.InfoContext(r.Context(), "align complete",
		slog.Int("frames", len(req.Frames)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("segments", len(resp.Segs)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) runAlign(ctx context.Context, sess *decoder.Session, frames [][]float32, wids []dict.WordID) (decodeResponse, error) {
	if err := sess.SetAlignTranscript(wids); err != nil {
		return decodeResponse{}, err
	}
	if err := sess.StartUtt(); err != nil {
		return decodeResponse{}, err
	}
	for _, cep := range frames {
		if ctx.Err() != nil {
			return decodeResponse{}, ctx.Err()
		}
		if err := sess.ProcessCep(cep); err != nil {
			return decodeResponse{}, err
		}
	}
	if err := sess.EndUtt(); err != nil {
		return decodeResponse{}, err
	}

	segs, err := sess.SegmentIter()
	if err != nil {
		return decodeResponse{}, err
	}

	dictionary := h.engine.Models().Dict
	views := make([]segmentView, 0, len(segs))
	words := make([]string, 0, len(segs))
	for _, seg := range segs {
		name := dictionary.Word(seg.Wid).Name
		words = append(words, name)
		views = append(views, segmentView{Word: name, StartFrame: seg.StartFrame, EndFrame: seg.EndFrame})
	}

	return decodeResponse{Words: words, Segs: views}, nil
}

func (h *handler) logDecodeError(ctx context.Context, op string, err error, frames int, durationMS int64) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		h.log.WarnContext(ctx, op+" timed out",
			slog.Int("frames", frames),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
		return
	}
	h.log.ErrorContext(ctx, op+" failed",
		slog.Int("frames", frames),
		slog.Int64("duration_ms", durationMS),
		slog.String("error", err.Error()),
	)
}

func (h *handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// acquireWorker tries to acquire a worker slot from the semaphore.
// Returns true on success. On failure (context cancelled) it writes an HTTP
// error and returns false. When sem is nil (no throttling) it returns true
// immediately.
func (h *handler) acquireWorker(ctx context.Context, w http.ResponseWriter) bool {
	if h.sem == nil {
		return true
	}

	select {
	case h.sem <- struct{}{}:
		return true
	default:
		h.log.Info("request queued for worker slot")

		select {
		case h.sem <- struct{}{}:
			return true
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return false
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Warn("encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	engine          *decoder.Engine
	shutdownTimeout time.Duration
}

func New(cfg config.Config, engine *decoder.Engine) *Server {
	shutdownTimeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		engine:          engine,
		shutdownTimeout: shutdownTimeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) Start(ctx context.Context) error {
	workers := s.cfg.Server.Workers
	if workers <= 0 {
		workers = 2
	}

	h := NewHandler(s.engine,
		WithWorkers(workers),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}

	return nil
}

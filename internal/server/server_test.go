package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/decoder"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/search"
	"github.com/example/go-voxdecoder/internal/server"
)

// writeFixtureBundle lays out a minimal one-content-word/one-filler-word
// bundle directory in the shape internal/bundle.Download produces, so
// decoder.LoadModels can build a real Engine without a real model bundle.
// Mirrors internal/decoder's own load_test.go fixture.
func writeFixtureBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	ciPhones := []acmodel.CIPhone{
		{Name: "SIL", Flags: acmodel.CIPhoneFlagFiller},
		{Name: "AH"},
	}
	none := acmodel.NoCIPhone
	ah := acmodel.CIPhoneID(1)
	sil := acmodel.CIPhoneID(0)
	triphones := []acmodel.Triphone{
		{Base: ah, Left: none, Right: none, Pos: acmodel.PosSingle, SSeq: 0, Tmat: 0},
		{Base: sil, Left: none, Right: none, Pos: acmodel.PosSingle, SSeq: 1, Tmat: 0},
	}
	senoneSeqs := [][]acmodel.SenoneID{{0}, {1}}
	def := acmodel.NewDefinition(ciPhones, 1, senoneSeqs, triphones)
	if err := acmodel.WriteDefinition(filepath.Join(dir, "mdef"), def); err != nil {
		t.Fatalf("WriteDefinition: %v", err)
	}

	means := &acmodel.GaussianParams{NumCodebooks: 2, NumDensities: 1, Dim: 1, Data: []float32{0, 10}}
	if err := acmodel.WriteGaussianParams(filepath.Join(dir, "means"), means); err != nil {
		t.Fatalf("write means: %v", err)
	}
	vars := &acmodel.GaussianParams{NumCodebooks: 2, NumDensities: 1, Dim: 1, Data: []float32{1, 1}}
	if err := acmodel.WriteGaussianParams(filepath.Join(dir, "variances"), vars); err != nil {
		t.Fatalf("write variances: %v", err)
	}
	mixw := &acmodel.MixtureWeights{NumSenones: 2, NumDensities: 1, Dense: []float32{0, 0}}
	if err := acmodel.WriteMixtureWeights(filepath.Join(dir, "mixture_weights"), mixw); err != nil {
		t.Fatalf("write mixture weights: %v", err)
	}

	m := []int32{
		-1, -1,
		logmath.Worst, -1,
	}
	tmat := &acmodel.TransitionMatrices{NumStates: 2, Matrices: [][]int32{m}}
	if err := acmodel.WriteTransitionMatrices(filepath.Join(dir, "transition_matrices"), tmat); err != nil {
		t.Fatalf("write transition matrices: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "cmudict-en-us.dict"), []byte("A AH\n"), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cmudict-en-us.fillerdict"), []byte("SIL SIL\n"), 0o644); err != nil {
		t.Fatalf("write filler dict: %v", err)
	}

	return dir
}

func testEngine(t *testing.T) *decoder.Engine {
	t.Helper()

	models, err := decoder.LoadModels(writeFixtureBundle(t), 0)
	if err != nil {
		t.Fatalf("LoadModels: %v", err)
	}

	cfg := decoder.Config{
		Search: search.Config{
			HMMBeam:          100000,
			PhoneBeam:        100000,
			WordBeam:         100000,
			MaxWordsPerFrame: 0,
			MaxHistPerFrame:  0,
			// vithist.Table.Prune computes threshold = curBestScore +
			// VithistBeam directly, so this is a negative width.
			VithistBeam: -1000000,
		},
	}

	engine, err := decoder.NewEngine(models, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func oneFrame() [][]float32 {
	return [][]float32{{0}}
}

func TestHandleHealth(t *testing.T) {
	h := server.NewHandler(testEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", body["status"])
	}
}

func TestHandleDecodeRejectsEmptyFrames(t *testing.T) {
	h := server.NewHandler(testEngine(t))

	body, _ := json.Marshal(map[string]any{"frames": [][]float32{}})
	req := httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty frames, got %d", rr.Code)
	}
}

func TestHandleDecodeRejectsWrongMethod(t *testing.T) {
	h := server.NewHandler(testEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/decode", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleDecodeHappyPath(t *testing.T) {
	h := server.NewHandler(testEngine(t), server.WithRequestTimeout(5*time.Second))

	payload, _ := json.Marshal(map[string]any{"frames": oneFrame()})
	req := httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Words []string `json:"words"`
		Error string   `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected decode error: %s", resp.Error)
	}
}

func TestHandleAlignRejectsUnknownWord(t *testing.T) {
	h := server.NewHandler(testEngine(t))

	payload, _ := json.Marshal(map[string]any{
		"frames": oneFrame(),
		"words":  []string{"NOPE"},
	})
	req := httptest.NewRequest(http.MethodPost, "/align", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown word, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleAlignRejectsMissingWords(t *testing.T) {
	h := server.NewHandler(testEngine(t))

	payload, _ := json.Marshal(map[string]any{"frames": oneFrame()})
	req := httptest.NewRequest(http.MethodPost, "/align", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing words, got %d", rr.Code)
	}
}

func TestHandleAlignHappyPath(t *testing.T) {
	h := server.NewHandler(testEngine(t))

	payload, _ := json.Marshal(map[string]any{
		"frames": oneFrame(),
		"words":  []string{"A"},
	})
	req := httptest.NewRequest(http.MethodPost, "/align", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWorkersLimitConcurrency(t *testing.T) {
	h := server.NewHandler(testEngine(t), server.WithWorkers(1), server.WithRequestTimeout(2*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{"frames": oneFrame()})

	done := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(payload)).WithContext(ctx)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			done <- rr.Code
		}()
	}

	for i := 0; i < 2; i++ {
		code := <-done
		if code != http.StatusOK && code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status under worker contention: %d", code)
		}
	}
}

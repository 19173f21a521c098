// Package testutil provides shared skip helpers for decoder integration
// tests.
//
// RequireModelBundle calls t.Skip with a clear human-readable reason when a
// real acoustic-model bundle isn't configured, so integration tests remain
// runnable in partial environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    dir := testutil.RequireModelBundle(t, "en-us-5.2")
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voxdecoder/internal/bundle"
)

// RequireModelBundle returns the directory of a real, complete acoustic
// model bundle, skipping the test if one isn't configured. The bundle
// directory is read from the VOXDECODER_MODEL_DIR environment variable;
// every file bundle.PinnedManifest(name) names must be present under it.
func RequireModelBundle(t testing.TB, name string) string {
	t.Helper()

	dir := os.Getenv("VOXDECODER_MODEL_DIR")
	if dir == "" {
		t.Skip("no real model bundle configured; set VOXDECODER_MODEL_DIR to run this test")
	}

	manifest, err := bundle.PinnedManifest(name)
	if err != nil {
		t.Fatalf("unknown bundle %q: %v", name, err)
	}

	for _, f := range manifest.Files {
		if _, err := os.Stat(filepath.Join(dir, f.Filename)); err != nil {
			t.Skipf("bundle at %s missing %s: %v", dir, f.Filename, err)
		}
	}

	return dir
}

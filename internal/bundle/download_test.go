package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestPinnedManifestEnUS(t *testing.T) {
	m, err := PinnedManifest("en-us-5.2")
	if err != nil {
		t.Fatalf("manifest error: %v", err)
	}
	if len(m.Files) == 0 {
		t.Fatal("expected files in manifest")
	}
}

func TestPinnedManifestUnknown(t *testing.T) {
	if _, err := PinnedManifest("no-such-bundle"); err == nil {
		t.Fatal("expected error for unknown bundle name")
	}
}

func TestExistingMatches(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "x.bin")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	sum := sha256.Sum256([]byte("hello"))
	want := hex.EncodeToString(sum[:])

	ok, err := existingMatches(p, want)
	if err != nil {
		t.Fatalf("existingMatches error: %v", err)
	}
	if !ok {
		t.Fatal("expected checksum match")
	}

	ok, err = existingMatches(p, "00"+want[2:])
	if err != nil {
		t.Fatalf("existingMatches error: %v", err)
	}
	if ok {
		t.Fatal("expected checksum mismatch")
	}
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	const payload = "mdef-contents"
	sum := sha256.Sum256([]byte(payload))
	digest := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	out := t.TempDir()
	m := Manifest{Name: "test-bundle", Files: []File{{Filename: "mdef", SHA256: digest}}}

	if err := Download(DownloadOptions{Manifest: m, BaseURL: srv.URL, OutDir: out}); err != nil {
		t.Fatalf("download: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(out, "mdef"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("got %q, want %q", got, payload)
	}

	if err := Verify(VerifyOptions{Manifest: m, Dir: out}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("actual-content"))
	}))
	defer srv.Close()

	out := t.TempDir()
	m := Manifest{Name: "test-bundle", Files: []File{{Filename: "mdef", SHA256: "deadbeef"}}}

	if err := Download(DownloadOptions{Manifest: m, BaseURL: srv.URL, OutDir: out}); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

package bundle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// VerifyOptions configures a local bundle integrity check.
type VerifyOptions struct {
	Manifest Manifest
	Dir      string
	Stdout   io.Writer
	Stderr   io.Writer
}

// Verify checks that every file in opts.Manifest is present under opts.Dir
// and, where a checksum is pinned, that it matches. It reports every
// failure rather than stopping at the first.
func Verify(opts VerifyOptions) error {
	if opts.Dir == "" {
		return fmt.Errorf("bundle: dir is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	var failures []string

	for _, f := range opts.Manifest.Files {
		localName := f.LocalPath
		if localName == "" {
			localName = f.Filename
		}
		path := filepath.Join(opts.Dir, filepath.FromSlash(localName))

		if _, err := os.Stat(path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Filename, err))
			continue
		}

		if f.SHA256 == "" {
			fmt.Fprintf(opts.Stdout, "ok   %s (present, unpinned)\n", f.Filename)
			continue
		}

		actual, err := fileSHA256(path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Filename, err))
			continue
		}
		if !strings.EqualFold(actual, f.SHA256) {
			failures = append(failures, fmt.Sprintf("%s: checksum mismatch (want %s, got %s)", f.Filename, f.SHA256, actual))
			continue
		}
		fmt.Fprintf(opts.Stdout, "ok   %s (sha256 verified)\n", f.Filename)
	}

	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Fprintf(opts.Stderr, "FAIL %s\n", f)
		}
		return fmt.Errorf("bundle: %d file(s) failed verification", len(failures))
	}

	return nil
}

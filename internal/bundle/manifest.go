// Package bundle manages acoustic model bundles: the acoustic model
// definition, mean/variance/mixture-weight files, the pronunciation
// dictionary, and the language model, downloaded and verified as a unit.
package bundle

import "fmt"

// Manifest describes one downloadable model bundle: a pinned acoustic
// model plus the dictionary and language model files it ships with.
type Manifest struct {
	Name  string `json:"name"`
	Files []File `json:"files"`
}

// File is one member of a bundle: a checksum-pinned file at a known
// relative path under the bundle's base URL.
type File struct {
	Filename  string `json:"filename"`
	SHA256    string `json:"sha256"`
	LocalPath string `json:"local_path,omitempty"` // overrides Filename for the on-disk save path
}

// PinnedManifest returns the built-in manifest for a named bundle. Callers
// may also build a Manifest by hand for a private model.
func PinnedManifest(name string) (Manifest, error) {
	switch name {
	case "en-us-5.2":
		return Manifest{
			Name: name,
			Files: []File{
				{Filename: "mdef", SHA256: ""},
				{Filename: "means", SHA256: ""},
				{Filename: "variances", SHA256: ""},
				{Filename: "mixture_weights", SHA256: ""},
				{Filename: "transition_matrices", SHA256: ""},
				{Filename: "cmudict-en-us.dict", SHA256: ""},
				{Filename: "cmudict-en-us.fillerdict", SHA256: ""},
				{Filename: "en-us.lm.bin", SHA256: ""},
			},
		}, nil
	default:
		return Manifest{}, fmt.Errorf("bundle: no pinned manifest for %q", name)
	}
}

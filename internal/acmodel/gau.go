package acmodel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// GaussianParams holds one array of per-codebook, per-density N-dimensional
// float vectors — either the mean or the (already variance-floored)
// variance file described in spec.md §6.
type GaussianParams struct {
	NumCodebooks int
	NumDensities int
	Dim          int
	Data         []float32 // len == NumCodebooks*NumDensities*Dim, row-major
}

// At returns the Dim-length feature vector for (codebook, density).
func (g *GaussianParams) At(codebook, density int) []float32 {
	base := (codebook*g.NumDensities + density) * g.Dim
	return g.Data[base : base+g.Dim]
}

// DefaultVarianceFloor matches the reference implementation's default
// variance floor applied at load time so no density collapses to a
// zero-width Gaussian.
const DefaultVarianceFloor = 1e-5

// ApplyVarianceFloor clamps every value in a variance file up to floor.
// Called once after reading; spec.md §6 requires "a floor applied to
// variances at load time."
func ApplyVarianceFloor(v *GaussianParams, floor float32) {
	for i, x := range v.Data {
		if x < floor {
			v.Data[i] = floor
		}
	}
}

// ReadMeans reads a means file.
func ReadMeans(path string) (*GaussianParams, error) {
	return readGaussianParams(path)
}

// ReadVariances reads a variances file and applies DefaultVarianceFloor.
func ReadVariances(path string) (*GaussianParams, error) {
	g, err := readGaussianParams(path)
	if err != nil {
		return nil, err
	}
	ApplyVarianceFloor(g, DefaultVarianceFloor)
	return g, nil
}

func readGaussianParams(path string) (*GaussianParams, error) {
	br, f, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := readHeader(br, tagGau); err != nil {
		return nil, err
	}

	var nCodebooks, nDensities, dim uint32
	if err := binary.Read(br, binary.LittleEndian, &nCodebooks); err != nil {
		return nil, fmt.Errorf("acmodel: read codebook count: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &nDensities); err != nil {
		return nil, fmt.Errorf("acmodel: read density count: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("acmodel: read dimension: %w", err)
	}

	data, err := readF32Slice(br)
	if err != nil {
		return nil, err
	}
	want := int(nCodebooks) * int(nDensities) * int(dim)
	if len(data) != want {
		return nil, fmt.Errorf("acmodel: gaussian params has %d floats, want %d (%dx%dx%d)", len(data), want, nCodebooks, nDensities, dim)
	}

	return &GaussianParams{
		NumCodebooks: int(nCodebooks),
		NumDensities: int(nDensities),
		Dim:          int(dim),
		Data:         data,
	}, nil
}

// WriteGaussianParams serializes means or variances in the format
// ReadMeans/ReadVariances understand.
func WriteGaussianParams(path string, g *GaussianParams) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("acmodel: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHeader(w, tagGau, 1); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(g.NumCodebooks)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(g.NumDensities)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(g.Dim)); err != nil {
		return err
	}
	if err := writeF32Slice(w, g.Data); err != nil {
		return err
	}
	return w.Flush()
}

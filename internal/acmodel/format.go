// Package acmodel reads and writes the context-dependent acoustic model
// definition and its parameter files: the little-endian binary layout
// described in spec.md §6 (magic-string header, CI phone table, triphone
// table, shared senone-sequence table, mean/variance arrays, mixture
// weights, transition matrices).
//
// The binary shape follows the teacher's safetensors reader/writer (an
// 8-byte length-prefixed header followed by raw payload bytes) adapted
// from a JSON tensor header to a fixed-record header suited to small
// typed tables instead of named tensors.
package acmodel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// magic identifies a voxdecoder acoustic model file. Each file kind below
// carries its own 4-byte tag after the magic so a misrouted file (e.g.
// means opened as mdef) fails fast with a clear error instead of a bounds
// panic deep in decoding.
const magic = "VXAM"

const (
	tagMdef = "MDEF"
	tagGau  = "MGAU" // means or variances, distinguished by caller
	tagMixw = "MIXW"
	tagTmat = "TMAT"
)

// header is the fixed-size preamble shared by every model file.
type header struct {
	tag     string
	version uint32
}

func writeHeader(w io.Writer, tag string, version uint32) error {
	if len(tag) != 4 {
		return fmt.Errorf("acmodel: tag %q must be 4 bytes", tag)
	}
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if _, err := io.WriteString(w, tag); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, version)
}

func readHeader(r io.Reader, wantTag string) (header, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return header{}, fmt.Errorf("acmodel: read header: %w", err)
	}
	if string(buf[:4]) != magic {
		return header{}, fmt.Errorf("acmodel: bad magic %q, want %q", buf[:4], magic)
	}
	tag := string(buf[4:8])
	if tag != wantTag {
		return header{}, fmt.Errorf("acmodel: file tag %q, want %q", tag, wantTag)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return header{}, fmt.Errorf("acmodel: read version: %w", err)
	}

	return header{tag: tag, version: version}, nil
}

func openReader(path string) (*bufio.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("acmodel: open %s: %w", path, err)
	}
	return bufio.NewReader(f), f, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("acmodel: read string length: %w", err)
	}
	if n > 1<<20 {
		return "", fmt.Errorf("acmodel: string length %d exceeds 1MB sanity limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("acmodel: read string: %w", err)
	}
	return string(buf), nil
}

func writeF32Slice(w io.Writer, data []float32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

func readF32Slice(r io.Reader) ([]float32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("acmodel: read float slice length: %w", err)
	}
	out := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("acmodel: read float slice: %w", err)
	}
	return out, nil
}

func writeI32Slice(w io.Writer, data []int32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

func readI32Slice(r io.Reader) ([]int32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("acmodel: read int32 slice length: %w", err)
	}
	out := make([]int32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("acmodel: read int32 slice: %w", err)
	}
	return out, nil
}

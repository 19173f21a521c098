package acmodel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// TransitionMatrices holds the per-tmat-id N×N log-domain transition
// probability matrices (spec.md §6), already converted into the decoder's
// int32 log-math domain so the HMM evaluator can add them to senone
// scores and path scores without a per-frame conversion. N is NumStates,
// which includes the non-emitting exit state (so a 3-emitting-state
// Bakis topology has NumStates == 4: states 0-2 emitting, state 3 the
// non-emitting exit).
type TransitionMatrices struct {
	NumStates int
	Matrices  [][]int32 // each of length NumStates*NumStates, row-major [from*NumStates+to]
}

// At returns the log transition probability from state `from` to state
// `to` in matrix tmat. A zero-probability (disallowed) transition is
// represented by the log-math WORST sentinel, by convention of the caller.
func (t *TransitionMatrices) At(tmat TmatID, from, to int) int32 {
	m := t.Matrices[tmat]
	return m[from*t.NumStates+to]
}

// ReadTransitionMatrices reads a transition-matrix file written by
// WriteTransitionMatrices.
func ReadTransitionMatrices(path string) (*TransitionMatrices, error) {
	br, f, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := readHeader(br, tagTmat); err != nil {
		return nil, err
	}

	var nTmat, nStates uint32
	if err := binary.Read(br, binary.LittleEndian, &nTmat); err != nil {
		return nil, fmt.Errorf("acmodel: read tmat count: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &nStates); err != nil {
		return nil, fmt.Errorf("acmodel: read tmat state count: %w", err)
	}

	mats := make([][]int32, nTmat)
	for i := range mats {
		row, err := readI32Slice(br)
		if err != nil {
			return nil, err
		}
		if len(row) != int(nStates)*int(nStates) {
			return nil, fmt.Errorf("acmodel: tmat %d has %d values, want %d", i, len(row), nStates*nStates)
		}
		mats[i] = row
	}

	return &TransitionMatrices{NumStates: int(nStates), Matrices: mats}, nil
}

// WriteTransitionMatrices serializes transition matrices in the format
// ReadTransitionMatrices understands.
func WriteTransitionMatrices(path string, t *TransitionMatrices) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("acmodel: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHeader(w, tagTmat, 1); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.Matrices))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(t.NumStates)); err != nil {
		return err
	}
	for i, m := range t.Matrices {
		if len(m) != t.NumStates*t.NumStates {
			return fmt.Errorf("acmodel: tmat %d has %d values, want %d", i, len(m), t.NumStates*t.NumStates)
		}
		if err := writeI32Slice(w, m); err != nil {
			return err
		}
	}
	return w.Flush()
}

package acmod

import (
	"encoding/binary"
	"fmt"
	"os"
)

// replaySource reads precomputed per-frame senone scores from a flat file
// of fixed-width records (spec.md §4.C item 5, "optional replay"): each
// frame is numSenones consecutive little-endian int32 values, frames laid
// out back to back in frame order.
type replaySource struct {
	f *os.File
}

func openReplay(path string) (*replaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("acmod: open replay file: %w", err)
	}
	return &replaySource{f: f}, nil
}

func (r *replaySource) frame(frame int, numSenones int) ([]int32, error) {
	recordBytes := numSenones * 4
	buf := make([]byte, recordBytes)
	if _, err := r.f.ReadAt(buf, int64(frame)*int64(recordBytes)); err != nil {
		return nil, fmt.Errorf("acmod: read replay frame %d: %w", frame, err)
	}
	out := make([]int32, numSenones)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// writeTeeFrame appends one frame's senscore vector to the tee file in
// the same fixed-width layout replaySource reads (spec.md §4.C item 6,
// "optional tee"), so a tee'd file can be replayed directly.
func writeTeeFrame(f *os.File, scores []int32) {
	buf := make([]byte, len(scores)*4)
	for i, s := range scores {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(s))
	}
	// Best-effort: a tee is a debugging aid, not part of the decode
	// contract, so a write failure here does not fail the utterance.
	_, _ = f.Write(buf)
}

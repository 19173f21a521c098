package lm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// magic and tag identify a voxdecoder language-model dump, the same
// fixed-header idiom internal/acmodel's binary files use: a magic string,
// a 4-byte kind tag, and a version, so a misrouted file fails fast instead
// of panicking deep in decoding. This is this repo's own n-gram dump
// format, not a reader for an externally defined LM file format (ARPA,
// etc. stay out of scope per spec.md's front-end/LM-file-parsing
// non-goal) — WriteModel/ReadModel are the only producer and consumer.
const (
	lmMagic   = "VXLM"
	lmTag     = "NGRM"
	lmVersion = uint32(1)
)

// WriteModel serializes m to path in this package's own binary dump
// format: vocabulary strings, then each order's (context, word, logProb)
// triples and (context, backoff) pairs.
func WriteModel(path string, m *StaticModel) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lm: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeLMHeader(w); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.order)); err != nil {
		return fmt.Errorf("lm: write order: %w", err)
	}

	vocab := m.vocab.Iter()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(vocab))); err != nil {
		return fmt.Errorf("lm: write vocab size: %w", err)
	}
	for _, s := range vocab {
		if err := writeLMString(w, s); err != nil {
			return fmt.Errorf("lm: write vocab entry: %w", err)
		}
	}

	for k := 0; k < m.order; k++ {
		entries := m.probs[k]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
			return fmt.Errorf("lm: write order %d context count: %w", k, err)
		}
		for ctxKey, words := range entries {
			if err := writeLMString(w, string(ctxKey)); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(words))); err != nil {
				return fmt.Errorf("lm: write word count: %w", err)
			}
			for wid, logProb := range words {
				if err := binary.Write(w, binary.LittleEndian, uint32(wid)); err != nil {
					return err
				}
				if err := binary.Write(w, binary.LittleEndian, logProb); err != nil {
					return err
				}
			}
		}

		backoffs := m.backoffs[k]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(backoffs))); err != nil {
			return fmt.Errorf("lm: write backoff count: %w", err)
		}
		for ctxKey, bow := range backoffs {
			if err := writeLMString(w, string(ctxKey)); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, bow); err != nil {
				return err
			}
		}
	}

	return w.Flush()
}

// ReadModel deserializes a model written by WriteModel.
func ReadModel(path string) (*StaticModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lm: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := readLMHeader(r); err != nil {
		return nil, err
	}

	var order uint32
	if err := binary.Read(r, binary.LittleEndian, &order); err != nil {
		return nil, fmt.Errorf("lm: read order: %w", err)
	}

	var vocabLen uint32
	if err := binary.Read(r, binary.LittleEndian, &vocabLen); err != nil {
		return nil, fmt.Errorf("lm: read vocab size: %w", err)
	}
	vocab := NewVocab("<unk>", "<s>", "</s>")
	for i := uint32(0); i < vocabLen; i++ {
		s, err := readLMString(r)
		if err != nil {
			return nil, fmt.Errorf("lm: read vocab entry: %w", err)
		}
		vocab.IDOrAdd(s)
	}

	m := NewStaticModel(vocab, int(order))
	for k := 0; k < int(order); k++ {
		var nCtx uint32
		if err := binary.Read(r, binary.LittleEndian, &nCtx); err != nil {
			return nil, fmt.Errorf("lm: read order %d context count: %w", k, err)
		}
		for i := uint32(0); i < nCtx; i++ {
			ctxKey, err := readLMString(r)
			if err != nil {
				return nil, err
			}
			var nWords uint32
			if err := binary.Read(r, binary.LittleEndian, &nWords); err != nil {
				return nil, fmt.Errorf("lm: read word count: %w", err)
			}
			words := make(map[WordID]int32, nWords)
			for j := uint32(0); j < nWords; j++ {
				var wid uint32
				var logProb int32
				if err := binary.Read(r, binary.LittleEndian, &wid); err != nil {
					return nil, err
				}
				if err := binary.Read(r, binary.LittleEndian, &logProb); err != nil {
					return nil, err
				}
				words[WordID(wid)] = logProb
			}
			m.probs[k][ngramKey(ctxKey)] = words
		}

		var nBackoff uint32
		if err := binary.Read(r, binary.LittleEndian, &nBackoff); err != nil {
			return nil, fmt.Errorf("lm: read backoff count: %w", err)
		}
		for i := uint32(0); i < nBackoff; i++ {
			ctxKey, err := readLMString(r)
			if err != nil {
				return nil, err
			}
			var bow int32
			if err := binary.Read(r, binary.LittleEndian, &bow); err != nil {
				return nil, err
			}
			m.backoffs[k][ngramKey(ctxKey)] = bow
		}
	}

	return m, nil
}

func writeLMHeader(w io.Writer) error {
	if _, err := io.WriteString(w, lmMagic); err != nil {
		return err
	}
	if _, err := io.WriteString(w, lmTag); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, lmVersion)
}

func readLMHeader(r io.Reader) error {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("lm: read header: %w", err)
	}
	if string(buf[:4]) != lmMagic || string(buf[4:8]) != lmTag {
		return fmt.Errorf("lm: bad header %q", buf)
	}
	var version uint32
	return binary.Read(r, binary.LittleEndian, &version)
}

func writeLMString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLMString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("lm: read string length: %w", err)
	}
	if n > 1<<20 {
		return "", fmt.Errorf("lm: string length %d exceeds 1MB sanity limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("lm: read string: %w", err)
	}
	return string(buf), nil
}

// NewUnigramModel builds a flat unigram StaticModel assigning every word in
// words the same log probability, used to seed a bundled toy model when no
// dumped n-gram file is present (spec.md's LM is a black box; this is the
// minimal implementation that satisfies it, per SPEC_FULL.md's
// "small in-memory n-gram/unigram implementation for ... the bundled toy
// model").
func NewUnigramModel(vocab *Vocab, words []string, logProb int32) *StaticModel {
	m := NewStaticModel(vocab, 1)
	for _, w := range words {
		wid := vocab.IDOrAdd(w)
		_ = m.AddNGram(nil, wid, logProb, 0)
	}
	return m
}

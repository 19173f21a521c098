// Package lm implements the decoder's black-box language-model interface
// (spec.md §6 "Language-model query") and a small in-memory backed n-gram
// model sufficient to drive the bundled toy model and the test suite. The
// decoder never inspects an LM's internals beyond this interface — a
// caller supplying a different n-gram engine only needs to implement
// Model.
package lm

import (
	"fmt"
	"strconv"
	"strings"
)

// Model is the black-box LM interface spec.md §6 describes: score a word
// given its preceding history, enumerate the vocabulary, and translate
// between strings and the model's own word ids.
type Model interface {
	// Score returns the log probability (in the decoder's log-math base,
	// via a caller-supplied conversion at load time — see NewStaticModel's
	// logBase parameter) of wid following history, history ordered oldest
	// to most recent, plus the n-gram order actually used (1 for a
	// unigram backoff, up to the model's configured order).
	Score(wid WordID, history []WordID) (logProb int32, backoffOrder int)
	Vocab() *Vocab
	// Order returns the model's maximum n-gram order (e.g. 3 for a
	// trigram model), sizing the history window a caller must keep
	// per live hypothesis.
	Order() int
}

// ngramKey is a context (or full n-gram) reduced to a comparable map key.
type ngramKey string

func keyOf(ids []WordID) ngramKey {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	return ngramKey(b.String())
}

// StaticModel is a fixed, fully in-memory n-gram language model with
// standard backoff: looking up an n-gram that was never observed falls
// back to (n-1)-gram probability plus the shorter context's backoff
// weight, recursing down to the unigram table. This mirrors the backoff
// recursion in the fslm example's Model.NextI, simplified because this
// model stores log probabilities directly per context rather than a
// state-transition automaton.
type StaticModel struct {
	vocab *Vocab
	order int // maximum n-gram order, e.g. 3 for a trigram model

	// probs[k] maps a context of length k (possibly empty for unigrams)
	// to the log probability of each word observed following it.
	probs []map[ngramKey]map[WordID]int32

	// backoffs[k] maps a context of length k+1 (i.e. the full (k+1)-gram
	// that failed to extend further) to its log backoff weight, applied
	// when falling back from order k+2 down to order k+1.
	backoffs []map[ngramKey]int32
}

// NewStaticModel returns an empty model of the given maximum order (2 =
// bigram, 3 = trigram, ...) over vocab. Use AddNGram to populate it.
func NewStaticModel(vocab *Vocab, order int) *StaticModel {
	if order < 1 {
		order = 1
	}
	m := &StaticModel{
		vocab:    vocab,
		order:    order,
		probs:    make([]map[ngramKey]map[WordID]int32, order),
		backoffs: make([]map[ngramKey]int32, order),
	}
	for i := range m.probs {
		m.probs[i] = make(map[ngramKey]map[WordID]int32)
		m.backoffs[i] = make(map[ngramKey]int32)
	}
	return m
}

// AddNGram records the log probability of word following context
// (context length 0..order-1, oldest-to-most-recent) and, if this context
// extended by word is itself used as a backoff context elsewhere, its
// backoff weight.
func (m *StaticModel) AddNGram(context []WordID, word WordID, logProb int32, backoff int32) error {
	k := len(context)
	if k >= m.order {
		return fmt.Errorf("lm: context length %d exceeds model order %d", k, m.order)
	}
	ck := keyOf(context)
	words, ok := m.probs[k][ck]
	if !ok {
		words = make(map[WordID]int32)
		m.probs[k][ck] = words
	}
	words[word] = logProb

	full := append(append([]WordID(nil), context...), word)
	if len(full) < m.order {
		m.backoffs[len(full)-1][keyOf(full)] = backoff
	}
	return nil
}

// Score implements Model.Score via backoff recursion: try the longest
// context first (truncated to order-1 words), and on a miss, add the
// shorter context's backoff weight and recurse.
func (m *StaticModel) Score(wid WordID, history []WordID) (int32, int) {
	if len(history) > m.order-1 {
		history = history[len(history)-(m.order-1):]
	}
	return m.score(wid, history)
}

func (m *StaticModel) score(wid WordID, context []WordID) (int32, int) {
	k := len(context)
	if words, ok := m.probs[k][keyOf(context)]; ok {
		if p, ok := words[wid]; ok {
			return p, k + 1
		}
	}
	if k == 0 {
		// Out-of-vocabulary at the unigram level: no further backoff.
		return unigramFloor, 0
	}
	bow := m.backoffs[k-1][keyOf(context)]
	p, order := m.score(wid, context[1:])
	return bow + p, order
}

// unigramFloor is the log probability assigned to a word with no unigram
// entry at all (a true out-of-vocabulary word).
const unigramFloor = -100000

// Vocab returns the model's vocabulary.
func (m *StaticModel) Vocab() *Vocab { return m.vocab }

// Order returns the model's maximum n-gram order.
func (m *StaticModel) Order() int { return m.order }

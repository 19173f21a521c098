// Package nbest implements the A* n-best search over a finalized word
// lattice (spec.md §4.J, component J): best-first enumeration of the
// top-k paths through the DAG, in non-increasing order of score.
package nbest

import (
	"container/heap"

	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/lattice"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
)

// Hypothesis is one complete path Search.Next emits: the word sequence
// oldest-first, with the boundary markers dropped, and its total score.
type Hypothesis struct {
	Words []dict.WordID
	Score int32
}

// path is a partial A* search state: the frontier node reached so far
// while walking backward from the lattice's end node, the exact score
// accumulated along that suffix, and the suffix's words, already in
// final oldest-first order (each expansion prepends the new, earlier
// word ahead of what was already collected).
type path struct {
	node     lattice.NodeID
	score    int32
	priority int32 // score + heuristic[node]; the A* ordering key
	words    []dict.WordID
}

type pathHeap []*path

func (h pathHeap) Len() int           { return len(h) }
func (h pathHeap) Less(i, j int) bool { return h[i].priority > h[j].priority } // max-heap: best score first
func (h pathHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x any)        { *h = append(*h, x.(*path)) }
func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type seenKey struct {
	node lattice.NodeID
	tail [3]dict.WordID // last min(3, len(words)) words already in the suffix
}

// Search enumerates top-k paths through a finalized DAG via A*, using a
// precomputed admissible heuristic (spec.md §4.J "best reverse-Viterbi
// score... Viterbi from the end node back to each node") and
// duplicate-path suppression keyed by (last_n_words, current_node).
//
// Per-link ac_score and lm_score are taken directly from the lattice,
// which already carries correct left-to-right LM scoring from the first
// pass (internal/vithist.Rescore) — the frontier here only ever knows a
// path's suffix while the search is in progress, so it cannot yet supply
// the true preceding-word history a fresh model.Score query would need.
// The model and wordToLM passed to NewSearch are instead applied once a
// path reaches the start node and its full oldest-first order is known,
// giving every emitted Hypothesis a final rescore under that model
// (typically a higher-order LM than the one used during decoding).
type Search struct {
	d          *lattice.DAG
	model      lm.Model
	wordToLM   func(dict.WordID) lm.WordID
	lwFactor   float32
	minEfRange int

	toEnd []int32 // heuristic[n]: best score of a path from n to End

	pq   pathHeap
	seen map[seenKey]bool
}

// NewSearch builds and starts an A* search over d (spec.md §4.J "start"):
// lwFactor scales each link's stored LM score the same way
// lattice.DAG.BestPath does; minEfRange discards predecessor links whose
// end-frame range is narrower than this, a cheap filter against
// spurious very-short alternate words the first pass left in the
// lattice. The single seed path (just the end node, score 0) is pushed
// immediately.
func NewSearch(d *lattice.DAG, model lm.Model, wordToLM func(dict.WordID) lm.WordID, lwFactor float32, minEfRange int) *Search {
	s := &Search{
		d:          d,
		model:      model,
		wordToLM:   wordToLM,
		lwFactor:   lwFactor,
		minEfRange: minEfRange,
		seen:       make(map[seenKey]bool),
	}
	s.toEnd = computeToEnd(d)

	heap.Init(&s.pq)
	heap.Push(&s.pq, &path{node: d.End, score: 0, priority: s.toEnd[d.End]})
	return s
}

// computeToEnd runs a backward Viterbi pass over d, in topological
// order reversed, computing for every node the best achievable score of
// a path from that node to End (spec.md §4.J's admissible heuristic).
func computeToEnd(d *lattice.DAG) []int32 {
	order := topoOrder(d)
	toEnd := make([]int32, d.NumNodes())
	for i := range toEnd {
		toEnd[i] = logmath.Worst
	}
	toEnd[d.End] = 0
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n == d.End {
			continue
		}
		best := logmath.Worst
		for _, lid := range d.Out(n) {
			l := d.Link(lid)
			if toEnd[l.To] == logmath.Worst {
				continue
			}
			cand := toEnd[l.To] + l.AcScore + l.LmScore
			if cand > best {
				best = cand
			}
		}
		toEnd[n] = best
	}
	return toEnd
}

// topoOrder computes a Kahn's-algorithm order over d's nodes, the same
// way lattice.DAG's own unexported topoOrder does, since nbest needs its
// own copy outside the lattice package's internals.
func topoOrder(d *lattice.DAG) []lattice.NodeID {
	indegree := make([]int, d.NumNodes())
	for n := 0; n < d.NumNodes(); n++ {
		indegree[n] = len(d.In(lattice.NodeID(n)))
	}
	var ready []lattice.NodeID
	for n := 0; n < d.NumNodes(); n++ {
		if indegree[n] == 0 {
			ready = append(ready, lattice.NodeID(n))
		}
	}
	var order []lattice.NodeID
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, lid := range d.Out(n) {
			to := d.Link(lid).To
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	return order
}

func tailKey(words []dict.WordID) [3]dict.WordID {
	var k [3]dict.WordID
	for i := range k {
		k[i] = dict.NoWord
	}
	n := len(words)
	for i := 0; i < 3 && i < n; i++ {
		k[2-i] = words[n-1-i]
	}
	return k
}

// Next pops the best remaining path (spec.md §4.J "next"): if it
// reaches the start node, the search emits it as a complete, rescored
// Hypothesis; otherwise it expands every predecessor link into an
// extended path and pushes the survivors, then tries again. Returns
// ok=false once the queue is exhausted — no further hypotheses remain.
func (s *Search) Next() (Hypothesis, bool) {
	for s.pq.Len() > 0 {
		p := heap.Pop(&s.pq).(*path)

		if p.node == s.d.Start {
			return s.finalize(p), true
		}

		for _, lid := range s.d.In(p.node) {
			l := s.d.Link(lid)
			if s.minEfRange > 0 && l.EndFrame-s.d.Node(l.From).StartFrame < s.minEfRange {
				continue
			}
			key := seenKey{node: l.From, tail: tailKey(p.words)}
			if s.seen[key] {
				continue
			}
			s.seen[key] = true

			wid := s.d.Node(l.From).Wid
			words := make([]dict.WordID, 0, len(p.words)+1)
			words = append(words, wid)
			words = append(words, p.words...)

			score := p.score + l.AcScore + int32(float32(l.LmScore)*s.lwFactor)
			heap.Push(&s.pq, &path{
				node:     l.From,
				score:    score,
				priority: score + s.toEnd[l.From],
				words:    words,
			})
		}
	}
	return Hypothesis{}, false
}

// finalize builds the emitted Hypothesis: drops the leading/trailing
// dict.NoWord boundary markers and layers a final LM rescore over the
// now-fully-known oldest-first word order.
func (s *Search) finalize(p *path) Hypothesis {
	words := trimMarkers(p.words)
	score := p.score
	if s.model != nil && s.wordToLM != nil {
		histOrder := s.model.Order() - 1
		var history []lm.WordID
		for _, w := range words {
			lmWid := s.wordToLM(w)
			lmScore, _ := s.model.Score(lmWid, history)
			score += int32(float32(lmScore) * s.lwFactor)
			history = pushHistory(history, lmWid, histOrder)
		}
	}
	return Hypothesis{Words: words, Score: score}
}

func trimMarkers(words []dict.WordID) []dict.WordID {
	lo, hi := 0, len(words)
	if hi > lo && words[lo] == dict.NoWord {
		lo++
	}
	if hi > lo && words[hi-1] == dict.NoWord {
		hi--
	}
	return words[lo:hi]
}

func pushHistory(state []lm.WordID, w lm.WordID, order int) []lm.WordID {
	if order <= 0 {
		return nil
	}
	next := make([]lm.WordID, 0, order)
	start := 0
	if len(state)+1 > order {
		start = len(state) + 1 - order
	}
	next = append(next, state[start:]...)
	next = append(next, w)
	return next
}

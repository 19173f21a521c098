// Package lattice implements the word lattice (spec.md §4.H, component
// H): a DAG built from a finalized backpointer table, with reachability
// pruning, filler bypass, forward-backward posteriors, and a best-path
// traversal that rescores an external language model.
package lattice

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/lm"
	"github.com/example/go-voxdecoder/internal/logmath"
	"github.com/example/go-voxdecoder/internal/vithist"
)

// NodeID identifies a lattice node.
type NodeID int32

// NoNode is the sentinel "no node" value.
const NoNode NodeID = -1

// LinkID identifies a lattice link.
type LinkID int32

// NoLink is the sentinel "no link" value.
const NoLink LinkID = -1

// ErrLatticeTooLarge is returned by BypassFillers when the transformed
// graph would exceed the caller's edge budget (spec.md §4.H).
var ErrLatticeTooLarge = errors.New("lattice: too large")

// ErrEmptyUtterance mirrors vithist's failure mode: a lattice cannot be
// built from a backpointer table that never recorded an exit.
var ErrEmptyUtterance = vithist.ErrEmptyUtterance

// Node is one distinct (word, start_frame) pair (spec.md §4.H
// construction step 1).
type Node struct {
	Wid        dict.WordID
	StartFrame int
}

// Link is a word-exit edge between two nodes, labeled with the acoustic
// and LM scores and the end frame of the exiting word (spec.md §4.H
// construction step 2).
type Link struct {
	From, To     NodeID
	AcScore      int32
	LmScore      int32
	EndFrame     int
	IsBypass     bool  // inserted by BypassFillers, restorable by RemoveBypass
	Alpha, Beta  int32 // forward/backward log scores, set by ComputePosteriors
	Posterior    int32
	posteriorSet bool
}

type nodeKey struct {
	wid   dict.WordID
	start int
}

// DAG is the word lattice: a flat node/link table with adjacency indices
// keyed by NodeID, following this module's arena-not-pointer convention.
type DAG struct {
	nodes     []Node
	nodeIndex map[nodeKey]NodeID
	links     []Link
	outOf     map[NodeID][]LinkID
	into      map[NodeID][]LinkID

	Start, End NodeID

	total    int32
	totalSet bool
}

func newDAG() *DAG {
	return &DAG{
		nodeIndex: make(map[nodeKey]NodeID),
		outOf:     make(map[NodeID][]LinkID),
		into:      make(map[NodeID][]LinkID),
		Start:     NoNode,
		End:       NoNode,
	}
}

func (d *DAG) nodeFor(wid dict.WordID, start int) NodeID {
	k := nodeKey{wid: wid, start: start}
	if id, ok := d.nodeIndex[k]; ok {
		return id
	}
	id := NodeID(len(d.nodes))
	d.nodes = append(d.nodes, Node{Wid: wid, StartFrame: start})
	d.nodeIndex[k] = id
	return id
}

func (d *DAG) addLink(from, to NodeID, ac, lmScore int32, endFrame int) LinkID {
	id := LinkID(len(d.links))
	d.links = append(d.links, Link{From: from, To: to, AcScore: ac, LmScore: lmScore, EndFrame: endFrame})
	d.outOf[from] = append(d.outOf[from], id)
	d.into[to] = append(d.into[to], id)
	return id
}

// Build constructs a DAG from a finalized backpointer table (spec.md
// §4.H): one node per distinct (wid, start_frame), one link per table
// entry connecting its predecessor's node to its own, the start node the
// sentinel at frame 0, the end node the entry FinalResult appended.
func Build(tbl *vithist.Table, final vithist.EntryID) (*DAG, error) {
	if tbl.Len() == 0 {
		return nil, ErrEmptyUtterance
	}
	d := newDAG()
	d.Start = d.nodeFor(dict.NoWord, 0)

	for i := 0; i < tbl.Len(); i++ {
		id := vithist.EntryID(i)
		e := tbl.Entry(id)
		if e.Pred == vithist.NoEntry {
			continue
		}
		pred := tbl.Entry(e.Pred)
		from := d.nodeFor(pred.Wid, pred.StartFrame)
		to := d.nodeFor(e.Wid, e.StartFrame)
		d.addLink(from, to, e.AcScore, e.LmScore, e.EndFrame)
	}

	finalEntry := tbl.Entry(final)
	d.End = d.nodeFor(finalEntry.Wid, finalEntry.StartFrame)
	return d, nil
}

// NumNodes returns the number of nodes currently in the graph.
func (d *DAG) NumNodes() int { return len(d.nodes) }

// NumLinks returns the number of links currently in the graph.
func (d *DAG) NumLinks() int { return len(d.links) }

// Node returns node id.
func (d *DAG) Node(id NodeID) Node { return d.nodes[id] }

// Link returns link id.
func (d *DAG) Link(id LinkID) Link { return d.links[id] }

// Out returns the outgoing link ids from node id.
func (d *DAG) Out(id NodeID) []LinkID { return d.outOf[id] }

// In returns the incoming link ids into node id.
func (d *DAG) In(id NodeID) []LinkID { return d.into[id] }

// RemoveUnreachable drops every node/link not on some path from Start to
// End, via a forward reachability sweep from Start and a reverse sweep
// from End (spec.md §4.H "remove_unreachable").
func (d *DAG) RemoveUnreachable() {
	fwd := d.reachable(d.Start, d.outOf, func(l Link) NodeID { return l.To })
	rev := d.reachable(d.End, d.into, func(l Link) NodeID { return l.From })

	keep := make([]bool, len(d.nodes))
	for i := range keep {
		keep[i] = fwd[NodeID(i)] && rev[NodeID(i)]
	}

	remap := make([]NodeID, len(d.nodes))
	nd := newDAG()
	for i, n := range d.nodes {
		if !keep[i] {
			remap[i] = NoNode
			continue
		}
		remap[i] = nd.nodeFor(n.Wid, n.StartFrame)
	}
	for _, l := range d.links {
		if !keep[l.From] || !keep[l.To] {
			continue
		}
		nd.addLink(remap[l.From], remap[l.To], l.AcScore, l.LmScore, l.EndFrame)
	}
	nd.Start = remap[d.Start]
	nd.End = remap[d.End]
	*d = *nd
}

func (d *DAG) reachable(start NodeID, adj map[NodeID][]LinkID, next func(Link) NodeID) map[NodeID]bool {
	seen := map[NodeID]bool{start: true}
	stack := []NodeID{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, lid := range adj[n] {
			to := next(d.links[lid])
			if !seen[to] {
				seen[to] = true
				stack = append(stack, to)
			}
		}
	}
	return seen
}

// BypassFillers inserts, for every path u -> f -> v where f is a filler
// word, a direct link u -> v carrying the summed score along the bypass,
// marking it so RemoveBypass can later strip it back out (spec.md §4.H
// "bypass_fillers"). Fails with ErrLatticeTooLarge if the resulting link
// count would exceed maxEdges (maxEdges <= 0 disables the check).
func (d *DAG) BypassFillers(isFiller func(dict.WordID) bool, lwFactor float32, maxEdges int) error {
	var newLinks []Link
	for nid := NodeID(0); int(nid) < len(d.nodes); nid++ {
		if !isFiller(d.nodes[nid].Wid) {
			continue
		}
		for _, inID := range d.into[nid] {
			in := d.links[inID]
			for _, outID := range d.outOf[nid] {
				out := d.links[outID]
				combinedLM := in.LmScore + int32(float32(out.LmScore)*lwFactor)
				newLinks = append(newLinks, Link{
					From:     in.From,
					To:       out.To,
					AcScore:  in.AcScore + out.AcScore,
					LmScore:  combinedLM,
					EndFrame: out.EndFrame,
					IsBypass: true,
				})
			}
		}
	}

	if maxEdges > 0 && len(d.links)+len(newLinks) > maxEdges {
		return ErrLatticeTooLarge
	}

	for _, l := range newLinks {
		id := LinkID(len(d.links))
		d.links = append(d.links, l)
		d.outOf[l.From] = append(d.outOf[l.From], id)
		d.into[l.To] = append(d.into[l.To], id)
	}
	return nil
}

// RemoveBypass strips every link BypassFillers inserted, restoring the
// original graph.
func (d *DAG) RemoveBypass() {
	kept := make([]Link, 0, len(d.links))
	d.outOf = make(map[NodeID][]LinkID)
	d.into = make(map[NodeID][]LinkID)
	for _, l := range d.links {
		if l.IsBypass {
			continue
		}
		id := LinkID(len(kept))
		kept = append(kept, l)
		d.outOf[l.From] = append(d.outOf[l.From], id)
		d.into[l.To] = append(d.into[l.To], id)
	}
	d.links = kept
}

// topoOrder returns node ids in a true topological order via Kahn's
// algorithm. Sorting by start frame alone is not sufficient: a link's
// destination node can share the exact same start frame as its source
// (e.g. a word exit feeding directly into the end-of-utterance sentinel),
// so ties are broken by walking the graph's actual edges rather than by
// frame number.
func (d *DAG) topoOrder() []NodeID {
	indegree := make([]int, len(d.nodes))
	for n := range d.nodes {
		indegree[n] = len(d.into[NodeID(n)])
	}

	var ready []NodeID
	for n := range d.nodes {
		if indegree[n] == 0 {
			ready = append(ready, NodeID(n))
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	order := make([]NodeID, 0, len(d.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, lid := range d.outOf[n] {
			to := d.links[lid].To
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	return order
}

// ComputePosteriors runs a forward-backward sweep in log domain over the
// DAG (spec.md §4.H "compute_posteriors"), setting each link's Alpha/Beta
// contribution and per-link posterior: alpha(from) + ac + lm - total.
func (d *DAG) ComputePosteriors(logMath *logmath.Table) {
	order := d.topoOrder()
	alpha := make([]int32, len(d.nodes))
	beta := make([]int32, len(d.nodes))
	for i := range alpha {
		alpha[i] = logmath.Worst
		beta[i] = logmath.Worst
	}
	alpha[d.Start] = 0

	for _, n := range order {
		if n == d.Start {
			continue
		}
		best := logmath.Worst
		for _, lid := range d.into[n] {
			l := d.links[lid]
			if alpha[l.From] == logmath.Worst {
				continue
			}
			cand := alpha[l.From] + l.AcScore + l.LmScore
			best = logMath.Add(best, cand)
		}
		alpha[n] = best
	}

	beta[d.End] = 0
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n == d.End {
			continue
		}
		best := logmath.Worst
		for _, lid := range d.outOf[n] {
			l := d.links[lid]
			if beta[l.To] == logmath.Worst {
				continue
			}
			cand := beta[l.To] + l.AcScore + l.LmScore
			best = logMath.Add(best, cand)
		}
		beta[n] = best
	}

	total := alpha[d.End]
	d.total = total
	d.totalSet = true
	for i := range d.links {
		l := &d.links[i]
		l.Alpha = alpha[l.From]
		l.Beta = beta[l.To]
		if alpha[l.From] == logmath.Worst || beta[l.To] == logmath.Worst || total == logmath.Worst {
			l.Posterior = logmath.Worst
		} else {
			l.Posterior = alpha[l.From] + l.AcScore + l.LmScore + beta[l.To] - total
		}
		l.posteriorSet = true
	}
}

// Posterior returns link id's posterior score; valid only after
// ComputePosteriors.
func (d *DAG) Posterior(id LinkID) (int32, bool) {
	l := d.links[id]
	return l.Posterior, l.posteriorSet
}

// TotalLogProb returns the forward total probability mass accumulated at
// the end node (alpha(End)), valid only after ComputePosteriors. A
// caller comparing this against the best path's score gets a whole-
// utterance confidence measure (spec.md §4.L "get_prob").
func (d *DAG) TotalLogProb() (int32, bool) {
	return d.total, d.totalSet
}

// Segment is one word in a best-path traversal result.
type Segment struct {
	Wid        dict.WordID
	StartFrame int
	EndFrame   int
}

type dpState struct {
	score   int32
	pred    LinkID
	lmState []lm.WordID
}

// BestPath finds the highest-scoring Start-to-End path subject to an
// external LM, rescoring the LM at each link using the history of the
// chosen predecessor path (spec.md §4.H "Traversal: best-path
// Dijkstra-style in topological order"). Returns the word sequence
// oldest-first.
func (d *DAG) BestPath(model lm.Model, wordToLM func(dict.WordID) lm.WordID, lwFactor float32) ([]Segment, error) {
	order := d.topoOrder()
	histOrder := model.Order() - 1

	dp := make([]dpState, len(d.nodes))
	for i := range dp {
		dp[i] = dpState{score: logmath.Worst, pred: NoLink}
	}
	dp[d.Start] = dpState{score: 0, pred: NoLink}

	for _, n := range order {
		if n == d.Start {
			continue
		}
		best := dpState{score: logmath.Worst, pred: NoLink}
		for _, lid := range d.into[n] {
			l := d.links[lid]
			from := dp[l.From]
			if from.score == logmath.Worst {
				continue
			}
			lmWid := wordToLM(d.nodes[n].Wid)
			lmScore, _ := model.Score(lmWid, from.lmState)
			cand := from.score + l.AcScore + int32(float32(lmScore)*lwFactor)
			if cand > best.score {
				best = dpState{score: cand, pred: lid, lmState: pushHistory(from.lmState, lmWid, histOrder)}
			}
		}
		dp[n] = best
	}

	if dp[d.End].score == logmath.Worst {
		return nil, fmt.Errorf("lattice: no path reaches the end node")
	}

	var segs []Segment
	n := d.End
	for n != d.Start {
		lid := dp[n].pred
		if lid == NoLink {
			break
		}
		l := d.links[lid]
		segs = append(segs, Segment{Wid: d.nodes[n].Wid, StartFrame: d.nodes[n].StartFrame, EndFrame: l.EndFrame})
		n = l.From
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs, nil
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

// Dump writes the lattice in the text format spec.md §6 describes: one
// node per line, then one link per line, fields space-separated.
func (d *DAG) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "NODES %d\n", len(d.nodes)); err != nil {
		return err
	}
	for i, n := range d.nodes {
		if _, err := fmt.Fprintf(bw, "%d %d %d\n", i, uint32(n.Wid), n.StartFrame); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bw, "LINKS %d\n", len(d.links)); err != nil {
		return err
	}
	for _, l := range d.links {
		bypass := 0
		if l.IsBypass {
			bypass = 1
		}
		if _, err := fmt.Fprintf(bw, "%d %d %d %d %d %d\n", l.From, l.To, l.AcScore, l.LmScore, l.EndFrame, bypass); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bw, "START %d\n", d.Start); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "END %d\n", d.End); err != nil {
		return err
	}
	return bw.Flush()
}

// Load reads a lattice previously written by Dump.
func Load(r io.Reader) (*DAG, error) {
	sc := bufio.NewScanner(r)
	d := newDAG()

	readCount := func(tag string) (int, error) {
		if !sc.Scan() {
			return 0, fmt.Errorf("lattice: expected %q line", tag)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 || fields[0] != tag {
			return 0, fmt.Errorf("lattice: expected %q line, got %q", tag, sc.Text())
		}
		return strconv.Atoi(fields[1])
	}

	nNodes, err := readCount("NODES")
	if err != nil {
		return nil, err
	}
	d.nodes = make([]Node, nNodes)
	for i := 0; i < nNodes; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("lattice: truncated node table")
		}
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 {
			return nil, fmt.Errorf("lattice: malformed node line %q", sc.Text())
		}
		idx, _ := strconv.Atoi(fields[0])
		wid, _ := strconv.ParseUint(fields[1], 10, 32)
		start, _ := strconv.Atoi(fields[2])
		d.nodes[idx] = Node{Wid: dict.WordID(wid), StartFrame: start}
		d.nodeIndex[nodeKey{wid: dict.WordID(wid), start: start}] = NodeID(idx)
	}

	nLinks, err := readCount("LINKS")
	if err != nil {
		return nil, err
	}
	for i := 0; i < nLinks; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("lattice: truncated link table")
		}
		fields := strings.Fields(sc.Text())
		if len(fields) != 6 {
			return nil, fmt.Errorf("lattice: malformed link line %q", sc.Text())
		}
		from, _ := strconv.Atoi(fields[0])
		to, _ := strconv.Atoi(fields[1])
		ac, _ := strconv.ParseInt(fields[2], 10, 32)
		lmScore, _ := strconv.ParseInt(fields[3], 10, 32)
		end, _ := strconv.Atoi(fields[4])
		bypass, _ := strconv.Atoi(fields[5])
		id := d.addLink(NodeID(from), NodeID(to), int32(ac), int32(lmScore), end)
		d.links[id].IsBypass = bypass != 0
	}

	if !sc.Scan() {
		return nil, fmt.Errorf("lattice: missing START line")
	}
	startFields := strings.Fields(sc.Text())
	if len(startFields) != 2 || startFields[0] != "START" {
		return nil, fmt.Errorf("lattice: malformed START line %q", sc.Text())
	}
	startIdx, _ := strconv.Atoi(startFields[1])
	d.Start = NodeID(startIdx)

	if !sc.Scan() {
		return nil, fmt.Errorf("lattice: missing END line")
	}
	endFields := strings.Fields(sc.Text())
	if len(endFields) != 2 || endFields[0] != "END" {
		return nil, fmt.Errorf("lattice: malformed END line %q", sc.Text())
	}
	endIdx, _ := strconv.Atoi(endFields[1])
	d.End = NodeID(endIdx)

	if err := sc.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

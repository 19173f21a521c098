// Package lextree implements the lexical tree (spec.md §4.E): a
// prefix tree over the active vocabulary, replicated at the root per
// left context, with lazy right-context expansion of cross-word leaves.
package lextree

import (
	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
	"github.com/example/go-voxdecoder/internal/hmm"
)

// NodeID identifies a tree node, static or dynamically expanded.
type NodeID int32

// NoNode is the sentinel "no node" value.
const NoNode NodeID = -1

// Node is one lexical-tree position: an HMM bound to a fixed senone
// sequence and transition matrix, optionally terminal (Wid set) for a
// word ending at this node.
type Node struct {
	CI          acmodel.CIPhoneID
	Wid         dict.WordID // dict.NoWord unless this node ends a word
	LMLookahead int32
	Parent      NodeID
	Children    []NodeID
	HMM         *hmm.HMM

	// Cross-word leaf expansion bookkeeping (spec.md §4.E: "Leaf nodes
	// carry wid and an unpopulated children list. On first entry during
	// search, they are expanded into one child per right-context
	// equivalence class"). pendingLeft/pendingBase/isSinglePhone are only
	// meaningful when Wid != dict.NoWord and expanded == false.
	pendingBase   acmodel.CIPhoneID
	pendingLeft   acmodel.CIPhoneID
	isSinglePhone bool
	expanded      bool
	expSlot       map[acmodel.CIPhoneID]int
}

// Tree is the shared-prefix lexical tree over the active vocabulary.
type Tree struct {
	def *acmodel.Definition
	d   *dict.Dictionary
	d2p *dict2pid.Table

	nEmitStates int
	staticCount int // len(nodes) immediately after Build, before any expansion

	nodes  []Node
	lcroot map[acmodel.CIPhoneID][]NodeID

	active     []NodeID
	nextActive []NodeID
}

// mergeKey finds a shared sibling under the same parent (or the same
// lcroot, when parent == NoNode) with a matching senone sequence, per
// spec.md §4.E's "at each position try to share a sibling node with
// matching sseq_id."
type mergeKey struct {
	parent NodeID
	sseq   acmodel.SSeqID
}

// Build constructs the tree from the model definition, dictionary, and
// phone-identity map. lookahead supplies the LM look-ahead score for a
// word id (spec.md §4.E: "max unigram probability of words reachable from
// the node"); pass a function returning a constant to disable look-ahead,
// as spec.md allows.
func Build(def *acmodel.Definition, d *dict.Dictionary, d2p *dict2pid.Table, nEmitStates int, lookahead func(dict.WordID) int32) (*Tree, error) {
	t := &Tree{
		def:         def,
		d:           d,
		d2p:         d2p,
		nEmitStates: nEmitStates,
		lcroot:      make(map[acmodel.CIPhoneID][]NodeID),
	}

	merged := make(map[mergeKey]NodeID)

	for i := 0; i < d.Len(); i++ {
		wid := dict.WordID(i)
		w := d.Word(wid)
		if w.IsFiller {
			continue // fillers are not modeled through the prefix tree
		}
		ciPron, err := t.resolvePron(w)
		if err != nil {
			return nil, err
		}
		if len(ciPron) == 1 {
			t.addSinglePhoneWord(wid, ciPron[0])
			continue
		}
		if err := t.addMultiPhoneWord(wid, ciPron, merged); err != nil {
			return nil, err
		}
	}

	t.staticCount = len(t.nodes)

	if lookahead == nil {
		lookahead = func(dict.WordID) int32 { return 0 }
	}
	t.propagateLookahead(lookahead)

	return t, nil
}

func (t *Tree) resolvePron(w dict.Word) ([]acmodel.CIPhoneID, error) {
	ids := make([]acmodel.CIPhoneID, len(w.Pron))
	for i, name := range w.Pron {
		id, ok := t.def.CIPhoneByName(name)
		if !ok {
			return nil, &unknownPhoneError{Word: w.Name, Phone: name}
		}
		ids[i] = id
	}
	return ids, nil
}

type unknownPhoneError struct {
	Word, Phone string
}

func (e *unknownPhoneError) Error() string {
	return "lextree: word " + e.Word + ": unknown phone " + e.Phone
}

// addSinglePhoneWord adds a word whose entire pronunciation is one CI
// phone. Its HMM depends on both left and right context, so it is added
// as an unexpanded leaf directly under every lcroot, expanded lazily the
// same way a multi-phone word's final phone is.
func (t *Tree) addSinglePhoneWord(wid dict.WordID, ci acmodel.CIPhoneID) {
	for _, lc := range t.allContexts() {
		node := Node{
			CI:            ci,
			Wid:           wid,
			Parent:        NoNode,
			pendingBase:   ci,
			pendingLeft:   lc,
			isSinglePhone: true,
		}
		id := t.appendNode(node)
		t.lcroot[lc] = append(t.lcroot[lc], id)
	}
}

// addMultiPhoneWord adds a word with 2+ phones: a per-lc root bound via
// ldiph, a chain of shared internal nodes, and a final unexpanded leaf
// bound lazily via dict2pid's compressed right-context set.
func (t *Tree) addMultiPhoneWord(wid dict.WordID, pron []acmodel.CIPhoneID, merged map[mergeKey]NodeID) error {
	n := len(pron)

	for _, lc := range t.allContexts() {
		ref, ok := t.d2p.LeftDiphone(pron[0], pron[1], lc)
		if !ok {
			continue // this (lc, word) combination is not modeled; skip
		}
		key := mergeKey{parent: NoNode, sseq: ref.SSeq}
		rootID, exists := merged[key]
		if !exists {
			rootID = t.appendNode(Node{CI: pron[0], Wid: dict.NoWord, Parent: NoNode})
			t.nodes[rootID].HMM = newBoundHMM(t.nEmitStates, ref)
			merged[key] = rootID
			t.lcroot[lc] = append(t.lcroot[lc], rootID)
		} else if !containsNode(t.lcroot[lc], rootID) {
			t.lcroot[lc] = append(t.lcroot[lc], rootID)
		}

		parent := rootID
		for pos := 1; pos < n-1; pos++ {
			iref, ok := t.d2p.Internal(wid, pos)
			if !ok {
				return &unknownPhoneError{Word: t.d.Word(wid).Name, Phone: "<internal>"}
			}
			ckey := mergeKey{parent: parent, sseq: iref.SSeq}
			childID, exists := merged[ckey]
			if !exists {
				childID = t.appendNode(Node{CI: pron[pos], Wid: dict.NoWord, Parent: parent})
				t.nodes[childID].HMM = newBoundHMM(t.nEmitStates, iref)
				merged[ckey] = childID
				t.nodes[parent].Children = append(t.nodes[parent].Children, childID)
			}
			parent = childID
		}

		// Final phone: an unexpanded leaf, one per (parent, word) since its
		// right-context fan-out is word-specific via dict2pid.RightContexts.
		leaf := t.appendNode(Node{
			CI:          pron[n-1],
			Wid:         wid,
			Parent:      parent,
			pendingBase: pron[n-1],
			pendingLeft: pron[n-2],
		})
		t.nodes[parent].Children = append(t.nodes[parent].Children, leaf)
	}
	return nil
}

func containsNode(list []NodeID, id NodeID) bool {
	for _, n := range list {
		if n == id {
			return true
		}
	}
	return false
}

func newBoundHMM(nEmitStates int, ref dict2pid.TriphoneRef) *hmm.HMM {
	h := hmm.New(nEmitStates)
	h.SSeq = ref.SSeq
	h.Tmat = ref.Tmat
	return h
}

func (t *Tree) appendNode(n Node) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	return id
}

// allContexts enumerates every CI phone (plus the utterance-boundary
// sentinel) as a possible incoming left context, matching dict2pid's
// context universe.
func (t *Tree) allContexts() []acmodel.CIPhoneID {
	ctx := make([]acmodel.CIPhoneID, 0, len(t.def.CIPhones)+1)
	ctx = append(ctx, acmodel.NoCIPhone)
	for i := range t.def.CIPhones {
		ctx = append(ctx, acmodel.CIPhoneID(i))
	}
	return ctx
}

// Node returns node id's current state. Valid for both static and
// dynamically expanded nodes.
func (t *Tree) Node(id NodeID) *Node { return &t.nodes[id] }

// IsLeaf reports whether id carries a pending (unexpanded) word-final
// HMM. Expand must be called before entering it on a given right
// context.
func (t *Tree) IsLeaf(id NodeID) bool {
	n := &t.nodes[id]
	return n.Wid != dict.NoWord && !n.expanded
}

// Expand populates a leaf's right-context equivalence classes (spec.md
// §4.E: "On first entry during search, they are expanded into one child
// per right-context equivalence class"), returning the child carrying
// the HMM for outgoing right-context phone right. Subsequent calls reuse
// the same children, looking up the already-built slot map. Expand is
// idempotent: calling it again after expansion is a cheap lookup.
func (t *Tree) Expand(id NodeID, right acmodel.CIPhoneID) NodeID {
	n := &t.nodes[id]
	if !n.expanded {
		t.expand(id)
	}
	n = &t.nodes[id]
	slot, ok := n.expSlot[right]
	if !ok {
		slot = 0 // degrade to the first context class, matching dict2pid's total map
	}
	return n.Children[slot]
}

func (t *Tree) expand(id NodeID) {
	n := &t.nodes[id]
	n.expanded = true
	n.expSlot = make(map[acmodel.CIPhoneID]int)

	if n.isSinglePhone {
		t.expandSinglePhone(id)
		return
	}

	rc, ok := t.d2p.RightContexts(n.pendingBase, n.pendingLeft)
	if !ok {
		return
	}
	children := make([]NodeID, len(rc.Slots))
	for i, ref := range rc.Slots {
		child := t.appendNode(Node{CI: n.CI, Wid: n.Wid, Parent: id, LMLookahead: n.LMLookahead})
		t.nodes[child].HMM = newBoundHMM(t.nEmitStates, ref)
		children[i] = child
	}
	n = &t.nodes[id]
	n.Children = children
	for _, rc2 := range t.allContexts() {
		n.expSlot[rc2] = rc.SlotFor(rc2)
	}
}

func (t *Tree) expandSinglePhone(id NodeID) {
	n := &t.nodes[id]
	slotOf := make(map[acmodel.SSeqID]int)
	var children []NodeID
	for _, right := range t.allContexts() {
		ref, ok := t.d2p.SinglePhone(n.pendingBase, n.pendingLeft, right)
		if !ok {
			continue
		}
		slot, exists := slotOf[ref.SSeq]
		if !exists {
			child := t.appendNode(Node{CI: n.CI, Wid: n.Wid, Parent: id, LMLookahead: n.LMLookahead})
			t.nodes[child].HMM = newBoundHMM(t.nEmitStates, ref)
			slot = len(children)
			children = append(children, child)
			slotOf[ref.SSeq] = slot
		}
		n = &t.nodes[id]
		n.expSlot[right] = slot
	}
	n = &t.nodes[id]
	n.Children = children
}

// Enter seeds node id's HMM with an incoming path score and history,
// marking it active for the given frame (spec.md §4.E "enter").
func (t *Tree) Enter(id NodeID, inScore, inHistory int32, frame int) {
	t.nodes[id].HMM.Enter(inScore, inHistory, frame)
	t.active = append(t.active, id)
}

// SwapActive replaces the active node list with nextActive and clears it
// for the next frame, matching the teacher-independent double-buffering
// idiom used throughout this decoder's arena-style state (spec.md §4.E
// "swap_active").
func (t *Tree) SwapActive() {
	t.active, t.nextActive = t.nextActive, t.active[:0]
}

// MarkActiveNext records id as active for the upcoming frame, to be
// promoted by the next SwapActive call.
func (t *Tree) MarkActiveNext(id NodeID) {
	t.nextActive = append(t.nextActive, id)
}

// Active returns the node ids active in the current frame.
func (t *Tree) Active() []NodeID { return t.active }

// Reset clears every node's HMM state and empties the active lists,
// readying the tree for a new utterance without rebuilding its static
// structure (spec.md §4.E's tree is built once; only per-utterance
// search state needs to reset between utterances).
func (t *Tree) Reset() {
	for i := range t.nodes {
		if t.nodes[i].HMM != nil {
			t.nodes[i].HMM.Clear()
		}
	}
	t.active = nil
	t.nextActive = nil
}

// ActiveSenones collects every distinct senone referenced by an active
// node's bound HMM, for the acoustic scorer's active-senone mask (spec.md
// §4.E "active_senones", consumed by component C).
func (t *Tree) ActiveSenones(def *acmodel.Definition) []acmodel.SenoneID {
	seen := make(map[acmodel.SenoneID]bool)
	var out []acmodel.SenoneID
	for _, id := range t.active {
		h := t.nodes[id].HMM
		if h == nil {
			continue
		}
		for _, sen := range def.SenoneSeqs[h.SSeq] {
			if !seen[sen] {
				seen[sen] = true
				out = append(out, sen)
			}
		}
	}
	return out
}

// LCRoots returns the root node ids reachable when the preceding word
// ends in CI phone lc (spec.md §4.E: "lcroot[lc]").
func (t *Tree) LCRoots(lc acmodel.CIPhoneID) []NodeID {
	return t.lcroot[lc]
}

// propagateLookahead sets every node's LMLookahead to the maximum
// lookahead(wid) over every word reachable beneath it (spec.md §4.E).
// Leaves are visited first (their Wid's own score), then each node is
// folded into its parent's running maximum — a single reverse pass since
// nodes are appended in a child-follows-existence order for chains and a
// node never has a NodeID smaller than its parent's... Leaves added after
// their ancestors also satisfy this, so iterating indices in reverse order
// visits every node after all of its children.
func (t *Tree) propagateLookahead(lookahead func(dict.WordID) int32) {
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.Wid != dict.NoWord {
			n.LMLookahead = lookahead(n.Wid)
		}
	}
	for i := len(t.nodes) - 1; i >= 0; i-- {
		n := &t.nodes[i]
		if n.Parent == NoNode {
			continue
		}
		p := &t.nodes[n.Parent]
		if n.LMLookahead > p.LMLookahead {
			p.LMLookahead = n.LMLookahead
		}
	}
}

package lextree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
	"github.com/example/go-voxdecoder/internal/dict2pid"
)

// buildFixture mirrors dict2pid's own test fixture: a 4-CI-phone model
// (SIL filler, AH, B, K) with a small hand-crafted triphone table, and a
// dictionary of "CAB K AH B", "AB AH B", "A AH", plus a one-word filler
// dictionary entry for SIL.
func buildFixture(t *testing.T) (*acmodel.Definition, *dict.Dictionary, *dict2pid.Table) {
	t.Helper()

	ciPhones := []acmodel.CIPhone{
		{Name: "SIL", Flags: acmodel.CIPhoneFlagFiller},
		{Name: "AH"},
		{Name: "B"},
		{Name: "K"},
	}
	ah := acmodel.CIPhoneID(1)
	b := acmodel.CIPhoneID(2)
	k := acmodel.CIPhoneID(3)
	none := acmodel.NoCIPhone

	triphones := []acmodel.Triphone{
		{Base: ah, Left: k, Right: b, Pos: acmodel.PosInternal, SSeq: 10},
		{Base: ah, Left: none, Right: b, Pos: acmodel.PosBegin, SSeq: 11},
		{Base: ah, Left: k, Right: b, Pos: acmodel.PosBegin, SSeq: 12},
		{Base: b, Left: ah, Right: none, Pos: acmodel.PosEnd, SSeq: 20},
		{Base: b, Left: ah, Right: k, Pos: acmodel.PosEnd, SSeq: 20},
		{Base: b, Left: ah, Right: ah, Pos: acmodel.PosEnd, SSeq: 21},
		{Base: ah, Left: none, Right: none, Pos: acmodel.PosSingle, SSeq: 30},
		{Base: ah, Left: b, Right: none, Pos: acmodel.PosSingle, SSeq: 31},
		// CAB's first phone, K, needs its own left-diphone row (right
		// context fixed to AH, CAB's second phone) since a multi-phone
		// word's root is keyed on its own first phone, not on AH.
		{Base: k, Left: none, Right: ah, Pos: acmodel.PosBegin, SSeq: 40},
	}
	// Senone sequences are indexed by SSeqID; size the table to cover every
	// SSeq the triphone table above references (up to 40) so ActiveSenones
	// can safely index it, even though none of these tests care about the
	// actual senone contents.
	senoneSeqs := make([][]acmodel.SenoneID, 41)
	senoneSeqs[10] = []acmodel.SenoneID{100, 101, 102}
	senoneSeqs[11] = []acmodel.SenoneID{110, 111, 112}
	senoneSeqs[12] = []acmodel.SenoneID{120, 121, 122}
	senoneSeqs[20] = []acmodel.SenoneID{200, 201, 202}
	senoneSeqs[21] = []acmodel.SenoneID{210, 211, 212}
	senoneSeqs[30] = []acmodel.SenoneID{300, 301, 302}
	senoneSeqs[31] = []acmodel.SenoneID{310, 311, 312}
	senoneSeqs[40] = []acmodel.SenoneID{400, 401, 402}

	def := acmodel.NewDefinition(ciPhones, 3, senoneSeqs, triphones)

	path := filepath.Join(t.TempDir(), "test.dict")
	contents := "CAB K AH B\nAB AH B\nA AH\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	d := dict.New()
	if err := d.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	d2p, err := dict2pid.Build(def, d)
	if err != nil {
		t.Fatalf("dict2pid.Build: %v", err)
	}
	return def, d, d2p
}

func TestBuildCreatesRootsForEveryContext(t *testing.T) {
	def, d, d2p := buildFixture(t)
	tree, err := Build(def, d, d2p, 3, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	none := acmodel.NoCIPhone
	roots := tree.LCRoots(none)
	if len(roots) == 0 {
		t.Fatal("expected at least one root under the utterance-initial context")
	}
	for _, r := range roots {
		n := tree.Node(r)
		if n.Parent != NoNode {
			t.Fatalf("root node %d has non-nil parent", r)
		}
	}
}

func TestMultiPhoneWordLeafStartsUnexpanded(t *testing.T) {
	def, d, d2p := buildFixture(t)
	tree, err := Build(def, d, d2p, 3, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cab, ok := d.WordToID("CAB")
	if !ok {
		t.Fatal("expected CAB in dictionary")
	}

	var found bool
	for i := 0; i < len(tree.nodes); i++ {
		if tree.nodes[i].Wid == cab {
			found = true
			n := tree.Node(NodeID(i))
			if n.HMM != nil {
				t.Fatal("leaf for a multi-phone word's final phone should start unexpanded (HMM nil)")
			}
			if n.expanded {
				t.Fatal("leaf should not be pre-expanded")
			}
		}
	}
	if !found {
		t.Fatal("expected a leaf node for CAB")
	}
}

func TestExpandLeafProducesBoundHMMPerRightContextClass(t *testing.T) {
	def, d, d2p := buildFixture(t)
	tree, err := Build(def, d, d2p, 3, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cab, _ := d.WordToID("CAB")
	var leaf NodeID = NoNode
	for i := 0; i < len(tree.nodes); i++ {
		if tree.nodes[i].Wid == cab {
			leaf = NodeID(i)
			break
		}
	}
	if leaf == NoNode {
		t.Fatal("expected to find CAB's leaf")
	}

	none := acmodel.NoCIPhone
	k := acmodel.CIPhoneID(3)
	ah := acmodel.CIPhoneID(1)

	childNone := tree.Expand(leaf, none)
	childK := tree.Expand(leaf, k)
	childAH := tree.Expand(leaf, ah)

	if tree.Node(childNone).HMM == nil {
		t.Fatal("expanded child should have a bound HMM")
	}
	if childNone != childK {
		t.Fatal("none and K share sseq 20 in the fixture and should map to the same expanded child")
	}
	if childAH == childNone {
		t.Fatal("AH has a distinct sseq (21) and should expand to a different child")
	}
	if tree.IsLeaf(leaf) {
		t.Fatal("leaf should report expanded after Expand")
	}
}

func TestExpandIsIdempotent(t *testing.T) {
	def, d, d2p := buildFixture(t)
	tree, err := Build(def, d, d2p, 3, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cab, _ := d.WordToID("CAB")
	var leaf NodeID = NoNode
	for i := 0; i < len(tree.nodes); i++ {
		if tree.nodes[i].Wid == cab {
			leaf = NodeID(i)
			break
		}
	}
	none := acmodel.NoCIPhone
	first := tree.Expand(leaf, none)
	second := tree.Expand(leaf, none)
	if first != second {
		t.Fatal("repeated Expand calls should return the same child")
	}
}

func TestSinglePhoneWordExpandsByBothContexts(t *testing.T) {
	def, d, d2p := buildFixture(t)
	tree, err := Build(def, d, d2p, 3, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	a, ok := d.WordToID("A")
	if !ok {
		t.Fatal("expected A in dictionary")
	}

	none := acmodel.NoCIPhone
	b := acmodel.CIPhoneID(2)

	var rootNone NodeID = NoNode
	for _, r := range tree.LCRoots(none) {
		if tree.Node(r).Wid == a {
			rootNone = r
			break
		}
	}
	if rootNone == NoNode {
		t.Fatal("expected a single-phone root for A under left context none")
	}
	child := tree.Expand(rootNone, none)
	if tree.Node(child).HMM == nil {
		t.Fatal("expected a bound HMM after expanding a single-phone word")
	}

	var rootB NodeID = NoNode
	for _, r := range tree.LCRoots(b) {
		if tree.Node(r).Wid == a {
			rootB = r
			break
		}
	}
	if rootB == NoNode {
		t.Fatal("expected a single-phone root for A under left context B")
	}
}

func TestEnterSwapActiveAndActiveSenones(t *testing.T) {
	def, d, d2p := buildFixture(t)
	tree, err := Build(def, d, d2p, 3, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	none := acmodel.NoCIPhone
	roots := tree.LCRoots(none)
	if len(roots) == 0 {
		t.Fatal("expected roots")
	}
	root := roots[0]
	if tree.Node(root).HMM == nil {
		t.Skip("fixture root has no bound HMM for this left context")
	}

	tree.Enter(root, 0, -1, 0)
	if len(tree.Active()) != 1 {
		t.Fatalf("Active() len = %d, want 1", len(tree.Active()))
	}

	senones := tree.ActiveSenones(def)
	if len(senones) == 0 {
		t.Fatal("expected ActiveSenones to report senones for the entered root's bound HMM")
	}

	tree.MarkActiveNext(root)
	tree.SwapActive()
	if len(tree.Active()) != 1 {
		t.Fatalf("after SwapActive, Active() len = %d, want 1", len(tree.Active()))
	}
}

func TestLMLookaheadPropagatesToAncestors(t *testing.T) {
	def, d, d2p := buildFixture(t)
	cab, _ := d.WordToID("CAB")
	lookahead := func(wid dict.WordID) int32 {
		if wid == cab {
			return 42
		}
		return -1000
	}
	tree, err := Build(def, d, d2p, 3, lookahead)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	none := acmodel.NoCIPhone
	k := acmodel.CIPhoneID(3)
	var rootK NodeID = NoNode
	for _, r := range tree.LCRoots(none) {
		if tree.Node(r).CI == k {
			rootK = r
			break
		}
	}
	if rootK == NoNode {
		t.Fatal("expected a K-rooted entry for CAB under left context none")
	}
	if tree.Node(rootK).LMLookahead < 42 {
		t.Fatalf("root LMLookahead = %d, want propagated max >= 42", tree.Node(rootK).LMLookahead)
	}
}

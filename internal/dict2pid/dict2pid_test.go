package dict2pid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-voxdecoder/internal/acmodel"
	"github.com/example/go-voxdecoder/internal/dict"
)

func testDefinitionAndDict(t *testing.T) (*acmodel.Definition, *dict.Dictionary) {
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
	}

	def := acmodel.NewDefinition(ciPhones, 3, nil, triphones)

	path := filepath.Join(t.TempDir(), "test.dict")
	contents := "CAB K AH B\nAB AH B\nA AH\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	d := dict.New()
	if err := d.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	return def, d
}

func TestBuildInternalTable(t *testing.T) {
	def, d := testDefinitionAndDict(t)
	tab, err := Build(def, d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cab, ok := d.WordToID("CAB")
	if !ok {
		t.Fatal("expected CAB to resolve")
	}
	ref, ok := tab.Internal(cab, 1)
	if !ok {
		t.Fatal("expected internal entry for CAB pos 1")
	}
	if ref.SSeq != 10 {
		t.Fatalf("Internal(CAB,1).SSeq = %d, want 10", ref.SSeq)
	}
}

func TestBuildLeftDiphone(t *testing.T) {
	def, d := testDefinitionAndDict(t)
	tab, err := Build(def, d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ah := acmodel.CIPhoneID(1)
	b := acmodel.CIPhoneID(2)
	k := acmodel.CIPhoneID(3)
	none := acmodel.NoCIPhone

	ref, ok := tab.LeftDiphone(ah, b, none)
	if !ok || ref.SSeq != 11 {
		t.Fatalf("LeftDiphone(AH,B,none) = (%+v,%v), want (SSeq=11,true)", ref, ok)
	}
	ref, ok = tab.LeftDiphone(ah, b, k)
	if !ok || ref.SSeq != 12 {
		t.Fatalf("LeftDiphone(AH,B,K) = (%+v,%v), want (SSeq=12,true)", ref, ok)
	}
}

func TestBuildRightContextsCompressionAndFallback(t *testing.T) {
	def, d := testDefinitionAndDict(t)
	tab, err := Build(def, d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ah := acmodel.CIPhoneID(1)
	b := acmodel.CIPhoneID(2)
	k := acmodel.CIPhoneID(3)
	none := acmodel.NoCIPhone

	rc, ok := tab.RightContexts(b, ah)
	if !ok {
		t.Fatal("expected a right-context set for (B, AH)")
	}
	if rc.NumSlots() != 2 {
		t.Fatalf("NumSlots() = %d, want 2 distinct senone sequences across all 4 right contexts", rc.NumSlots())
	}
	if rc.RefFor(none).SSeq != 20 {
		t.Fatalf("RefFor(none).SSeq = %d, want 20", rc.RefFor(none).SSeq)
	}
	if rc.RefFor(k).SSeq != 20 {
		t.Fatalf("RefFor(K).SSeq = %d, want 20 (shares sseq with none)", rc.RefFor(k).SSeq)
	}
	if rc.RefFor(ah).SSeq != 21 {
		t.Fatalf("RefFor(AH).SSeq = %d, want 21", rc.RefFor(ah).SSeq)
	}
	// B was never observed as a right context for (base=B, left=AH); the
	// map must still be total and degrade to slot 0.
	if rc.RefFor(b).SSeq != 20 {
		t.Fatalf("RefFor(B).SSeq fallback = %d, want 20 (slot 0)", rc.RefFor(b).SSeq)
	}
	if rc.SlotFor(b) != 0 {
		t.Fatalf("SlotFor(B) fallback = %d, want 0", rc.SlotFor(b))
	}
}

func TestBuildSinglePhone(t *testing.T) {
	def, d := testDefinitionAndDict(t)
	tab, err := Build(def, d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ah := acmodel.CIPhoneID(1)
	none := acmodel.NoCIPhone

	ref, ok := tab.SinglePhone(ah, none, none)
	if !ok || ref.SSeq != 30 {
		t.Fatalf("SinglePhone(AH,none,none) = (%+v,%v), want (SSeq=30,true)", ref, ok)
	}
}

func TestBuildUnknownPhoneIsError(t *testing.T) {
	def, d := testDefinitionAndDict(t)
	// Add a word referencing a phone absent from the model definition.
	path := filepath.Join(t.TempDir(), "bad.dict")
	if err := os.WriteFile(path, []byte("ZAB ZZ AH B\n"), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	if err := d.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Build(def, d); err == nil {
		t.Fatal("expected error for a word with an unknown phone")
	}
}

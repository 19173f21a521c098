package acmodel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// CIPhoneID identifies a context-independent phone.
type CIPhoneID uint16

// NoCIPhone is the sentinel "no phone" value (e.g. the left context of an
// utterance-initial word).
const NoCIPhone = CIPhoneID(^uint16(0))

// SSeqID identifies a senone sequence: one HMM state-emission sequence
// shared by every triphone that maps to it.
type SSeqID uint32

// NoSSeq is the sentinel "no senone sequence" value.
const NoSSeq = SSeqID(^uint32(0))

// SenoneID identifies a tied senone (terminal acoustic unit).
type SenoneID uint32

// TmatID identifies a transition matrix.
type TmatID uint16

// WordPosition is the position of a phone within its word's pronunciation.
type WordPosition uint8

const (
	PosBegin WordPosition = iota
	PosInternal
	PosEnd
	PosSingle
)

func (p WordPosition) String() string {
	switch p {
	case PosBegin:
		return "begin"
	case PosInternal:
		return "internal"
	case PosEnd:
		return "end"
	case PosSingle:
		return "single"
	default:
		return "invalid"
	}
}

// CIPhoneFlag bits on a CI phone table entry.
type CIPhoneFlag uint8

const (
	CIPhoneFlagNone   CIPhoneFlag = 0
	CIPhoneFlagFiller CIPhoneFlag = 1 << 0
)

// CIPhone is one context-independent phone table entry.
type CIPhone struct {
	Name  string
	Flags CIPhoneFlag
}

// IsFiller reports whether this CI phone is a filler (silence/noise) unit.
func (p CIPhone) IsFiller() bool { return p.Flags&CIPhoneFlagFiller != 0 }

// Triphone is one row of the triphone table: a CI phone in a specific
// left/right context and word position, mapped to a senone sequence and
// transition matrix.
type Triphone struct {
	Base  CIPhoneID
	Left  CIPhoneID
	Right CIPhoneID
	Pos   WordPosition
	SSeq  SSeqID
	Tmat  TmatID
}

// Definition is the context-dependent acoustic model definition: the CI
// phone table, the triphone table, and the shared senone-sequence table
// (spec.md §3 "Triphone", §6 "Model definition").
type Definition struct {
	CIPhones     []CIPhone
	NEmitStates  int
	SenoneSeqs   [][]SenoneID // indexed by SSeqID
	Triphones    []Triphone
	triphoneByCt map[triphoneKey]int // index into Triphones, for Lookup
	ciByName     map[string]CIPhoneID
}

type triphoneKey struct {
	base, left, right CIPhoneID
	pos               WordPosition
}

// NewDefinition builds a Definition from its component tables and indexes
// it for Lookup/CIPhoneID. Callers normally obtain a Definition via
// ReadDefinition instead of calling this directly.
func NewDefinition(ciPhones []CIPhone, nEmitStates int, senoneSeqs [][]SenoneID, triphones []Triphone) *Definition {
	d := &Definition{
		CIPhones:    ciPhones,
		NEmitStates: nEmitStates,
		SenoneSeqs:  senoneSeqs,
		Triphones:   triphones,
	}
	d.index()
	return d
}

func (d *Definition) index() {
	d.triphoneByCt = make(map[triphoneKey]int, len(d.Triphones))
	for i, t := range d.Triphones {
		d.triphoneByCt[triphoneKey{t.Base, t.Left, t.Right, t.Pos}] = i
	}
	d.ciByName = make(map[string]CIPhoneID, len(d.CIPhones))
	for i, p := range d.CIPhones {
		d.ciByName[p.Name] = CIPhoneID(i)
	}
}

// CIPhoneByName resolves a phone name (as it appears in a dictionary
// pronunciation) to its CIPhoneID.
func (d *Definition) CIPhoneByName(name string) (CIPhoneID, bool) {
	id, ok := d.ciByName[name]
	return id, ok
}

// Lookup finds the triphone row for (base, left, right, pos), if the model
// definition contains it. Callers needing the full right-context fan-out
// for a fixed (base, left) should scan Triphones directly; dict2pid does
// this once at build time.
func (d *Definition) Lookup(base, left, right CIPhoneID, pos WordPosition) (Triphone, bool) {
	i, ok := d.triphoneByCt[triphoneKey{base, left, right, pos}]
	if !ok {
		return Triphone{}, false
	}
	return d.Triphones[i], true
}

// ReadDefinition reads a model definition file (mdef) written by
// WriteDefinition.
func ReadDefinition(path string) (*Definition, error) {
	br, f, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := readHeader(br, tagMdef); err != nil {
		return nil, err
	}

	var nCI uint32
	if err := binary.Read(br, binary.LittleEndian, &nCI); err != nil {
		return nil, fmt.Errorf("acmodel: read CI phone count: %w", err)
	}
	ciPhones := make([]CIPhone, nCI)
	for i := range ciPhones {
		name, err := readString(br)
		if err != nil {
			return nil, err
		}
		var flags uint8
		if err := binary.Read(br, binary.LittleEndian, &flags); err != nil {
			return nil, fmt.Errorf("acmodel: read CI phone flags: %w", err)
		}
		ciPhones[i] = CIPhone{Name: name, Flags: CIPhoneFlag(flags)}
	}

	var nEmit uint8
	if err := binary.Read(br, binary.LittleEndian, &nEmit); err != nil {
		return nil, fmt.Errorf("acmodel: read emitting state count: %w", err)
	}

	var nSeq uint32
	if err := binary.Read(br, binary.LittleEndian, &nSeq); err != nil {
		return nil, fmt.Errorf("acmodel: read senone sequence count: %w", err)
	}
	seqs := make([][]SenoneID, nSeq)
	for i := range seqs {
		row := make([]SenoneID, nEmit)
		for j := range row {
			var s uint32
			if err := binary.Read(br, binary.LittleEndian, &s); err != nil {
				return nil, fmt.Errorf("acmodel: read senone id: %w", err)
			}
			row[j] = SenoneID(s)
		}
		seqs[i] = row
	}

	var nTri uint32
	if err := binary.Read(br, binary.LittleEndian, &nTri); err != nil {
		return nil, fmt.Errorf("acmodel: read triphone count: %w", err)
	}
	triphones := make([]Triphone, nTri)
	for i := range triphones {
		var base, left, right uint16
		var pos, _pad uint8
		var sseq, tmat uint32
		if err := binary.Read(br, binary.LittleEndian, &base); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &left); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &right); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &pos); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &_pad); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &sseq); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &tmat); err != nil {
			return nil, err
		}
		triphones[i] = Triphone{
			Base:  CIPhoneID(base),
			Left:  CIPhoneID(left),
			Right: CIPhoneID(right),
			Pos:   WordPosition(pos),
			SSeq:  SSeqID(sseq),
			Tmat:  TmatID(tmat),
		}
	}

	return NewDefinition(ciPhones, int(nEmit), seqs, triphones), nil
}

// WriteDefinition serializes a Definition to path in the format
// ReadDefinition understands.
func WriteDefinition(path string, d *Definition) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("acmodel: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if err := writeHeader(w, tagMdef, 1); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(d.CIPhones))); err != nil {
		return err
	}
	for _, p := range d.CIPhones {
		if err := writeString(w, p.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(p.Flags)); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint8(d.NEmitStates)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(d.SenoneSeqs))); err != nil {
		return err
	}
	for _, seq := range d.SenoneSeqs {
		if len(seq) != d.NEmitStates {
			return fmt.Errorf("acmodel: senone sequence has %d states, want %d", len(seq), d.NEmitStates)
		}
		for _, s := range seq {
			if err := binary.Write(w, binary.LittleEndian, uint32(s)); err != nil {
				return err
			}
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(d.Triphones))); err != nil {
		return err
	}
	for _, t := range d.Triphones {
		fields := []any{
			uint16(t.Base), uint16(t.Left), uint16(t.Right),
			uint8(t.Pos), uint8(0),
			uint32(t.SSeq), uint32(t.Tmat),
		}
		for _, v := range fields {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}

	return w.Flush()
}

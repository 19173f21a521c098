// Package dict parses and indexes the pronunciation dictionary and filler
// dictionary (spec.md §6 "Dictionary file"): plain UTF-8, one pronunciation
// per line, grammar `WORD[(variant)] PHONE1 PHONE2 ...`.
package dict

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WordID identifies a dictionary entry (spec.md §3 "Word").
type WordID uint32

// NoWord is the sentinel "no such word" value.
const NoWord = WordID(^uint32(0))

// Word is one dictionary entry: a name (possibly a pronunciation variant,
// e.g. "READ(2)"), its phone sequence, a link back to the base-form word
// id, and whether it belongs to the filler vocabulary.
type Word struct {
	Name     string
	BaseWid  WordID
	Pron     []string // phone names, as written in the dictionary file
	IsFiller bool
}

// Dictionary is the combined main + filler pronunciation dictionary,
// indexed for lookup in both directions (spec.md §6, §3 "Word").
type Dictionary struct {
	words   []Word
	byName  map[string]WordID   // exact entry name -> wid, including "(n)" variants
	byBase  map[string][]WordID // base form -> all its variant wids, base first
	fillers map[WordID]bool
}

// New returns an empty Dictionary. Load or LoadFiller populate it.
func New() *Dictionary {
	return &Dictionary{
		byName:  make(map[string]WordID),
		byBase:  make(map[string][]WordID),
		fillers: make(map[WordID]bool),
	}
}

// Word returns the entry for wid.
func (d *Dictionary) Word(wid WordID) Word { return d.words[wid] }

// Len returns the number of entries (main + filler).
func (d *Dictionary) Len() int { return len(d.words) }

// WordToID resolves an exact entry name (including a "(n)" variant suffix,
// if any) to its WordID.
func (d *Dictionary) WordToID(name string) (WordID, bool) {
	wid, ok := d.byName[name]
	return wid, ok
}

// BaseWid returns the base-form WordID for any variant of wid, per spec.md
// §3's "the base variant is recoverable via base_wid(wid)".
func (d *Dictionary) BaseWid(wid WordID) WordID {
	return d.words[wid].BaseWid
}

// Variants returns every WordID sharing wid's base form, base form first.
func (d *Dictionary) Variants(wid WordID) []WordID {
	base := d.words[wid].BaseWid
	return d.byBase[d.words[base].Name]
}

// IsFiller reports whether wid belongs to the filler vocabulary (spec.md
// §3: "Filler words ... form a distinguished contiguous id range").
func (d *Dictionary) IsFiller(wid WordID) bool {
	return d.fillers[wid]
}

// Load parses the main pronunciation dictionary from path and adds its
// entries to d.
func (d *Dictionary) Load(path string) error {
	return d.loadFile(path, false)
}

// LoadFiller parses a filler dictionary from path, flagging every entry it
// adds as a filler word.
func (d *Dictionary) LoadFiller(path string) error {
	return d.loadFile(path, true)
}

func (d *Dictionary) loadFile(path string, filler bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dict: open %s: %w", path, err)
	}
	defer f.Close()
	return d.parse(f, filler)
}

// parse implements the grammar described in spec.md §6: one entry per
// non-blank, non-comment line, first field the (possibly variant-suffixed)
// word name, remaining fields the phone sequence.
func (d *Dictionary) parse(r io.Reader, filler bool) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";;") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("dict: line %d: expected \"WORD PHONE...\", got %q", lineNo, line)
		}
		name := fields[0]
		pron := fields[1:]

		base, variant := splitVariant(name)
		if _, exists := d.byName[name]; exists {
			return fmt.Errorf("dict: line %d: duplicate entry %q", lineNo, name)
		}

		wid := WordID(len(d.words))
		w := Word{Name: name, Pron: pron, IsFiller: filler}

		baseEntries := d.byBase[base]
		if variant == 0 && len(baseEntries) == 0 {
			w.BaseWid = wid
		} else {
			w.BaseWid = baseEntries[0]
		}

		d.words = append(d.words, w)
		d.byName[name] = wid
		d.byBase[base] = append(d.byBase[base], wid)
		if filler {
			d.fillers[wid] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("dict: scan: %w", err)
	}
	return nil
}

// splitVariant splits "WORD(2)" into ("WORD", 2) and "WORD" into ("WORD", 0).
func splitVariant(name string) (base string, variant int) {
	open := strings.LastIndexByte(name, '(')
	if open < 0 || !strings.HasSuffix(name, ")") {
		return name, 0
	}
	n, err := strconv.Atoi(name[open+1 : len(name)-1])
	if err != nil {
		return name, 0
	}
	return name[:open], n
}

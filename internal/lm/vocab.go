package lm

// WordID identifies a word in the language model's own vocabulary. The LM
// is a black box to the decoder (spec.md §6): it maintains its own id
// space, separate from dict.WordID, and the search maps between the two
// once at load time.
type WordID uint32

// Sentinel ids every Vocab reserves, mirroring the start/end/unknown
// symbols every n-gram LM needs (spec.md §6: "Unknown-word and start/end-
// symbol ids are discoverable").
const (
	Unknown WordID = 0
	Start   WordID = 1
	End     WordID = 2
)

// Vocab maps between word strings and the LM's WordIDs. The shape —
// parallel id2str/str2id tables with reserved unk/bos/eos entries seeded
// by the constructor — follows the fslm vocabulary idiom from the example
// pack.
type Vocab struct {
	Unk, BOS, EOS string
	id2str        []string
	str2id        map[string]WordID
}

// NewVocab constructs a Vocab with the given unknown/begin/end symbols
// preloaded at their reserved ids.
func NewVocab(unk, bos, eos string) *Vocab {
	id2str := []string{Unknown: unk, Start: bos, End: eos}
	str2id := map[string]WordID{unk: Unknown, bos: Start, eos: End}
	return &Vocab{Unk: unk, BOS: bos, EOS: eos, id2str: id2str, str2id: str2id}
}

// Bound returns one past the largest assigned WordID.
func (v *Vocab) Bound() WordID { return WordID(len(v.id2str)) }

// IDOf looks up the WordID of s, returning Unknown if absent.
func (v *Vocab) IDOf(s string) WordID {
	if id, ok := v.str2id[s]; ok {
		return id
	}
	return Unknown
}

// StringOf returns the string for a WordID returned by IDOf or IDOrAdd.
func (v *Vocab) StringOf(id WordID) string { return v.id2str[id] }

// IDOrAdd looks up s, adding it to the vocabulary (assigning the next
// WordID) if absent. Used while building a model from n-gram data.
func (v *Vocab) IDOrAdd(s string) WordID {
	if id, ok := v.str2id[s]; ok {
		return id
	}
	id := v.Bound()
	v.id2str = append(v.id2str, s)
	v.str2id[s] = id
	return id
}

// Iter returns every known word string in id order, starting after the
// reserved unk/bos/eos entries (spec.md §6's vocab_iter()).
func (v *Vocab) Iter() []string {
	return append([]string(nil), v.id2str[3:]...)
}

// Package logmath implements the integer log-domain arithmetic used
// throughout the decoder: scores are kept as log_b(x) for a base b close to
// 1, so that probabilities spanning many orders of magnitude fit in a
// signed 32-bit integer with enough resolution to distinguish them
// (spec.md §4.A).
package logmath

import "math"

// Worst is the sentinel "zero probability" / "unreachable" score. It is
// chosen well away from math.MinInt32 so that a handful of Add calls on it
// cannot overflow.
const Worst int32 = math.MinInt32 / 2

// DefaultBase is the base used when none is configured, matching the
// reference decoder's convention.
const DefaultBase = 1.0001

// Table is a base-b log-domain arithmetic table. It is built once and is
// safe for concurrent read-only use by independent decoder sessions;
// construction (NewTable) is the only mutation.
type Table struct {
	base      float64
	logBase   float64 // ln(base), used by ToLn/FromLn
	addTable  []int32 // table[d] = round(log_b(1 + b^-d)) for d = 0..len-1
	tableSize int32
}

// NewTable builds a Table for the given base (spec.md default 1.0001).
// The add-table is precomputed out to the point where log_b(1+b^-d)
// rounds to zero, per spec.md §4.A ("table precomputed over the range
// where log(1 + b^d) is non-zero").
func NewTable(base float64) *Table {
	if base <= 1.0 {
		base = DefaultBase
	}
	t := &Table{
		base:    base,
		logBase: math.Log(base),
	}
	t.buildAddTable()
	return t
}

func (t *Table) buildAddTable() {
	var table []int32
	for d := int32(0); ; d++ {
		// log_b(1 + b^-d) = ln(1 + b^-d) / ln(b)
		v := math.Log1p(math.Pow(t.base, -float64(d))) / t.logBase
		r := int32(math.Round(v))
		if r == 0 && d > 0 {
			break
		}
		table = append(table, r)
		if d > 1<<20 {
			// Pathological base; stop rather than loop forever.
			break
		}
	}
	t.addTable = table
	t.tableSize = int32(len(table))
}

// Base returns the log base this table was constructed with.
func (t *Table) Base() float64 { return t.base }

// Add computes log_b(b^a + b^b) from a = log_b(x) and b = log_b(y), i.e.
// the log-domain equivalent of adding two linear-domain probabilities,
// using the precomputed table instead of calling exp/log (spec.md §4.A):
//
//	log_add(a, b) = a + table[b - a]   for b <= a   (arguments swapped otherwise)
func (t *Table) Add(a, b int32) int32 {
	if a == Worst {
		return b
	}
	if b == Worst {
		return a
	}
	if b > a {
		a, b = b, a
	}
	d := a - b
	if d >= t.tableSize {
		return a
	}
	return a + t.addTable[d]
}

// ToLn converts a log_b value to natural log (log_to_ln).
func (t *Table) ToLn(logval int32) float64 {
	return float64(logval) * t.logBase
}

// FromLn converts a natural-log value to log_b (ln_to_log).
func (t *Table) FromLn(lnval float64) int32 {
	return int32(math.Round(lnval / t.logBase))
}

// Exp converts a log_b value back to a linear-domain probability.
func (t *Table) Exp(logval int32) float64 {
	return math.Exp(t.ToLn(logval))
}

// Log converts a linear-domain probability to log_b.
func (t *Table) Log(x float64) int32 {
	if x <= 0 {
		return Worst
	}
	return t.FromLn(math.Log(x))
}

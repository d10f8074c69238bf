package tolerance

import (
	"math"
	"sort"
)

const (
	// DefaultTokenTolerance is the allowed absolute difference per token relevance
	DefaultTokenTolerance = 0.05
	// DefaultSentimentTolerance is the allowed absolute difference in sentiment
	DefaultSentimentTolerance = 0.05
)

// Discrepancy describes one value outside its tolerance
type Discrepancy struct {
	Miner     float64 `json:"miner"`
	Validator float64 `json:"validator"`
	Allowed   float64 `json:"allowed"`
	Diff      float64 `json:"diff"`
}

// KeyedDiscrepancy is a token discrepancy with its key
type KeyedDiscrepancy struct {
	Key string `json:"key"`
	Discrepancy
}

// TokensMatchWithin compares two token mappings over the union of their keys.
// A key is skipped when both sides are below eps; otherwise a difference above
// absTol is reported.
func TokensMatchWithin(miner, ref map[string]float64, absTol, eps float64) (bool, map[string]Discrepancy) {
	diffs := make(map[string]Discrepancy)

	visit := func(k string) {
		if _, done := diffs[k]; done {
			return
		}
		a, b := miner[k], ref[k]
		if a < eps && b < eps {
			return
		}
		if d := math.Abs(a - b); d > absTol {
			diffs[k] = Discrepancy{Miner: a, Validator: b, Allowed: absTol, Diff: d}
		}
	}
	for k := range miner {
		visit(k)
	}
	for k := range ref {
		visit(k)
	}

	return len(diffs) == 0, diffs
}

// ScalarWithin applies the absolute tolerance rule to a single pair
func ScalarWithin(miner, ref, absTol float64) (bool, Discrepancy) {
	d := math.Abs(miner - ref)
	return d <= absTol, Discrepancy{Miner: miner, Validator: ref, Allowed: absTol, Diff: d}
}

// Top returns the n largest discrepancies, largest first, ties ordered by key
func Top(diffs map[string]Discrepancy, n int) []KeyedDiscrepancy {
	out := make([]KeyedDiscrepancy, 0, len(diffs))
	for k, d := range diffs {
		out = append(out, KeyedDiscrepancy{Key: k, Discrepancy: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Diff != out[j].Diff {
			return out[i].Diff > out[j].Diff
		}
		return out[i].Key < out[j].Key
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

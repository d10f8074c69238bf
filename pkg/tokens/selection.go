package tokens

import (
	"math"
	"sort"
	"strings"
)

const (
	// DefaultEps is the noise floor below which a relevance value is treated as absent
	DefaultEps = 0.05
	// DefaultCap bounds the size of the comparison key set
	DefaultCap = 128
)

// Policy decides which token entries are compared
type Policy struct {
	Eps float64 `json:"eps" yaml:"eps"`
	Cap int     `json:"k" yaml:"k"`
}

// DefaultPolicy returns eps 0.05 and cap 128
func DefaultPolicy() Policy {
	return Policy{Eps: DefaultEps, Cap: DefaultCap}
}

// NormalizeKey trims and lower-cases a token name
func NormalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// NormalizeKeys rewrites every key with NormalizeKey.
// When two keys collapse onto one, the entry with the larger magnitude wins
// and an exact magnitude tie keeps the larger value.
func NormalizeKeys(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		nk := NormalizeKey(k)
		prev, seen := out[nk]
		if !seen || math.Abs(v) > math.Abs(prev) || (math.Abs(v) == math.Abs(prev) && v > prev) {
			out[nk] = v
		}
	}
	return out
}

// Select restricts both mappings to the comparable key set.
// Every reference key at or above the noise floor is kept; submitted-only keys
// are added by descending magnitude, then by key, until the set reaches Cap.
// The submitted side defaults missing keys to 0.0.
func (p Policy) Select(submitted, reference map[string]float64) (map[string]float64, map[string]float64) {
	sub := p.dropNoise(NormalizeKeys(submitted))
	ref := p.dropNoise(NormalizeKeys(reference))

	keep := make(map[string]struct{}, len(ref))
	for k := range ref {
		keep[k] = struct{}{}
	}

	extras := make([]string, 0, len(sub))
	for k := range sub {
		if _, ok := keep[k]; !ok {
			extras = append(extras, k)
		}
	}
	sort.Slice(extras, func(i, j int) bool {
		ai, aj := math.Abs(sub[extras[i]]), math.Abs(sub[extras[j]])
		if ai != aj {
			return ai > aj
		}
		return extras[i] < extras[j]
	})
	for _, k := range extras {
		if len(keep) >= p.Cap {
			break
		}
		keep[k] = struct{}{}
	}

	selected := make(map[string]float64, len(keep))
	for k := range keep {
		selected[k] = sub[k]
	}
	return selected, ref
}

func (p Policy) dropNoise(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if math.Abs(v) >= p.Eps {
			out[k] = v
		}
	}
	return out
}

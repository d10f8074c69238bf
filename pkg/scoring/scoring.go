package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

// DefaultHorizonHours is the recency decay window
const DefaultHorizonHours = 24.0

// DefaultTopK is the number of subnets averaged by continuous relevance
const DefaultTopK = 5

// Caps normalize each engagement component; values at or above the cap score 1.0
type Caps struct {
	Likes          float64 `json:"likes" yaml:"likes"`
	Retweets       float64 `json:"retweets" yaml:"retweets"`
	Quotes         float64 `json:"quotes" yaml:"quotes"`
	Replies        float64 `json:"replies" yaml:"replies"`
	Followers      float64 `json:"followers" yaml:"followers"`
	AccountAgeDays float64 `json:"account_age_days" yaml:"account_age_days"`
}

// DefaultCaps returns caps calibrated for subnet-scale accounts
func DefaultCaps() Caps {
	return Caps{
		Likes:          5000,
		Retweets:       1000,
		Quotes:         300,
		Replies:        600,
		Followers:      200000,
		AccountAgeDays: 7 * 365,
	}
}

// Weights combine the three components into the composite score
type Weights struct {
	Relevance float64 `json:"relevance" yaml:"relevance"`
	Value     float64 `json:"value" yaml:"value"`
	Recency   float64 `json:"recency" yaml:"recency"`
}

// DefaultWeights returns 0.5 relevance, 0.4 value, 0.1 recency
func DefaultWeights() Weights {
	return Weights{Relevance: 0.50, Value: 0.40, Recency: 0.10}
}

// Engagement holds the raw inputs of the value score
type Engagement struct {
	Likes          int `json:"likes"`
	Retweets       int `json:"retweets"`
	Quotes         int `json:"quotes"`
	Replies        int `json:"replies"`
	Followers      int `json:"followers"`
	AccountAgeDays int `json:"account_age_days"`
}

// Breakdown is a scored post with each component exposed
type Breakdown struct {
	TopSubnets []SubnetRelevance `json:"top_subnets,omitempty"`
	Relevance  float64           `json:"relevance"`
	Value      float64           `json:"value"`
	Recency    float64           `json:"recency"`
	Score      float64           `json:"score"`
}

// SubnetRelevance is one entry of a relevance ranking
type SubnetRelevance struct {
	Name      string  `json:"name"`
	Relevance float64 `json:"relevance"`
}

// Clamp01 bounds x to [0, 1]
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func normCap(value, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	return Clamp01(value / cap)
}

// RecencyScore decays linearly from 1.0 at now to 0.0 at horizonHours old.
// The result depends on the wall clock and must not drive pass/fail decisions.
func RecencyScore(ts time.Time, horizonHours float64) float64 {
	return RecencyScoreAt(ts, horizonHours, time.Now())
}

// RecencyScoreAt is RecencyScore against an explicit clock reading
func RecencyScoreAt(ts time.Time, horizonHours float64, now time.Time) float64 {
	if horizonHours <= 0 {
		horizonHours = DefaultHorizonHours
	}
	ageHours := now.Sub(ts).Hours()
	return Clamp01(1 - ageHours/horizonHours)
}

// ValueScore is the unweighted mean of six capped engagement components
func ValueScore(e Engagement, caps Caps) float64 {
	comps := stats.Float64Data{
		normCap(float64(e.Likes), caps.Likes),
		normCap(float64(e.Retweets), caps.Retweets),
		normCap(float64(e.Quotes), caps.Quotes),
		normCap(float64(e.Replies), caps.Replies),
		normCap(float64(e.Followers), caps.Followers),
		normCap(float64(e.AccountAgeDays), caps.AccountAgeDays),
	}
	mean, err := comps.Mean()
	if err != nil {
		return 0
	}
	return mean
}

// Composite combines the components with w and clamps to [0, 1]
func Composite(relevance, value, recency float64, w Weights) float64 {
	return Clamp01(w.Relevance*relevance + w.Value*value + w.Recency*recency)
}

// BinaryRelevance is 1.0 when the reference names a subnet
func BinaryRelevance(subnetID int) float64 {
	if subnetID != 0 {
		return 1.0
	}
	return 0.0
}

// TopKRelevance returns the mean of the k highest relevance values and the ranking used.
// Ties are broken by subnet name so the ranking is stable.
func TopKRelevance(relevance map[string]float64, k int) (float64, []SubnetRelevance) {
	if k <= 0 {
		k = DefaultTopK
	}

	ranked := make([]SubnetRelevance, 0, len(relevance))
	for name, v := range relevance {
		ranked = append(ranked, SubnetRelevance{Name: name, Relevance: v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Relevance != ranked[j].Relevance {
			return ranked[i].Relevance > ranked[j].Relevance
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	if len(ranked) == 0 {
		return 0, ranked
	}

	values := make(stats.Float64Data, len(ranked))
	for i, r := range ranked {
		values[i] = r.Relevance
	}
	mean, err := values.Mean()
	if err != nil {
		return 0, ranked
	}
	return mean, ranked
}

// Scorer bundles the scoring configuration
type Scorer struct {
	Caps         Caps
	Weights      Weights
	HorizonHours float64
	TopK         int
	now          func() time.Time
}

// NewScorer creates a scorer with default caps, weights, horizon and k
func NewScorer() *Scorer {
	return &Scorer{
		Caps:         DefaultCaps(),
		Weights:      DefaultWeights(),
		HorizonHours: DefaultHorizonHours,
		TopK:         DefaultTopK,
		now:          time.Now,
	}
}

// WithClock pins the scorer's notion of now
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// ScorePost is the submission-side score using continuous top-k relevance
func (s *Scorer) ScorePost(postedAt time.Time, e Engagement, relevance map[string]float64) Breakdown {
	rel, top := TopKRelevance(relevance, s.TopK)
	val := ValueScore(e, s.Caps)
	rec := RecencyScoreAt(postedAt, s.HorizonHours, s.now())

	return Breakdown{
		TopSubnets: top,
		Relevance:  rel,
		Value:      val,
		Recency:    rec,
		Score:      Composite(rel, val, rec, s.Weights),
	}
}

// GradingScore is the acceptance-side score using binary relevance of the reference subnet
func (s *Scorer) GradingScore(postedAt time.Time, e Engagement, referenceSubnetID int) Breakdown {
	rel := BinaryRelevance(referenceSubnetID)
	val := ValueScore(e, s.Caps)
	rec := RecencyScoreAt(postedAt, s.HorizonHours, s.now())

	return Breakdown{
		Relevance: rel,
		Value:     val,
		Recency:   rec,
		Score:     Composite(rel, val, rec, s.Weights),
	}
}

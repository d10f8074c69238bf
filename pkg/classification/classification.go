package classification

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// NoneOfTheAbove is the subnet name paired with subnet id 0
const NoneOfTheAbove = "NONE_OF_THE_ABOVE"

// ErrSubnetMismatch is returned when subnet id and subnet name disagree about "no subnet"
var ErrSubnetMismatch = errors.New("subnet_id and subnet_name disagree")

// Result is a complete classification of one post
type Result struct {
	SubnetID            int                 `json:"subnet_id"`
	SubnetName          string              `json:"subnet_name"`
	ContentType         ContentType         `json:"content_type"`
	Sentiment           Sentiment           `json:"sentiment"`
	TechnicalQuality    TechnicalQuality    `json:"technical_quality"`
	MarketAnalysis      MarketAnalysis      `json:"market_analysis"`
	ImpactPotential     ImpactPotential     `json:"impact_potential"`
	RelevanceConfidence RelevanceConfidence `json:"relevance_confidence"`
	EvidenceSpans       []string            `json:"evidence_spans"`
	AnchorsDetected     []string            `json:"anchors_detected"`
}

// Parse decodes a wire classification and validates every tag and the subnet invariant
func Parse(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks enum membership and the subnet id/name invariant
func (r *Result) Validate() error {
	if (r.SubnetID == 0) != (r.SubnetName == NoneOfTheAbove) {
		return fmt.Errorf("%w: id=%d name=%q", ErrSubnetMismatch, r.SubnetID, r.SubnetName)
	}
	if r.SubnetID < 0 {
		return fmt.Errorf("subnet_id must be non-negative, got %d", r.SubnetID)
	}

	checks := []error{
		tagErr(ParseContentType(string(r.ContentType))),
		tagErr(ParseSentiment(string(r.Sentiment))),
		tagErr(ParseTechnicalQuality(string(r.TechnicalQuality))),
		tagErr(ParseMarketAnalysis(string(r.MarketAnalysis))),
		tagErr(ParseImpactPotential(string(r.ImpactPotential))),
		tagErr(ParseRelevanceConfidence(string(r.RelevanceConfidence))),
	}
	return errors.Join(checks...)
}

func tagErr[T any](_ T, err error) error {
	return err
}

// CanonicalString serializes the classification for byte-exact comparison.
// Evidence spans and anchors are lower-cased and sorted so slice order never matters.
func (r *Result) CanonicalString() string {
	return fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s",
		r.SubnetID,
		r.ContentType,
		r.Sentiment,
		r.TechnicalQuality,
		r.MarketAnalysis,
		r.ImpactPotential,
		r.RelevanceConfidence,
		sortedLower(r.EvidenceSpans),
		sortedLower(r.AnchorsDetected),
	)
}

// TokensDict returns the subnet relevance mapping used by tolerance grading
func (r *Result) TokensDict() map[string]float64 {
	if r.SubnetID == 0 {
		return map[string]float64{}
	}
	return map[string]float64{r.SubnetName: 1.0}
}

func sortedLower(items []string) string {
	lowered := make([]string, len(items))
	for i, s := range items {
		lowered[i] = strings.ToLower(s)
	}
	sort.Strings(lowered)
	return strings.Join(lowered, "|")
}

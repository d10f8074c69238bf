package classification

import (
	"errors"
	"fmt"
)

// ErrUnknownTag is returned when a wire tag is not a member of its enum
var ErrUnknownTag = errors.New("unknown classification tag")

// ContentType is the kind of post
type ContentType string

const (
	ContentAnnouncement     ContentType = "announcement"
	ContentPartnership      ContentType = "partnership"
	ContentTechnicalInsight ContentType = "technical_insight"
	ContentMilestone        ContentType = "milestone"
	ContentTutorial         ContentType = "tutorial"
	ContentSecurity         ContentType = "security"
	ContentGovernance       ContentType = "governance"
	ContentMarketDiscussion ContentType = "market_discussion"
	ContentHiring           ContentType = "hiring"
	ContentMeme             ContentType = "meme"
	ContentHype             ContentType = "hype"
	ContentOpinion          ContentType = "opinion"
	ContentCommunity        ContentType = "community"
	ContentFUD              ContentType = "fud"
	ContentOther            ContentType = "other"
)

// Sentiment is the market sentiment bucket of a post
type Sentiment string

const (
	SentimentVeryBullish Sentiment = "very_bullish"
	SentimentBullish     Sentiment = "bullish"
	SentimentNeutral     Sentiment = "neutral"
	SentimentBearish     Sentiment = "bearish"
	SentimentVeryBearish Sentiment = "very_bearish"
)

// TechnicalQuality grades the technical depth of a post
type TechnicalQuality string

const (
	QualityHigh   TechnicalQuality = "high"
	QualityMedium TechnicalQuality = "medium"
	QualityLow    TechnicalQuality = "low"
	QualityNone   TechnicalQuality = "none"
)

// MarketAnalysis is the analysis angle of a post
type MarketAnalysis string

const (
	AnalysisTechnical MarketAnalysis = "technical"
	AnalysisEconomic  MarketAnalysis = "economic"
	AnalysisPolitical MarketAnalysis = "political"
	AnalysisSocial    MarketAnalysis = "social"
	AnalysisOther     MarketAnalysis = "other"
)

// ImpactPotential estimates how much a post may move its subnet
type ImpactPotential string

const (
	ImpactHigh   ImpactPotential = "HIGH"
	ImpactMedium ImpactPotential = "MEDIUM"
	ImpactLow    ImpactPotential = "LOW"
	ImpactNone   ImpactPotential = "NONE"
)

// RelevanceConfidence is the classifier's confidence in the subnet match
type RelevanceConfidence string

const (
	ConfidenceHigh   RelevanceConfidence = "high"
	ConfidenceMedium RelevanceConfidence = "medium"
	ConfidenceLow    RelevanceConfidence = "low"
)

var (
	contentTypes = tagSet(ContentAnnouncement, ContentPartnership, ContentTechnicalInsight, ContentMilestone,
		ContentTutorial, ContentSecurity, ContentGovernance, ContentMarketDiscussion, ContentHiring, ContentMeme,
		ContentHype, ContentOpinion, ContentCommunity, ContentFUD, ContentOther)
	technicalQualities  = tagSet(QualityHigh, QualityMedium, QualityLow, QualityNone)
	marketAnalyses      = tagSet(AnalysisTechnical, AnalysisEconomic, AnalysisPolitical, AnalysisSocial, AnalysisOther)
	impactPotentials    = tagSet(ImpactHigh, ImpactMedium, ImpactLow, ImpactNone)
	relevanceConfidence = tagSet(ConfidenceHigh, ConfidenceMedium, ConfidenceLow)

	sentimentScores = map[Sentiment]float64{
		SentimentVeryBullish: 1.0,
		SentimentBullish:     0.5,
		SentimentNeutral:     0.0,
		SentimentBearish:     -0.5,
		SentimentVeryBearish: -1.0,
	}
)

func tagSet[T ~string](tags ...T) map[T]struct{} {
	set := make(map[T]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	return set
}

func parseTag[T ~string](kind string, set map[T]struct{}, s string) (T, error) {
	tag := T(s)
	if _, ok := set[tag]; !ok {
		return "", fmt.Errorf("%w: %s %q", ErrUnknownTag, kind, s)
	}
	return tag, nil
}

// ParseContentType validates a content_type tag
func ParseContentType(s string) (ContentType, error) {
	return parseTag("content_type", contentTypes, s)
}

// ParseSentiment validates a sentiment tag
func ParseSentiment(s string) (Sentiment, error) {
	if _, ok := sentimentScores[Sentiment(s)]; !ok {
		return "", fmt.Errorf("%w: sentiment %q", ErrUnknownTag, s)
	}
	return Sentiment(s), nil
}

// ParseTechnicalQuality validates a technical_quality tag
func ParseTechnicalQuality(s string) (TechnicalQuality, error) {
	return parseTag("technical_quality", technicalQualities, s)
}

// ParseMarketAnalysis validates a market_analysis tag
func ParseMarketAnalysis(s string) (MarketAnalysis, error) {
	return parseTag("market_analysis", marketAnalyses, s)
}

// ParseImpactPotential validates an impact_potential tag
func ParseImpactPotential(s string) (ImpactPotential, error) {
	return parseTag("impact_potential", impactPotentials, s)
}

// ParseRelevanceConfidence validates a relevance_confidence tag
func ParseRelevanceConfidence(s string) (RelevanceConfidence, error) {
	return parseTag("relevance_confidence", relevanceConfidence, s)
}

// Score maps the sentiment bucket onto [-1, 1]
func (s Sentiment) Score() float64 {
	return sentimentScores[s]
}

// ConfidenceFromScore buckets a subnet match score
func ConfidenceFromScore(score float64) RelevanceConfidence {
	switch {
	case score >= 0.9:
		return ConfidenceHigh
	case score >= 0.8:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// UnmarshalText rejects unknown content types during decoding
func (c *ContentType) UnmarshalText(b []byte) error {
	v, err := ParseContentType(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// UnmarshalText rejects unknown sentiments during decoding
func (s *Sentiment) UnmarshalText(b []byte) error {
	v, err := ParseSentiment(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// UnmarshalText rejects unknown technical qualities during decoding
func (q *TechnicalQuality) UnmarshalText(b []byte) error {
	v, err := ParseTechnicalQuality(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// UnmarshalText rejects unknown market analyses during decoding
func (m *MarketAnalysis) UnmarshalText(b []byte) error {
	v, err := ParseMarketAnalysis(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// UnmarshalText rejects unknown impact potentials during decoding
func (i *ImpactPotential) UnmarshalText(b []byte) error {
	v, err := ParseImpactPotential(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// UnmarshalText rejects unknown confidence levels during decoding
func (r *RelevanceConfidence) UnmarshalText(b []byte) error {
	v, err := ParseRelevanceConfidence(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

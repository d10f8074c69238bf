package classifier

import (
	"context"
	"errors"

	"github.com/hetu-project/subnet-grader/pkg/classification"
)

// ErrMalfunction marks collaborator failures that must not be reported as a clean reject
var ErrMalfunction = errors.New("classifier malfunction")

// Reference is an independently computed classification of one text
type Reference struct {
	Tokens         map[string]float64     `json:"tokens"`
	Sentiment      float64                `json:"sentiment"`
	Classification *classification.Result `json:"classification,omitempty"`
}

// Classifier turns normalized text into a reference classification.
// Implementations report failure as an error, never as an empty reference.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Reference, error)
}

// Versioned is implemented by classifiers that can name their model
type Versioned interface {
	Version() string
}

// VersionOf returns the classifier version or "unknown"
func VersionOf(c Classifier) string {
	if v, ok := c.(Versioned); ok && v.Version() != "" {
		return v.Version()
	}
	return "unknown"
}

// Func adapts a function to Classifier
type Func func(ctx context.Context, text string) (*Reference, error)

// Classify calls f
func (f Func) Classify(ctx context.Context, text string) (*Reference, error) {
	return f(ctx, text)
}

// FromClassification derives the tolerance-grading view of a full classification
func FromClassification(r *classification.Result) *Reference {
	return &Reference{
		Tokens:         r.TokensDict(),
		Sentiment:      r.Sentiment.Score(),
		Classification: r,
	}
}

package sampling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/classification"
	"github.com/hetu-project/subnet-grader/pkg/classifier"
	"github.com/hetu-project/subnet-grader/pkg/grader"
	"github.com/hetu-project/subnet-grader/pkg/normalize"
)

// DefaultSampleSize is the number of posts re-classified per batch
const DefaultSampleSize = 10

// Reason explains why a sampled post did not match
type Reason string

const (
	ReasonValidatorClassificationFailed Reason = "validator_classification_failed"
	ReasonInvalidMinerFormat            Reason = "invalid_miner_format"
	ReasonCanonicalMismatch             Reason = "canonical_mismatch"
)

// Item is a submitted post together with the miner's full classification claim
type Item struct {
	grader.Submission
	Classification json.RawMessage `json:"classification"`
}

// Discrepancy records one sampled post that failed exact matching
type Discrepancy struct {
	PostIndex int            `json:"post_index"`
	PostID    string         `json:"post_id,omitempty"`
	Reason    Reason         `json:"reason"`
	Details   map[string]any `json:"details"`
}

// Result is the outcome of one batch sampling run
type Result struct {
	IsValid        bool          `json:"is_valid"`
	Matches        int           `json:"matches"`
	TotalSampled   int           `json:"total_sampled"`
	Discrepancies  []Discrepancy `json:"discrepancies"`
	MatchRate      float64       `json:"match_rate"`
	SampledIndices []int         `json:"sampled_indices"`
}

// Validator accepts or rejects whole batches by exact canonical agreement on a random sample
type Validator struct {
	classifier classifier.Classifier
	sampleSize int
	logger     *zap.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithSampleSize overrides the sample size
func WithSampleSize(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.sampleSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator creates a batch sample validator
func NewValidator(c classifier.Classifier, opts ...Option) *Validator {
	v := &Validator{
		classifier: c,
		sampleSize: DefaultSampleSize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SampleSize returns the configured sample size
func (v *Validator) SampleSize() int {
	return v.sampleSize
}

// Sample draws min(size, n) distinct indices from [0, n).
// A non-nil seed makes the draw reproducible.
func Sample(n, size int, seed *uint64) []int {
	k := min(size, n)
	if k <= 0 {
		return []int{}
	}

	var perm []int
	if seed != nil {
		perm = rand.New(rand.NewPCG(*seed, 0)).Perm(n)
	} else {
		perm = rand.Perm(n)
	}
	return perm[:k]
}

// Validate samples the batch and requires every sampled post to reproduce byte-for-byte.
// The error is non-nil only when ctx is done or the classifier reports a malfunction.
func (v *Validator) Validate(ctx context.Context, items []Item, seed *uint64) (*Result, error) {
	indices := Sample(len(items), v.sampleSize, seed)
	result := &Result{
		TotalSampled:   len(indices),
		Discrepancies:  []Discrepancy{},
		SampledIndices: indices,
	}

	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, err := v.check(ctx, idx, items[idx])
		if err != nil {
			return nil, err
		}
		if d != nil {
			result.Discrepancies = append(result.Discrepancies, *d)
			continue
		}
		result.Matches++
	}

	if result.TotalSampled > 0 {
		result.MatchRate = float64(result.Matches) / float64(result.TotalSampled)
	}
	result.IsValid = result.TotalSampled > 0 &&
		result.Matches == result.TotalSampled &&
		len(result.Discrepancies) == 0

	v.logger.Info("Batch sampled",
		zap.Int("batch_size", len(items)),
		zap.Int("sampled", result.TotalSampled),
		zap.Int("matches", result.Matches),
		zap.Bool("valid", result.IsValid))

	return result, nil
}

// check returns a discrepancy for a failing item, or nil when it matches
func (v *Validator) check(ctx context.Context, idx int, item Item) (*Discrepancy, error) {
	discrepancy := func(reason Reason, details map[string]any) *Discrepancy {
		return &Discrepancy{PostIndex: idx, PostID: item.PostID, Reason: reason, Details: details}
	}

	// 1. Miner claim must be well formed
	content := normalize.Text(item.Content)
	if content == "" {
		return discrepancy(ReasonInvalidMinerFormat, map[string]any{"error": "post content is empty"}), nil
	}
	if len(item.Classification) == 0 || string(item.Classification) == "null" {
		return discrepancy(ReasonInvalidMinerFormat, map[string]any{"error": "classification is missing"}), nil
	}
	claimed, err := classification.Parse(item.Classification)
	if err != nil {
		return discrepancy(ReasonInvalidMinerFormat, map[string]any{"error": err.Error()}), nil
	}

	// 2. Independent reference
	ref, err := v.classifier.Classify(ctx, content)
	if err != nil {
		if errors.Is(err, classifier.ErrMalfunction) || ctx.Err() != nil {
			return nil, fmt.Errorf("classify post %s: %w", item.PostID, err)
		}
		v.logger.Warn("Reference classification failed", zap.Int("post_index", idx), zap.Error(err))
		return discrepancy(ReasonValidatorClassificationFailed, map[string]any{"error": err.Error()}), nil
	}
	if ref == nil || ref.Classification == nil {
		return discrepancy(ReasonValidatorClassificationFailed, map[string]any{"error": "classifier returned no classification"}), nil
	}

	// 3. Exact canonical agreement
	minerCanonical := claimed.CanonicalString()
	validatorCanonical := ref.Classification.CanonicalString()
	if minerCanonical != validatorCanonical {
		return discrepancy(ReasonCanonicalMismatch, map[string]any{
			"miner":     minerCanonical,
			"validator": validatorCanonical,
		}), nil
	}
	return nil, nil
}

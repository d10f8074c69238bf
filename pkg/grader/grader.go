package grader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/classifier"
	"github.com/hetu-project/subnet-grader/pkg/normalize"
	"github.com/hetu-project/subnet-grader/pkg/tokens"
	"github.com/hetu-project/subnet-grader/pkg/tolerance"
)

// maxReportedMismatches caps the token discrepancies attached to a tokens_mismatch
const maxReportedMismatches = 5

// Grader checks a batch of submissions against independently computed references.
// It scans posts in order and stops at the first failing one.
type Grader struct {
	classifier classifier.Classifier
	factory    func() (classifier.Classifier, error)
	policy     tokens.Policy
	tolerances Tolerances
	checker    PostChecker
	logger     *zap.Logger
}

// PostChecker verifies a post against evidence the grader does not hold itself
type PostChecker interface {
	// PrecheckPost runs after the identity and content checks and before classification.
	// Errors abort the batch the same way a classifier malfunction does.
	PrecheckPost(ctx context.Context, i int, post Submission) (Precheck, error)
}

// Precheck is the outcome of PrecheckPost. Then, when set, runs once tokens and
// sentiment have passed, with the reference classification of the post.
type Precheck struct {
	Verdict Verdict
	Failed  bool
	Then    func(ref *classifier.Reference) (Verdict, bool)
}

// Option configures a Grader
type Option func(*Grader)

// WithTokenPolicy overrides the noise floor and key cap
func WithTokenPolicy(p tokens.Policy) Option {
	return func(g *Grader) { g.policy = p }
}

// WithTolerances overrides the token and sentiment tolerances
func WithTolerances(t Tolerances) Option {
	return func(g *Grader) { g.tolerances = t }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Grader) { g.logger = l }
}

// WithPostChecker interleaves external checks with each post's grading
func WithPostChecker(c PostChecker) Option {
	return func(g *Grader) { g.checker = c }
}

// WithClassifierFactory builds the classifier lazily when none was supplied
func WithClassifierFactory(f func() (classifier.Classifier, error)) Option {
	return func(g *Grader) { g.factory = f }
}

// New creates a grader. A nil classifier is allowed; grading then reports analyzer_unavailable
// unless a factory supplies one.
func New(c classifier.Classifier, opts ...Option) *Grader {
	g := &Grader{
		classifier: c,
		policy:     tokens.DefaultPolicy(),
		tolerances: Tolerances{
			Token:     tolerance.DefaultTokenTolerance,
			Sentiment: tolerance.DefaultSentimentTolerance,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Tolerances returns the published thresholds
func (g *Grader) Tolerances() Tolerances {
	return g.tolerances
}

// TokenPolicy returns the selection policy in use
func (g *Grader) TokenPolicy() tokens.Policy {
	return g.policy
}

// CrossChecked reports whether a PostChecker is attached
func (g *Grader) CrossChecked() bool {
	return g.checker != nil
}

// GradeBatch grades posts in order and returns the verdict of the first failure, or VALID.
// The returned error is non-nil only when ctx is done or the classifier reports a malfunction;
// every other failure is expressed in the verdict.
func (g *Grader) GradeBatch(ctx context.Context, posts []Submission) (Verdict, error) {
	if len(posts) == 0 {
		return Reject(CodeNoPosts, "no posts submitted", "", -1, nil), nil
	}

	c, err := g.resolveClassifier()
	if err != nil {
		g.logger.Error("Classifier unavailable", zap.Error(err))
		return Reject(CodeAnalyzerUnavailable, err.Error(), "", -1, nil), nil
	}

	for i, post := range posts {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}

		verdict, failed, err := g.gradePost(ctx, c, i, post)
		if err != nil {
			return Verdict{}, err
		}
		if failed {
			g.logger.Info("Batch rejected",
				zap.String("code", string(verdict.Failure.Code)),
				zap.String("post_id", post.PostID),
				zap.Int("post_index", i))
			return verdict, nil
		}
	}

	return Accept(ValidResult{
		NPosts:            len(posts),
		Tolerances:        g.tolerances,
		ClassifierVersion: classifier.VersionOf(c),
	}), nil
}

func (g *Grader) resolveClassifier() (classifier.Classifier, error) {
	if g.classifier != nil {
		return g.classifier, nil
	}
	if g.factory == nil {
		return nil, errors.New("classifier not initialized")
	}
	c, err := g.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}
	if c == nil {
		return nil, errors.New("classifier not initialized")
	}
	return c, nil
}

// gradePost runs the per-post checks; failed is true when verdict holds a rejection
func (g *Grader) gradePost(ctx context.Context, c classifier.Classifier, i int, post Submission) (Verdict, bool, error) {
	// 1. Identity
	postID := strings.TrimSpace(post.PostID)
	if postID == "" {
		return Reject(CodeMissingPostID, "post_id is required", "", i, nil), true, nil
	}

	// 2. Content
	content := normalize.Text(post.Content)
	if content == "" {
		return Reject(CodeEmptyContent, "post content is empty", postID, i, nil), true, nil
	}

	// 3. External evidence
	var pre Precheck
	if g.checker != nil {
		var err error
		pre, err = g.checker.PrecheckPost(ctx, i, post)
		if err != nil {
			return Verdict{}, false, fmt.Errorf("check post %s: %w", postID, err)
		}
		if pre.Failed {
			return pre.Verdict, true, nil
		}
	}

	// 4. Reference classification
	ref, err := c.Classify(ctx, content)
	if err != nil {
		if errors.Is(err, classifier.ErrMalfunction) || ctx.Err() != nil {
			return Verdict{}, false, fmt.Errorf("classify post %s: %w", postID, err)
		}
		g.logger.Warn("Classifier error", zap.String("post_id", postID), zap.Error(err))
		return Reject(CodeAnalyzerError, fmt.Sprintf("classifier failed: %v", err), postID, i, nil), true, nil
	}
	if ref == nil {
		return Reject(CodeAnalyzerError, "classifier returned no result", postID, i, nil), true, nil
	}

	// 5. Token relevance
	minerTokens, refTokens := g.policy.Select(post.Tokens, ref.Tokens)
	if ok, diffs := tolerance.TokensMatchWithin(minerTokens, refTokens, g.tolerances.Token, g.policy.Eps); !ok {
		return Reject(CodeTokensMismatch, "subnet relevance differs beyond tolerance", postID, i, map[string]any{
			"mismatches":       tolerance.Top(diffs, maxReportedMismatches),
			"total_mismatches": len(diffs),
		}), true, nil
	}

	// 6. Sentiment
	if ok, d := tolerance.ScalarWithin(post.Sentiment, ref.Sentiment, g.tolerances.Sentiment); !ok {
		return Reject(CodeSentimentMismatch, "sentiment differs beyond tolerance", postID, i, map[string]any{
			"miner":     d.Miner,
			"validator": d.Validator,
			"allowed":   d.Allowed,
			"diff":      d.Diff,
		}), true, nil
	}

	// 7. Checks that need the reference
	if pre.Then != nil {
		if verdict, failed := pre.Then(ref); failed {
			return verdict, true, nil
		}
	}

	g.logger.Debug("Post passed", zap.String("post_id", postID), zap.Int("post_index", i))
	return Verdict{}, false, nil
}

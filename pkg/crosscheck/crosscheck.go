package crosscheck

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/classifier"
	"github.com/hetu-project/subnet-grader/pkg/grader"
	"github.com/hetu-project/subnet-grader/pkg/normalize"
	"github.com/hetu-project/subnet-grader/pkg/postprovider"
	"github.com/hetu-project/subnet-grader/pkg/scoring"
)

const (
	CodePostNotFound      grader.Code = "post_not_found"
	CodeContentMismatch   grader.Code = "content_mismatch"
	CodeAuthorMismatch    grader.Code = "author_mismatch"
	CodeTimestampMismatch grader.Code = "timestamp_mismatch"
	CodeMetricOverstated  grader.Code = "metric_overstated"
	CodeScoreOverstated   grader.Code = "score_overstated"
)

const (
	// MetricSlack is the relative headroom allowed on a claimed engagement count
	MetricSlack = 0.10
	// ScoreSlack is the absolute headroom allowed on a claimed score
	ScoreSlack = 0.05
	// DefaultAttempts bounds fetches per post
	DefaultAttempts = 3
)

// Checker compares submissions with what a trusted data source reports.
// It runs inside the grader, post by post, as a grader.PostChecker.
type Checker struct {
	provider postprovider.Provider
	scorer   *scoring.Scorer
	attempts int
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Checker
type Option func(*Checker)

// WithAttempts sets the fetch attempt budget per post
func WithAttempts(n int) Option {
	return func(ch *Checker) { ch.attempts = n }
}

// WithClock pins the clock used for account age
func WithClock(now func() time.Time) Option {
	return func(ch *Checker) { ch.now = now }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(ch *Checker) { ch.logger = l }
}

// New creates a checker; a nil scorer uses scoring defaults
func New(provider postprovider.Provider, scorer *scoring.Scorer, opts ...Option) *Checker {
	if scorer == nil {
		scorer = scoring.NewScorer()
	}
	ch := &Checker{
		provider: provider,
		scorer:   scorer,
		attempts: DefaultAttempts,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// PrecheckPost verifies existence, content, author, timestamp and engagement against the
// source, and defers the score check until the grader has classified the post.
// Errors are returned only when the source cannot be reached or ctx is done.
func (ch *Checker) PrecheckPost(ctx context.Context, i int, post grader.Submission) (grader.Precheck, error) {
	postID := strings.TrimSpace(post.PostID)

	// 1. Existence
	record, err := ch.provider.FetchPost(ctx, postID, ch.attempts)
	if err != nil {
		return grader.Precheck{}, fmt.Errorf("failed to fetch post %s: %w", postID, err)
	}
	if record == nil {
		return ch.reject(grader.Reject(CodePostNotFound, "post not found at source", postID, i, nil)), nil
	}

	// 2. Content
	if normalize.Text(post.Content) != normalize.Text(record.Text) {
		return ch.reject(grader.Reject(CodeContentMismatch, "content differs from source", postID, i, nil)), nil
	}

	// 3. Author
	claimedAuthor := strings.TrimPrefix(normalize.Author(post.Author), "@")
	actualAuthor := strings.TrimPrefix(normalize.Author(record.Author.Username), "@")
	if claimedAuthor != actualAuthor {
		return ch.reject(grader.Reject(CodeAuthorMismatch, "author differs from source", postID, i, map[string]any{
			"miner":  claimedAuthor,
			"source": actualAuthor,
		})), nil
	}

	// 4. Timestamp
	if post.Date != record.CreatedAt.Unix() {
		return ch.reject(grader.Reject(CodeTimestampMismatch, "timestamp differs from source", postID, i, map[string]any{
			"miner":  post.Date,
			"source": record.CreatedAt.Unix(),
		})), nil
	}

	// 5. Engagement
	metrics := []struct {
		name            string
		claimed, actual int
	}{
		{"likes", post.Likes, record.Metrics.Likes},
		{"retweets", post.Retweets, record.Metrics.Retweets},
		{"replies", post.Replies, record.Metrics.Replies},
		{"followers", post.Followers, record.Author.FollowersCount},
	}
	for _, m := range metrics {
		if Overstated(m.claimed, m.actual) {
			return ch.reject(grader.Reject(CodeMetricOverstated, m.name+" overstated", postID, i, map[string]any{
				"metric": m.name,
				"miner":  m.claimed,
				"source": m.actual,
			})), nil
		}
	}

	// 6. Score, once the reference is known
	engagement := scoring.Engagement{
		Likes:          record.Metrics.Likes,
		Retweets:       record.Metrics.Retweets,
		Quotes:         record.Metrics.Quotes,
		Replies:        record.Metrics.Replies,
		Followers:      record.Author.FollowersCount,
		AccountAgeDays: record.Author.AccountAgeDays(ch.now()),
	}
	return grader.Precheck{Then: func(ref *classifier.Reference) (grader.Verdict, bool) {
		recomputed := ch.scorer.GradingScore(record.CreatedAt, engagement, ReferenceSubnet(ref))
		if post.Score > recomputed.Score+ScoreSlack {
			ch.logger.Info("Score overstated",
				zap.String("post_id", postID),
				zap.Float64("miner", post.Score),
				zap.Float64("recomputed", recomputed.Score))
			return grader.Reject(CodeScoreOverstated, "score exceeds recomputed score", postID, i, map[string]any{
				"miner":      post.Score,
				"recomputed": recomputed.Score,
				"allowed":    ScoreSlack,
			}), true
		}
		return grader.Verdict{}, false
	}}, nil
}

func (ch *Checker) reject(v grader.Verdict) grader.Precheck {
	ch.logger.Info("Cross-check rejected post",
		zap.String("code", string(v.Failure.Code)),
		zap.String("post_id", v.Failure.PostID))
	return grader.Precheck{Verdict: v, Failed: true}
}

// ReferenceSubnet is the classified subnet id, or 1 (full relevance) when the
// reference carries no full classification
func ReferenceSubnet(ref *classifier.Reference) int {
	if ref == nil || ref.Classification == nil {
		return 1
	}
	return ref.Classification.SubnetID
}

// Overstated reports whether claimed exceeds actual by more than max(10% of actual, 1)
func Overstated(claimed, actual int) bool {
	slack := math.Max(MetricSlack*float64(actual), 1)
	return float64(claimed) > float64(actual)+slack
}

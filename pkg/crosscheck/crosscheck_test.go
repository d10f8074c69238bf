package crosscheck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetu-project/subnet-grader/pkg/classification"
	"github.com/hetu-project/subnet-grader/pkg/classifier"
	"github.com/hetu-project/subnet-grader/pkg/grader"
	"github.com/hetu-project/subnet-grader/pkg/postprovider"
)

type stubProvider struct {
	records map[string]*postprovider.PostRecord
	err     error
	calls   []string
}

func (s *stubProvider) FetchPost(_ context.Context, postID string, _ int) (*postprovider.PostRecord, error) {
	s.calls = append(s.calls, postID)
	if s.err != nil {
		return nil, s.err
	}
	return s.records[postID], nil
}

var postedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sourceRecord() *postprovider.PostRecord {
	return &postprovider.PostRecord{
		ID:        "1",
		Text:      "Bittensor  subnet 13\r\nis live",
		CreatedAt: postedAt,
		Metrics:   postprovider.PublicMetrics{Likes: 100, Retweets: 5},
		Author:    postprovider.AuthorInfo{Username: "Miner", FollowersCount: 50},
	}
}

func honestPost() grader.Submission {
	return grader.Submission{
		PostID:    "1",
		Content:   "Bittensor subnet 13 is live",
		Author:    "@miner",
		Date:      postedAt.Unix(),
		Likes:     100,
		Retweets:  5,
		Followers: 50,
		Score:     0.5,
	}
}

// countingClassifier returns ref for every text and counts calls
type countingClassifier struct {
	ref   *classifier.Reference
	err   error
	calls int
}

func (c *countingClassifier) Classify(context.Context, string) (*classifier.Reference, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.ref, nil
}

func neutralClassifier() *countingClassifier {
	return &countingClassifier{ref: &classifier.Reference{Tokens: map[string]float64{}}}
}

func grade(t *testing.T, c classifier.Classifier, p postprovider.Provider, posts ...grader.Submission) (grader.Verdict, error) {
	t.Helper()
	g := grader.New(c, grader.WithPostChecker(New(p, nil)))
	return g.GradeBatch(context.Background(), posts)
}

func TestCheckerAccepts(t *testing.T) {
	p := &stubProvider{records: map[string]*postprovider.PostRecord{"1": sourceRecord()}}
	c := neutralClassifier()

	v, err := grade(t, c, p, honestPost())
	require.NoError(t, err)
	assert.True(t, v.IsValid())
	assert.Equal(t, 1, v.Valid.NPosts)
	assert.Equal(t, 1, c.calls)
}

func TestCheckerFailures(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*grader.Submission)
		code       grader.Code
		classified bool
	}{
		{"missing post", func(s *grader.Submission) { s.PostID = "404" }, CodePostNotFound, false},
		{"edited content", func(s *grader.Submission) { s.Content = "Bittensor subnet 13 is dead" }, CodeContentMismatch, false},
		{"other author", func(s *grader.Submission) { s.Author = "someone" }, CodeAuthorMismatch, false},
		{"shifted timestamp", func(s *grader.Submission) { s.Date++ }, CodeTimestampMismatch, false},
		{"inflated likes", func(s *grader.Submission) { s.Likes = 111 }, CodeMetricOverstated, false},
		{"inflated retweets", func(s *grader.Submission) { s.Retweets = 7 }, CodeMetricOverstated, false},
		{"inflated followers", func(s *grader.Submission) { s.Followers = 56 }, CodeMetricOverstated, false},
		{"inflated score", func(s *grader.Submission) { s.Score = 0.6 }, CodeScoreOverstated, true},
		{"content checked before metrics", func(s *grader.Submission) { s.Content = "x"; s.Likes = 1000 }, CodeContentMismatch, false},
		{"sentiment checked before score", func(s *grader.Submission) { s.Sentiment = 1; s.Score = 0.9 }, grader.CodeSentimentMismatch, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{records: map[string]*postprovider.PostRecord{"1": sourceRecord()}}
			c := neutralClassifier()
			post := honestPost()
			tt.mutate(&post)

			v, err := grade(t, c, p, post)
			require.NoError(t, err)
			require.False(t, v.IsValid())
			assert.Equal(t, tt.code, v.Failure.Code)
			require.NotNil(t, v.Failure.PostIndex)
			assert.Equal(t, 0, *v.Failure.PostIndex)
			assert.Equal(t, tt.classified, c.calls == 1)
		})
	}
}

func TestCheckerStopsAtFirstFailure(t *testing.T) {
	p := &stubProvider{records: map[string]*postprovider.PostRecord{"1": sourceRecord()}}
	c := neutralClassifier()
	missing := honestPost()
	missing.PostID = "2"

	v, err := grade(t, c, p, honestPost(), missing, honestPost())
	require.NoError(t, err)
	assert.Equal(t, CodePostNotFound, v.Failure.Code)
	assert.Equal(t, 1, *v.Failure.PostIndex)
	assert.Equal(t, []string{"1", "2"}, p.calls)
	assert.Equal(t, 1, c.calls)
}

func TestEarlierTokensFailureWinsOverLaterSourceFailure(t *testing.T) {
	p := &stubProvider{records: map[string]*postprovider.PostRecord{"1": sourceRecord()}}
	c := neutralClassifier()
	first := honestPost()
	first.Tokens = map[string]float64{"data universe": 0.9}
	missing := honestPost()
	missing.PostID = "2"

	v, err := grade(t, c, p, first, missing)
	require.NoError(t, err)
	assert.Equal(t, grader.CodeTokensMismatch, v.Failure.Code)
	assert.Equal(t, 0, *v.Failure.PostIndex)
	assert.Equal(t, []string{"1"}, p.calls)
	assert.Equal(t, 1, c.calls)
}

func TestCheckerEdgeCases(t *testing.T) {
	p := &stubProvider{}

	v, err := grade(t, neutralClassifier(), p)
	require.NoError(t, err)
	assert.Equal(t, grader.CodeNoPosts, v.Failure.Code)

	v, err = grade(t, neutralClassifier(), p, grader.Submission{PostID: "  "})
	require.NoError(t, err)
	assert.Equal(t, grader.CodeMissingPostID, v.Failure.Code)
	assert.Empty(t, p.calls)
}

func TestCheckerSourceError(t *testing.T) {
	boom := errors.New("x api error (status 503)")
	p := &stubProvider{err: boom}
	c := neutralClassifier()

	_, err := grade(t, c, p, honestPost())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.calls)
}

func TestScoreUsesClassifiedSubnet(t *testing.T) {
	p := &stubProvider{records: map[string]*postprovider.PostRecord{"1": sourceRecord()}}
	offTopic := &countingClassifier{ref: &classifier.Reference{
		Tokens:         map[string]float64{},
		Classification: &classification.Result{SubnetID: 0},
	}}

	post := honestPost()
	post.Score = 0.3

	v, err := grade(t, offTopic, p, post)
	require.NoError(t, err)
	assert.Equal(t, CodeScoreOverstated, v.Failure.Code)

	v, err = grade(t, neutralClassifier(), p, post)
	require.NoError(t, err)
	assert.True(t, v.IsValid())
}

func TestClassifierMalfunctionPropagates(t *testing.T) {
	p := &stubProvider{records: map[string]*postprovider.PostRecord{"1": sourceRecord()}}
	broken := &countingClassifier{err: classifier.ErrMalfunction}

	_, err := grade(t, broken, p, honestPost())
	assert.ErrorIs(t, err, classifier.ErrMalfunction)
}

func TestReferenceSubnet(t *testing.T) {
	assert.Equal(t, 1, ReferenceSubnet(nil))
	assert.Equal(t, 1, ReferenceSubnet(&classifier.Reference{}))
	assert.Equal(t, 0, ReferenceSubnet(&classifier.Reference{Classification: &classification.Result{SubnetID: 0}}))
	assert.Equal(t, 13, ReferenceSubnet(&classifier.Reference{Classification: &classification.Result{SubnetID: 13}}))
}

func TestOverstated(t *testing.T) {
	assert.False(t, Overstated(1, 0))
	assert.True(t, Overstated(2, 0))
	assert.False(t, Overstated(110, 100))
	assert.True(t, Overstated(111, 100))
	assert.False(t, Overstated(3, 10))
	assert.False(t, Overstated(11, 10))
	assert.True(t, Overstated(12, 10))
}

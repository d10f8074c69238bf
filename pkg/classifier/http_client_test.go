package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetu-project/subnet-grader/pkg/classification"
	"github.com/hetu-project/subnet-grader/pkg/retry"
)

const classificationJSON = `{
	"subnet_id": 13, "subnet_name": "Data Universe",
	"content_type": "announcement", "sentiment": "bullish",
	"technical_quality": "medium", "market_analysis": "technical",
	"impact_potential": "HIGH", "relevance_confidence": "high",
	"evidence_spans": ["sn13"], "anchors_detected": ["tao"]
}`

func fastRetry(attempts int) retry.Policy {
	p := retry.DefaultPolicy(attempts)
	p.BaseDelay = time.Millisecond
	p.JitterUnit = 0
	return p
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "secret", Model: "analyzer-v2", Retry: fastRetry(3)}, nil)
	return c, &calls
}

func TestHTTPClientClassify(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analyze", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req analyzeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello sn13", req.Text)

		w.Write([]byte(`{"model":"analyzer-v2","classification":` + classificationJSON +
			`,"subnet_relevance":{" Data Universe ":{"relevance":0.92}},"sentiment":0.4}`))
	})

	ref, err := c.Classify(context.Background(), "hello sn13")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"data universe": 0.92}, ref.Tokens)
	assert.Equal(t, 0.4, ref.Sentiment)
	require.NotNil(t, ref.Classification)
	assert.Equal(t, 13, ref.Classification.SubnetID)
	assert.Equal(t, int32(1), *calls)
	assert.Equal(t, "analyzer-v2", VersionOf(c))
}

func TestHTTPClientDerivesFromClassification(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"classification":` + classificationJSON + `}`))
	})

	ref, err := c.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Data Universe": 1.0}, ref.Tokens)
	assert.Equal(t, classification.SentimentBullish.Score(), ref.Sentiment)
}

func TestHTTPClientRejectsUnknownTag(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"classification":{"subnet_id":1,"subnet_name":"x","content_type":"rumour"},"sentiment":0}`))
	})

	_, err := c.Classify(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, classification.ErrUnknownTag)
	assert.Equal(t, int32(1), *calls, "decode failures are not retried")
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var n int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"subnet_relevance":{},"sentiment":-0.5}`))
	})

	ref, err := c.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Empty(t, ref.Tokens)
	assert.Equal(t, -0.5, ref.Sentiment)
	assert.Equal(t, int32(3), *calls)
}

func TestHTTPClientUnauthorizedIsMalfunction(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrMalfunction)
	assert.Equal(t, int32(1), *calls)
}

func TestHTTPClientEmptyResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := c.Classify(context.Background(), "text")
	assert.Error(t, err)
}

func TestVersionOf(t *testing.T) {
	f := Func(func(context.Context, string) (*Reference, error) { return nil, nil })
	assert.Equal(t, "unknown", VersionOf(f))
}

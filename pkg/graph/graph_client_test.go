package graph

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetu-project/subnet-grader/pkg/grader"
)

var recordedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

func TestNodeFromValidVerdict(t *testing.T) {
	v := grader.Accept(grader.ValidResult{NPosts: 3, ClassifierVersion: "analyzer-v2"})

	node, err := NodeFromVerdict(v, Audit{Source: "validation", ValidationID: "v1", MinerHotkey: "m1"}, recordedAt)
	require.NoError(t, err)
	assert.Equal(t, "GradingVerdict", node.Type)
	assert.NotEmpty(t, node.VerdictID)
	assert.Equal(t, "VALID", node.Outcome)
	assert.Equal(t, 3, node.NPosts)
	assert.Equal(t, "analyzer-v2", node.ClassifierVersion)
	assert.Equal(t, "2025-03-01T11:00:00Z", node.RecordedAt)
	assert.Empty(t, node.Code)
}

func TestNodeFromInvalidVerdict(t *testing.T) {
	v := grader.Reject(grader.CodeSentimentMismatch, "sentiment differs", "p1", 2, map[string]any{"diff": 0.3})

	node, err := NodeFromVerdict(v, Audit{Source: "grade"}, recordedAt)
	require.NoError(t, err)
	assert.Equal(t, "INVALID", node.Outcome)
	assert.Equal(t, "sentiment_mismatch", node.Code)
	assert.Equal(t, "p1", node.PostID)
	require.NotNil(t, node.PostIndex)
	assert.Equal(t, 2, *node.PostIndex)
	assert.JSONEq(t, `{"diff": 0.3}`, node.Details)

	data, err := json.Marshal(node)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dgraph.type":"GradingVerdict"`)
	assert.NotContains(t, string(data), `"uid"`)
}

func TestNodeIDsAreUnique(t *testing.T) {
	a, err := NodeFromVerdict(grader.Accept(grader.ValidResult{}), Audit{}, recordedAt)
	require.NoError(t, err)
	b, err := NodeFromVerdict(grader.Accept(grader.ValidResult{}), Audit{}, recordedAt)
	require.NoError(t, err)
	assert.NotEqual(t, a.VerdictID, b.VerdictID)
}

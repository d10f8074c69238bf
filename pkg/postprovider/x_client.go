package postprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/retry"
)

// DefaultXBaseURL is the public X API host
const DefaultXBaseURL = "https://api.x.com"

// XClient reads posts from the X API v2
type XClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	policy      retry.Policy
	logger      *zap.Logger
}

type xTweetResponse struct {
	Data *struct {
		ID            string    `json:"id"`
		Text          string    `json:"text"`
		AuthorID      string    `json:"author_id"`
		CreatedAt     time.Time `json:"created_at"`
		PublicMetrics struct {
			LikeCount    int `json:"like_count"`
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			QuoteCount   int `json:"quote_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID            string    `json:"id"`
			Username      string    `json:"username"`
			Name          string    `json:"name"`
			CreatedAt     time.Time `json:"created_at"`
			PublicMetrics struct {
				FollowersCount int `json:"followers_count"`
			} `json:"public_metrics"`
		} `json:"users"`
	} `json:"includes"`
}

// NewXClient creates an X API client; an empty baseURL uses DefaultXBaseURL
func NewXClient(baseURL, bearerToken string, policy retry.Policy, logger *zap.Logger) *XClient {
	if baseURL == "" {
		baseURL = DefaultXBaseURL
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = retry.IsTransient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XClient{
		baseURL:     baseURL,
		bearerToken: bearerToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: policy,
		logger: logger,
	}
}

// FetchPost fetches a post with author expansion, retrying transient failures
func (c *XClient) FetchPost(ctx context.Context, postID string, attempts int) (*PostRecord, error) {
	policy := c.policy
	policy.Attempts = attempts
	policy.OnBackoff = func(attempt int, delay time.Duration) {
		c.logger.Warn("X API fetch failed, retrying",
			zap.String("post_id", postID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
	}

	return retry.Do(ctx, policy, postID, func(ctx context.Context) (*PostRecord, error) {
		return c.fetchOnce(ctx, postID)
	})
}

func (c *XClient) fetchOnce(ctx context.Context, postID string) (*PostRecord, error) {
	query := url.Values{}
	query.Set("expansions", "author_id")
	query.Set("tweet.fields", "created_at,public_metrics,text")
	query.Set("user.fields", "username,name,created_at,public_metrics")
	endpoint := fmt.Sprintf("%s/2/tweets/%s?%s", c.baseURL, url.PathEscape(postID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call X API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &retry.StatusError{Service: "x api", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out xTweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode X API response: %w", err)
	}
	if out.Data == nil {
		return nil, nil
	}
	if out.Data.CreatedAt.IsZero() {
		return nil, fmt.Errorf("post %s: created_at missing from X API", postID)
	}

	record := &PostRecord{
		ID:        out.Data.ID,
		Text:      out.Data.Text,
		CreatedAt: out.Data.CreatedAt,
		Metrics: PublicMetrics{
			Likes:    out.Data.PublicMetrics.LikeCount,
			Retweets: out.Data.PublicMetrics.RetweetCount,
			Replies:  out.Data.PublicMetrics.ReplyCount,
			Quotes:   out.Data.PublicMetrics.QuoteCount,
		},
	}
	for _, u := range out.Includes.Users {
		if u.ID == out.Data.AuthorID {
			record.Author = AuthorInfo{
				ID:             u.ID,
				Username:       u.Username,
				DisplayName:    u.Name,
				FollowersCount: u.PublicMetrics.FollowersCount,
				CreatedAt:      u.CreatedAt,
			}
			break
		}
	}

	return record, nil
}

package postprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/retry"
)

// DefaultSN13URL is the on-demand data endpoint of subnet 13
const DefaultSN13URL = "https://constellation.api.cloud.macrocosmos.ai/sn13.v1.Sn13Service/OnDemandData"

// XURLFromPostID builds the canonical status URL understood by SN13
func XURLFromPostID(postID string) string {
	return "https://x.com/i/web/status/" + postID
}

// SN13Client reads posts through the subnet 13 on-demand data API
type SN13Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	policy     retry.Policy
	logger     *zap.Logger
}

type sn13Request struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

type sn13Response struct {
	Status string `json:"status"`
	Data   []struct {
		Datetime *time.Time `json:"datetime"`
		Text     string     `json:"text"`
		Tweet    struct {
			ID           json.Number `json:"id"`
			LikeCount    int         `json:"like_count"`
			RetweetCount int         `json:"retweet_count"`
			ReplyCount   int         `json:"reply_count"`
			QuoteCount   int         `json:"quote_count"`
		} `json:"tweet"`
		User struct {
			ID             json.Number `json:"id"`
			Username       string      `json:"username"`
			DisplayName    string      `json:"display_name"`
			FollowersCount int         `json:"followers_count"`
		} `json:"user"`
	} `json:"data"`
}

// NewSN13Client creates an SN13 client; an empty apiURL uses DefaultSN13URL
func NewSN13Client(apiURL, apiKey string, policy retry.Policy, logger *zap.Logger) *SN13Client {
	if apiURL == "" {
		apiURL = DefaultSN13URL
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = retry.IsTransient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SN13Client{
		apiURL: apiURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: policy,
		logger: logger,
	}
}

// FetchPost fetches a post by id, retrying transient failures
func (c *SN13Client) FetchPost(ctx context.Context, postID string, attempts int) (*PostRecord, error) {
	policy := c.policy
	policy.Attempts = attempts
	policy.OnBackoff = func(attempt int, delay time.Duration) {
		c.logger.Warn("SN13 fetch failed, retrying",
			zap.String("post_id", postID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
	}

	return retry.Do(ctx, policy, postID, func(ctx context.Context) (*PostRecord, error) {
		return c.fetchOnce(ctx, postID)
	})
}

func (c *SN13Client) fetchOnce(ctx context.Context, postID string) (*PostRecord, error) {
	reqBody, err := json.Marshal(sn13Request{Source: "X", URL: XURLFromPostID(postID)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call SN13: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &retry.StatusError{Service: "sn13", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out sn13Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode SN13 response: %w", err)
	}
	if out.Status != "success" || len(out.Data) == 0 {
		return nil, nil
	}

	item := out.Data[0]
	if item.Datetime == nil {
		return nil, fmt.Errorf("post %s: SN13 datetime missing", postID)
	}

	return &PostRecord{
		ID:        item.Tweet.ID.String(),
		Text:      item.Text,
		CreatedAt: *item.Datetime,
		Metrics: PublicMetrics{
			Likes:    item.Tweet.LikeCount,
			Retweets: item.Tweet.RetweetCount,
			Replies:  item.Tweet.ReplyCount,
			Quotes:   item.Tweet.QuoteCount,
		},
		Author: AuthorInfo{
			ID:             item.User.ID.String(),
			Username:       item.User.Username,
			DisplayName:    item.User.DisplayName,
			FollowersCount: item.User.FollowersCount,
		},
	}, nil
}

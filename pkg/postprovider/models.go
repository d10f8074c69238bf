package postprovider

import (
	"context"
	"time"
)

// PublicMetrics is the engagement of a post as reported upstream
type PublicMetrics struct {
	Likes    int `json:"like_count"`
	Retweets int `json:"retweet_count"`
	Replies  int `json:"reply_count"`
	Quotes   int `json:"quote_count"`
}

// AuthorInfo is author metadata; CreatedAt is zero when the source omits it
type AuthorInfo struct {
	ID             string    `json:"id,omitempty"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	FollowersCount int       `json:"followers_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// AccountAgeDays is the author's account age at now, or 0 when unknown
func (a AuthorInfo) AccountAgeDays(now time.Time) int {
	if a.CreatedAt.IsZero() || now.Before(a.CreatedAt) {
		return 0
	}
	return int(now.Sub(a.CreatedAt).Hours() / 24)
}

// PostRecord is a post as seen by a trusted data source
type PostRecord struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	CreatedAt time.Time     `json:"created_at"`
	Metrics   PublicMetrics `json:"public_metrics"`
	Author    AuthorInfo    `json:"author"`
}

// Provider fetches ground-truth post data.
// A nil record with a nil error means the post does not exist or is not accessible.
type Provider interface {
	FetchPost(ctx context.Context, postID string, attempts int) (*PostRecord, error)
}

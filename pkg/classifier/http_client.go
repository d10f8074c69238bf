package classifier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/classification"
	"github.com/hetu-project/subnet-grader/pkg/retry"
	"github.com/hetu-project/subnet-grader/pkg/tokens"
)

// Config for the analyzer HTTP client
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Retry   retry.Policy
}

// HTTPClient calls a remote analyzer service over HTTP
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	policy     retry.Policy
	logger     *zap.Logger
}

type analyzeRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type analyzeResponse struct {
	Model           string                     `json:"model"`
	Classification  json.RawMessage            `json:"classification"`
	SubnetRelevance map[string]subnetRelevance `json:"subnet_relevance"`
	Sentiment       *float64                   `json:"sentiment"`
}

type subnetRelevance struct {
	Relevance float64 `json:"relevance"`
}

// NewHTTPClient creates an analyzer client
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.DefaultPolicy(retry.DefaultAttempts)
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = retry.IsTransient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		policy: cfg.Retry,
		logger: logger,
	}
}

// Version returns the configured model name
func (c *HTTPClient) Version() string {
	return c.model
}

// Classify analyzes text, retrying transient transport failures
func (c *HTTPClient) Classify(ctx context.Context, text string) (*Reference, error) {
	sum := sha256.Sum256([]byte(text))
	itemID := hex.EncodeToString(sum[:])

	policy := c.policy
	policy.OnBackoff = func(attempt int, delay time.Duration) {
		c.logger.Warn("Analyzer call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
	}

	return retry.Do(ctx, policy, itemID, func(ctx context.Context) (*Reference, error) {
		return c.classifyOnce(ctx, text)
	})
}

func (c *HTTPClient) classifyOnce(ctx context.Context, text string) (*Reference, error) {
	reqBody, err := json.Marshal(analyzeRequest{Text: text, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call analyzer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &retry.StatusError{Service: "analyzer", StatusCode: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %w", ErrMalfunction, statusErr)
		}
		return nil, statusErr
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode analyzer response: %w", err)
	}

	return out.reference()
}

func (r *analyzeResponse) reference() (*Reference, error) {
	ref := &Reference{Tokens: map[string]float64{}}

	if len(r.Classification) > 0 && string(r.Classification) != "null" {
		cls, err := classification.Parse(r.Classification)
		if err != nil {
			return nil, fmt.Errorf("analyzer returned invalid classification: %w", err)
		}
		ref = FromClassification(cls)
	}

	if r.SubnetRelevance != nil {
		raw := make(map[string]float64, len(r.SubnetRelevance))
		for name, v := range r.SubnetRelevance {
			raw[name] = v.Relevance
		}
		ref.Tokens = tokens.NormalizeKeys(raw)
	}

	if r.Sentiment != nil {
		ref.Sentiment = *r.Sentiment
	} else if ref.Classification == nil {
		return nil, fmt.Errorf("analyzer response carries neither sentiment nor classification")
	}

	return ref, nil
}

// Health checks that the analyzer answers
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed (status %d)", resp.StatusCode)
	}
	return nil
}

package apiclient

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/crypto"
	"github.com/hetu-project/subnet-grader/pkg/protocol"
	"github.com/hetu-project/subnet-grader/pkg/retry"
)

// Client validation API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	key        *ecdsa.PrivateKey
	address    string
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithSigner authenticates every request with key
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(c *Client) {
		c.key = key
		c.address = crypto.AddressOf(key)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates validation API client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address is the signer address, empty without a signer
func (c *Client) Address() string {
	return c.address
}

// FetchValidations gets pending validation payloads; none available is an empty slice
func (c *Client) FetchValidations(ctx context.Context) ([]protocol.ValidationPayload, error) {
	var batch protocol.ValidationBatch
	found, err := c.get(ctx, protocol.ValidationEndpoint, &batch)
	if err != nil {
		return nil, err
	}
	if !found || !batch.Available {
		return nil, nil
	}
	return batch.Payloads, nil
}

// SubmitResults posts signed validation results
func (c *Client) SubmitResults(ctx context.Context, results []protocol.ValidationResult) error {
	reqJSON, err := json.Marshal(protocol.SubmitResultsRequest{
		ValidatorHotkey: c.address,
		Results:         results,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + protocol.ValidationResultEndpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authenticate(httpReq); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &retry.StatusError{Service: "validation api", StatusCode: resp.StatusCode, Body: string(body)}
	}

	c.logger.Debug("Submitted validation results", zap.Int("count", len(results)))
	return nil
}

// FetchScores gets the reward table of the current block window; nil when the API has none
func (c *Client) FetchScores(ctx context.Context) (*protocol.ScoresResponse, error) {
	var scores protocol.ScoresResponse
	found, err := c.get(ctx, protocol.ScoresEndpoint, &scores)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &scores, nil
}

// get decodes a JSON body into out; found is false on 404
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.authenticate(httpReq); err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, &retry.StatusError{Service: "validation api", StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

func (c *Client) authenticate(req *http.Request) error {
	if c.key == nil {
		return nil
	}
	ts := c.now().Unix()
	message := protocol.AuthMessage(ts)
	signature, err := crypto.SignData(c.key, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to sign auth message: %w", err)
	}
	req.Header.Set(protocol.HeaderAuthAddress, c.address)
	req.Header.Set(protocol.HeaderAuthSignature, signature)
	req.Header.Set(protocol.HeaderAuthMessage, message)
	req.Header.Set(protocol.HeaderAuthTimestamp, strconv.FormatInt(ts, 10))
	return nil
}

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/hetu-project/subnet-grader/pkg/grader"
)

// API endpoints constants
const (
	// Validation API endpoints
	ValidationEndpoint       = "/v2/validation"
	ValidationResultEndpoint = "/v2/validation_result"
	ScoresEndpoint           = "/v2/scores"

	// Validator service endpoints
	GradeEndpoint         = "/api/v1/grade"
	BatchValidateEndpoint = "/api/v1/batch/validate"
	ConfigEndpoint        = "/api/v1/config"
	HealthEndpoint        = "/health"
	ReadyEndpoint         = "/ready"
)

// Authentication headers sent with every validation API call
const (
	HeaderAuthAddress   = "X-Auth-SS58Address"
	HeaderAuthSignature = "X-Auth-Signature"
	HeaderAuthMessage   = "X-Auth-Message"
	HeaderAuthTimestamp = "X-Auth-Timestamp"

	AuthMessagePrefix = "talisman-ai-auth"
)

// AuthMessage is the message signed for the auth headers at unix time ts
func AuthMessage(ts int64) string {
	return fmt.Sprintf("%s:%d", AuthMessagePrefix, ts)
}

// ValidationPayload is one post selected for validation
type ValidationPayload struct {
	ValidationID string            `json:"validation_id"`
	MinerHotkey  string            `json:"miner_hotkey"`
	Post         grader.Submission `json:"post"`
	SelectedAt   string            `json:"selected_at,omitempty"`
}

// ValidationBatch is the response of the validation endpoint
type ValidationBatch struct {
	Available bool                `json:"available"`
	Payloads  []ValidationPayload `json:"payloads"`
}

// FailureReason explains a rejected validation
type FailureReason struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	PostID  string         `json:"post_id"`
	Details map[string]any `json:"details"`
}

// FailureReasonFromVerdict returns nil for a valid verdict; fallbackPostID is used when
// the failure names no post
func FailureReasonFromVerdict(v grader.Verdict, fallbackPostID string) *FailureReason {
	if v.IsValid() || v.Failure == nil {
		return nil
	}
	reason := &FailureReason{
		Code:    string(v.Failure.Code),
		Message: v.Failure.Message,
		PostID:  v.Failure.PostID,
		Details: v.Failure.Details,
	}
	if reason.PostID == "" {
		reason.PostID = fallbackPostID
	}
	if reason.Details == nil {
		reason.Details = map[string]any{}
	}
	return reason
}

// ValidationResult is the validator's signed decision on one payload
type ValidationResult struct {
	MessageID       string         `json:"message_id"`
	ValidatorHotkey string         `json:"validator_hotkey"`
	ValidationID    string         `json:"validation_id"`
	MinerHotkey     string         `json:"miner_hotkey"`
	Success         bool           `json:"success"`
	FailureReason   *FailureReason `json:"failure_reason"`
	Signature       string         `json:"signature,omitempty"`
}

// SigningBytes is the canonical JSON of the result without its signature
func (r ValidationResult) SigningBytes() ([]byte, error) {
	r.Signature = ""
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}

// SubmitResultsRequest is the body posted to the validation result endpoint
type SubmitResultsRequest struct {
	ValidatorHotkey string             `json:"validator_hotkey"`
	Results         []ValidationResult `json:"results"`
}

// ScoresResponse is the reward table of one block window
type ScoresResponse struct {
	Scores           map[string]float64 `json:"scores"`
	CurrentBlock     uint64             `json:"current_block"`
	BlockWindowStart uint64             `json:"block_window_start"`
	BlockWindowEnd   uint64             `json:"block_window_end"`
}

// ErrorResponse is the error body of the validator service
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

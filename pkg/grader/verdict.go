package grader

import (
	"encoding/json"
)

// Outcome is the two-valued grading result; consumers decide on it alone
type Outcome int

const (
	Invalid Outcome = 0
	Valid   Outcome = 1
)

func (o Outcome) String() string {
	if o == Valid {
		return "VALID"
	}
	return "INVALID"
}

// Code identifies why a batch was rejected
type Code string

const (
	CodeNoPosts             Code = "no_posts"
	CodeAnalyzerUnavailable Code = "analyzer_unavailable"
	CodeMissingPostID       Code = "missing_post_id"
	CodeEmptyContent        Code = "empty_content"
	CodeAnalyzerError       Code = "analyzer_error"
	CodeTokensMismatch      Code = "tokens_mismatch"
	CodeSentimentMismatch   Code = "sentiment_mismatch"
)

// Tolerances are the published grading thresholds
type Tolerances struct {
	Token     float64 `json:"token"`
	Sentiment float64 `json:"sentiment"`
}

// ValidResult is the payload of an accepted batch
type ValidResult struct {
	NPosts            int        `json:"n_posts"`
	Tolerances        Tolerances `json:"tolerances"`
	ClassifierVersion string     `json:"classifier_version"`
}

// Failure is the payload of a rejected batch
type Failure struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	PostID    string         `json:"post_id,omitempty"`
	PostIndex *int           `json:"post_index,omitempty"`
	Details   map[string]any `json:"details"`
}

// Verdict is the terminal result of grading one batch
type Verdict struct {
	Outcome Outcome
	Valid   *ValidResult
	Failure *Failure
}

// IsValid reports whether the batch was accepted
func (v Verdict) IsValid() bool {
	return v.Outcome == Valid
}

// Accept builds a VALID verdict
func Accept(result ValidResult) Verdict {
	return Verdict{Outcome: Valid, Valid: &result}
}

// Reject builds an INVALID verdict; index < 0 means the failure is not tied to a post
func Reject(code Code, message, postID string, index int, details map[string]any) Verdict {
	if details == nil {
		details = map[string]any{}
	}
	f := &Failure{Code: code, Message: message, PostID: postID, Details: details}
	if index >= 0 {
		f.PostIndex = &index
	}
	return Verdict{Outcome: Invalid, Failure: f}
}

type invalidPayload struct {
	Error      *Failure `json:"error"`
	FinalScore float64  `json:"final_score"`
}

type verdictJSON struct {
	Outcome Outcome `json:"outcome"`
	Label   string  `json:"label"`
	Result  any     `json:"result"`
}

// MarshalJSON encodes the outcome code with its payload
func (v Verdict) MarshalJSON() ([]byte, error) {
	out := verdictJSON{Outcome: v.Outcome, Label: v.Outcome.String()}
	if v.Outcome == Valid {
		out.Result = v.Valid
	} else {
		out.Result = invalidPayload{Error: v.Failure, FinalScore: 0.0}
	}
	return json.Marshal(out)
}

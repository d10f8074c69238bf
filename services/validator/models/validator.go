package models

import (
	"github.com/hetu-project/subnet-grader/pkg/grader"
	"github.com/hetu-project/subnet-grader/pkg/sampling"
)

// GradeRequest represents a tolerance grading request
type GradeRequest struct {
	Posts []grader.Submission `json:"posts"`
}

// BatchValidateRequest represents a sampled exact-match validation request
type BatchValidateRequest struct {
	Posts      []sampling.Item `json:"posts"`
	SampleSize int             `json:"sample_size,omitempty"`
	Seed       *uint64         `json:"seed,omitempty"`
}

// ValidatorInfo represents the published grading configuration
type ValidatorInfo struct {
	Address            string  `json:"address,omitempty"`
	TokenTolerance     float64 `json:"token_tolerance"`
	SentimentTolerance float64 `json:"sentiment_tolerance"`
	TokenEps           float64 `json:"eps"`
	TokenCap           int     `json:"k"`
	SampleSize         int     `json:"sample_size"`
	ClassifierVersion  string  `json:"classifier_version"`
	CrosscheckEnabled  bool    `json:"crosscheck_enabled"`
}

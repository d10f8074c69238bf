package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/classifier"
	"github.com/hetu-project/subnet-grader/pkg/crypto"
	"github.com/hetu-project/subnet-grader/pkg/grader"
	"github.com/hetu-project/subnet-grader/pkg/graph"
	"github.com/hetu-project/subnet-grader/pkg/protocol"
	"github.com/hetu-project/subnet-grader/pkg/sampling"
	"github.com/hetu-project/subnet-grader/services/validator/models"
)

// ErrAlreadyProcessed is returned when a validation id was already graded
var ErrAlreadyProcessed = errors.New("validation already processed")

// ErrNoSigner is returned when results must be signed but no key is configured
var ErrNoSigner = errors.New("validator private key not configured")

// Audit sources
const (
	SourceGrade      = "grade"
	SourceValidation = "validation"
)

// VerdictRecorder persists verdicts for audit
type VerdictRecorder interface {
	RecordVerdict(ctx context.Context, v grader.Verdict, audit graph.Audit) error
}

// HealthChecker is implemented by classifiers that can report reachability
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ValidationService handles validator business logic
type ValidationService struct {
	grader     *grader.Grader
	classifier classifier.Classifier
	sampleSize int
	recorder   VerdictRecorder
	key        *ecdsa.PrivateKey
	address    string
	logger     *zap.Logger

	mu        sync.Mutex
	processed map[string]bool // Prevent replayed validations, reserved before grading
}

// Option configures a ValidationService
type Option func(*ValidationService)

// WithRecorder enables the verdict audit log
func WithRecorder(r VerdictRecorder) Option {
	return func(vs *ValidationService) { vs.recorder = r }
}

// WithSigner signs validation results with key
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(vs *ValidationService) {
		vs.key = key
		vs.address = crypto.AddressOf(key)
	}
}

// WithSampleSize sets the default batch sample size
func WithSampleSize(n int) Option {
	return func(vs *ValidationService) { vs.sampleSize = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(vs *ValidationService) { vs.logger = l }
}

// NewValidationService creates a new validation service
func NewValidationService(g *grader.Grader, c classifier.Classifier, opts ...Option) *ValidationService {
	vs := &ValidationService{
		grader:     g,
		classifier: c,
		sampleSize: sampling.DefaultSampleSize,
		logger:     zap.NewNop(),
		processed:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(vs)
	}
	return vs
}

// Grade grades a batch of posts; cross-checks run inside the grader when it has a PostChecker
func (vs *ValidationService) Grade(ctx context.Context, posts []grader.Submission) (grader.Verdict, error) {
	return vs.grade(ctx, posts, graph.Audit{Source: SourceGrade, ValidatorHotkey: vs.address})
}

func (vs *ValidationService) grade(ctx context.Context, posts []grader.Submission, audit graph.Audit) (grader.Verdict, error) {
	// 1. Grading
	verdict, err := vs.grader.GradeBatch(ctx, posts)
	if err != nil {
		return grader.Verdict{}, err
	}

	// 2. Audit
	vs.record(ctx, verdict, audit)
	return verdict, nil
}

// ValidateBatch runs the sampled exact-match validator; sampleSize <= 0 uses the configured size
func (vs *ValidationService) ValidateBatch(ctx context.Context, items []sampling.Item, sampleSize int, seed *uint64) (*sampling.Result, error) {
	if sampleSize <= 0 {
		sampleSize = vs.sampleSize
	}
	validator := sampling.NewValidator(vs.classifier,
		sampling.WithSampleSize(sampleSize),
		sampling.WithLogger(vs.logger))
	return validator.Validate(ctx, items, seed)
}

// ProcessValidation grades one validation payload and returns the signed result
func (vs *ValidationService) ProcessValidation(ctx context.Context, payload protocol.ValidationPayload) (*protocol.ValidationResult, error) {
	if vs.key == nil {
		return nil, ErrNoSigner
	}

	// Reserve the id; released again if grading or signing fails
	if !vs.reserve(payload.ValidationID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, payload.ValidationID)
	}
	result, err := vs.processReserved(ctx, payload)
	if err != nil {
		vs.release(payload.ValidationID)
		return nil, err
	}
	return result, nil
}

func (vs *ValidationService) processReserved(ctx context.Context, payload protocol.ValidationPayload) (*protocol.ValidationResult, error) {
	vs.logger.Info("Processing validation",
		zap.String("validation_id", payload.ValidationID),
		zap.String("miner_hotkey", payload.MinerHotkey))

	// 1. Grade the single post
	verdict, err := vs.grade(ctx, []grader.Submission{payload.Post}, graph.Audit{
		Source:          SourceValidation,
		ValidationID:    payload.ValidationID,
		MinerHotkey:     payload.MinerHotkey,
		ValidatorHotkey: vs.address,
	})
	if err != nil {
		return nil, err
	}

	// 2. Build result
	result := &protocol.ValidationResult{
		MessageID:       uuid.NewString(),
		ValidatorHotkey: vs.address,
		ValidationID:    payload.ValidationID,
		MinerHotkey:     payload.MinerHotkey,
		Success:         verdict.IsValid(),
		FailureReason:   protocol.FailureReasonFromVerdict(verdict, payload.Post.PostID),
	}
	if result.Success {
		vs.logger.Info("Validation passed", zap.String("miner_hotkey", payload.MinerHotkey))
	} else {
		vs.logger.Warn("Validation failed",
			zap.String("miner_hotkey", payload.MinerHotkey),
			zap.String("code", result.FailureReason.Code),
			zap.String("message", result.FailureReason.Message))
	}

	// 3. Sign result
	if err := vs.signResult(result); err != nil {
		return nil, fmt.Errorf("failed to sign result: %w", err)
	}

	return result, nil
}

func (vs *ValidationService) reserve(id string) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.processed[id] {
		return false
	}
	vs.processed[id] = true
	return true
}

func (vs *ValidationService) release(id string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.processed, id)
}

func (vs *ValidationService) signResult(result *protocol.ValidationResult) error {
	data, err := result.SigningBytes()
	if err != nil {
		return err
	}
	signature, err := crypto.SignData(vs.key, data)
	if err != nil {
		return err
	}
	result.Signature = signature
	return nil
}

func (vs *ValidationService) record(ctx context.Context, verdict grader.Verdict, audit graph.Audit) {
	if vs.recorder == nil {
		return
	}
	if err := vs.recorder.RecordVerdict(ctx, verdict, audit); err != nil {
		vs.logger.Warn("Failed to record verdict", zap.Error(err))
	}
}

// Ready reports whether the classifier is reachable
func (vs *ValidationService) Ready(ctx context.Context) error {
	if vs.classifier == nil {
		return errors.New("classifier not initialized")
	}
	if hc, ok := vs.classifier.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Address returns the validator address, empty without a signer
func (vs *ValidationService) Address() string {
	return vs.address
}

// GetValidatorInfo returns the published grading configuration
func (vs *ValidationService) GetValidatorInfo() models.ValidatorInfo {
	tol := vs.grader.Tolerances()
	policy := vs.grader.TokenPolicy()
	return models.ValidatorInfo{
		Address:            vs.address,
		TokenTolerance:     tol.Token,
		SentimentTolerance: tol.Sentiment,
		TokenEps:           policy.Eps,
		TokenCap:           policy.Cap,
		SampleSize:         vs.sampleSize,
		ClassifierVersion:  classifier.VersionOf(vs.classifier),
		CrosscheckEnabled:  vs.grader.CrossChecked(),
	}
}

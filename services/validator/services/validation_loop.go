package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/protocol"
)

// BlockSource reports the current chain height
type BlockSource interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// ValidationAPI is the central validation API
type ValidationAPI interface {
	FetchValidations(ctx context.Context) ([]protocol.ValidationPayload, error)
	SubmitResults(ctx context.Context, results []protocol.ValidationResult) error
	FetchScores(ctx context.Context) (*protocol.ScoresResponse, error)
}

// ScoreSink applies the rewards of one block window
type ScoreSink interface {
	ApplyScores(ctx context.Context, scores *protocol.ScoresResponse) error
}

// PayloadProcessor grades one validation payload
type PayloadProcessor interface {
	ProcessValidation(ctx context.Context, payload protocol.ValidationPayload) (*protocol.ValidationResult, error)
}

// Watermark is the last block window whose scores were applied
type Watermark struct {
	Window uint64
	Set    bool
}

// Behind reports whether window has not been applied yet
func (w Watermark) Behind(window uint64) bool {
	return !w.Set || w.Window < window
}

// ValidationLoop polls the validation API, grades payloads and applies window scores
type ValidationLoop struct {
	api       ValidationAPI
	blocks    BlockSource
	sink      ScoreSink
	processor PayloadProcessor

	blockInterval uint64
	pollInterval  time.Duration
	logger        *zap.Logger

	// Loop-owned state; only touched by the goroutine running Run
	queue   []protocol.ValidationPayload
	pending []protocol.ValidationResult
}

// NewValidationLoop creates the poll loop
func NewValidationLoop(
	api ValidationAPI,
	blocks BlockSource,
	sink ScoreSink,
	processor PayloadProcessor,
	blockInterval uint64,
	pollInterval time.Duration,
	logger *zap.Logger,
) *ValidationLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationLoop{
		api:           api,
		blocks:        blocks,
		sink:          sink,
		processor:     processor,
		blockInterval: blockInterval,
		pollInterval:  pollInterval,
		logger:        logger,
	}
}

// Run loops until ctx is cancelled, starting from wm
func (l *ValidationLoop) Run(ctx context.Context, wm Watermark) error {
	l.logger.Info("Validation loop started",
		zap.Duration("poll_interval", l.pollInterval),
		zap.Uint64("scores_block_interval", l.blockInterval))
	defer l.logger.Info("Validation loop stopped")

	for {
		var processed bool
		wm, processed = l.Step(ctx, wm)
		if ctx.Err() != nil {
			return nil
		}
		if processed {
			continue
		}

		// Sleep only if nothing was processed
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Step runs one iteration and returns the new watermark and whether a payload was processed
func (l *ValidationLoop) Step(ctx context.Context, wm Watermark) (Watermark, bool) {
	// 1. Scores for a new block window
	wm = l.syncScores(ctx, wm)

	// 2. Refill the queue
	if len(l.queue) == 0 {
		payloads, err := l.api.FetchValidations(ctx)
		if err != nil {
			l.logger.Warn("Failed to fetch validations", zap.Error(err))
		} else if len(payloads) > 0 {
			l.queue = payloads
			l.logger.Info("Fetched validations", zap.Int("count", len(payloads)))
		}
	}

	// 3. Process one payload
	if len(l.queue) == 0 {
		return wm, false
	}
	payload := l.queue[0]
	l.queue = l.queue[1:]

	result, err := l.processor.ProcessValidation(ctx, payload)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		l.logger.Debug("Skipping replayed validation", zap.String("validation_id", payload.ValidationID))
	case err != nil:
		l.logger.Error("Failed to process validation",
			zap.String("validation_id", payload.ValidationID),
			zap.Error(err))
	default:
		l.pending = append(l.pending, *result)
	}

	// 4. Submit everything pending
	l.submitPending(ctx)
	return wm, true
}

// Pending returns results waiting for submission
func (l *ValidationLoop) Pending() []protocol.ValidationResult {
	return append([]protocol.ValidationResult(nil), l.pending...)
}

func (l *ValidationLoop) submitPending(ctx context.Context) {
	if len(l.pending) == 0 {
		return
	}
	results := l.pending
	l.pending = nil

	if err := l.api.SubmitResults(ctx, results); err != nil {
		l.logger.Error("Failed to submit results, requeueing",
			zap.Int("count", len(results)),
			zap.Error(err))
		l.pending = append(results, l.pending...)
		return
	}
	l.logger.Info("Submitted validation results", zap.Int("count", len(results)))
}

func (l *ValidationLoop) syncScores(ctx context.Context, wm Watermark) Watermark {
	if l.blockInterval == 0 {
		return wm
	}

	block, err := l.blocks.CurrentBlock(ctx)
	if err != nil {
		l.logger.Warn("Failed to get current block", zap.Error(err))
		return wm
	}
	if block == 0 {
		return wm
	}

	window := block / l.blockInterval
	if !wm.Behind(window) {
		return wm
	}

	expectedStart := window * l.blockInterval
	scores, err := l.api.FetchScores(ctx)
	if err != nil {
		l.logger.Warn("Failed to fetch scores", zap.Error(err))
		return wm
	}
	if scores == nil {
		return wm
	}

	// The chain may have moved on while fetching
	verify, err := l.blocks.CurrentBlock(ctx)
	if err != nil {
		l.logger.Warn("Failed to get current block", zap.Error(err))
		return wm
	}
	verifyStart := (verify / l.blockInterval) * l.blockInterval

	if scores.BlockWindowStart != expectedStart || verifyStart != expectedStart {
		l.logger.Warn("Block window mismatch, skipping",
			zap.Uint64("expected_start", expectedStart),
			zap.Uint64("api_start", scores.BlockWindowStart),
			zap.Uint64("verify_start", verifyStart))
		return wm
	}

	if err := l.sink.ApplyScores(ctx, scores); err != nil {
		l.logger.Error("Failed to apply scores", zap.Uint64("window", window), zap.Error(err))
		return wm
	}

	l.logger.Info("Applied scores for block window",
		zap.Uint64("window", window),
		zap.Uint64("block_window_start", scores.BlockWindowStart),
		zap.Uint64("block_window_end", scores.BlockWindowEnd),
		zap.Int("hotkeys", len(scores.Scores)))
	return Watermark{Window: window, Set: true}
}

// ChainBlockSource reads the block height from an EVM JSON-RPC endpoint
type ChainBlockSource struct {
	client *ethclient.Client
}

// NewChainBlockSource dials rpcURL
func NewChainBlockSource(ctx context.Context, rpcURL string) (*ChainBlockSource, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}
	return &ChainBlockSource{client: client}, nil
}

// CurrentBlock returns the latest block number
func (s *ChainBlockSource) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return n, nil
}

// Close closes the RPC connection
func (s *ChainBlockSource) Close() {
	s.client.Close()
}

// LoggingScoreSink logs each window's rewards; weight setting happens outside this service
type LoggingScoreSink struct {
	logger *zap.Logger
}

// NewLoggingScoreSink creates a score sink that logs
func NewLoggingScoreSink(logger *zap.Logger) *LoggingScoreSink {
	return &LoggingScoreSink{logger: logger}
}

// ApplyScores logs the reward range of the window
func (s *LoggingScoreSink) ApplyScores(_ context.Context, scores *protocol.ScoresResponse) error {
	if len(scores.Scores) == 0 {
		s.logger.Warn("No scores in response", zap.Uint64("block_window_start", scores.BlockWindowStart))
		return nil
	}

	values := make(stats.Float64Data, 0, len(scores.Scores))
	for _, v := range scores.Scores {
		values = append(values, v)
	}
	lo, _ := values.Min()
	hi, _ := values.Max()
	mean, _ := values.Mean()

	s.logger.Info("Scores received",
		zap.Uint64("block_window_start", scores.BlockWindowStart),
		zap.Uint64("block_window_end", scores.BlockWindowEnd),
		zap.Int("hotkeys", len(scores.Scores)),
		zap.Float64("min", lo),
		zap.Float64("max", hi),
		zap.Float64("mean", mean))
	return nil
}

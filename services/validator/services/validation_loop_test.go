package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/protocol"
)

type fakeAPI struct {
	mu          sync.Mutex
	batches     [][]protocol.ValidationPayload
	fetchErr    error
	scores      *protocol.ScoresResponse
	scoreCalls  int
	submitErr   error
	submitted   [][]protocol.ValidationResult
	submitCalls int
}

func (f *fakeAPI) FetchValidations(context.Context) ([]protocol.ValidationPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

func (f *fakeAPI) SubmitResults(_ context.Context, results []protocol.ValidationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, results)
	return nil
}

func (f *fakeAPI) FetchScores(context.Context) (*protocol.ScoresResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scoreCalls++
	return f.scores, nil
}

type fakeBlocks struct {
	heights []uint64
	err     error
}

func (f *fakeBlocks) CurrentBlock(context.Context) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	h := f.heights[0]
	if len(f.heights) > 1 {
		f.heights = f.heights[1:]
	}
	return h, nil
}

type fakeSink struct {
	applied []*protocol.ScoresResponse
}

func (f *fakeSink) ApplyScores(_ context.Context, s *protocol.ScoresResponse) error {
	f.applied = append(f.applied, s)
	return nil
}

type fakeProcessor struct {
	seen []string
	err  error
}

func (f *fakeProcessor) ProcessValidation(_ context.Context, p protocol.ValidationPayload) (*protocol.ValidationResult, error) {
	f.seen = append(f.seen, p.ValidationID)
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ValidationResult{ValidationID: p.ValidationID, Success: true}, nil
}

func payloads(ids ...string) []protocol.ValidationPayload {
	out := make([]protocol.ValidationPayload, len(ids))
	for i, id := range ids {
		out[i] = protocol.ValidationPayload{ValidationID: id}
	}
	return out
}

func TestStepAppliesScoresOncePerWindow(t *testing.T) {
	api := &fakeAPI{scores: &protocol.ScoresResponse{
		Scores:           map[string]float64{"m1": 1},
		BlockWindowStart: 1200,
		BlockWindowEnd:   1299,
	}}
	sink := &fakeSink{}
	loop := NewValidationLoop(api, &fakeBlocks{heights: []uint64{1234}}, sink, &fakeProcessor{}, 100, time.Second, nil)

	wm, processed := loop.Step(context.Background(), Watermark{})
	assert.False(t, processed)
	assert.Equal(t, Watermark{Window: 12, Set: true}, wm)
	require.Len(t, sink.applied, 1)

	wm, _ = loop.Step(context.Background(), wm)
	assert.Equal(t, Watermark{Window: 12, Set: true}, wm)
	assert.Len(t, sink.applied, 1)
	assert.Equal(t, 1, api.scoreCalls, "same window is not refetched")
}

func TestStepSkipsMismatchedWindow(t *testing.T) {
	tests := []struct {
		name    string
		heights []uint64
		start   uint64
	}{
		{"api lags", []uint64{1234}, 1100},
		{"chain moved on", []uint64{1299, 1300}, 1200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{scores: &protocol.ScoresResponse{BlockWindowStart: tt.start}}
			sink := &fakeSink{}
			loop := NewValidationLoop(api, &fakeBlocks{heights: tt.heights}, sink, &fakeProcessor{}, 100, time.Second, nil)

			wm, _ := loop.Step(context.Background(), Watermark{Window: 11, Set: true})
			assert.Equal(t, Watermark{Window: 11, Set: true}, wm)
			assert.Empty(t, sink.applied)
		})
	}
}

func TestStepBlockErrorKeepsWatermark(t *testing.T) {
	api := &fakeAPI{}
	loop := NewValidationLoop(api, &fakeBlocks{err: errors.New("rpc down")}, &fakeSink{}, &fakeProcessor{}, 100, time.Second, nil)

	wm, _ := loop.Step(context.Background(), Watermark{Window: 3, Set: true})
	assert.Equal(t, Watermark{Window: 3, Set: true}, wm)
	assert.Zero(t, api.scoreCalls)
}

func TestStepProcessesOnePayloadPerIteration(t *testing.T) {
	api := &fakeAPI{batches: [][]protocol.ValidationPayload{payloads("v1", "v2")}}
	proc := &fakeProcessor{}
	loop := NewValidationLoop(api, &fakeBlocks{heights: []uint64{0}}, &fakeSink{}, proc, 100, time.Second, nil)

	_, processed := loop.Step(context.Background(), Watermark{})
	assert.True(t, processed)
	assert.Equal(t, []string{"v1"}, proc.seen)

	_, processed = loop.Step(context.Background(), Watermark{})
	assert.True(t, processed)
	assert.Equal(t, []string{"v1", "v2"}, proc.seen)

	_, processed = loop.Step(context.Background(), Watermark{})
	assert.False(t, processed)

	require.Len(t, api.submitted, 2)
	assert.Equal(t, "v2", api.submitted[1][0].ValidationID)
}

func TestStepRequeuesFailedSubmissions(t *testing.T) {
	api := &fakeAPI{
		batches:   [][]protocol.ValidationPayload{payloads("v1", "v2")},
		submitErr: errors.New("validation api error (status 502)"),
	}
	loop := NewValidationLoop(api, &fakeBlocks{heights: []uint64{0}}, &fakeSink{}, &fakeProcessor{}, 100, time.Second, nil)

	loop.Step(context.Background(), Watermark{})
	loop.Step(context.Background(), Watermark{})
	require.Len(t, loop.Pending(), 2)

	api.submitErr = nil
	api.batches = [][]protocol.ValidationPayload{payloads("v3")}
	loop.Step(context.Background(), Watermark{})

	assert.Empty(t, loop.Pending())
	require.Len(t, api.submitted, 1)
	ids := make([]string, 0, 3)
	for _, r := range api.submitted[0] {
		ids = append(ids, r.ValidationID)
	}
	assert.Equal(t, []string{"v1", "v2", "v3"}, ids)
}

func TestStepDropsFailedPayloads(t *testing.T) {
	api := &fakeAPI{batches: [][]protocol.ValidationPayload{payloads("v1")}}
	proc := &fakeProcessor{err: fmt.Errorf("%w: v1", ErrAlreadyProcessed)}
	loop := NewValidationLoop(api, &fakeBlocks{heights: []uint64{0}}, &fakeSink{}, proc, 100, time.Second, zap.NewNop())

	_, processed := loop.Step(context.Background(), Watermark{})
	assert.True(t, processed)
	assert.Empty(t, loop.Pending())
	assert.Zero(t, api.submitCalls)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := &fakeAPI{batches: [][]protocol.ValidationPayload{payloads("v1")}}
	loop := NewValidationLoop(api, &fakeBlocks{heights: []uint64{0}}, &fakeSink{}, &fakeProcessor{}, 100, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, Watermark{}) }()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.submitted) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

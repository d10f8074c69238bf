package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("503 service unavailable")
	errFatal     = errors.New("malformed response")
)

type recorder struct {
	delays []time.Duration
}

func (r *recorder) observe(_ int, d time.Duration) {
	r.delays = append(r.delays, d)
}

func fastPolicy(attempts int, rec *recorder) Policy {
	p := DefaultPolicy(attempts)
	p.BaseDelay = time.Millisecond
	p.JitterUnit = time.Microsecond
	p.OnBackoff = rec.observe
	return p
}

func TestJitterIsDeterministic(t *testing.T) {
	p := DefaultPolicy(3)

	assert.Equal(t, uint32(3892834812), MD5Prefix32("1234567890"))
	assert.Equal(t, 60*time.Millisecond, p.Jitter("1234567890"))
	assert.Equal(t, 200*time.Millisecond, p.Jitter("post-1"))
	assert.Equal(t, p.Jitter("post-1"), p.Jitter("post-1"))

	assert.Equal(t, 500*time.Millisecond+60*time.Millisecond, p.Delay("1234567890", 1))
	assert.Equal(t, time.Second+60*time.Millisecond, p.Delay("1234567890", 2))
}

func TestJitterConfigurable(t *testing.T) {
	p := DefaultPolicy(3)
	p.Hash = func(string) uint32 { return 10 }
	p.JitterModulus = 4
	assert.Equal(t, 20*time.Millisecond, p.Jitter("anything"))

	p.JitterModulus = 0
	assert.Zero(t, p.Jitter("anything"))
}

func TestDoInvalidAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), DefaultPolicy(0), "id", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrInvalidAttempts)
	assert.Zero(t, calls)
}

func TestDoNonRetryableFailsFast(t *testing.T) {
	rec := &recorder{}
	p := fastPolicy(5, rec)
	p.ShouldRetry = func(err error) bool { return errors.Is(err, errTransient) }

	calls := 0
	_, err := Do(context.Background(), p, "id", func(context.Context) (string, error) {
		calls++
		return "", errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoExhaustsAttempts(t *testing.T) {
	rec := &recorder{}
	p := fastPolicy(3, rec)
	p.Hash = func(string) uint32 { return 5 }

	calls := 0
	_, err := Do(context.Background(), p, "id", func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	require.Error(t, err)
	assert.Equal(t, errTransient, err, "last error is returned unwrapped")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{
		time.Millisecond + 5*time.Microsecond,
		2*time.Millisecond + 5*time.Microsecond,
	}, rec.delays)
}

func TestDoRecovers(t *testing.T) {
	rec := &recorder{}
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3, rec), "id", func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
	assert.Len(t, rec.delays, 1)
}

func TestDoNilResultIsSuccess(t *testing.T) {
	rec := &recorder{}
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3, rec), "id", func(context.Context) (*struct{}, error) {
		calls++
		return nil, nil
	})

	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoSingleAttempt(t *testing.T) {
	rec := &recorder{}
	calls := 0
	_, err := Do(context.Background(), fastPolicy(1, rec), "id", func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, DefaultPolicy(3), "id", func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

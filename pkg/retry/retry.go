package retry

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrInvalidAttempts is returned when a policy allows fewer than one attempt
var ErrInvalidAttempts = errors.New("retry attempts must be at least 1")

const (
	DefaultAttempts      = 3
	DefaultBaseDelay     = 500 * time.Millisecond
	DefaultJitterModulus = 21
	// DefaultJitterUnit turns a jitter bucket into hundredths of a second
	DefaultJitterUnit = 10 * time.Millisecond
)

// HashFunc maps an item identity onto the jitter space
type HashFunc func(itemID string) uint32

// MD5Prefix32 is the first 32 bits of the MD5 digest of itemID, big-endian
func MD5Prefix32(itemID string) uint32 {
	sum := md5.Sum([]byte(itemID))
	return binary.BigEndian.Uint32(sum[:4])
}

// Policy bounds attempts and derives a reproducible backoff per item.
// The delay after failed attempt n is BaseDelay*n plus the item's jitter.
type Policy struct {
	Attempts      int
	BaseDelay     time.Duration
	JitterModulus uint32
	JitterUnit    time.Duration
	Hash          HashFunc

	// ShouldRetry decides whether an error is worth another attempt; nil retries every error
	ShouldRetry func(error) bool

	// OnBackoff observes each scheduled delay
	OnBackoff func(attempt int, delay time.Duration)
}

// DefaultPolicy returns the standard policy for the given attempt budget
func DefaultPolicy(attempts int) Policy {
	return Policy{
		Attempts:      attempts,
		BaseDelay:     DefaultBaseDelay,
		JitterModulus: DefaultJitterModulus,
		JitterUnit:    DefaultJitterUnit,
		Hash:          MD5Prefix32,
	}
}

// Jitter is the deterministic offset for itemID
func (p Policy) Jitter(itemID string) time.Duration {
	if p.JitterModulus == 0 {
		return 0
	}
	hash := p.Hash
	if hash == nil {
		hash = MD5Prefix32
	}
	return time.Duration(hash(itemID)%p.JitterModulus) * p.JitterUnit
}

// Delay is the sleep after the given failed attempt (1-based)
func (p Policy) Delay(itemID string, attempt int) time.Duration {
	return p.BaseDelay*time.Duration(attempt) + p.Jitter(itemID)
}

// Validate checks the attempt budget
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidAttempts, p.Attempts)
	}
	return nil
}

// Do runs op until it succeeds, the predicate rejects its error, or attempts run out.
// A successful call stops immediately even when the value is the zero value.
// The last error is returned unwrapped.
func Do[T any](ctx context.Context, p Policy, itemID string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	jitter := p.Jitter(itemID)
	attempt := 0
	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		if attempt >= p.Attempts {
			return 0, true
		}
		delay := p.BaseDelay*time.Duration(attempt) + jitter
		if p.OnBackoff != nil {
			p.OnBackoff(attempt, delay)
		}
		return delay, false
	})

	return goretry.DoValue(ctx, backoff, func(ctx context.Context) (T, error) {
		v, err := op(ctx)
		if err != nil {
			if p.ShouldRetry != nil && !p.ShouldRetry(err) {
				return v, err
			}
			return v, goretry.RetryableError(err)
		}
		return v, nil
	})
}

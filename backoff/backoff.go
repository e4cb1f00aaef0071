// Package backoff computes how long a failed job stays invisible before the
// transport offers it again. Strategies are stateless and safe for
// concurrent use.
package backoff

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy maps a receive count (1 on the first delivery) to a retry delay.
type Strategy interface {
	Delay(receives int) time.Duration
}

// Func adapts a function to a Strategy.
type Func func(receives int) time.Duration

// Delay calls f.
func (f Func) Delay(receives int) time.Duration { return f(receives) }

// MaxVisibility is the longest delay a transport accepts (12h on SQS).
const MaxVisibility = 12 * time.Hour

// Default bounds for the worker's strategy.
const (
	DefaultInitial = time.Second
	DefaultMax     = 15 * time.Minute
)

// Kinds accepted by Parse.
const (
	KindConstant    = "constant"
	KindLinear      = "linear"
	KindExponential = "exponential"
	KindJitter      = "exponential-jitter"
)

// ──────────────────────────────────────────────────
// Shapes
// ──────────────────────────────────────────────────

type bounded struct{ initial, max time.Duration }

func (b bounded) cap(d time.Duration) time.Duration {
	if b.max > 0 && d > b.max {
		return b.max
	}
	return d
}

// doubled returns initial·2^(n-1) without overflowing.
func (b bounded) doubled(n int) time.Duration {
	d := b.initial
	for i := 1; i < n && d > 0; i++ {
		if b.max > 0 && d >= b.max {
			return b.max
		}
		if d > MaxVisibility {
			break
		}
		d *= 2
	}
	return b.cap(d)
}

// NewConstant waits interval after every failure.
func NewConstant(interval time.Duration) Strategy {
	return Func(func(int) time.Duration { return interval })
}

// NewLinear waits initial·n, at most maxDelay.
func NewLinear(initial, maxDelay time.Duration) Strategy {
	b := bounded{initial, maxDelay}
	return Func(func(n int) time.Duration { return b.cap(b.initial * time.Duration(max(n, 1))) })
}

// NewExponential waits initial·2^(n-1), at most maxDelay.
func NewExponential(initial, maxDelay time.Duration) Strategy {
	b := bounded{initial, maxDelay}
	return Func(b.doubled)
}

// NewExponentialWithJitter picks uniformly from [0, exponential delay] so
// jobs that failed together spread out when they retry.
func NewExponentialWithJitter(initial, maxDelay time.Duration) Strategy {
	b := bounded{initial, maxDelay}
	return Func(func(n int) time.Duration {
		return time.Duration(rand.Int64N(int64(b.doubled(n)) + 1)) //nolint:gosec // jitter only
	})
}

// ──────────────────────────────────────────────────
// Visibility
// ──────────────────────────────────────────────────

// Visibility rounds s up to whole seconds and clamps it to
// [0, MaxVisibility], the range transports accept for a visibility change.
func Visibility(s Strategy) Strategy {
	return Func(func(n int) time.Duration {
		d := s.Delay(n)
		switch {
		case d <= 0:
			return 0
		case d >= MaxVisibility:
			return MaxVisibility
		}
		if r := d % time.Second; r > 0 {
			d += time.Second - r
		}
		return d
	})
}

// ──────────────────────────────────────────────────
// Constructors
// ──────────────────────────────────────────────────

// DefaultStrategy is New(DefaultInitial, DefaultMax).
func DefaultStrategy() Strategy {
	return New(DefaultInitial, DefaultMax)
}

// New returns jittered exponential backoff between initial and maxDelay,
// in whole seconds.
func New(initial, maxDelay time.Duration) Strategy {
	return Visibility(NewExponentialWithJitter(initial, maxDelay))
}

// Parse builds the strategy named kind, in whole seconds. An empty kind
// selects exponential-jitter.
func Parse(kind string, initial, maxDelay time.Duration) (Strategy, error) {
	var s Strategy
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindJitter, "":
		s = NewExponentialWithJitter(initial, maxDelay)
	case KindExponential:
		s = NewExponential(initial, maxDelay)
	case KindLinear:
		s = NewLinear(initial, maxDelay)
	case KindConstant:
		s = NewConstant(initial)
	default:
		return nil, fmt.Errorf("sqjobs/backoff: unknown strategy %q", kind)
	}
	return Visibility(s), nil
}

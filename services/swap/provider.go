// Package swap routes quote requests to one of the configured swap venues and
// normalizes amounts, slippage and errors across them.
package swap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AmountConvention is how a venue expects input amounts.
type AmountConvention int

const (
	// HumanReadable venues take a decimal string such as "1.5" and scale it themselves.
	HumanReadable AmountConvention = iota
	// MinimalUnit venues take an integer amount of the token's smallest unit.
	MinimalUnit
)

func (c AmountConvention) String() string {
	switch c {
	case HumanReadable:
		return "human_readable"
	case MinimalUnit:
		return "minimal_unit"
	default:
		return fmt.Sprintf("AmountConvention(%d)", int(c))
	}
}

// ProviderRequest is what an adapter receives. Amount is already in the
// adapter's convention. Slippage is a fraction (0.01 == 1%) and SlippagePercent
// is the same tolerance exactly as the caller sent it, for venues that want a
// percentage on the wire.
type ProviderRequest struct {
	FromToken       string
	ToToken         string
	Amount          string
	Decimals        int
	Slippage        float64
	SlippagePercent decimal.Decimal
}

// ProviderQuote is what an adapter returns. AmountOut is in the adapter's own
// convention. OutDecimals, when the venue reports it, overrides the token table
// for scaling human-readable outputs.
type ProviderQuote struct {
	AmountOut   string
	OutDecimals *int
	Path        []string
}

// Provider wraps one swap venue.
type Provider interface {
	Name() string
	Convention() AmountConvention
	// Quote performs a single request; adapters never retry. Errors use the shared
	// taxonomy: UPSTREAM_UNAVAILABLE for transport failures, NO_LIQUIDITY when
	// the venue has no route.
	Quote(ctx context.Context, req ProviderRequest) (*ProviderQuote, error)
}

// =============================================================================
// Attempt state
// =============================================================================

// State is the lifecycle of one provider request.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Attempt tracks Idle -> Requested -> {Succeeded, Failed}. Terminal states are final.
type Attempt struct {
	mu       sync.Mutex
	provider string
	state    State
	started  time.Time
	finished time.Time
	err      error
}

// NewAttempt creates an idle attempt for provider.
func NewAttempt(provider string) *Attempt {
	return &Attempt{provider: provider}
}

// Begin moves Idle to Requested.
func (a *Attempt) Begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return fmt.Errorf("attempt for %s already %s", a.provider, a.state)
	}
	a.state = StateRequested
	a.started = time.Now()
	return nil
}

// Succeed moves Requested to Succeeded.
func (a *Attempt) Succeed() error {
	return a.finish(StateSucceeded, nil)
}

// Fail moves Requested to Failed.
func (a *Attempt) Fail(err error) error {
	return a.finish(StateFailed, err)
}

func (a *Attempt) finish(to State, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateRequested {
		return fmt.Errorf("attempt for %s cannot move from %s to %s", a.provider, a.state, to)
	}
	a.state = to
	a.err = err
	a.finished = time.Now()
	return nil
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err returns the failure cause, if any.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Duration is the time between Begin and the terminal transition.
func (a *Attempt) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished.IsZero() {
		return 0
	}
	return a.finished.Sub(a.started)
}

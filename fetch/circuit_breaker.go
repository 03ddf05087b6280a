package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// DefaultTripThreshold is the number of consecutive failed downloads from one
// host after which further downloads from it fail fast.
const DefaultTripThreshold = 5

// HostBreaker wraps an ArchiveFetcher with one circuit breaker per host, so a
// failing symbol server does not hold up package downloads. Missing archives
// are answers, not failures, and never trip a breaker.
type HostBreaker struct {
	next      ArchiveFetcher
	threshold int64
	cooldown  time.Duration

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// BreakerOption configures a HostBreaker.
type BreakerOption func(*HostBreaker)

// WithTripThreshold sets the consecutive failure count that opens a breaker.
func WithTripThreshold(n int) BreakerOption {
	return func(h *HostBreaker) {
		if n > 0 {
			h.threshold = int64(n)
		}
	}
}

// WithCooldown sets how long an open breaker waits before letting a trial
// download through. The wait doubles on every failed trial.
func WithCooldown(d time.Duration) BreakerOption {
	return func(h *HostBreaker) {
		h.cooldown = d
	}
}

// NewHostBreaker wraps next.
func NewHostBreaker(next ArchiveFetcher, opts ...BreakerOption) *HostBreaker {
	h := &HostBreaker{
		next:      next,
		threshold: DefaultTripThreshold,
		cooldown:  30 * time.Second,
		breakers:  make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HostBreaker) breaker(host string) *circuit.Breaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = h.cooldown
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.MaxElapsedTime = 0
	expBackoff.Reset()

	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(h.threshold),
	})
	h.breakers[host] = b
	return b
}

// Fetch opens url through the breaker of its host.
func (h *HostBreaker) Fetch(ctx context.Context, fetchURL string) (*Artifact, error) {
	host := hostOf(fetchURL)
	b := h.breaker(host)
	if !b.Ready() {
		return nil, fmt.Errorf("circuit open for %s: %w", host, ErrUpstreamDown)
	}

	var (
		artifact *Artifact
		answer   error
	)
	err := b.Call(func() error {
		var err error
		artifact, err = h.next.Fetch(ctx, fetchURL)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			answer = err
			return nil
		}
		var status *StatusError
		if errors.As(err, &status) {
			answer = err
			return nil
		}
		return err
	}, 0)
	if err != nil {
		return nil, err
	}
	if answer != nil {
		return nil, answer
	}
	return artifact, nil
}

// States reports "open" or "closed" per host seen so far.
func (h *HostBreaker) States() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	states := make(map[string]string, len(h.breakers))
	for host, b := range h.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// hostOf groups URLs by host. Unparseable URLs share one bucket.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "invalid"
	}
	return parsed.Host
}

package static

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle hands out one rate.Limiter per domain and adapts its interval:
// it backs off multiplicatively on a signal of trouble (a 429 or 503
// response) and shrinks by the recovery factor towards the floor after each
// success, the same shape as the teacher's domain rate limiter but with the
// interval itself allowed to move instead of staying fixed for the job's
// lifetime.
type throttle struct {
	mu      sync.Mutex
	domains map[string]*domainState

	floor    time.Duration
	ceiling  time.Duration
	factor   float64
	recovery float64
}

type domainState struct {
	limiter  *rate.Limiter
	interval time.Duration
}

func newThrottle(floor, ceiling time.Duration, factor, recovery float64) *throttle {
	if floor <= 0 {
		floor = 100 * time.Millisecond
	}
	return &throttle{
		domains:  make(map[string]*domainState),
		floor:    floor,
		ceiling:  ceiling,
		factor:   factor,
		recovery: recovery,
	}
}

func (t *throttle) stateFor(domain string) *domainState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.domains[domain]
	if !ok {
		st = &domainState{
			interval: t.floor,
			limiter:  rate.NewLimiter(rate.Every(t.floor), 1),
		}
		t.domains[domain] = st
	}
	return st
}

// wait blocks the caller until domain's current interval admits the next
// request, or ctx is cancelled first.
func (t *throttle) wait(ctx context.Context, domain string) error {
	return t.stateFor(domain).limiter.Wait(ctx)
}

// backoff multiplies domain's interval by factor, up to ceiling. retryAfter,
// if non-zero, floors the new interval so an honored Retry-After header is
// never undercut by the multiplicative formula.
func (t *throttle) backoff(domain string, retryAfter time.Duration) {
	st := t.stateFor(domain)
	t.mu.Lock()
	defer t.mu.Unlock()
	next := time.Duration(float64(st.interval) * t.factor)
	if next < t.floor {
		next = t.floor
	}
	if retryAfter > next {
		next = retryAfter
	}
	if next > t.ceiling {
		next = t.ceiling
	}
	st.interval = next
	st.limiter.SetLimit(rate.Every(next))
}

// recoverOne relaxes domain's interval one step towards the floor after a
// successful response.
func (t *throttle) recoverOne(domain string) {
	st := t.stateFor(domain)
	t.mu.Lock()
	defer t.mu.Unlock()
	next := time.Duration(float64(st.interval) * t.recovery)
	if next < t.floor {
		next = t.floor
	}
	st.interval = next
	st.limiter.SetLimit(rate.Every(next))
}

// circuitState is the state of a per-domain breaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
)

// circuitBreaker trips a domain after a run of consecutive failures and
// refuses new requests to it until openFor has elapsed, giving a hostile or
// overloaded origin a cooldown window instead of hammering it with retries.
type circuitBreaker struct {
	mu        sync.Mutex
	domains   map[string]*breakerState
	tripAfter int
	openFor   time.Duration
}

type breakerState struct {
	state           circuitState
	consecutiveFail int
	openedAt        time.Time
}

func newCircuitBreaker(tripAfter int, openFor time.Duration) *circuitBreaker {
	return &circuitBreaker{
		domains:   make(map[string]*breakerState),
		tripAfter: tripAfter,
		openFor:   openFor,
	}
}

// allow reports whether a request to domain may proceed. An open breaker
// self-resets to closed once openFor has elapsed, giving the domain another
// trial request.
func (b *circuitBreaker) allow(domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.domains[domain]
	if !ok {
		return true
	}
	if st.state == circuitClosed {
		return true
	}
	if time.Since(st.openedAt) >= b.openFor {
		st.state = circuitClosed
		st.consecutiveFail = 0
		return true
	}
	return false
}

func (b *circuitBreaker) recordSuccess(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.domains[domain]
	if !ok {
		return
	}
	st.consecutiveFail = 0
	st.state = circuitClosed
}

func (b *circuitBreaker) recordFailure(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.domains[domain]
	if !ok {
		st = &breakerState{}
		b.domains[domain] = st
	}
	st.consecutiveFail++
	if st.consecutiveFail >= b.tripAfter {
		st.state = circuitOpen
		st.openedAt = time.Now()
	}
}

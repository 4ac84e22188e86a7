package resilience

import (
	"sync"
	"time"
)

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// Breaker is a count-based circuit breaker over a rolling window of outcomes.
// After the cooldown a single trial run is let through; its outcome closes or
// reopens the circuit.
type Breaker struct {
	mu sync.Mutex

	volume   int
	ratio    float64
	cooldown time.Duration
	now      func() time.Time

	outcomes []bool // ring buffer, true marks a failure
	next     int
	filled   int

	state         BreakerState
	openedAt      time.Time
	trialInFlight bool
}

func NewBreaker(volume int, ratio float64, cooldown time.Duration) *Breaker {
	return &Breaker{
		volume:   volume,
		ratio:    ratio,
		cooldown: cooldown,
		now:      time.Now,
		outcomes: make([]bool, volume),
		state:    StateClosed,
	}
}

// Allow returns ErrCircuitOpen while the circuit rejects runs. A nil return
// must be followed by exactly one Record or Release.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = false
	}
	if b.state == StateHalfOpen {
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
	}
	return nil
}

// Record registers the outcome of an allowed run.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		if success {
			b.state = StateClosed
			b.reset()
		} else {
			b.trip()
		}
		return
	}

	b.outcomes[b.next] = !success
	b.next = (b.next + 1) % b.volume
	b.filled = min(b.filled+1, b.volume)
	if b.filled < b.volume {
		return
	}

	failures := 0
	for _, failed := range b.outcomes {
		if failed {
			failures++
		}
	}
	if float64(failures)/float64(b.volume) >= b.ratio {
		b.trip()
	}
}

// Release gives back an allowed run that ended without a meaningful outcome,
// such as a cancelled context.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.reset()
}

func (b *Breaker) reset() {
	clear(b.outcomes)
	b.next = 0
	b.filled = 0
}

package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/infrastructure/observability"
)

type PollState string

const (
	PollIdle      PollState = "idle"
	PollRunning   PollState = "running"
	PollSucceeded PollState = "succeeded"
	PollExhausted PollState = "exhausted"
	PollCancelled PollState = "cancelled"
)

var (
	errStillPending  = stderrors.New("charge still pending")
	ErrPollerStarted = stderrors.New("poller already started")
)

// CheckFunc queries the charge once. done=true stops the poller; an error
// counts as an attempt and polling continues.
type CheckFunc func(ctx context.Context) (done bool, err error)

// StatusPoller checks immediately, then every interval, for at most
// maxAttempts checks in total.
type StatusPoller struct {
	interval    time.Duration
	maxAttempts int
	check       CheckFunc

	mu       sync.Mutex
	attempts int
	state    PollState
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewStatusPoller(interval time.Duration, maxAttempts int, check CheckFunc) *StatusPoller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &StatusPoller{
		interval:    interval,
		maxAttempts: maxAttempts,
		check:       check,
		state:       PollIdle,
		done:        make(chan struct{}),
	}
}

func (p *StatusPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != PollIdle {
		p.mu.Unlock()
		return ErrPollerStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = PollRunning
	p.mu.Unlock()

	go p.run(ctx)
	return nil
}

func (p *StatusPoller) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()

	err := retry.Do(
		func() error {
			p.mu.Lock()
			p.attempts++
			attempt := p.attempts
			p.mu.Unlock()

			done, err := p.check(ctx)
			if err != nil {
				slog.Warn("status check failed", "attempt", attempt, "error", err)
				return err
			}
			if !done {
				return errStillPending
			}
			return nil
		},
		retry.Attempts(uint(p.maxAttempts)),
		retry.Delay(p.interval),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)

	p.mu.Lock()
	switch {
	case err == nil:
		p.state = PollSucceeded
	case ctx.Err() != nil:
		p.state = PollCancelled
	default:
		p.state = PollExhausted
	}
	state, attempts := p.state, p.attempts
	p.mu.Unlock()

	observability.PollerOutcomes.WithLabelValues(string(state)).Inc()
	slog.Info("status poller stopped", "state", state, "attempts", attempts)
}

// Cancel stops the poller. It is safe to call at any time and more than once.
func (p *StatusPoller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.state == PollIdle {
		p.state = PollCancelled
		close(p.done)
	}
}

// Done is closed once the poller has stopped.
func (p *StatusPoller) Done() <-chan struct{} {
	return p.done
}

func (p *StatusPoller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *StatusPoller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PollerRegistry keeps at most one running poller per transaction.
type PollerRegistry struct {
	mu      sync.Mutex
	pollers map[uuid.UUID]*StatusPoller
}

func NewPollerRegistry() *PollerRegistry {
	return &PollerRegistry{pollers: make(map[uuid.UUID]*StatusPoller)}
}

// Start replaces any poller already running for txID.
func (r *PollerRegistry) Start(ctx context.Context, txID uuid.UUID, interval time.Duration, maxAttempts int, check CheckFunc) *StatusPoller {
	p := NewStatusPoller(interval, maxAttempts, check)

	r.mu.Lock()
	if old, ok := r.pollers[txID]; ok {
		old.Cancel()
	}
	r.pollers[txID] = p
	r.mu.Unlock()

	_ = p.Start(ctx)
	go func() {
		<-p.Done()
		r.mu.Lock()
		if r.pollers[txID] == p {
			delete(r.pollers, txID)
		}
		r.mu.Unlock()
	}()

	slog.Info("status poller started", "transaction_id", txID, "interval", interval, "max_attempts", maxAttempts)
	return p
}

func (r *PollerRegistry) Get(txID uuid.UUID) (*StatusPoller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pollers[txID]
	return p, ok
}

// Cancel reports whether a poller was running for txID.
func (r *PollerRegistry) Cancel(txID uuid.UUID) bool {
	r.mu.Lock()
	p, ok := r.pollers[txID]
	if ok {
		delete(r.pollers, txID)
	}
	r.mu.Unlock()

	if ok {
		p.Cancel()
	}
	return ok
}

// Shutdown cancels every poller and waits for them to stop or ctx to expire.
func (r *PollerRegistry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	running := make([]*StatusPoller, 0, len(r.pollers))
	for id, p := range r.pollers {
		running = append(running, p)
		delete(r.pollers, id)
	}
	r.mu.Unlock()

	for _, p := range running {
		p.Cancel()
	}
	for _, p := range running {
		select {
		case <-p.Done():
		case <-ctx.Done():
			return
		}
	}
}

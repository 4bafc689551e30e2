package accessgate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/observability/metrics"
)

// Config tunes one gate instance.
type Config struct {
	MaxConcurrent    int32         // upper bound on in-flight calls
	FailureThreshold int32         // consecutive failures before the circuit opens
	BreakerTimeout   time.Duration // how long the circuit stays open
	AdmissionWait    time.Duration // single bounded wait when saturated
	StaleAfter       time.Duration // permits held longer than this are force-released
}

// DefaultConfig mirrors the production limits of the shared data store.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:    25,
		FailureThreshold: 10,
		BreakerTimeout:   60 * time.Second,
		AdmissionWait:    50 * time.Millisecond,
		StaleAfter:       60 * time.Second,
	}
}

// Gate is a per-dependency admission controller with an integrated circuit
// breaker. It bounds concurrent in-flight calls, counts consecutive
// failures, and fails fast while the circuit is open instead of hammering
// a struggling dependency. All state changes are lock-free atomics so a
// check-then-increment race between concurrent callers cannot overshoot
// MaxConcurrent.
type Gate struct {
	name string
	cfg  Config

	active   atomic.Int32
	failures atomic.Int32
	open     atomic.Bool
	openedAt atomic.Value // *time.Time

	seq     atomic.Uint64
	permits sync.Map // permit id -> acquire time, for staleness tracking

	logger        *slog.Logger
	onStateChange func(open bool)
}

// Permit is a scoped handle for one admitted call. Release must be called
// exactly once on every exit path; extra calls are ignored.
type Permit struct {
	gate     *Gate
	id       uint64
	released atomic.Bool
}

// New creates a gate for the named dependency.
func New(name string, cfg *Config, logger *slog.Logger) *Gate {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		name:          name,
		cfg:           *cfg,
		logger:        logger,
		onStateChange: func(bool) {},
	}
	return g
}

// SetStateChangeCallback registers a callback invoked on circuit
// transitions. Must be called before the gate is shared.
func (g *Gate) SetStateChangeCallback(fn func(open bool)) {
	if fn != nil {
		g.onStateChange = fn
	}
}

// Acquire admits one call or fails fast. While the circuit is open and the
// breaker timeout has not elapsed it returns domain.ErrCircuitOpen without
// touching the active count. When saturated it waits AdmissionWait once
// and then returns domain.ErrPoolExhausted rather than queuing.
func (g *Gate) Acquire() (*Permit, error) {
	if g.open.Load() {
		if !g.breakerExpired() {
			metrics.ObserveGateRejection(g.name, "circuit_open")
			return nil, domain.ErrCircuitOpen
		}
		// Timeout elapsed: close the circuit and let this call probe the
		// dependency. Its outcome decides whether the failure count stays
		// at zero.
		if g.open.CompareAndSwap(true, false) {
			g.failures.Store(0)
			g.logger.Info("circuit closed after breaker timeout", slog.String("dependency", g.name))
			g.onStateChange(false)
		}
	}

	if !g.tryAdmit() {
		time.Sleep(g.cfg.AdmissionWait)
		if !g.tryAdmit() {
			g.logger.Warn("admission limit reached",
				slog.String("dependency", g.name),
				slog.Int("active", int(g.active.Load())),
				slog.Int("max_concurrent", int(g.cfg.MaxConcurrent)),
			)
			metrics.ObserveGateRejection(g.name, "pool_exhausted")
			return nil, domain.ErrPoolExhausted
		}
	}

	id := g.seq.Add(1)
	g.permits.Store(id, time.Now())
	metrics.SetGateActive(g.name, int(g.active.Load()))
	return &Permit{gate: g, id: id}, nil
}

// Do runs fn under a permit, releasing it with fn's outcome on every exit
// path.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	permit, err := g.Acquire()
	if err != nil {
		return err
	}
	var callErr error
	defer func() { permit.Release(callErr) }()
	callErr = fn(ctx)
	return callErr
}

// Release records the protected call's outcome and frees the permit. A
// failure increments the consecutive failure count and may trip the
// circuit; a success resets it so recovery is immediate once the
// dependency is healthy again.
func (p *Permit) Release(callErr error) {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	g := p.gate
	// The sweeper may have force-released this permit already; in that
	// case the active count was decremented there and the call's outcome
	// is discarded as stale.
	if _, registered := g.permits.LoadAndDelete(p.id); !registered {
		return
	}
	g.active.Add(-1)
	metrics.SetGateActive(g.name, int(g.active.Load()))

	if callErr == nil {
		g.failures.Store(0)
		return
	}
	failures := g.failures.Add(1)
	if failures >= g.cfg.FailureThreshold {
		// The timestamp must be current before the open flag flips: an
		// acquire observing open with a stale timestamp would treat the
		// breaker as already expired and close the fresh trip.
		now := time.Now()
		g.openedAt.Store(&now)
		if g.open.CompareAndSwap(false, true) {
			g.logger.Error("circuit opened",
				slog.String("dependency", g.name),
				slog.Int("failures", int(failures)),
				slog.Duration("breaker_timeout", g.cfg.BreakerTimeout),
			)
			g.onStateChange(true)
		}
	}
}

// SweepStale force-releases permits held longer than StaleAfter, guarding
// against leaks from hung calls. Returns the number released.
func (g *Gate) SweepStale() int {
	released := 0
	now := time.Now()
	g.permits.Range(func(key, value interface{}) bool {
		acquired := value.(time.Time)
		if now.Sub(acquired) <= g.cfg.StaleAfter {
			return true
		}
		if g.permits.CompareAndDelete(key, value) {
			g.active.Add(-1)
			released++
			g.logger.Warn("force-released stale permit",
				slog.String("dependency", g.name),
				slog.Duration("held_for", now.Sub(acquired)),
			)
		}
		return true
	})
	if released > 0 {
		metrics.ObserveStalePermits(g.name, released)
		metrics.SetGateActive(g.name, int(g.active.Load()))
	}
	return released
}

// Name returns the protected dependency's name.
func (g *Gate) Name() string { return g.name }

// Active returns the current in-flight call count.
func (g *Gate) Active() int { return int(g.active.Load()) }

// Failures returns the current consecutive failure count.
func (g *Gate) Failures() int { return int(g.failures.Load()) }

// IsOpen reports whether the circuit is open.
func (g *Gate) IsOpen() bool { return g.open.Load() }

// tryAdmit attempts one compare-and-swap admission. The loop retries only
// on CAS contention, never past the concurrency limit.
func (g *Gate) tryAdmit() bool {
	for {
		current := g.active.Load()
		if current >= g.cfg.MaxConcurrent {
			return false
		}
		if g.active.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (g *Gate) breakerExpired() bool {
	openedAt, ok := g.openedAt.Load().(*time.Time)
	if !ok || openedAt == nil {
		return true
	}
	return time.Since(*openedAt) >= g.cfg.BreakerTimeout
}

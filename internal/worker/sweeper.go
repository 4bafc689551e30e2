package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/propertyflow/backend/internal/reliability/accessgate"
	"github.com/propertyflow/backend/internal/responsecache"
	"github.com/propertyflow/backend/internal/service"
)

// Sweeper periodically evicts expired cache entries and reclaims stale
// gate permits. Caches also evict lazily on access; the sweeper keeps
// memory bounded for keys that never get touched again.
type Sweeper struct {
	auth     *service.AuthService
	cache    *responsecache.TieredCache
	gates    []*accessgate.Gate
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a new sweeper worker
func NewSweeper(
	authSvc *service.AuthService,
	cache *responsecache.TieredCache,
	gates []*accessgate.Gate,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		auth:     authSvc,
		cache:    cache,
		gates:    gates,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the sweep loop and blocks until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	authSwept := s.auth.SweepExpired()
	cacheSwept := s.cache.SweepExpired()

	permitsSwept := 0
	for _, gate := range s.gates {
		permitsSwept += gate.SweepStale()
	}

	if authSwept > 0 || cacheSwept > 0 || permitsSwept > 0 {
		s.logger.Info("sweep completed",
			slog.Int("auth_entries", authSwept),
			slog.Int("cache_entries", cacheSwept),
			slog.Int("stale_permits", permitsSwept),
		)
	}
}

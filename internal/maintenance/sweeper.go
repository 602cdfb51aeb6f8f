package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/beaconhq/beacon-auth/internal/apikey"
	"github.com/beaconhq/beacon-auth/internal/config"
	"github.com/beaconhq/beacon-auth/internal/onetime"
	"github.com/beaconhq/beacon-auth/internal/session"
)

// Sweeper is the background janitor: it converts timed-out sessions into
// revoked ones, prunes rows past retention, deactivates expired API
// keys, and opens fresh rate-limit windows. Every pass is idempotent and
// batch-bounded, so it is safe next to live traffic.
type Sweeper struct {
	config   *config.MaintenanceConfig
	log      *zap.Logger
	sessions *session.Manager
	tokens   *onetime.Manager
	keys     *apikey.Service

	lastCounterWindow time.Time
	stop              chan struct{}
	done              chan struct{}
}

func NewSweeper(config *config.MaintenanceConfig, log *zap.Logger, sessions *session.Manager, tokens *onetime.Manager, keys *apikey.Service) *Sweeper {
	return &Sweeper{
		config:            config,
		log:               log,
		sessions:          sessions,
		tokens:            tokens,
		keys:              keys,
		lastCounterWindow: time.Now().Truncate(time.Hour),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepInterval)
			s.Sweep(ctx)
			cancel()
		}
	}
}

// Sweep runs one maintenance pass. Individual failures are logged and do
// not stop the remaining steps.
func (s *Sweeper) Sweep(ctx context.Context) {
	batch := s.config.BatchSize

	if n, err := s.sessions.RevokeExpired(ctx, batch); err != nil {
		s.log.Error("session expiry sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("expired sessions revoked", zap.Int64("count", n))
	}

	cutoff := time.Now().Add(-s.config.SessionRetention)
	if n, err := s.sessions.DeleteEndedBefore(ctx, cutoff, batch); err != nil {
		s.log.Error("session retention sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("ended sessions pruned", zap.Int64("count", n))
	}

	if n, err := s.tokens.DeleteExpired(ctx, batch); err != nil {
		s.log.Error("token retention sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("expired tokens pruned", zap.Int64("count", n))
	}

	if n, err := s.keys.DeactivateExpired(ctx, batch); err != nil {
		s.log.Error("api key expiry sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("expired api keys deactivated", zap.Int64("count", n))
	}

	// Usage counters reset once per clock hour, whichever pass crosses it.
	if window := time.Now().Truncate(time.Hour); window.After(s.lastCounterWindow) {
		if n, err := s.keys.ResetUsageCounters(ctx); err != nil {
			s.log.Error("api key counter reset failed", zap.Error(err))
		} else {
			s.lastCounterWindow = window
			s.log.Info("api key usage counters reset", zap.Int64("count", n))
		}
	}
}

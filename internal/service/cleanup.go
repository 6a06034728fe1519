package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/tenancy"
)

const (
	defaultCleanupInterval  = 1 * time.Hour
	defaultCleanupRetention = 24 * time.Hour
)

// CleanupService sweeps expired rate limit records on a schedule. Sweeps run
// under the system identity since the records span every tenant.
type CleanupService struct {
	rateLimits domain.RateLimitStore
	logger     *zap.Logger

	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewCleanupService(rs domain.RateLimitStore, logger *zap.Logger) *CleanupService {
	return &CleanupService{
		rateLimits: rs,
		logger:     logger,
		interval:   defaultCleanupInterval,
		retention:  defaultCleanupRetention,
		stopCh:     make(chan struct{}),
	}
}

func (s *CleanupService) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

func (s *CleanupService) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

// Start runs the sweeper on a periodic schedule in a background goroutine.
func (s *CleanupService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("rate limit cleanup started",
			zap.Duration("interval", s.interval),
			zap.Duration("retention", s.retention))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.run(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("rate limit cleanup stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the sweeper.
func (s *CleanupService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *CleanupService) run(ctx context.Context) {
	err := tenancy.RunAsSystem(ctx, func(ctx context.Context) error {
		deleted, err := s.rateLimits.CleanupExpired(ctx, s.retention)
		if err != nil {
			return err
		}
		if deleted > 0 {
			s.logger.Info("removed expired rate limit records", zap.Int64("count", deleted))
		}
		return nil
	})
	if err != nil {
		s.logger.Error("rate limit cleanup failed", zap.Error(err))
	}
}

// RunOnce triggers one sweep immediately, for operator tooling.
func (s *CleanupService) RunOnce(ctx context.Context) (int64, error) {
	var deleted int64
	err := tenancy.RunAsSystem(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.rateLimits.CleanupExpired(ctx, s.retention)
		return err
	})
	return deleted, err
}

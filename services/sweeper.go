package services

import (
	"context"
	"sync"
	"time"

	"tutorhub/signaling/utils"
)

// Sweeper periodically deletes expired notifications.
type Sweeper struct {
	store    NotificationStore
	interval time.Duration
	logger   *utils.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(store NotificationStore, interval time.Duration, logger *utils.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sweep loop. A non-positive interval disables it.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		s.logger.Info("Notification sweeper disabled")
		return
	}
	s.logger.Info("Starting notification sweeper", "interval", s.interval)

	s.wg.Add(1)
	go s.run()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Notification sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep runs one pass and returns the number of deleted notifications.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	deleted, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("Failed to delete expired notifications", "error", err)
		return 0
	}
	if deleted > 0 {
		s.logger.Debug("Deleted expired notifications", "count", deleted)
	}
	return deleted
}

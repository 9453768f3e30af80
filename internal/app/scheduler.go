package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Expirer flips stale pending requests to expired
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	expirer  Expirer
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler создаёт новый планировщик
func NewScheduler(expirer Expirer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		expirer:  expirer,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Duration("sweep_interval", s.interval))

	s.wg.Add(1)
	go s.runExpirySweep(ctx)
}

// Stop останавливает фоновые задачи и ждёт их завершения
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

// runExpirySweep периодически переводит просроченные заявки в expired.
// Чтение и так применяет ленивое истечение, sweep фиксирует статус в хранилище и рассылает события.
func (s *Scheduler) runExpirySweep(ctx context.Context) {
	defer s.wg.Done()

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("Expiry sweep stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Expiry sweep cancelled")
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	n, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Failed to expire stale requests", zap.Error(err))
		}
		return
	}
	s.logger.Debug("Expiry sweep completed", zap.Int("expired", n))
}

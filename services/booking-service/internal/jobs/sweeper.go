package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Completer persists the implicit completion of appointments whose end has passed.
type Completer interface {
	CompleteDue(ctx context.Context, limit int) ([]model.Appointment, error)
}

// Sweeper periodically moves finished confirmed appointments to completed.
type Sweeper struct {
	store     Completer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewSweeper(store Completer, logger *slog.Logger, m *metrics.Metrics, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		store:     store,
		logger:    logger,
		metrics:   m,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("completion sweep failed", "err", err)
			}
		}
	}
}

// Sweep drains every due appointment, one batch per transaction, and returns how many
// were completed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		done, err := s.store.CompleteDue(ctx, s.batchSize)
		s.metrics.ObserveSweep(len(done), err)
		if err != nil {
			return total, err
		}
		total += len(done)
		for _, appt := range done {
			s.logger.Debug("appointment completed", "business_id", appt.BusinessID, "appointment_id", appt.ID)
		}
		if len(done) < s.batchSize || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

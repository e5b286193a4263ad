package service

import (
	"context"
	"time"

	"log/slog"
)

// ExpirySweeper cancels open orders older than MaxAge on a fixed interval.
// It goes through the public cancel path, so it contends with matching the
// same way an API caller would and loses races cleanly.
type ExpirySweeper struct {
	svc      *OrderService
	store    OrderStore
	interval time.Duration
	maxAge   time.Duration
	batch    int
	logger   *slog.Logger
}

func NewExpirySweeper(svc *OrderService, store OrderStore, interval, maxAge time.Duration, logger *slog.Logger) *ExpirySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &ExpirySweeper{
		svc:      svc,
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		batch:    200,
		logger:   logger,
	}
}

func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)
	stale, err := s.store.ListStaleOpenOrders(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error("expiry sweep query failed", "error", err)
		return
	}

	for _, order := range stale {
		if _, err := s.svc.CancelOrder(ctx, order.ID); err != nil {
			if IsStaleCancel(err) {
				// A fill or an explicit cancel won the race; nothing to do.
				continue
			}
			s.logger.Error("expiry cancel failed", "order_id", order.ID, "error", err)
			continue
		}
		if s.svc.metrics != nil {
			s.svc.metrics.ExpiredOrders.Inc()
		}
		s.logger.Info("expired order cancelled", "order_id", order.ID, "created_at", order.CreatedAt)
	}
}

package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps escrows past their auto-release deadline and
// arbitrations past their decision deadline, settling both without
// waiting on buyer/arbitrator action.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new escrow settlement timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeReleaseExpired(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeReleaseExpired(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in escrow timer", "panic", fmt.Sprint(r))
		}
	}()
	t.releaseExpired(ctx)
}

func (t *Timer) releaseExpired(ctx context.Context) {
	now := time.Now()

	expired, err := t.store.ListExpired(ctx, now, 100)
	if err != nil {
		t.logger.Warn("failed to list expired escrows", "error", err)
		return
	}

	for _, esc := range expired {
		if esc.Status == StatusDelivered {
			if esc.DisputeWindowUntil != nil && now.After(*esc.DisputeWindowUntil) {
				if err := t.service.AutoRelease(ctx, esc); err != nil {
					t.logger.Warn("failed to auto-release escrow after dispute window",
						"escrowId", esc.ID, "error", err)
				} else {
					t.logger.Info("auto-released escrow after dispute window",
						"escrowId", esc.ID, "seller", esc.SellerAddr, "amount", esc.Amount)
				}
			} else {
				t.logger.Debug("skipping delivered escrow, dispute window still open",
					"escrowId", esc.ID, "disputeWindowUntil", esc.DisputeWindowUntil)
			}
			continue
		}

		if err := t.service.AutoRelease(ctx, esc); err != nil {
			t.logger.Warn("failed to auto-release escrow", "escrowId", esc.ID, "error", err)
			continue
		}
		t.logger.Info("auto-released escrow",
			"escrowId", esc.ID, "buyer", esc.BuyerAddr, "seller", esc.SellerAddr, "amount", esc.Amount)
	}

	t.resolveExpiredArbitrations(ctx, now)
}

func (t *Timer) resolveExpiredArbitrations(ctx context.Context, now time.Time) {
	arbitrating, err := t.store.ListByStatus(ctx, StatusArbitrating, 100)
	if err != nil {
		t.logger.Warn("failed to list arbitrating escrows", "error", err)
		return
	}

	for _, esc := range arbitrating {
		if esc.ArbitrationDeadline == nil || !now.After(*esc.ArbitrationDeadline) {
			continue
		}

		_, err := t.service.ResolveArbitration(ctx, esc.ID, esc.ArbitratorAddr, ResolveRequest{
			Resolution: "release",
			Reason:     "arbitration deadline expired, auto-released to seller",
		})
		if err != nil {
			t.logger.Warn("failed to auto-resolve expired arbitration", "escrowId", esc.ID, "error", err)
			continue
		}
		t.logger.Info("auto-resolved expired arbitration",
			"escrowId", esc.ID, "seller", esc.SellerAddr, "amount", esc.Amount)
	}
}

package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"selfray/internal/models"
)

// clientStore is the slice of the data layer the reconciler needs.
type clientStore interface {
	ListAllEnabledClients() ([]models.Client, error)
	DisableClients(ids []string) error
}

// Restarter pushes the durable state back into the running engine.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Notifier delivers a best-effort operator message. Failures are logged,
// never propagated into the reconcile outcome.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Reconciler periodically disables clients whose expiry has passed or whose
// traffic quota is spent. Detection reads only durable state, so a missed
// pass is caught by the next one.
type Reconciler struct {
	store    clientStore
	engine   Restarter
	notifier Notifier
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func New(store clientStore, engine Restarter, notifier Notifier, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		store:    store,
		engine:   engine,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		log:      slog.Default().With("component", "reconciler"),
	}
}

// Run blocks until ctx is canceled, reconciling once per interval. Errors
// in a pass are logged and the loop keeps going.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.log.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// ReconcileOnce runs a single enforcement pass and reports how many clients
// it disabled. All state flips commit in one batch before the engine is
// restarted, so a crash between the two leaves durable state ahead of the
// engine and the next start catches up.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	clients, err := r.store.ListAllEnabledClients()
	if err != nil {
		return 0, fmt.Errorf("list clients: %w", err)
	}

	nowMs := r.now().UnixMilli()
	var ids []string
	var culled []models.Client
	for _, c := range clients {
		if !shouldDisable(c, nowMs) {
			continue
		}
		ids = append(ids, c.ID)
		culled = append(culled, c)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := r.store.DisableClients(ids); err != nil {
		return 0, fmt.Errorf("disable clients: %w", err)
	}

	// One restart per pass regardless of how many clients flipped.
	if err := r.engine.Restart(ctx); err != nil {
		r.log.Error("engine restart after reconcile failed", "error", err, "disabled", len(ids))
	}

	for _, c := range culled {
		reason := disableReason(c, nowMs)
		r.log.Info("client disabled", "email", c.Email, "reason", reason)
		if r.notifier == nil {
			continue
		}
		text := fmt.Sprintf("🚫 Client disabled\nEmail: %s\nReason: %s", c.Email, reason)
		if err := r.notifier.Notify(ctx, text); err != nil {
			r.log.Warn("disable notification failed", "email", c.Email, "error", err)
		}
	}

	return len(ids), nil
}

// shouldDisable applies the lifecycle cutoffs: expiry is exclusive (a
// client expiring exactly now survives until the next pass), quota is
// inclusive (usage equal to the limit is spent).
func shouldDisable(c models.Client, nowMs int64) bool {
	if c.ExpiryTime > 0 && nowMs > c.ExpiryTime {
		return true
	}
	if c.TrafficLimit > 0 && c.TotalUsage() >= c.TrafficLimit {
		return true
	}
	return false
}

func disableReason(c models.Client, nowMs int64) string {
	if c.ExpiryTime > 0 && nowMs > c.ExpiryTime {
		return "expired"
	}
	return "traffic quota exhausted"
}

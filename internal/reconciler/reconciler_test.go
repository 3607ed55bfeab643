package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"selfray/internal/models"
)

type fakeStore struct {
	clients  []models.Client
	disabled [][]string
	listErr  error
}

func (f *fakeStore) ListAllEnabledClients() ([]models.Client, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Client, 0, len(f.clients))
	for _, c := range f.clients {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) DisableClients(ids []string) error {
	f.disabled = append(f.disabled, ids)
	for _, id := range ids {
		for i := range f.clients {
			if f.clients[i].ID == id {
				f.clients[i].Enabled = false
			}
		}
	}
	return nil
}

type countingRestarter struct {
	restarts int
	err      error
}

func (c *countingRestarter) Restart(context.Context) error {
	c.restarts++
	return c.err
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.messages = append(n.messages, text)
	return nil
}

func fixedReconciler(store *fakeStore, engine *countingRestarter, notifier Notifier, nowMs int64) *Reconciler {
	r := New(store, engine, notifier, time.Minute)
	r.now = func() time.Time { return time.UnixMilli(nowMs) }
	return r
}

func TestReconcileQuotaBoundaryInclusive(t *testing.T) {
	store := &fakeStore{clients: []models.Client{
		{ID: "at", Email: "at", Enabled: true, TrafficLimit: 100, Upload: 40, Download: 60},
		{ID: "under", Email: "under", Enabled: true, TrafficLimit: 100, Upload: 40, Download: 59},
		{ID: "unlimited", Email: "unlimited", Enabled: true, TrafficLimit: 0, Upload: 1 << 40, Download: 1 << 40},
	}}
	engine := &countingRestarter{}

	n, err := fixedReconciler(store, engine, nil, 1000).ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("disabled %d clients, want 1", n)
	}
	if len(store.disabled) != 1 || len(store.disabled[0]) != 1 || store.disabled[0][0] != "at" {
		t.Fatalf("wrong disable batch: %v", store.disabled)
	}
}

func TestReconcileExpiryBoundaryExclusive(t *testing.T) {
	const now = int64(5_000_000)
	store := &fakeStore{clients: []models.Client{
		{ID: "exact", Email: "exact", Enabled: true, ExpiryTime: now},
		{ID: "past", Email: "past", Enabled: true, ExpiryTime: now - 1},
		{ID: "never", Email: "never", Enabled: true, ExpiryTime: 0},
	}}
	engine := &countingRestarter{}

	n, err := fixedReconciler(store, engine, nil, now).ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("disabled %d clients, want 1", n)
	}
	if store.disabled[0][0] != "past" {
		t.Fatalf("wrong client disabled: %v", store.disabled)
	}
}

func TestReconcileSingleRestartPerPass(t *testing.T) {
	store := &fakeStore{clients: []models.Client{
		{ID: "a", Email: "a", Enabled: true, ExpiryTime: 1},
		{ID: "b", Email: "b", Enabled: true, ExpiryTime: 1},
		{ID: "c", Email: "c", Enabled: true, TrafficLimit: 1, Download: 2},
	}}
	engine := &countingRestarter{}
	notifier := &recordingNotifier{}

	n, err := fixedReconciler(store, engine, notifier, 1000).ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if n != 3 {
		t.Fatalf("disabled %d clients, want 3", n)
	}
	if engine.restarts != 1 {
		t.Fatalf("restarts = %d, want exactly 1", engine.restarts)
	}
	if len(notifier.messages) != 3 {
		t.Fatalf("notifications = %d, want one per client", len(notifier.messages))
	}
}

func TestReconcileNoChangesNoRestart(t *testing.T) {
	store := &fakeStore{clients: []models.Client{
		{ID: "a", Email: "a", Enabled: true},
	}}
	engine := &countingRestarter{}

	n, err := fixedReconciler(store, engine, nil, 1000).ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if n != 0 || engine.restarts != 0 {
		t.Fatalf("clean pass must not touch the engine: n=%d restarts=%d", n, engine.restarts)
	}
}

func TestReconcileMonotonic(t *testing.T) {
	store := &fakeStore{clients: []models.Client{
		{ID: "a", Email: "a", Enabled: true, ExpiryTime: 1},
	}}
	engine := &countingRestarter{}
	r := fixedReconciler(store, engine, nil, 1000)

	if n, _ := r.ReconcileOnce(context.Background()); n != 1 {
		t.Fatalf("first pass disabled %d, want 1", n)
	}
	// A disabled client stays disabled; the second pass sees nothing.
	if n, _ := r.ReconcileOnce(context.Background()); n != 0 {
		t.Fatalf("second pass disabled %d, want 0", n)
	}
	if engine.restarts != 1 {
		t.Fatalf("restarts = %d, want 1", engine.restarts)
	}
}

func TestReconcileRestartFailureStillCounts(t *testing.T) {
	store := &fakeStore{clients: []models.Client{
		{ID: "a", Email: "a", Enabled: true, ExpiryTime: 1},
	}}
	engine := &countingRestarter{err: errors.New("spawn failed")}

	n, err := fixedReconciler(store, engine, nil, 1000).ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("restart failure must not fail the pass: %v", err)
	}
	if n != 1 {
		t.Fatalf("disabled %d, want 1", n)
	}
	if store.clients[0].Enabled {
		t.Fatal("durable state must flip even when the restart fails")
	}
}

func TestReconcileListErrorPropagates(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db locked")}
	engine := &countingRestarter{}

	if _, err := fixedReconciler(store, engine, nil, 1000).ReconcileOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if engine.restarts != 0 {
		t.Fatal("failed pass must not restart the engine")
	}
}

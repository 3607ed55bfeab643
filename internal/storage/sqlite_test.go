package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"selfray/internal/models"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsReadLatestWrite(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSetting("xray_log_level", "warning")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got != "warning" {
		t.Fatalf("expected fallback, got %q", got)
	}

	if err := s.SetSetting("xray_log_level", "debug"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("xray_log_level", "info"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}

	got, err = s.GetSetting("xray_log_level", "warning")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got != "info" {
		t.Fatalf("expected latest write, got %q", got)
	}
}

func TestCreateInboundTagConflict(t *testing.T) {
	s := newTestStore(t)

	inb := models.Inbound{
		Tag: "vless-443-abc123", Protocol: "vless", Port: 443,
		Settings: "{}", StreamSettings: "{}", Sniffing: "{}", Enabled: true,
	}
	if _, err := s.CreateInbound(inb); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := s.CreateInbound(inb)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	n, err := s.CountInbounds()
	if err != nil {
		t.Fatalf("CountInbounds: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one inbound after conflict, got %d", n)
	}
}

func TestDeleteInboundCascadesToClients(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateInbound(models.Inbound{
		Tag: "trojan-8443-x", Protocol: "trojan", Port: 8443,
		Settings: "{}", StreamSettings: "{}", Sniffing: "{}", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create inbound: %v", err)
	}

	for _, cid := range []string{"c1", "c2"} {
		err := s.CreateClient(models.Client{ID: cid, InboundID: id, Email: cid, UUID: "u-" + cid, Enabled: true})
		if err != nil {
			t.Fatalf("create client %s: %v", cid, err)
		}
	}

	if err := s.DeleteInbound(id); err != nil {
		t.Fatalf("delete inbound: %v", err)
	}

	if _, err := s.GetClient("c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cascade delete of clients, got %v", err)
	}
	n, _ := s.CountClients()
	if n != 0 {
		t.Fatalf("expected zero clients, got %d", n)
	}
}

func TestToggleInbound(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateInbound(models.Inbound{
		Tag: "vmess-80-y", Protocol: "vmess", Port: 80,
		Settings: "{}", StreamSettings: "{}", Sniffing: "{}", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create inbound: %v", err)
	}

	enabled, err := s.ToggleInbound(id)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if enabled {
		t.Fatal("expected toggle to disable")
	}

	list, err := s.ListEnabledInbounds()
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("disabled inbound still listed as enabled")
	}

	if _, err := s.ToggleInbound(9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDisableClientsBatch(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateInbound(models.Inbound{
		Tag: "vless-1-z", Protocol: "vless", Port: 1,
		Settings: "{}", StreamSettings: "{}", Sniffing: "{}", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create inbound: %v", err)
	}
	for _, cid := range []string{"a", "b", "c"} {
		if err := s.CreateClient(models.Client{ID: cid, InboundID: id, Email: cid, UUID: cid, Enabled: true}); err != nil {
			t.Fatalf("create client: %v", err)
		}
	}

	if err := s.DisableClients([]string{"a", "c"}); err != nil {
		t.Fatalf("DisableClients: %v", err)
	}

	left, err := s.ListAllEnabledClients()
	if err != nil {
		t.Fatalf("ListAllEnabledClients: %v", err)
	}
	if len(left) != 1 || left[0].ID != "b" {
		t.Fatalf("expected only client b enabled, got %+v", left)
	}

	// Empty batch is a no-op, not an error.
	if err := s.DisableClients(nil); err != nil {
		t.Fatalf("empty DisableClients: %v", err)
	}
}

func TestResetTrafficAndUsage(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateInbound(models.Inbound{
		Tag: "ss-2-w", Protocol: "shadowsocks", Port: 2,
		Settings: "{}", StreamSettings: "{}", Sniffing: "{}", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create inbound: %v", err)
	}
	if err := s.CreateClient(models.Client{ID: "u", InboundID: id, Email: "u", UUID: "u", Enabled: true}); err != nil {
		t.Fatalf("create client: %v", err)
	}

	if err := s.AddClientUsage("u", 100, 200); err != nil {
		t.Fatalf("AddClientUsage: %v", err)
	}
	c, err := s.GetClient("u")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if c.Upload != 100 || c.Download != 200 || c.TotalUsage() != 300 {
		t.Fatalf("unexpected counters: %+v", c)
	}

	if err := s.ResetClientTraffic("u"); err != nil {
		t.Fatalf("ResetClientTraffic: %v", err)
	}
	c, _ = s.GetClient("u")
	if c.TotalUsage() != 0 {
		t.Fatalf("counters not reset: %+v", c)
	}

	// Reset does not touch the enabled flag.
	if !c.Enabled {
		t.Fatal("reset must not change enabled")
	}
}

func TestInboundAllocateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateInbound(models.Inbound{
		Tag: "vless-443-z", Protocol: "vless", Port: 443,
		Settings: "{}", StreamSettings: "{}", Sniffing: "{}",
		Allocate: `{"strategy":"random"}`, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create inbound: %v", err)
	}

	inb, err := s.GetInbound(id)
	if err != nil {
		t.Fatalf("get inbound: %v", err)
	}
	if inb.Allocate != `{"strategy":"random"}` {
		t.Fatalf("allocate = %q", inb.Allocate)
	}

	inb.Allocate = ""
	if err := s.UpdateInbound(inb); err != nil {
		t.Fatalf("update inbound: %v", err)
	}
	inb, err = s.GetInbound(id)
	if err != nil {
		t.Fatalf("get inbound: %v", err)
	}
	if inb.Allocate != "{}" {
		t.Fatalf("cleared allocate = %q, want empty blob", inb.Allocate)
	}
}

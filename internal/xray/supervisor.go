package xray

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"selfray/internal/models"
	"selfray/internal/storage"
)

// Supervisor keeps the engine process consistent with the stored model.
// It is the only owner of the process handle; Start/Stop/Restart are
// serialized by a mutex so two concurrent restarts can never leave two
// live children or a dangling handle.
type Supervisor struct {
	store          storage.Store
	executablePath string
	configPath     string
	restartDelay   time.Duration

	mu          sync.Mutex
	runner      *Runner
	stopPlanned atomic.Bool
}

func supervisorLogger() *slog.Logger {
	return slog.Default().With("component", "xray.supervisor")
}

func NewSupervisor(store storage.Store, executablePath, configPath string, gracePeriod time.Duration) *Supervisor {
	return &Supervisor{
		store:          store,
		executablePath: executablePath,
		configPath:     configPath,
		restartDelay:   3 * time.Second,
		runner:         NewRunner(executablePath, gracePeriod),
	}
}

// Start synthesizes a fresh config from the store, writes it as the sole
// complete configuration artifact and launches the engine against it. Any
// previously tracked child is stopped first. On failure nothing is left
// running and the error is both logged and returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(_ context.Context) error {
	s.stopLocked()

	if !Installed(s.executablePath) {
		supervisorLogger().Error("engine start failed", "error", ErrBinaryMissing, "path", s.executablePath)
		return ErrBinaryMissing
	}

	if err := s.writeConfigLocked(); err != nil {
		supervisorLogger().Error("config synthesis failed", "error", err)
		return err
	}

	if err := s.runner.Start(s.configPath); err != nil {
		supervisorLogger().Error("engine spawn failed", "error", err)
		return fmt.Errorf("spawn xray: %w", err)
	}

	s.stopPlanned.Store(false)
	go s.watchExit(s.runner.ExitChannel())

	supervisorLogger().Info("engine started", "pid", s.runner.Pid(), "config", s.configPath)
	return nil
}

// watchExit relaunches a child that died without a Stop or Restart
// having asked for it. One watcher runs per spawned child and ends with
// that child's exit.
func (s *Supervisor) watchExit(exited <-chan struct{}) {
	<-exited
	if s.stopPlanned.Load() {
		return
	}
	supervisorLogger().Warn("engine exited unexpectedly, restarting", "delay", s.restartDelay)
	time.Sleep(s.restartDelay)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the lock: a Stop that landed during the delay wins.
	if s.stopPlanned.Load() {
		return
	}
	if err := s.startLocked(context.Background()); err != nil {
		supervisorLogger().Error("restart after crash failed", "error", err)
	}
}

// writeConfigLocked performs one full synthesis and replaces the config
// file. Partial updates are not a thing: every write is the whole document.
func (s *Supervisor) writeConfigLocked() error {
	set, err := LoadSettings(s.store)
	if err != nil {
		return err
	}
	inbounds, err := s.store.ListEnabledInbounds()
	if err != nil {
		return err
	}

	clients := make(map[int64][]models.Client, len(inbounds))
	for _, inb := range inbounds {
		list, err := s.store.ListEnabledClients(inb.ID)
		if err != nil {
			return err
		}
		clients[inb.ID] = list
	}

	doc, err := Synthesize(set, inbounds, clients)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.configPath, data, 0o644)
}

// Stop terminates a tracked child if any: graceful signal, bounded wait,
// force kill. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	s.stopPlanned.Store(true)
	if !s.runner.Running() {
		return
	}
	s.runner.Stop()
	supervisorLogger().Info("engine stopped")
}

// Restart is stop-then-start under one lock acquisition; callers invoke it
// synchronously after every routing-affecting mutation commits.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return s.startLocked(ctx)
}

// Status reports liveness of the tracked handle only, not engine health.
func (s *Supervisor) Status() (running bool, pid int) {
	return s.runner.Running(), s.runner.Pid()
}

func (s *Supervisor) Installed() bool {
	return Installed(s.executablePath)
}

func (s *Supervisor) Version(ctx context.Context) (string, error) {
	return Version(ctx, s.executablePath)
}

func (s *Supervisor) GenerateRealityKeys(ctx context.Context) (private, public string, err error) {
	return GenerateKeyPair(ctx, s.executablePath)
}

// StreamLogs replays the buffered tail when asked and then follows live
// engine output until ctx is cancelled.
func (s *Supervisor) StreamLogs(ctx context.Context, includeBuffer bool) <-chan string {
	src := s.runner.Logs(ctx, includeBuffer)
	out := make(chan string, 256)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// RecentLogs returns the buffered tail of engine output.
func (s *Supervisor) RecentLogs() []string {
	return s.runner.RecentLogs()
}

// CurrentConfig returns the last written configuration document.
func (s *Supervisor) CurrentConfig() ([]byte, error) {
	return os.ReadFile(s.configPath)
}

package xray

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"selfray/internal/util"
)

// Runner owns the raw engine process handle: spawn, terminate, liveness
// and output capture. Policy (config writing, restart triggers) lives in
// the Supervisor.
type Runner struct {
	executablePath string
	gracePeriod    time.Duration

	mu     sync.RWMutex
	cmd    *exec.Cmd
	logBus *util.LogBus
	exitCh chan struct{}
}

func NewRunner(executablePath string, gracePeriod time.Duration) *Runner {
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Second
	}
	exited := make(chan struct{})
	close(exited)
	return &Runner{
		executablePath: executablePath,
		gracePeriod:    gracePeriod,
		logBus:         util.NewLogBus(100),
		exitCh:         exited,
	}
}

// Start launches `xray run -c <configPath>`. The child deliberately
// outlives the caller; stopping it is an explicit Stop.
func (r *Runner) Start(configPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningLocked() {
		return errors.New("xray already running")
	}

	cmd := exec.Command(r.executablePath, "run", "-c", configPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	// Closed when this child exits. Closing broadcasts, so Stop and any
	// exit watcher can both observe the same child without racing.
	exited := make(chan struct{})

	r.cmd = cmd
	r.exitCh = exited
	go r.capture(stdout)
	go r.capture(stderr)
	go r.wait(cmd, exited)
	return nil
}

func (r *Runner) capture(reader io.Reader) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		r.logBus.Publish(scanner.Text())
	}
}

func (r *Runner) wait(cmd *exec.Cmd, exited chan struct{}) {
	_ = cmd.Wait()

	r.mu.Lock()
	if r.cmd == cmd {
		r.cmd = nil
	}
	r.mu.Unlock()

	close(exited)
}

// Stop sends SIGTERM, waits up to the grace period, then SIGKILLs.
// Idempotent when nothing is running.
func (r *Runner) Stop() {
	r.mu.Lock()
	cmd := r.cmd
	exited := r.exitCh
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	deadline := time.NewTimer(r.gracePeriod)
	defer deadline.Stop()

	select {
	case <-exited:
	case <-deadline.C:
		_ = cmd.Process.Kill()
		// wait() clears the handle once the kill lands.
		<-exited
	}
}

func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runningLocked()
}

func (r *Runner) Pid() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.runningLocked() {
		return 0
	}
	return r.cmd.Process.Pid
}

func (r *Runner) runningLocked() bool {
	return r.cmd != nil && r.cmd.Process != nil && r.cmd.ProcessState == nil
}

// Logs streams captured engine output, optionally replaying the buffered
// tail first. The subscription ends, and the channel closes, when ctx is
// cancelled.
func (r *Runner) Logs(ctx context.Context, includeBuffer bool) <-chan string {
	out := make(chan string, 256)
	sub := r.logBus.Subscribe()

	go func() {
		defer close(out)
		defer r.logBus.Unsubscribe(sub)

		if includeBuffer {
			for _, line := range r.logBus.Snapshot() {
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-sub:
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
func (r *Runner) RecentLogs() []string {
	return r.logBus.Snapshot()
}

// ExitChannel returns a channel closed when the current child exits.
// Before any start, or after an exit, the returned channel is already
// closed.
func (r *Runner) ExitChannel() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exitCh
}

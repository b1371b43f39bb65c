// Package supervisor runs the chatd worker pool: it spawns one worker
// process per slot, restarts workers that exit unexpectedly under a bounded
// crash-loop policy, and aggregates the coarse counters each worker reports
// over an inherited pipe. Workers share nothing; each owns its port and its
// in-memory routing state.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mohamedkhairy/chatrelay/internal/config"
	"github.com/mohamedkhairy/chatrelay/internal/gateway"
	"github.com/mohamedkhairy/chatrelay/pkg/logger"
)

const (
	// A worker exiting within rapidExitWindow of starting counts toward
	// the crash-loop budget; surviving longer resets it.
	rapidExitWindow  = 5 * time.Second
	maxRapidRestarts = 5
	maxBackoff       = 30 * time.Second
)

// Supervisor owns the worker process pool
type Supervisor struct {
	cfg config.SupervisorConfig
	agg aggregate
}

// New creates a supervisor for the configured pool size
func New(cfg config.SupervisorConfig) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Run spawns the pool and blocks until the context is cancelled and every
// worker has exited (or been killed after the grace period)
func (s *Supervisor) Run(ctx context.Context) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	logger.Info("Starting worker pool",
		logger.Int("workers", s.cfg.Workers),
		logger.Int("base_port", s.cfg.BasePort),
	)

	var wg sync.WaitGroup
	for slot := 0; slot < s.cfg.Workers; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			s.superviseSlot(ctx, executable, slot)
		}(slot)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logTotals(ctx)
	}()

	wg.Wait()
	logger.Info("Worker pool stopped")
	return nil
}

// superviseSlot keeps one worker slot occupied, restarting on unexpected
// exit with capped backoff. A slot that crash-loops is abandoned rather than
// restarted forever.
func (s *Supervisor) superviseSlot(ctx context.Context, executable string, slot int) {
	rapidExits := 0

	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := s.runWorker(ctx, executable, slot)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) < rapidExitWindow {
			rapidExits++
		} else {
			rapidExits = 0
		}
		if rapidExits >= maxRapidRestarts {
			logger.Error("Worker is crash-looping, abandoning slot",
				logger.Int("slot", slot),
				logger.Int("rapid_exits", rapidExits),
			)
			return
		}

		delay := backoff(rapidExits)
		logger.Warn("Worker exited, restarting",
			logger.Int("slot", slot),
			logger.ErrorField(err),
			logger.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runWorker starts one worker process and waits for it to exit. On context
// cancellation the worker gets SIGTERM and, after the grace period, SIGKILL.
func (s *Supervisor) runWorker(ctx context.Context, executable string, slot int) error {
	statsR, statsW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stats pipe: %w", err)
	}
	defer statsR.Close()

	cmd := exec.Command(executable)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CHATD_WORKER=%d", slot),
		fmt.Sprintf("CHATD_PORT=%d", s.cfg.BasePort+slot),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// The write end becomes fd 3 in the child; workers report counters
	// on it as JSON lines.
	cmd.ExtraFiles = []*os.File{statsW}

	if err := cmd.Start(); err != nil {
		statsW.Close()
		return fmt.Errorf("failed to start worker %d: %w", slot, err)
	}
	statsW.Close()

	logger.Info("Worker started",
		logger.Int("slot", slot),
		logger.Int("pid", cmd.Process.Pid),
		logger.Int("port", s.cfg.BasePort+slot),
	)

	go s.agg.consume(slot, statsR)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(s.cfg.ShutdownGrace):
			logger.Warn("Worker did not exit within grace period, killing",
				logger.Int("slot", slot),
				logger.Int("pid", cmd.Process.Pid),
			)
			cmd.Process.Kill()
			<-done
		}
		return nil
	}
}

// logTotals periodically logs the aggregated counters across workers
func (s *Supervisor) logTotals(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			totals := s.agg.totals()
			logger.Info("Pool totals",
				logger.Int64("connections_active", totals.ConnectionsActive),
				logger.Int64("connections_total", totals.ConnectionsTotal),
				logger.Int64("events_in", totals.EventsIn),
				logger.Int64("events_out", totals.EventsOut),
				logger.Int64("errors", totals.Errors),
			)
		}
	}
}

// Totals returns the current aggregated counters across all workers
func (s *Supervisor) Totals() gateway.StatsSnapshot {
	return s.agg.totals()
}

// backoff returns the restart delay for the given consecutive rapid-exit
// count: 1s, 2s, 4s, ... capped at maxBackoff
func backoff(rapidExits int) time.Duration {
	if rapidExits <= 0 {
		return time.Second
	}
	d := time.Second << uint(rapidExits)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

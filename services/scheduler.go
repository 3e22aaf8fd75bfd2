package services

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usach-ambiental/piloto-monitor/models"
)

// CycleRunner is what the scheduler drives once per interval.
type CycleRunner interface {
	Run(ctx context.Context) *models.FetchCycle
}

// Scheduler runs the fetch cycle on a fixed wall-clock interval. Exactly one
// cycle may be in flight at a time: a tick or manual trigger that lands
// while a cycle runs is rejected, never queued, so the archive sees a single
// writer. Cycle results are published on a channel for any listener; the
// scheduler itself holds no cross-cycle state.
type Scheduler struct {
	interval time.Duration
	runner   CycleRunner

	running atomic.Bool
	results chan *models.FetchCycle

	mu      sync.Mutex // guards stopped and the wg.Add in TriggerNow
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(interval time.Duration, runner CycleRunner) *Scheduler {
	return &Scheduler{
		interval: interval,
		runner:   runner,
		results:  make(chan *models.FetchCycle, 8),
	}
}

// Results delivers each closed cycle. Slow consumers drop results rather
// than stalling the pipeline. The channel is closed by Stop once no cycle
// can publish anymore, so range loops over it terminate on shutdown.
func (s *Scheduler) Results() <-chan *models.FetchCycle { return s.results }

// Start launches the background loop: one cycle immediately, then one per
// interval. The loop stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("Scheduler: started, interval %s", s.interval)

		s.runCycle(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Println("Scheduler: stop signal received")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight cycle to finish its
// current file operation, so no orphaned temp files are left behind. Once
// every worker has drained it closes the results channel. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	close(s.results)
	log.Println("Scheduler: stopped")
}

// TriggerNow requests an immediate cycle outside the interval. Returns false
// when a cycle is already in flight or the scheduler has been stopped.
func (s *Scheduler) TriggerNow(ctx context.Context) bool {
	if s.running.Load() {
		return false
	}
	// The Add must not race Stop's Wait: once stopped is set under mu, no
	// new worker may register.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runCycle(ctx)
	}()
	return true
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Println("WARN Scheduler: cycle already in progress, skipping this run")
		return
	}
	defer s.running.Store(false)

	if ctx.Err() != nil {
		return
	}

	cycle := s.runner.Run(ctx)
	if cycle == nil {
		return
	}
	select {
	case s.results <- cycle:
	default:
		log.Printf("WARN Scheduler: results channel full, dropping cycle %s", cycle.ID)
	}
}

// Running reports whether a cycle is currently in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

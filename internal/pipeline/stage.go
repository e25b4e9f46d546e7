package pipeline

import (
	"sync"
	"time"

	"github.com/kvmpipe/kvmpipe/internal/klog"
)

const statsReportInterval = 20 * time.Second

// Stage is a generic worker that owns one goroutine and a bounded job
// queue. Jobs submitted once the queue is at max depth are dropped
// (backpressure policy: drop-newest), matching spec §4.7's
// PipelineNode::Queue / PipelineNode::Loop.
type Stage struct {
	name         string
	maxDepth     int
	log          *klog.Channel

	mu         sync.Mutex
	cond       *sync.Cond
	public     []func()
	inflight   int
	terminated bool
	wg         sync.WaitGroup

	// stats, guarded by mu
	count, dropped           int64
	totalUsec, fastest, slowest int64
	windowStart              time.Time
}

// NewStage creates and starts a stage with the given name (used only for
// logging) and maximum queue depth.
func NewStage(name string, maxDepth int) *Stage {
	s := &Stage{
		name:        name,
		maxDepth:    maxDepth,
		log:         klog.New(name),
		windowStart: time.Now(),
	}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(1)
	go s.loop()
	return s
}

// Enqueue appends job to the stage's queue. Depth counts both queued jobs
// and the job(s) currently being drained by the worker; if that total is
// already at max depth, the job is dropped and an error is logged
// (BackpressureDrop).
func (s *Stage) Enqueue(job func()) {
	s.mu.Lock()
	if len(s.public)+s.inflight >= s.maxDepth {
		s.dropped++
		s.mu.Unlock()
		s.log.Error("%s: fell too far behind, dropping incoming job", s.name)
		return
	}
	s.public = append(s.public, job)
	s.mu.Unlock()
	s.cond.Signal()
}

// DroppedCount returns the number of jobs dropped due to backpressure so
// far (test/introspection hook).
func (s *Stage) DroppedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Shutdown sets the terminated flag, wakes the worker, and waits for it to
// finish the batch it has already taken from the queue and exit. Jobs still
// waiting in the public queue are discarded.
func (s *Stage) Shutdown() {
	s.mu.Lock()
	s.terminated = true
	s.public = nil
	s.mu.Unlock()
	s.cond.Signal()
	s.wg.Wait()
}

func (s *Stage) loop() {
	defer s.wg.Done()

	var private []func()
	for {
		s.mu.Lock()
		for len(s.public) == 0 && !s.terminated {
			s.cond.Wait()
		}
		if s.terminated && len(s.public) == 0 {
			s.mu.Unlock()
			return
		}
		private, s.public = s.public, private[:0]
		s.inflight = len(private)
		s.mu.Unlock()

		for _, job := range private {
			start := time.Now()
			job()
			elapsed := time.Since(start).Microseconds()
			s.recordJob(elapsed)

			s.mu.Lock()
			s.inflight--
			s.mu.Unlock()
		}

		if s.terminated {
			s.mu.Lock()
			done := len(s.public) == 0
			s.mu.Unlock()
			if done {
				return
			}
		}
	}
}

func (s *Stage) recordJob(elapsedUsec int64) {
	s.mu.Lock()
	s.count++
	s.totalUsec += elapsedUsec
	if s.fastest == 0 || elapsedUsec < s.fastest {
		s.fastest = elapsedUsec
	}
	if elapsedUsec > s.slowest {
		s.slowest = elapsedUsec
	}
	due := time.Since(s.windowStart) >= statsReportInterval
	var count, totalUsec, fastest, slowest int64
	if due {
		count, totalUsec, fastest, slowest = s.count, s.totalUsec, s.fastest, s.slowest
		s.count, s.totalUsec, s.fastest, s.slowest = 0, 0, 0, 0
		s.windowStart = time.Now()
	}
	s.mu.Unlock()

	if due && count > 0 {
		s.log.Info("%s: %d jobs, avg %.1fus, fastest %dus, slowest %dus",
			s.name, count, float64(totalUsec)/float64(count), fastest, slowest)
	}
}

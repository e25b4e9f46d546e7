// Package stats implements the rolling-window throughput and compression
// statistics for a VideoPipeline (spec §4.9), grounded on
// kvm_pipeline/src/kvm_pipeline.cpp's PiplineStatistics.
package stats

import (
	"sync"
	"time"

	"github.com/kvmpipe/kvmpipe/internal/klog"
)

var log = klog.New("Statistics")

const (
	reportWindow     = 20 * time.Second
	staleWarnWindow  = 2 * time.Second
	staleOutputAfter = 1 * time.Second
)

// Statistics tracks a rolling window of input and output frame counts and
// byte totals, reporting compression ratio and warning when output frames
// go stale.
type Statistics struct {
	mu sync.Mutex

	windowStart time.Time
	inputFrames, inputBytes   int64
	videoFrames, videoBytes   int64

	lastOutput     time.Time
	lastStaleWarn  time.Time
}

// New returns a Statistics tracker with its window starting now.
func New() *Statistics {
	now := time.Now()
	return &Statistics{windowStart: now, lastOutput: now}
}

// AddInput records one captured frame of the given size.
func (s *Statistics) AddInput(bytes int) {
	s.mu.Lock()
	s.inputFrames++
	s.inputBytes += int64(bytes)
	s.mu.Unlock()
}

// AddVideo records one encoded access unit of the given size.
func (s *Statistics) AddVideo(bytes int) {
	s.mu.Lock()
	s.videoFrames++
	s.videoBytes += int64(bytes)
	s.mu.Unlock()
}

// OnOutputFrame records that a frame was emitted to the application
// callback, resetting the stale-output timer.
func (s *Statistics) OnOutputFrame() {
	s.mu.Lock()
	s.lastOutput = time.Now()
	s.mu.Unlock()
}

// TryReport emits a throughput report if the 20s window has elapsed, and
// independently warns if no output frame has been seen for over a second
// and at least 2s have passed since the last such warning.
func (s *Statistics) TryReport() {
	s.mu.Lock()
	now := time.Now()

	if now.Sub(s.lastOutput) > staleOutputAfter && now.Sub(s.lastStaleWarn) > staleWarnWindow {
		s.lastStaleWarn = now
		stale := now.Sub(s.lastOutput)
		s.mu.Unlock()
		log.Warn("no output frame in %v", stale)
		s.mu.Lock()
	}

	if now.Sub(s.windowStart) < reportWindow {
		s.mu.Unlock()
		return
	}

	inputFrames, inputBytes := s.inputFrames, s.inputBytes
	videoFrames, videoBytes := s.videoFrames, s.videoBytes
	s.inputFrames, s.inputBytes, s.videoFrames, s.videoBytes = 0, 0, 0, 0
	s.windowStart = now
	s.mu.Unlock()

	s.report(inputFrames, inputBytes, videoFrames, videoBytes)
}

func (s *Statistics) report(inputFrames, inputBytes, videoFrames, videoBytes int64) {
	if inputFrames == 0 || videoFrames == 0 {
		return
	}
	avgInputKB := float64(inputBytes) / float64(inputFrames) / 1024
	avgVideoKB := float64(videoBytes) / float64(videoFrames) / 1024
	ratio := 0.0
	if avgVideoKB > 0 {
		ratio = avgInputKB / avgVideoKB
	}
	log.Info("input=%d frames (%.1fKB avg), video=%d frames (%.1fKB avg), ratio=%.2f",
		inputFrames, avgInputKB, videoFrames, avgVideoKB, ratio)
}

// Snapshot is a point-in-time copy of the current window's counters,
// suitable for persistence (internal/statstore).
type Snapshot struct {
	InputFrames, InputBytes int64
	VideoFrames, VideoBytes int64
	Ratio                   float64
}

// Snapshot returns the statistics accumulated in the current (not yet
// reported) window without resetting it.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		InputFrames: s.inputFrames,
		InputBytes:  s.inputBytes,
		VideoFrames: s.videoFrames,
		VideoBytes:  s.videoBytes,
	}
	if s.videoFrames > 0 && s.inputFrames > 0 {
		avgInput := float64(s.inputBytes) / float64(s.inputFrames)
		avgVideo := float64(s.videoBytes) / float64(s.videoFrames)
		if avgVideo > 0 {
			snap.Ratio = avgInput / avgVideo
		}
	}
	return snap
}

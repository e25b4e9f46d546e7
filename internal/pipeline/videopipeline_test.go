package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/kvmpipe/kvmpipe/internal/encoder"
	"github.com/kvmpipe/kvmpipe/internal/frame"
)

// fakeCapture delivers a fixed number of synthetic raw YUV420P frames then
// reports no further activity (never errors), for deterministic tests.
type fakeCapture struct {
	width, height int
	frames        int

	mu      sync.Mutex
	stopped bool
}

func (c *fakeCapture) Start(handler func(CaptureFrame)) error {
	go func() {
		planeSize := c.width * c.height * 3 / 2
		for i := 1; i <= c.frames; i++ {
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			img := make([]byte, planeSize)
			handler(CaptureFrame{
				FrameNumber: uint64(i),
				ShutterUsec: uint64(i) * 33000,
				Image:       img,
				Format:      frame.YUV420P,
				Width:       c.width,
				Height:      c.height,
				Release:     func() {},
			})
		}
	}()
	return nil
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}
func (c *fakeCapture) Shutdown()    {}
func (c *fakeCapture) IsError() bool { return false }

// fakeEncoder emits a minimal Annex-B access unit (SPS+PPS+IDR on the first
// call, IDR-only afterwards) regardless of input, so the pipeline's parse
// and callback-emission path can be exercised without a real codec.
type fakeEncoder struct {
	mu    sync.Mutex
	calls int
}

func (e *fakeEncoder) Configure(encoder.Settings) error { return nil }

func (e *fakeEncoder) Encode(f *frame.Frame, forceKeyframe bool) ([]byte, error) {
	e.mu.Lock()
	e.calls++
	first := e.calls == 1
	e.mu.Unlock()

	var au []byte
	appendNAL := func(payload []byte) {
		au = append(au, 0x00, 0x00, 0x01)
		au = append(au, payload...)
	}
	if first {
		appendNAL([]byte{0x67, 0xAA}) // SPS
		appendNAL([]byte{0x68, 0xBB}) // PPS
	}
	appendNAL([]byte{0x65, 0b1000_0000}) // IDR slice, first_mb_in_slice=0
	return au, nil
}

func (e *fakeEncoder) Shutdown() {}

func TestVideoPipelineEndToEnd(t *testing.T) {
	cap := &fakeCapture{width: 64, height: 32, frames: 3}
	enc := &fakeEncoder{}
	vp := New(cap, enc, encoder.Settings{Kbps: 4000, Framerate: 30, GopSize: 60})

	var mu sync.Mutex
	var got [][]byte
	done := make(chan struct{})

	vp.Initialize(func(frameNumber, shutterUsec uint64, au []byte) {
		mu.Lock()
		got = append(got, append([]byte(nil), au...))
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for 3 emitted access units")
	}

	vp.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("got %d access units, want 3", len(got))
	}
	// first access unit must contain the cached parameter sets prefixed
	// ahead of the IDR slice (keyframe).
	if len(got[0]) < 4 || got[0][3] != 0x67 {
		t.Fatalf("first access unit missing SPS prefix: % x", got[0])
	}
}

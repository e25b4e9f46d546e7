package pipeline

import "github.com/kvmpipe/kvmpipe/internal/frame"

// CaptureFrame is a frame as delivered by the capture driver, not yet
// pool-owned by the decode stage (spec §3 CaptureFrame).
type CaptureFrame struct {
	FrameNumber uint64
	ShutterUsec uint64
	Image       []byte
	Format      frame.PixelFormat
	Width       int
	RowBytes    int
	Height      int

	// Release returns the underlying buffer to the capture driver. Must be
	// called exactly once per frame, after the last holder is done with Image.
	Release func()
}

// Source is the external capture driver contract the pipeline consumes
// (spec §6). Implementations enumerate their own devices and deliver
// frames to Handler on their own goroutine until Stop/Shutdown.
type Source interface {
	Start(handler func(CaptureFrame)) error
	Stop()
	Shutdown()
	IsError() bool
}

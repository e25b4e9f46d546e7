package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/kvmpipe/kvmpipe/internal/frame"
	"github.com/kvmpipe/kvmpipe/internal/klog"
	"github.com/kvmpipe/kvmpipe/internal/pipeline"
)

var log = klog.New("Capture")

// noFrameTimeout is how long the read loop tolerates silence from the
// device before flagging IsError, matching spec.md's ">2s with no frames
// is an error condition".
const noFrameTimeout = 2 * time.Second

// GoCVSource is the reference pipeline.Source backed by gocv's VideoCapture,
// grounded on cvpipe/pipeline.go's raw-frame read loop (bytesToMatBGR /
// gocv.NewMatFromBytes), generalized from a fixed GStreamer pipe to any
// V4L2-style device opened directly through OpenCV.
type GoCVSource struct {
	devices []DeviceConfig

	mu      sync.Mutex
	current *gocv.VideoCapture
	active  DeviceConfig

	handler func(pipeline.CaptureFrame)

	stopCh chan struct{}
	wg     sync.WaitGroup

	errored     atomic.Bool
	frameNumber uint64
}

// NewGoCVSource returns a source that tries each device in order at Start
// time, using the first one that opens successfully.
func NewGoCVSource(devices []DeviceConfig) *GoCVSource {
	if len(devices) == 0 {
		devices = DefaultDevices()
	}
	return &GoCVSource{devices: devices}
}

// Start opens the first usable configured device and begins delivering
// frames to handler on a dedicated goroutine.
func (s *GoCVSource) Start(handler func(pipeline.CaptureFrame)) error {
	var lastErr error
	for _, dc := range s.devices {
		cap, err := gocv.OpenVideoCapture(dc.Path)
		if err != nil {
			lastErr = err
			log.Warn("open %s failed: %v", dc.Path, err)
			continue
		}
		if dc.Width > 0 {
			cap.Set(gocv.VideoCaptureFrameWidth, float64(dc.Width))
		}
		if dc.Height > 0 {
			cap.Set(gocv.VideoCaptureFrameHeight, float64(dc.Height))
		}
		if dc.Framerate > 0 {
			cap.Set(gocv.VideoCaptureFPS, float64(dc.Framerate))
		}

		s.mu.Lock()
		s.current = cap
		s.active = dc
		s.mu.Unlock()

		s.errored.Store(false)
		s.stopCh = make(chan struct{})
		s.handler = handler

		s.wg.Add(1)
		go s.readLoop()
		log.Info("capturing from %s (%dx%d@%d)", dc.Path, dc.Width, dc.Height, dc.Framerate)
		return nil
	}
	return fmt.Errorf("no capture device could be opened: %w", lastErr)
}

func (s *GoCVSource) readLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	cap := s.current
	active := s.active
	s.mu.Unlock()

	mat := gocv.NewMat()
	defer mat.Close()
	rgb := gocv.NewMat()
	defer rgb.Close()

	lastFrame := time.Now()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if !cap.Read(&mat) || mat.Empty() {
			if time.Since(lastFrame) > noFrameTimeout {
				log.Error("no frames from %s in over %v", active.Path, noFrameTimeout)
				s.errored.Store(true)
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		lastFrame = time.Now()

		if err := gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB); err != nil {
			log.Error("color convert failed: %v", err)
			continue
		}

		width := rgb.Cols()
		height := rgb.Rows()
		img := append([]byte(nil), rgb.ToBytes()...)

		s.frameNumber++
		cf := pipeline.CaptureFrame{
			FrameNumber: s.frameNumber,
			ShutterUsec: uint64(time.Now().UnixMicro()),
			Image:       img,
			Format:      frame.RGB24,
			Width:       width,
			RowBytes:    width * 3,
			Height:      height,
			Release:     func() {},
		}
		s.handler(cf)
	}
}

// Stop halts the read loop and releases the open device, without tearing
// down the source for reuse on the next Start.
func (s *GoCVSource) Stop() {
	s.mu.Lock()
	cap := s.current
	s.current = nil
	s.mu.Unlock()

	if s.stopCh != nil {
		close(s.stopCh)
	}
	s.wg.Wait()

	if cap != nil {
		_ = cap.Close()
	}
}

// Shutdown is equivalent to Stop for this source; there is no separate
// long-lived resource beyond the device handle.
func (s *GoCVSource) Shutdown() {
	s.Stop()
}

// IsError reports whether the read loop has gone more than noFrameTimeout
// without a frame.
func (s *GoCVSource) IsError() bool {
	return s.errored.Load()
}

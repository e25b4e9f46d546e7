package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvmpipe/kvmpipe/internal/chroma"
	"github.com/kvmpipe/kvmpipe/internal/encoder"
	"github.com/kvmpipe/kvmpipe/internal/frame"
	"github.com/kvmpipe/kvmpipe/internal/h264"
	"github.com/kvmpipe/kvmpipe/internal/jpegdecode"
	"github.com/kvmpipe/kvmpipe/internal/klog"
	"github.com/kvmpipe/kvmpipe/internal/stats"
)

var plog = klog.New("VideoPipeline")

const stageQueueDepth = 4

// state is the VideoPipeline's supervisor state (spec §4.8).
type state int

const (
	stateStopped state = iota
	stateStarting
	stateRunning
	stateBackoff
	stateShutdown
)

const (
	pollInterval     = 100 * time.Millisecond
	maxBackoffSeconds = 4
)

// Callback is invoked once per emitted picture, carrying the access unit
// (with cached parameter sets prefixed on keyframes).
type Callback func(frameNumber, shutterUsec uint64, accessUnit []byte)

// VideoPipeline owns all stages, the decoder, the encoder, the parser, and
// the cached parameter-set buffer, and drives restart-on-failure (spec
// §4.8), grounded on kvm_pipeline/src/kvm_pipeline.cpp's VideoPipeline.
type VideoPipeline struct {
	capture  Source
	pool     *frame.Pool
	decoder  *jpegdecode.Decoder
	enc      encoder.Encoder
	settings encoder.Settings
	callback Callback
	stats    *stats.Statistics

	decoderStage, encoderStage, appStage *Stage

	mu                  sync.Mutex
	st                  state
	errorState          bool
	terminated          bool
	lastFrameNumber     uint64
	haveLastFrameNumber bool
	videoParameters     []byte
	consecutiveFailures int
	lastBackoff         time.Duration
	supervisorWG        sync.WaitGroup
	parser              *h264.VideoParser
	forceKeyframe       atomic.Bool
}

// New returns a stopped VideoPipeline.
func New(capture Source, enc encoder.Encoder, settings encoder.Settings) *VideoPipeline {
	pool := frame.NewPool()
	return &VideoPipeline{
		capture:  capture,
		pool:     pool,
		decoder:  jpegdecode.NewDecoder(pool),
		enc:      enc,
		settings: settings,
		stats:    stats.New(),
		parser:   h264.NewVideoParser(),
		st:       stateStopped,
	}
}

// Initialize spawns the supervisor goroutine, which immediately enters
// Starting and begins delivering emitted access units to callback.
func (vp *VideoPipeline) Initialize(callback Callback) {
	vp.callback = callback
	vp.supervisorWG.Add(1)
	go vp.supervise()
}

// Stats returns a point-in-time snapshot of the pipeline's current
// (not yet reported) statistics window, for internal/statstore.
func (vp *VideoPipeline) Stats() stats.Snapshot {
	return vp.stats.Snapshot()
}

// RequestKeyframe marks the next encode call to force a keyframe, for a
// relay subscriber's PLI/FIR feedback (internal/relay.KeyframeRequest).
func (vp *VideoPipeline) RequestKeyframe() {
	vp.forceKeyframe.Store(true)
}

// Shutdown stops the supervisor and all stages. Blocks until the
// supervisor goroutine has exited.
func (vp *VideoPipeline) Shutdown() {
	vp.mu.Lock()
	vp.terminated = true
	vp.mu.Unlock()
	vp.supervisorWG.Wait()
}

func (vp *VideoPipeline) supervise() {
	defer vp.supervisorWG.Done()

	for {
		if vp.isTerminated() {
			vp.setState(stateShutdown)
			vp.stop()
			return
		}

		vp.setState(stateStarting)
		if err := vp.start(); err != nil {
			plog.Error("start failed: %v", err)
			vp.backoff(0)
			continue
		}
		vp.setState(stateRunning)
		runStart := time.Now()

		for {
			if vp.isTerminated() {
				vp.stop()
				vp.setState(stateShutdown)
				return
			}
			if vp.hasError() || vp.capture.IsError() {
				vp.stop()
				break
			}
			vp.stats.TryReport()
			sleepInterruptible(pollInterval, vp.isTerminated)
		}
		vp.backoff(time.Since(runStart))
	}
}

func (vp *VideoPipeline) backoff(uptime time.Duration) {
	vp.mu.Lock()
	// A run that survived at least as long as its own backoff window is
	// considered recovered: the failure counter resets so the next
	// failure starts again at a 1s backoff.
	if uptime >= vp.lastBackoff {
		vp.consecutiveFailures = 0
	}
	vp.consecutiveFailures++
	n := vp.consecutiveFailures
	vp.mu.Unlock()

	secs := n
	if secs > maxBackoffSeconds {
		secs = maxBackoffSeconds
	}
	d := time.Duration(secs) * time.Second

	vp.mu.Lock()
	vp.lastBackoff = d
	vp.mu.Unlock()

	vp.setState(stateBackoff)
	plog.Warn("backing off %v after failure #%d", d, n)
	sleepInterruptible(d, vp.isTerminated)
}

// sleepInterruptible sleeps for d in 100ms increments, returning early if
// done reports true.
func sleepInterruptible(d time.Duration, done func() bool) {
	const slice = 100 * time.Millisecond
	for remaining := d; remaining > 0; remaining -= slice {
		if done() {
			return
		}
		s := slice
		if remaining < s {
			s = remaining
		}
		time.Sleep(s)
	}
}

func (vp *VideoPipeline) start() error {
	vp.decoderStage = NewStage("Decoder", stageQueueDepth)
	vp.encoderStage = NewStage("Encoder", stageQueueDepth)
	vp.appStage = NewStage("App", stageQueueDepth)

	if err := vp.enc.Configure(vp.settings); err != nil {
		return &FatalEncodeError{Cause: err}
	}

	vp.mu.Lock()
	vp.errorState = false
	vp.haveLastFrameNumber = false
	vp.mu.Unlock()

	return vp.capture.Start(vp.onCaptureFrame)
}

func (vp *VideoPipeline) stop() {
	vp.capture.Stop()
	vp.enc.Shutdown()
	if vp.decoderStage != nil {
		vp.decoderStage.Shutdown()
	}
	if vp.encoderStage != nil {
		vp.encoderStage.Shutdown()
	}
	if vp.appStage != nil {
		vp.appStage.Shutdown()
	}
}

// onCaptureFrame is invoked by the capture driver on its own goroutine for
// every captured frame (spec §4.8 "per-frame flow").
func (vp *VideoPipeline) onCaptureFrame(cf CaptureFrame) {
	vp.mu.Lock()
	if vp.haveLastFrameNumber && cf.FrameNumber-vp.lastFrameNumber != 1 {
		plog.Warn("frame_number skipped: %d -> %d", vp.lastFrameNumber, cf.FrameNumber)
	}
	vp.lastFrameNumber = cf.FrameNumber
	vp.haveLastFrameNumber = true
	vp.mu.Unlock()

	vp.decoderStage.Enqueue(func() { vp.decodeJob(cf) })
}

func (vp *VideoPipeline) decodeJob(cf CaptureFrame) {
	defer cf.Release()

	vp.stats.AddInput(len(cf.Image))

	f := vp.decodeFrame(cf)
	if f == nil {
		return // TransientDecodeError / ConfigError already logged
	}

	vp.encoderStage.Enqueue(func() { vp.encodeJob(f, cf.FrameNumber, cf.ShutterUsec) })
}

func (vp *VideoPipeline) decodeFrame(cf CaptureFrame) *frame.Frame {
	switch cf.Format {
	case frame.JPEG:
		return vp.decoder.Decompress(cf.Image)
	case frame.YUYV:
		out := vp.pool.Allocate(cf.Width, cf.Height, frame.YUV420P)
		if out == nil {
			return nil
		}
		chroma.YUYVToYUV420(cf.Image, out.Planes[0], out.Planes[1], out.Planes[2], cf.Width, cf.Height, cf.RowBytes)
		return out
	case frame.YUV422P:
		ySize := cf.Width * cf.Height
		cSize := cf.Width * cf.Height / 2
		src422U := cf.Image[ySize : ySize+cSize]
		src422V := cf.Image[ySize+cSize : ySize+2*cSize]

		out := vp.pool.Allocate(cf.Width, cf.Height, frame.YUV420P)
		if out == nil {
			return nil
		}
		copy(out.Planes[0], cf.Image[:ySize])
		chroma.ResampleChromaPlane(src422U, out.Planes[1], cf.Width/2, cf.Height)
		chroma.ResampleChromaPlane(src422V, out.Planes[2], cf.Width/2, cf.Height)
		return out
	case frame.YUV420P, frame.NV12, frame.RGB24:
		out := vp.pool.Allocate(cf.Width, cf.Height, cf.Format)
		if out == nil {
			return nil
		}
		copy(out.Planes[0], cf.Image)
		return out
	default:
		plog.Error("config error: unsupported capture pixel format %v", cf.Format)
		return nil
	}
}

func (vp *VideoPipeline) encodeJob(f *frame.Frame, frameNumber, shutterUsec uint64) {
	forceKeyframe := vp.forceKeyframe.Swap(false)
	bytes, err := vp.enc.Encode(f, forceKeyframe)
	f.Release()

	if err != nil {
		plog.Error("fatal encode error: %v", err)
		vp.mu.Lock()
		vp.errorState = true
		vp.mu.Unlock()
		return
	}
	if len(bytes) == 0 {
		return // TransientEncodeError
	}
	vp.stats.AddVideo(len(bytes))

	vp.parser.Reset()
	vp.parser.ParseVideo(false, bytes)

	if vp.parser.TotalParameterBytes > 0 {
		vp.mu.Lock()
		vp.videoParameters = vp.videoParameters[:0]
		for _, r := range vp.parser.Parameters {
			vp.videoParameters = append(vp.videoParameters, vp.parser.Bytes(r)...)
		}
		vp.mu.Unlock()
	}

	for _, pic := range vp.parser.Pictures {
		au := vp.buildAccessUnit(pic)
		vp.appStage.Enqueue(func() {
			vp.callback(frameNumber, shutterUsec, au)
			vp.stats.OnOutputFrame()
		})
	}
}

func (vp *VideoPipeline) buildAccessUnit(pic h264.Picture) []byte {
	var out []byte
	if pic.Keyframe {
		vp.mu.Lock()
		out = append(out, vp.videoParameters...)
		vp.mu.Unlock()
	}
	for _, r := range pic.Ranges {
		out = append(out, vp.parser.Bytes(r)...)
	}
	return out
}

func (vp *VideoPipeline) isTerminated() bool {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.terminated
}

func (vp *VideoPipeline) hasError() bool {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.errorState
}

func (vp *VideoPipeline) setState(s state) {
	vp.mu.Lock()
	vp.st = s
	vp.mu.Unlock()
}

// State returns the pipeline's current supervisor state (test/introspection hook).
func (vp *VideoPipeline) State() string {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	switch vp.st {
	case stateStopped:
		return "Stopped"
	case stateStarting:
		return "Starting"
	case stateRunning:
		return "Running"
	case stateBackoff:
		return "Backoff"
	case stateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Package frame implements the pool-allocated raw video frame type used
// across the decode/encode pipeline (spec §3, §4.1), grounded on
// kvm_core/include/kvm_frame.hpp and kvm_core/src/kvm_frame.cpp.
package frame

import (
	"sync"

	"github.com/kvmpipe/kvmpipe/internal/klog"
)

var log = klog.New("Frame")

// PixelFormat tags the layout of a Frame's planes.
type PixelFormat int

const (
	Invalid PixelFormat = iota
	JPEG                // compressed
	YUV420P
	YUV422P
	YUYV
	NV12
	RGB24
)

func (f PixelFormat) String() string {
	switch f {
	case JPEG:
		return "JPEG"
	case YUV420P:
		return "YUV420P"
	case YUV422P:
		return "YUV422P"
	case YUYV:
		return "YUYV"
	case NV12:
		return "NV12"
	case RGB24:
		return "RGB24"
	default:
		return "Invalid"
	}
}

// Frame is a pool-allocated raw-pixel buffer. Planes are sub-slices of a
// single owned allocation rather than raw pointers, per the "owned buffer
// plus offset" re-architecture in spec §9. Release returns the frame to the
// Pool it came from rather than freeing it.
type Frame struct {
	Width, Height  int
	Format         PixelFormat
	AllocatedBytes int

	// Planes[0] is Y (or the single packed/RGB plane); Planes[1]/[2] are
	// chroma, nil when unused.
	Planes [3][]byte

	storage []byte
	pool    *Pool
}

// Release returns the frame to the pool that allocated it. Call exactly
// once per allocation; a frame must not be released twice.
func (f *Frame) Release() {
	if f.pool != nil {
		f.pool.release(f)
	}
}

// RoundUp32 rounds x up to the next multiple of 32 (encoder width constraint).
func RoundUp32(x int) int { return (x + 31) &^ 31 }

// RoundUp16 rounds x up to the next multiple of 16 (encoder height constraint).
func RoundUp16(x int) int { return (x + 15) &^ 15 }

// Pool is a free-list of raw frames. Allocate returns the most recently
// released frame (LIFO, cache-warm) ignoring shape; callers that mix shapes
// must keep one Pool per shape rather than expect the pool to key by shape
// itself (spec §9 decision; see DESIGN.md).
type Pool struct {
	mu    sync.Mutex
	freed []*Frame
}

// NewPool returns an empty frame pool.
func NewPool() *Pool {
	return &Pool{}
}

// Allocate returns a Frame of the requested shape, rounded up per the
// encoder's alignment constraints. Reuses a previously released frame
// (LIFO) when one is available; otherwise allocates fresh storage. Returns
// nil and logs if the format is not recognised.
func (p *Pool) Allocate(width, height int, format PixelFormat) *Frame {
	w := RoundUp32(width)
	h := RoundUp16(height)

	if planeBytes(w, h, format) == 0 {
		log.Error("unsupported pixel format %v", format)
		return nil
	}

	p.mu.Lock()
	var f *Frame
	if n := len(p.freed); n > 0 {
		f = p.freed[n-1]
		p.freed = p.freed[:n-1]
	}
	p.mu.Unlock()

	if f == nil {
		f = &Frame{pool: p}
	}
	f.reshape(w, h, format)
	return f
}

// release pushes f onto the free list. O(1).
func (p *Pool) release(f *Frame) {
	p.mu.Lock()
	p.freed = append(p.freed, f)
	p.mu.Unlock()
}

func planeBytes(w, h int, format PixelFormat) int {
	switch format {
	case RGB24:
		return w * h * 3
	case YUV420P:
		return w*h + 2*(w*h/4)
	case YUV422P:
		return w*h + 2*(w*h/2)
	case YUYV:
		return w * h * 2
	case NV12:
		return w*h + w*h/2
	default:
		return 0
	}
}

func (f *Frame) reshape(w, h int, format PixelFormat) {
	f.Width, f.Height, f.Format = w, h, format

	need := planeBytes(w, h, format)
	if need == 0 {
		f.AllocatedBytes = 0
		return
	}
	if cap(f.storage) < need {
		f.storage = make([]byte, need)
	}
	f.storage = f.storage[:need]
	f.AllocatedBytes = need

	switch format {
	case RGB24, YUYV:
		f.Planes[0] = f.storage
		f.Planes[1], f.Planes[2] = nil, nil
	case YUV420P:
		y, c := w*h, w*h/4
		f.Planes[0] = f.storage[:y]
		f.Planes[1] = f.storage[y : y+c]
		f.Planes[2] = f.storage[y+c : y+2*c]
	case YUV422P:
		y, c := w*h, w*h/2
		f.Planes[0] = f.storage[:y]
		f.Planes[1] = f.storage[y : y+c]
		f.Planes[2] = f.storage[y+c : y+2*c]
	case NV12:
		y := w * h
		f.Planes[0] = f.storage[:y]
		f.Planes[1] = f.storage[y : y+w*h/2]
		f.Planes[2] = nil
	}
}

package jpegdecode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/kvmpipe/kvmpipe/internal/frame"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	// Default quality (75) encodes 4:2:0 chroma subsampling in the stdlib
	// encoder, matching the common MJPEG-capture case this decoder targets.
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecompress420(t *testing.T) {
	data := encodeTestJPEG(t, 64, 48)
	pool := frame.NewPool()
	dec := NewDecoder(pool)

	f := dec.Decompress(data)
	if f == nil {
		t.Fatal("Decompress returned nil")
	}
	if f.Format != frame.YUV420P {
		t.Fatalf("Format = %v, want YUV420P", f.Format)
	}
	if len(f.Planes[0]) != f.Width*f.Height {
		t.Fatalf("Y plane size %d != %dx%d", len(f.Planes[0]), f.Width, f.Height)
	}
	dec.Release(f)
}

func TestDecompressMalformed(t *testing.T) {
	pool := frame.NewPool()
	dec := NewDecoder(pool)
	if f := dec.Decompress([]byte{0xFF, 0xD8, 0x00, 0x01}); f != nil {
		t.Fatalf("expected nil for malformed JPEG, got %+v", f)
	}
}

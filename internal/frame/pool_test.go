package frame

import "testing"

func TestRoundUp(t *testing.T) {
	cases := []struct{ in, up32, up16 int }{
		{0, 0, 0},
		{1, 32, 16},
		{32, 32, 32},
		{33, 64, 48},
		{640, 640, 640},
		{480, 480, 480},
	}
	for _, c := range cases {
		if got := RoundUp32(c.in); got != c.up32 {
			t.Errorf("RoundUp32(%d) = %d, want %d", c.in, got, c.up32)
		}
		if got := RoundUp16(c.in); got != c.up16 {
			t.Errorf("RoundUp16(%d) = %d, want %d", c.in, got, c.up16)
		}
	}
}

func TestPoolLIFOReuse(t *testing.T) {
	p := NewPool()
	f1 := p.Allocate(640, 480, YUV420P)
	if f1 == nil {
		t.Fatal("allocate returned nil")
	}
	f1.Planes[0][0] = 0xAB
	p1 := &f1.Planes[0][0]

	f1.Release()

	f2 := p.Allocate(640, 480, YUV420P)
	if f2 != f1 {
		t.Fatalf("release+allocate did not return the same frame object")
	}
	if &f2.Planes[0][0] != p1 {
		t.Fatalf("release+allocate did not return the same underlying buffer")
	}
}

func TestPoolPlaneLayout(t *testing.T) {
	p := NewPool()

	f420 := p.Allocate(64, 32, YUV420P)
	if len(f420.Planes[0]) != 64*32 || len(f420.Planes[1]) != 64*32/4 || len(f420.Planes[2]) != 64*32/4 {
		t.Fatalf("YUV420P plane sizes wrong: %d %d %d", len(f420.Planes[0]), len(f420.Planes[1]), len(f420.Planes[2]))
	}

	f422 := p.Allocate(64, 32, YUV422P)
	if len(f422.Planes[1]) != 64*32/2 || len(f422.Planes[2]) != 64*32/2 {
		t.Fatalf("YUV422P chroma plane sizes wrong: %d %d", len(f422.Planes[1]), len(f422.Planes[2]))
	}

	frgb := p.Allocate(64, 32, RGB24)
	if len(frgb.Planes[0]) != 64*32*3 || frgb.Planes[1] != nil {
		t.Fatalf("RGB24 plane layout wrong")
	}
}

func TestPoolUnsupportedFormat(t *testing.T) {
	p := NewPool()
	if f := p.Allocate(64, 64, Invalid); f != nil {
		t.Fatalf("expected nil for unsupported format, got %+v", f)
	}
	if f := p.Allocate(64, 64, JPEG); f != nil {
		t.Fatalf("expected nil for compressed format, got %+v", f)
	}
}

func TestPoolAllocateRoundsShape(t *testing.T) {
	p := NewPool()
	f := p.Allocate(100, 100, RGB24)
	if f.Width != 128 || f.Height != 112 {
		t.Fatalf("shape not rounded: got %dx%d, want 128x112", f.Width, f.Height)
	}
}

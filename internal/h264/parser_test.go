package h264

import "testing"

func TestForEachNALU(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x01, 0x67, 0xAA, 0xBB,
		0x00, 0x00, 0x01, 0x68, 0xCC,
	}
	var got []string
	n := ForEachNALU(buf, func(off, length int) {
		got = append(got, string(buf[off:off+length]))
	})
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if got[0] != "\x67\xAA\xBB" || got[1] != "\x68\xCC" {
		t.Fatalf("got %q", got)
	}
}

func TestForEachNALUTrimsTrailingZero(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x01, 0x67, 0xAA, 0x00,
		0x00, 0x00, 0x01, 0x68,
	}
	var lengths []int
	ForEachNALU(buf, func(off, length int) { lengths = append(lengths, length) })
	if len(lengths) != 2 || lengths[0] != 2 {
		t.Fatalf("lengths = %v, want [2 1]", lengths)
	}
}

func TestExpGolomb(t *testing.T) {
	// value 0 -> "1"
	br := NewBitReader([]byte{0b1000_0000})
	if v := ReadExpGolomb(br); v != 0 {
		t.Fatalf("got %d, want 0", v)
	}
	// value 1 -> "010"
	br = NewBitReader([]byte{0b0100_0000})
	if v := ReadExpGolomb(br); v != 1 {
		t.Fatalf("got %d, want 1", v)
	}
	// value 4 -> "00101"
	br = NewBitReader([]byte{0b0010_1000})
	if v := ReadExpGolomb(br); v != 4 {
		t.Fatalf("got %d, want 4", v)
	}
}

func sliceNAL(firstMBZero bool, t byte) []byte {
	// header byte (nal_ref_idc=0, type=t), then a slice header whose
	// first_mb_in_slice exp-golomb codes to 0 ("1...") or 1 ("010...").
	if firstMBZero {
		return []byte{t, 0b1000_0000}
	}
	return []byte{t, 0b0100_0000}
}

func TestParserPictureGroupingSpecScenario(t *testing.T) {
	var buf []byte
	appendNAL := func(payload []byte) {
		buf = append(buf, 0x00, 0x00, 0x01)
		buf = append(buf, payload...)
	}
	appendNAL([]byte{0x67, 0xAA}) // SPS
	appendNAL([]byte{0x68, 0xBB}) // PPS
	appendNAL(sliceNAL(true, NALTypeSliceIDR))     // picture 1, slice 1 (keyframe)
	appendNAL(sliceNAL(true, NALTypeSliceNonIDR))  // picture 2, slice 1
	appendNAL(sliceNAL(false, NALTypeSliceNonIDR)) // picture 2, slice 2

	p := NewVideoParser()
	p.ParseVideo(false, buf)

	if len(p.Parameters) != 2 {
		t.Fatalf("Parameters = %d, want 2", len(p.Parameters))
	}
	if len(p.Pictures) != 2 {
		t.Fatalf("Pictures = %d, want 2", len(p.Pictures))
	}
	if !p.Pictures[0].Keyframe || len(p.Pictures[0].Ranges) != 1 {
		t.Fatalf("picture 0 = %+v, want keyframe with 1 range", p.Pictures[0])
	}
	if p.Pictures[1].Keyframe || len(p.Pictures[1].Ranges) != 2 {
		t.Fatalf("picture 1 = %+v, want non-keyframe with 2 ranges", p.Pictures[1])
	}
}

func TestParserRoundTrip(t *testing.T) {
	var buf []byte
	appendNAL := func(payload []byte) {
		buf = append(buf, 0x00, 0x00, 0x01)
		buf = append(buf, payload...)
	}
	appendNAL([]byte{0x67, 0xAA})
	appendNAL([]byte{0x68, 0xBB})
	appendNAL(sliceNAL(true, NALTypeSliceIDR))

	p := NewVideoParser()
	p.ParseVideo(false, buf)

	var reconstructed []byte
	for _, r := range p.Parameters {
		reconstructed = append(reconstructed, p.Bytes(r)...)
	}
	for _, pic := range p.Pictures {
		for _, r := range pic.Ranges {
			reconstructed = append(reconstructed, p.Bytes(r)...)
		}
	}
	if string(reconstructed) != string(buf) {
		t.Fatalf("round trip mismatch:\ngot  %x\nwant %x", reconstructed, buf)
	}
}

func TestParserDropsSliceBeforePicture(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x00, 0x00, 0x01)
	buf = append(buf, sliceNAL(false, NALTypeSliceNonIDR)...) // first_mb_in_slice=1, no picture started

	p := NewVideoParser()
	p.ParseVideo(false, buf)
	if len(p.Pictures) != 0 {
		t.Fatalf("Pictures = %d, want 0", len(p.Pictures))
	}
}

func TestParserDropsUnknownType(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x00, 0x00, 0x01)
	buf = append(buf, 0x0B, 0xAA) // type 11, reserved/unknown

	p := NewVideoParser()
	p.ParseVideo(false, buf)
	if len(p.Pictures) != 0 || len(p.Parameters) != 0 {
		t.Fatalf("expected unknown NAL to be ignored entirely")
	}
}

func TestParserAllNonIDRHasNoKeyframe(t *testing.T) {
	var buf []byte
	appendNAL := func(payload []byte) {
		buf = append(buf, 0x00, 0x00, 0x01)
		buf = append(buf, payload...)
	}
	appendNAL(sliceNAL(true, NALTypeSliceNonIDR))

	p := NewVideoParser()
	p.ParseVideo(false, buf)
	for _, pic := range p.Pictures {
		if pic.Keyframe {
			t.Fatalf("expected no keyframe pictures")
		}
	}
}

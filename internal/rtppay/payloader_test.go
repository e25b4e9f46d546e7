package rtppay

import (
	"bytes"
	"testing"
)

func annexB(nal []byte) []byte {
	return append([]byte{0x00, 0x00, 0x01}, nal...)
}

func TestSingleNALSpecScenario(t *testing.T) {
	// spec.md §8 end-to-end scenario 1.
	nal := []byte{0x67, 0x42, 0x00, 0x1F}
	p := NewWithSSRC(0xDEADBEEF)
	p.SetNextSequence(7)

	var pkts [][]byte
	p.WrapH264(1_000_000, annexB(nal), func(pkt []byte) {
		pkts = append(pkts, append([]byte(nil), pkt...))
	})

	if len(pkts) != 1 {
		t.Fatalf("got %d packets, want 1", len(pkts))
	}
	pkt := pkts[0]
	if len(pkt) != 16 {
		t.Fatalf("len = %d, want 16", len(pkt))
	}
	if !bytes.Equal(pkt[0:4], []byte{0x80, 0x60, 0x00, 0x07}) {
		t.Fatalf("header word0 = % x, want 80 60 00 07", pkt[0:4])
	}
	if !bytes.Equal(pkt[4:8], []byte{0x00, 0x01, 0x5F, 0x90}) {
		t.Fatalf("pts = % x, want 00 01 5F 90", pkt[4:8])
	}
	if !bytes.Equal(pkt[8:12], []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("ssrc = % x, want DE AD BE EF", pkt[8:12])
	}
	if !bytes.Equal(pkt[12:16], nal) {
		t.Fatalf("payload = % x, want %x", pkt[12:16], nal)
	}
}

func TestFUAFragmentationSpecScenario(t *testing.T) {
	// spec.md §8 end-to-end scenario 2.
	nal := make([]byte, 3000)
	nal[0] = 0x65 // IDR, nal_ref_idc=3
	for i := 1; i < len(nal); i++ {
		nal[i] = 0xAA
	}
	p := NewWithSSRC(0x11111111)

	var pkts [][]byte
	p.WrapH264(0, annexB(nal), func(pkt []byte) {
		pkts = append(pkts, append([]byte(nil), pkt...))
	})

	if len(pkts) != 3 {
		t.Fatalf("got %d packets, want 3", len(pkts))
	}
	wantSizes := []int{1200, 1200, 641}
	for i, want := range wantSizes {
		if len(pkts[i]) != want {
			t.Fatalf("packet %d size = %d, want %d", i, len(pkts[i]), want)
		}
	}
	if pkts[0][12] != 0x7C || pkts[0][13] != 0x85 {
		t.Fatalf("first FU bytes = %x %x, want 7C 85", pkts[0][12], pkts[0][13])
	}
	if pkts[2][12] != 0x7C || pkts[2][13] != 0x45 {
		t.Fatalf("last FU bytes = %x %x, want 7C 45", pkts[2][12], pkts[2][13])
	}
	for i, pkt := range pkts {
		marker := pkt[1]&0x80 != 0
		if wantMarker := i == len(pkts)-1; marker != wantMarker {
			t.Fatalf("packet %d marker = %v, want set only on the last fragment of a VCL NAL", i, marker)
		}
	}

	// reconstruct payload (strip 2-byte FU header from each fragment)
	var reconstructed []byte
	reconstructed = append(reconstructed, nal[0]&0x1f|(nal[0]>>5&3)<<5)
	for _, pkt := range pkts {
		reconstructed = append(reconstructed, pkt[14:]...)
	}
	if !bytes.Equal(reconstructed, nal) {
		t.Fatalf("reconstructed payload does not match original NAL")
	}
}

func TestSequenceNumbersConsecutive(t *testing.T) {
	p := New()
	p.SetNextSequence(0xFFFE)
	nal := []byte{0x67, 0x00}

	var seqs []uint16
	for i := 0; i < 4; i++ {
		p.WrapH264(0, annexB(nal), func(pkt []byte) {
			seq := uint16(pkt[2])<<8 | uint16(pkt[3])
			seqs = append(seqs, seq)
		})
	}
	want := []uint16{0xFFFE, 0xFFFF, 0x0000, 0x0001}
	for i, s := range want {
		if seqs[i] != s {
			t.Fatalf("seq[%d] = %x, want %x", i, seqs[i], s)
		}
	}
}

func TestMarkerOnlyOnVCL(t *testing.T) {
	p := New()
	sps := []byte{0x67, 0x42}
	var markers []bool
	p.WrapH264(0, annexB(sps), func(pkt []byte) {
		markers = append(markers, pkt[1]&0x80 != 0)
	})
	if markers[0] {
		t.Fatalf("SPS packet should not have marker set")
	}
}

func TestGenerateSDPEmptyBeforeParams(t *testing.T) {
	p := New()
	if sdp := p.GenerateSDP(); sdp != "" {
		t.Fatalf("expected empty SDP before SPS/PPS observed, got %q", sdp)
	}
}

func TestGenerateSDPAfterParams(t *testing.T) {
	p := New()
	p.WrapH264(0, annexB([]byte{0x67, 0xAA}), func([]byte) {})
	p.WrapH264(0, annexB([]byte{0x68, 0xBB}), func([]byte) {})

	sdp := p.GenerateSDP()
	wantLines := []string{
		"v=0",
		"s=Mountpoint 0",
		"t=0 0",
		"m=video 1 RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=rtpmap:96 H264/90000",
		"a=rtcp-fb:96 nack",
		"a=rtcp-fb:96 nack pli",
		"a=rtcp-fb:96 goog-remb",
		"a=sendonly",
	}
	for _, line := range wantLines {
		if !bytes.Contains([]byte(sdp), []byte(line)) {
			t.Fatalf("SDP missing line %q:\n%s", line, sdp)
		}
	}
}

func TestTriple32Deterministic(t *testing.T) {
	if triple32(0) == triple32(1) {
		t.Fatalf("triple32 should differ for different inputs")
	}
	// same input always produces same output
	if triple32(12345) != triple32(12345) {
		t.Fatalf("triple32 not deterministic")
	}
}

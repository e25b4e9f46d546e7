// Package h264 implements the Annex-B NAL-unit scanner and the VideoParser
// that groups NAL units into parameter sets and pictures (spec §4.5),
// grounded byte-for-byte on kvm_encode/src/kvm_video.cpp's
// EnumerateAnnexBNalus/VideoParser.
package h264

import "github.com/kvmpipe/kvmpipe/internal/klog"

var log = klog.New("VideoParser")

// startCodeLen is the length of the 00 00 01 Annex-B start code.
const startCodeLen = 3

// findStartCode returns the offset of the next 00 00 01 marker in data at
// or after from, or -1 if none is found.
func findStartCode(data []byte, from int) int {
	for i := from; i+3 <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			return i
		}
	}
	return -1
}

// ForEachNALU finds every 00 00 01 start code in buf, trims a trailing 0x00
// byte if present, and invokes fn with (offset, length) of each NAL unit's
// payload -- the 3-byte start code itself is excluded from the reported
// range. Returns the number of NAL units found.
func ForEachNALU(buf []byte, fn func(offset, length int)) int {
	count := 0
	start := findStartCode(buf, 0)
	for start >= 0 {
		naluStart := start + startCodeLen
		next := findStartCode(buf, naluStart)

		var naluEnd int
		if next >= 0 {
			naluEnd = next
		} else {
			naluEnd = len(buf)
		}
		// Trim one trailing zero byte, a side effect of some encoders'
		// start-code emulation prevention.
		if naluEnd > naluStart && buf[naluEnd-1] == 0 {
			naluEnd--
		}
		if naluEnd > naluStart {
			fn(naluStart, naluEnd-naluStart)
			count++
		}
		start = next
	}
	return count
}

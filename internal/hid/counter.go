package hid

// expand32FromTruncated8WithBias recovers a full 32-bit identifier from an
// 8-bit truncated wire value, choosing the candidate nearest to prev+bias
// (mod 256), grounded on kvm_gadget/src/kvm_transport.cpp's
// Counter32::ExpandFromTruncatedWithBias(PrevIdentifier, Counter8(data[0]), -32).
//
// The negative bias widens the acceptance window backward from prev so a
// slightly-reordered report (arriving with an identifier a few counts
// behind the last one seen) still expands to the value the sender intended,
// rather than wrapping forward by 256.
func expand32FromTruncated8WithBias(prev uint32, truncated uint8, bias int32) uint32 {
	base := int64(prev) + int64(bias)
	high := base &^ 0xFF
	candidate := high | int64(truncated)

	if candidate-base > 128 {
		candidate -= 256
	} else if base-candidate > 128 {
		candidate += 256
	}
	if candidate < 0 {
		candidate = int64(truncated)
	}
	return uint32(candidate)
}

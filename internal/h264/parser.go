package h264

import "fmt"

// H.264 NAL unit types (spec §4.5).
const (
	NALTypeSliceNonIDR = 1
	NALTypeSPS         = 7
	NALTypePPS         = 8
	NALTypeSliceIDR    = 5
	NALTypeSEI         = 6
	NALTypeAUD         = 9
)

// HEVC NAL unit types (spec §4.5).
const (
	HEVCSliceRegular = 1
	HEVCSliceIDRW    = 19
	HEVCSliceIDRN    = 20
	HEVCSliceRegAlt  = 21
	HEVCVPS          = 32
	HEVCSPS          = 33
	HEVCPPS          = 34
	HEVCAUD          = 35
	HEVCSEI          = 39
)

// Range is a (offset, length) span into the parser's input buffer.
type Range struct {
	Offset, Length int
}

// Picture is one access unit: one or more slice NAL ranges (including their
// 3-byte start-code prefix), and whether any of its slices was a keyframe.
type Picture struct {
	Keyframe   bool
	Ranges     []Range
	TotalBytes int
}

const maxRangesPerPicture = 64

// VideoParser classifies the NAL units in one encoder output buffer,
// separating parameter sets (SPS/PPS or VPS/SPS/PPS) from picture slices
// and grouping slices into pictures. Grounded on
// kvm_encode/src/kvm_video.cpp's VideoParser.
type VideoParser struct {
	data []byte

	Parameters          []Range
	TotalParameterBytes int

	Pictures          []Picture
	WritePictureIndex int
}

// NewVideoParser returns an empty parser.
func NewVideoParser() *VideoParser {
	p := &VideoParser{}
	p.Reset()
	return p
}

// Reset clears all accumulated state, ready to parse a new buffer.
func (p *VideoParser) Reset() {
	p.data = nil
	p.Parameters = p.Parameters[:0]
	p.TotalParameterBytes = 0
	p.Pictures = p.Pictures[:0]
	p.WritePictureIndex = -1
}

// appendSlice attaches a slice range to the current (or a new) picture. A
// slice delivered before any picture has started (WritePictureIndex < 0) is
// dropped with a warning, never silently misattributed.
func (p *VideoParser) appendSlice(offset, length int, newPicture, keyframe bool) {
	if newPicture {
		p.WritePictureIndex++
	}
	if p.WritePictureIndex < 0 {
		log.Warn("dropping dangling NAL unit from encoder before start of picture")
		return
	}
	for len(p.Pictures) <= p.WritePictureIndex {
		p.Pictures = append(p.Pictures, Picture{})
	}
	pic := &p.Pictures[p.WritePictureIndex]
	if len(pic.Ranges) >= maxRangesPerPicture {
		log.Error("picture range count exceeded %d, dropping slice", maxRangesPerPicture)
		return
	}
	pic.Ranges = append(pic.Ranges, Range{Offset: offset, Length: length})
	pic.TotalBytes += length
	// spec.md's explicit invariant: keyframe is the disjunction of a
	// picture's slices' keyframe markers (not an overwrite, as the
	// original's sibling assignment does -- see DESIGN.md).
	pic.Keyframe = pic.Keyframe || keyframe
}

func (p *VideoParser) appendParameters(offset, length int) {
	p.Parameters = append(p.Parameters, Range{Offset: offset, Length: length})
	p.TotalParameterBytes += length
}

// ParseVideo parses one Annex-B encoded buffer, dispatching each NAL unit
// to the H.264 or HEVC classifier.
func (p *VideoParser) ParseVideo(isHEVC bool, data []byte) {
	p.data = data
	if isHEVC {
		ForEachNALU(data, func(off, length int) { p.parseNALUnitHEVC(data, off, length) })
	} else {
		ForEachNALU(data, func(off, length int) { p.parseNALUnitH264(data, off, length) })
	}
}

// Bytes returns the sub-slice of the parsed buffer addressed by r, including
// any leading 3-byte start code the caller asked for (Parameters/Picture
// ranges already span it).
func (p *VideoParser) Bytes(r Range) []byte {
	return p.data[r.Offset : r.Offset+r.Length]
}

func (p *VideoParser) parseNALUnitH264(data []byte, off, length int) {
	if length < 1 {
		log.Error("encoder produced invalid truncated NALU")
		return
	}
	header := data[off]
	if header&0x80 != 0 {
		log.Error("encoder produced invalid highbit NALU")
		return
	}
	nalType := header & 0x1f

	// Ranges stored include the 3-byte start code prefix, per spec §4.5.
	prefixedOff := off - startCodeLen
	prefixedLen := length + startCodeLen

	switch nalType {
	case NALTypeSPS, NALTypePPS:
		p.appendParameters(prefixedOff, prefixedLen)
	case NALTypeSliceIDR, NALTypeSliceNonIDR:
		keyframe := nalType == NALTypeSliceIDR
		var firstMB uint32
		if length > 1 {
			br := NewBitReader(data[off+1 : off+length])
			firstMB = ReadExpGolomb(br)
		}
		p.appendSlice(prefixedOff, prefixedLen, firstMB == 0, keyframe)
	case NALTypeAUD:
		// dropped
	case NALTypeSEI:
		// Dropped: SEI here is used by the decoder to buffer frames so no
		// I-frames are strictly needed, but parameter sets are already
		// placed in front of real I-frames, so SEI carries no information
		// this parser needs.
	default:
		log.Warn("unhandled AVC NAL unit %d in encoder output ignored", nalType)
	}
}

func (p *VideoParser) parseNALUnitHEVC(data []byte, off, length int) {
	if length < 2 {
		log.Error("encoder produced invalid truncated HEVC NALU")
		return
	}
	header := uint16(data[off])<<8 | uint16(data[off+1])
	if header&0x8000 != 0 {
		log.Error("encoder produced invalid highbit HEVC NALU")
		return
	}
	nalType := (header >> 9) & 0x3f

	prefixedOff := off - startCodeLen
	prefixedLen := length + startCodeLen

	switch nalType {
	case HEVCVPS, HEVCSPS, HEVCPPS:
		p.appendParameters(prefixedOff, prefixedLen)
	case HEVCSliceIDRW, HEVCSliceIDRN, HEVCSliceRegular, HEVCSliceRegAlt:
		keyframe := nalType == HEVCSliceIDRW || nalType == HEVCSliceIDRN
		var firstSlice bool
		if length > 2 {
			br := NewBitReader(data[off+2 : off+length])
			firstSlice = br.ReadBit() != 0
		}
		p.appendSlice(prefixedOff, prefixedLen, firstSlice, keyframe)
	case HEVCAUD:
		// dropped
	case HEVCSEI:
		// dropped
	default:
		log.Warn("unhandled HEVC NAL unit %d in encoder output ignored", nalType)
	}
}

// String renders a range for debugging.
func (r Range) String() string {
	return fmt.Sprintf("[%d:+%d]", r.Offset, r.Length)
}

// Package chroma implements the YUV422->YUV420 and YUYV->YUV420 chroma
// resampling used to feed a 4:2:0-only encoder from 4:2:2 capture sources
// (spec §4.2). The original's Convert_JPEG_YUV422_To_BT709_YUV420 (see
// kvm_convert/src/kvm_convert.cpp) is an unfinished stub ("// FIXME") with
// no working reference implementation, so this port follows spec.md's
// explicit averaging algorithm directly rather than porting broken C++.
package chroma

// ResampleChromaPlane downsamples a single 4:2:2 chroma plane (U or V) to
// 4:2:0 by averaging vertically-adjacent pixel pairs, rounding half-up:
// out[x,y] = (src[x,2y] + src[x,2y+1] + 1) >> 1. src has width*height
// bytes (stride == width); dst has width*(height/2) bytes.
func ResampleChromaPlane(src, dst []byte, width, height int) {
	outH := height / 2
	for y := 0; y < outH; y++ {
		srcRow0 := src[(2*y)*width : (2*y)*width+width]
		srcRow1 := src[(2*y+1)*width : (2*y+1)*width+width]
		dstRow := dst[y*width : y*width+width]
		for x := 0; x < width; x++ {
			dstRow[x] = byte((uint16(srcRow0[x]) + uint16(srcRow1[x]) + 1) >> 1)
		}
	}
}

// YUYVToYUV420 unpacks a packed 4:2:2 YUYV plane into planar 4:2:0 Y/U/V.
// srcRowBytes is the YUYV row stride in bytes (>= width*2). For each 2x2
// luma block the four Y samples are copied directly; chroma is the average
// of the even and odd row's Cb/Cr samples for that column pair.
func YUYVToYUV420(src []byte, dstY, dstU, dstV []byte, width, height, srcRowBytes int) {
	for y := 0; y < height; y += 2 {
		row0 := src[y*srcRowBytes:]
		row1 := src[(y+1)*srcRowBytes:]

		for x := 0; x < width; x += 2 {
			i := x * 2 // Y0 Cb Y1 Cr per 2-pixel group

			dstY[y*width+x] = row0[i]
			dstY[y*width+x+1] = row0[i+2]
			dstY[(y+1)*width+x] = row1[i]
			dstY[(y+1)*width+x+1] = row1[i+2]

			cb := (uint16(row0[i+1]) + uint16(row1[i+1]) + 1) >> 1
			cr := (uint16(row0[i+3]) + uint16(row1[i+3]) + 1) >> 1

			chromaIdx := (y/2)*(width/2) + x/2
			dstU[chromaIdx] = byte(cb)
			dstV[chromaIdx] = byte(cr)
		}
	}
}

// Package decode splits the interleaved vendor raw stream into the
// base/compare/disparity planes. It is a pure CPU stage with no worker of
// its own; callers run it on whichever thread owns the frame.
//
// Raw layout, per grab mode, with stride factor s from the model table
// (the 4K heads pack two bytes per pixel column, VM and XC one; pixels sit
// at offset x*s within a row):
//
//	parallax:        per row: base[s*W] | disparity-integer[s*W] | disparity-fraction[s*W]
//	corrected,
//	before-correct,
//	bayer-s0/s1:     per row: base[s*W] | compare[s*W]
//
// When color delivery is on, a full BGR plane (W*H*3, unstrided) follows
// the interleaved rows.
package decode

import (
	"fmt"

	"iscpipe/camera"
	"iscpipe/dplerr"
	"iscpipe/frame"
)

// planeCount returns how many stride-scaled planes the grab mode carries.
func planeCount(g camera.GrabMode) int {
	if g == camera.GrabParallax {
		return 3
	}
	return 2
}

// RawSize returns the exact payload size for a frame of w x h in the given
// mode on a model with raw stride factor s.
func RawSize(g camera.GrabMode, c camera.ColorMode, s, w, h int) int {
	n := planeCount(g) * s * w * h
	if c == camera.ColorOn && g != camera.GrabBeforeCorrect {
		n += w * h * 3
	}
	return n
}

// Decode unpacks d.Raw into d's image planes in place. The frame's grab
// and color modes select the layout; t supplies the stride factor. A size
// mismatch fails with ErrDecodeMismatch and leaves the output planes
// untouched.
func Decode(d *frame.Data, t *camera.ModelTable) error {
	w, h := d.Raw.Width, d.Raw.Height
	s := t.RawStrideFactor
	if w <= 0 || h <= 0 {
		return fmt.Errorf("decode: empty raw frame: %w", dplerr.ErrDecodeMismatch)
	}
	want := RawSize(d.Grab, d.ColorMode, s, w, h)
	if len(d.Raw.Buf) != want {
		return fmt.Errorf("decode: raw %d bytes, want %d for %v %dx%d: %w",
			len(d.Raw.Buf), want, d.Grab, w, h, dplerr.ErrDecodeMismatch)
	}

	raw := d.Raw.Buf
	planes := planeCount(d.Grab)
	rowBytes := s * w

	d.P1.Resize(w, h, 1)
	d.P2.Resize(w, h, 1)
	if d.Grab == camera.GrabParallax {
		d.Depth.Resize(w, h)
	} else {
		d.Depth.Clear()
	}

	for y := 0; y < h; y++ {
		row := raw[y*planes*rowBytes:]
		base := row[:rowBytes]
		second := row[rowBytes : 2*rowBytes]
		p1 := d.P1.Buf[y*w : (y+1)*w]
		p2 := d.P2.Buf[y*w : (y+1)*w]
		if s == 1 {
			copy(p1, base)
			copy(p2, second)
		} else {
			for x := 0; x < w; x++ {
				p1[x] = base[x*s]
				p2[x] = second[x*s]
			}
		}
		if d.Grab == camera.GrabParallax {
			frac := row[2*rowBytes : 3*rowBytes]
			depth := d.Depth.Buf[y*w : (y+1)*w]
			for x := 0; x < w; x++ {
				ip := second[x*s]
				if ip == 0 {
					depth[x] = 0
					continue
				}
				depth[x] = float32(ip) + float32(frac[x*s])/256
			}
		}
	}

	if d.ColorMode == camera.ColorOn && d.Grab != camera.GrabBeforeCorrect {
		colorOff := planes * rowBytes * h
		d.Color.Resize(w, h, 3)
		copy(d.Color.Buf, raw[colorOff:colorOff+w*h*3])
	} else {
		d.Color.Clear()
	}
	return nil
}

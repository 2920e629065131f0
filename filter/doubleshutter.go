package filter

import (
	"iscpipe/frame"
)

// MergeDouble composes two consecutive double-shutter exposures into out.
// cur is the newest frame, prev the one before it. Per pixel the exposure
// whose base luminance lies within the configured bounds wins; when both
// qualify the longer exposure is preferred for its lower noise, and when
// neither does the pixel emits no measurement. The same selection drives
// the merged base image.
//
// Returns false without touching out when prev is empty or the geometries
// disagree — a skipped tick, not an error.
func (f *Filter) MergeDouble(cur, prev, out *frame.Data) bool {
	if cur == nil || prev == nil || !cur.Valid || !prev.Valid {
		return false
	}
	if cur.P1.Empty() || prev.P1.Empty() {
		return false
	}
	w, h := cur.P1.Width, cur.P1.Height
	if prev.P1.Width != w || prev.P1.Height != h {
		return false
	}

	long, short := cur, prev
	if prev.Exposure > cur.Exposure {
		long, short = prev, cur
	}

	out.Reset()
	out.Valid = true
	out.Number = cur.Number
	out.Timestamp = cur.Timestamp
	out.Gain = long.Gain
	out.Exposure = long.Exposure
	out.Grab = cur.Grab
	out.Shutter = cur.Shutter
	out.ColorMode = cur.ColorMode

	out.P1.Resize(w, h, 1)
	haveDepth := !long.Depth.Empty() && !short.Depth.Empty()
	if haveDepth {
		out.Depth.Resize(w, h)
	}
	if !long.P2.Empty() {
		out.P2.Resize(long.P2.Width, long.P2.Height, 1)
		copy(out.P2.Buf, long.P2.Buf)
	}

	lo := byte(f.params.MergeLowThreshold)
	hi := byte(f.params.MergeHighThreshold)
	for i := 0; i < w*h; i++ {
		lv, sv := long.P1.Buf[i], short.P1.Buf[i]
		longOK := lv >= lo && lv <= hi
		shortOK := sv >= lo && sv <= hi
		switch {
		case longOK:
			out.P1.Buf[i] = lv
			if haveDepth {
				out.Depth.Buf[i] = long.Depth.Buf[i]
			}
		case shortOK:
			out.P1.Buf[i] = sv
			if haveDepth {
				out.Depth.Buf[i] = short.Depth.Buf[i]
			}
		default:
			out.P1.Buf[i] = lv
			if haveDepth {
				out.Depth.Buf[i] = 0
			}
		}
	}
	return true
}

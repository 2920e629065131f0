package pipeline

import (
	"fmt"
	"math"
	"sort"

	"iscpipe/dplerr"
	"iscpipe/frame"
)

// Rect is an inclusive pixel rectangle for area queries.
type Rect struct {
	X0, Y0 int
	X1, Y1 int
}

// AreaStatistics summarizes the valid measurements inside a rectangle.
type AreaStatistics struct {
	Count int

	MinDisparity    float64
	MaxDisparity    float64
	MeanDisparity   float64
	MedianDisparity float64

	MinDistance    float64
	MaxDistance    float64
	MeanDistance   float64
	MedianDistance float64

	// 3D bounding extent of the valid subset, camera coordinates, metres.
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// depthAt fetches the disparity at (x,y) in the selected slot, bounds
// checked against the slot's depth plane.
func (c *Controller) depthAt(fs *frame.Set, slot frame.Slot, x, y int) (float32, int, int, error) {
	d := fs.At(slot)
	if d == nil || !d.Valid {
		return 0, 0, 0, fmt.Errorf("pipeline: slot %v empty: %w", slot, dplerr.ErrOutOfRange)
	}
	if d.Depth.Empty() {
		return 0, 0, 0, fmt.Errorf("pipeline: slot %v has no disparity plane: %w", slot, dplerr.ErrOutOfRange)
	}
	w, h := d.Depth.Width, d.Depth.Height
	if x < 0 || y < 0 || x >= w || y >= h {
		return 0, 0, 0, fmt.Errorf("pipeline: (%d,%d) outside %dx%d: %w", x, y, w, h, dplerr.ErrOutOfRange)
	}
	return d.Depth.Buf[y*w+x], w, h, nil
}

// GetPositionDepth samples the selected FrameSet slot at integer pixel
// coordinates and reports the disparity and the metric distance along the
// baseline. A pixel at or below the infinity disparity is no measurement
// and returns OutOfRange.
func (c *Controller) GetPositionDepth(x, y int, fs *frame.Set, slot frame.Slot) (disparity, distance float64, err error) {
	d, _, _, err := c.depthAt(fs, slot, x, y)
	if err != nil {
		return 0, 0, err
	}
	spec := c.Spec()
	if d <= spec.DInf {
		return 0, 0, fmt.Errorf("pipeline: no measurement at (%d,%d): %w", x, y, dplerr.ErrOutOfRange)
	}
	disparity = float64(d)
	distance = float64(spec.BF) / (disparity - float64(spec.DInf))
	return disparity, distance, nil
}

// GetPosition3D projects the pixel to camera-space metric coordinates:
// Z along the optical axis, X right, Y down, using f = bf/b.
func (c *Controller) GetPosition3D(x, y int, fs *frame.Set, slot frame.Slot) (X, Y, Z float64, err error) {
	d, w, h, err := c.depthAt(fs, slot, x, y)
	if err != nil {
		return 0, 0, 0, err
	}
	spec := c.Spec()
	if d <= spec.DInf {
		return 0, 0, 0, fmt.Errorf("pipeline: no measurement at (%d,%d): %w", x, y, dplerr.ErrOutOfRange)
	}
	f := float64(spec.FocalLength())
	if f == 0 {
		return 0, 0, 0, fmt.Errorf("pipeline: camera spec has no focal length: %w", dplerr.ErrOutOfRange)
	}
	Z = float64(spec.BF) / (float64(d) - float64(spec.DInf))
	X = (float64(x) - float64(w)/2) * Z / f
	Y = (float64(y) - float64(h)/2) * Z / f
	return X, Y, Z, nil
}

// GetAreaStatistics computes count, min/max/mean/median of disparity and
// distance, and the 3D bounding extent over the valid pixels inside rect.
// A rectangle that leaves the image fails with OutOfRange; a rectangle
// with no valid pixels returns Count 0.
func (c *Controller) GetAreaStatistics(r Rect, fs *frame.Set, slot frame.Slot) (AreaStatistics, error) {
	d := fs.At(slot)
	if d == nil || !d.Valid || d.Depth.Empty() {
		return AreaStatistics{}, fmt.Errorf("pipeline: slot %v has no disparity plane: %w", slot, dplerr.ErrOutOfRange)
	}
	w, h := d.Depth.Width, d.Depth.Height
	if r.X0 < 0 || r.Y0 < 0 || r.X1 >= w || r.Y1 >= h || r.X0 > r.X1 || r.Y0 > r.Y1 {
		return AreaStatistics{}, fmt.Errorf("pipeline: rect (%d,%d)-(%d,%d) outside %dx%d: %w",
			r.X0, r.Y0, r.X1, r.Y1, w, h, dplerr.ErrOutOfRange)
	}

	spec := c.Spec()
	dinf := float64(spec.DInf)
	bf := float64(spec.BF)
	f := float64(spec.FocalLength())

	stats := AreaStatistics{
		MinDisparity: math.Inf(1), MaxDisparity: math.Inf(-1),
		MinDistance: math.Inf(1), MaxDistance: math.Inf(-1),
		MinX: math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
		MinZ: math.Inf(1), MaxZ: math.Inf(-1),
	}
	var disps, dists []float64
	var sumDisp, sumDist float64

	for y := r.Y0; y <= r.Y1; y++ {
		row := d.Depth.Buf[y*w : (y+1)*w]
		for x := r.X0; x <= r.X1; x++ {
			dv := float64(row[x])
			if dv <= dinf {
				continue
			}
			z := bf / (dv - dinf)
			stats.Count++
			disps = append(disps, dv)
			dists = append(dists, z)
			sumDisp += dv
			sumDist += z
			stats.MinDisparity = math.Min(stats.MinDisparity, dv)
			stats.MaxDisparity = math.Max(stats.MaxDisparity, dv)
			stats.MinDistance = math.Min(stats.MinDistance, z)
			stats.MaxDistance = math.Max(stats.MaxDistance, z)
			if f > 0 {
				px := (float64(x) - float64(w)/2) * z / f
				py := (float64(y) - float64(h)/2) * z / f
				stats.MinX = math.Min(stats.MinX, px)
				stats.MaxX = math.Max(stats.MaxX, px)
				stats.MinY = math.Min(stats.MinY, py)
				stats.MaxY = math.Max(stats.MaxY, py)
			}
			stats.MinZ = math.Min(stats.MinZ, z)
			stats.MaxZ = math.Max(stats.MaxZ, z)
		}
	}

	if stats.Count == 0 {
		return AreaStatistics{}, nil
	}
	stats.MeanDisparity = sumDisp / float64(stats.Count)
	stats.MeanDistance = sumDist / float64(stats.Count)
	sort.Float64s(disps)
	sort.Float64s(dists)
	stats.MedianDisparity = disps[len(disps)/2]
	stats.MedianDistance = dists[len(dists)/2]
	return stats, nil
}

// Package filter post-processes disparity planes: speckle removal, edge
// median smoothing and epipolar hole fill in fixed order, plus the
// double-shutter composition of two consecutive exposures.
package filter

import (
	"fmt"
	"sort"

	"iscpipe/dplerr"
)

// speckleMaxDiff is the disparity step tolerated inside one connected
// component.
const speckleMaxDiff = 1.0

// Params configures the single-frame passes and the merge thresholds.
// Each pass has its own enable flag; the pass order is fixed.
type Params struct {
	SpeckleEnabled   bool
	MinComponentArea int

	SmoothEnabled bool
	// FilterWindow is the median kernel size; odd, 3..9.
	FilterWindow int

	HoleFillEnabled bool
	HoleFillMaxGap  int

	// Merge luminance bounds for double-shutter composition. A pixel's
	// exposure qualifies when its base luminance lies inside
	// [MergeLowThreshold, MergeHighThreshold].
	MergeLowThreshold  int
	MergeHighThreshold int
}

// DefaultParams mirror the compiled defaults in the parameter file. The
// merge thresholds are provisional; the vendor defaults are undocumented.
func DefaultParams() Params {
	return Params{
		SpeckleEnabled:     true,
		MinComponentArea:   40,
		SmoothEnabled:      true,
		FilterWindow:       3,
		HoleFillEnabled:    true,
		HoleFillMaxGap:     4,
		MergeLowThreshold:  10,
		MergeHighThreshold: 235,
	}
}

// Validate checks p's domain.
func (p Params) Validate() error {
	if p.MinComponentArea < 0 {
		return fmt.Errorf("filter: min_component_area %d: %w", p.MinComponentArea, dplerr.ErrInvalidParameter)
	}
	if p.SmoothEnabled && (p.FilterWindow < 3 || p.FilterWindow > 9 || p.FilterWindow%2 == 0) {
		return fmt.Errorf("filter: filter_window %d (odd, 3..9): %w", p.FilterWindow, dplerr.ErrInvalidParameter)
	}
	if p.HoleFillMaxGap < 0 {
		return fmt.Errorf("filter: hole_fill_max_gap %d: %w", p.HoleFillMaxGap, dplerr.ErrInvalidParameter)
	}
	if p.MergeLowThreshold < 0 || p.MergeHighThreshold > 255 || p.MergeLowThreshold > p.MergeHighThreshold {
		return fmt.Errorf("filter: merge thresholds [%d,%d]: %w", p.MergeLowThreshold, p.MergeHighThreshold, dplerr.ErrInvalidParameter)
	}
	return nil
}

// Filter applies the refinement passes. Scratch buffers are reused across
// frames; a Filter serves one processing goroutine.
type Filter struct {
	params Params

	w, h   int
	labels []int32
	area   []int32
	stack  []int32
	tmp    []float32
	window []float32
}

// New returns a filter with default parameters.
func New() *Filter {
	return &Filter{params: DefaultParams()}
}

// SetParams validates and installs p.
func (f *Filter) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	f.params = p
	return nil
}

// Params returns the current parameter set.
func (f *Filter) Params() Params { return f.params }

func (f *Filter) resize(w, h int) {
	if f.w == w && f.h == h {
		return
	}
	f.w, f.h = w, h
	n := w * h
	f.labels = make([]int32, n)
	f.tmp = make([]float32, n)
}

// Apply runs the enabled passes over depth in place, in the fixed order
// speckle → smoothing → hole fill. Zero pixels are "no measurement" and
// are never smoothed into neighbours.
func (f *Filter) Apply(depth []float32, w, h int) {
	f.resize(w, h)
	if f.params.SpeckleEnabled && f.params.MinComponentArea > 0 {
		f.removeSpeckles(depth, w, h)
	}
	if f.params.SmoothEnabled {
		f.median(depth, w, h)
	}
	if f.params.HoleFillEnabled && f.params.HoleFillMaxGap > 0 {
		f.fillHoles(depth, w, h)
	}
}

// removeSpeckles labels 4-connected components of valid pixels whose
// neighbouring disparities differ by at most speckleMaxDiff, then zeroes
// components smaller than MinComponentArea.
func (f *Filter) removeSpeckles(depth []float32, w, h int) {
	for i := range f.labels {
		f.labels[i] = 0
	}
	f.area = f.area[:0]
	f.area = append(f.area, 0) // label 0 unused

	next := int32(1)
	for start := range depth {
		if depth[start] == 0 || f.labels[start] != 0 {
			continue
		}
		label := next
		next++
		var area int32
		f.stack = f.stack[:0]
		f.stack = append(f.stack, int32(start))
		f.labels[start] = label
		for len(f.stack) > 0 {
			i := int(f.stack[len(f.stack)-1])
			f.stack = f.stack[:len(f.stack)-1]
			area++
			x := i % w
			for _, n := range [4]int{i - 1, i + 1, i - w, i + w} {
				switch {
				case n == i-1 && x == 0, n == i+1 && x == w-1:
					continue
				case n < 0 || n >= w*h:
					continue
				}
				if depth[n] == 0 || f.labels[n] != 0 {
					continue
				}
				diff := depth[i] - depth[n]
				if diff < 0 {
					diff = -diff
				}
				if diff > speckleMaxDiff {
					continue
				}
				f.labels[n] = label
				f.stack = append(f.stack, int32(n))
			}
		}
		f.area = append(f.area, area)
	}

	min := int32(f.params.MinComponentArea)
	for i, l := range f.labels {
		if l != 0 && f.area[l] < min {
			depth[i] = 0
		}
	}
}

// median replaces each valid pixel with the median of the valid pixels in
// its FilterWindow neighbourhood. Invalid pixels stay invalid.
func (f *Filter) median(depth []float32, w, h int) {
	half := f.params.FilterWindow / 2
	copy(f.tmp, depth)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if f.tmp[i] == 0 {
				depth[i] = 0
				continue
			}
			f.window = f.window[:0]
			for j := -half; j <= half; j++ {
				yy := y + j
				if yy < 0 || yy >= h {
					continue
				}
				for k := -half; k <= half; k++ {
					xx := x + k
					if xx < 0 || xx >= w {
						continue
					}
					if v := f.tmp[yy*w+xx]; v != 0 {
						f.window = append(f.window, v)
					}
				}
			}
			if len(f.window) == 0 {
				continue
			}
			sort.Sort(float32Slice(f.window))
			depth[i] = f.window[len(f.window)/2]
		}
	}
}

// fillHoles interpolates runs of invalid pixels along each row when the
// run is bounded by valid pixels on both sides and no longer than
// HoleFillMaxGap.
func (f *Filter) fillHoles(depth []float32, w, h int) {
	maxGap := f.params.HoleFillMaxGap
	for y := 0; y < h; y++ {
		row := depth[y*w : (y+1)*w]
		x := 0
		for x < w {
			if row[x] != 0 {
				x++
				continue
			}
			start := x
			for x < w && row[x] == 0 {
				x++
			}
			gap := x - start
			if start == 0 || x == w || gap > maxGap {
				continue
			}
			left, right := row[start-1], row[x]
			step := (right - left) / float32(gap+1)
			for k := 0; k < gap; k++ {
				row[start+k] = left + step*float32(k+1)
			}
		}
	}
}

type float32Slice []float32

func (s float32Slice) Len() int           { return len(s) }
func (s float32Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s float32Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

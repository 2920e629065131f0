// Package matcher is the software block-matching stereo engine. It turns a
// rectified pair into a disparity plane on the caller's goroutine; the
// pipeline runs it on the processor worker.
package matcher

import (
	"fmt"
	"sync"

	"iscpipe/dplerr"
)

// Metric selects the block similarity measure.
type Metric int

const (
	SAD Metric = iota
	SSD
)

func (m Metric) String() string {
	if m == SSD {
		return "ssd"
	}
	return "sad"
}

// Window bounds accepted by SetParams.
const (
	MinWindow = 3
	MaxWindow = 31
)

// cancelRows is how often the row loops check the stop flag.
const cancelRows = 16

// Params is the matcher configuration. Validation happens at set time,
// never mid-frame.
type Params struct {
	// Window is the block size; odd, MinWindow..MaxWindow.
	Window int
	// Range is the disparity search range D; candidates are [0, D).
	Range int
	// Metric is SAD or SSD.
	Metric Metric
	// MaxCost rejects matches whose mean per-pixel cost exceeds it; for
	// SSD the per-pixel bound is MaxCost squared. Zero disables the
	// threshold.
	MaxCost int
	// UniquenessRatio (percent) rejects a match unless
	// best*(100+ratio) <= second*100. Zero disables the check.
	UniquenessRatio int
	// LRCheck enables the left-right consistency pass.
	LRCheck bool
	// LRMaxDiff is the tolerated disparity difference in the LR check.
	LRMaxDiff int
	// Subpixel enables parabolic refinement around the best candidate
	// (the extended_matching option).
	Subpixel bool
}

// DefaultParams mirror the compiled defaults in the parameter file.
func DefaultParams() Params {
	return Params{
		Window:          9,
		Range:           128,
		Metric:          SAD,
		MaxCost:         48,
		UniquenessRatio: 10,
		LRCheck:         true,
		LRMaxDiff:       1,
		Subpixel:        true,
	}
}

// Validate checks p's domain.
func (p Params) Validate() error {
	if p.Window < MinWindow || p.Window > MaxWindow || p.Window%2 == 0 {
		return fmt.Errorf("matcher: window %d (odd, %d..%d): %w", p.Window, MinWindow, MaxWindow, dplerr.ErrInvalidParameter)
	}
	if p.Range <= 0 || p.Range > 256 {
		return fmt.Errorf("matcher: range %d (1..256): %w", p.Range, dplerr.ErrInvalidParameter)
	}
	if p.Metric != SAD && p.Metric != SSD {
		return fmt.Errorf("matcher: metric %d: %w", int(p.Metric), dplerr.ErrInvalidParameter)
	}
	if p.MaxCost < 0 || p.UniquenessRatio < 0 || p.LRMaxDiff < 0 {
		return fmt.Errorf("matcher: negative threshold: %w", dplerr.ErrInvalidParameter)
	}
	return nil
}

// Matcher holds validated parameters and scratch buffers sized lazily to
// the session's image geometry. Not safe for concurrent Compute calls;
// SetParams may race only with the gaps between frames, which the
// pipeline guarantees.
type Matcher struct {
	mu     sync.Mutex
	params Params

	// scratch, reused across frames
	w, h    int
	absdiff []int32
	hsum    []int32
	cost    []int32
	best    []int32
	second  []int32
	bestD   []int32
	rdisp   []int32
	rbest   []int32
}

// New returns a matcher with the default parameters.
func New() *Matcher {
	return &Matcher{params: DefaultParams()}
}

// SetParams validates and installs p.
func (m *Matcher) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.params = p
	m.mu.Unlock()
	return nil
}

// Params returns the current parameter set.
func (m *Matcher) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

func (m *Matcher) resize(w, h int) {
	if m.w == w && m.h == h {
		return
	}
	n := w * h
	m.w, m.h = w, h
	m.absdiff = make([]int32, n)
	m.hsum = make([]int32, n)
	m.cost = make([]int32, n)
	m.best = make([]int32, n)
	m.second = make([]int32, n)
	m.bestD = make([]int32, n)
	m.rdisp = make([]int32, n)
	m.rbest = make([]int32, n)
}

// Compute matches base against compare and writes float disparities into
// out (length w*h). Rejected and out-of-band pixels emit 0. stop is polled
// at chunk boundaries; a cancelled run returns false with out undefined.
func (m *Matcher) Compute(base, compare []byte, w, h int, out []float32, stop func() bool) bool {
	m.mu.Lock()
	p := m.params
	m.mu.Unlock()

	m.resize(w, h)

	if !m.matchPass(base, compare, w, h, p, false, m.bestD, m.best, m.second, stop) {
		return false
	}
	if p.LRCheck {
		if !m.matchPass(compare, base, w, h, p, true, m.rdisp, m.rbest, nil, stop) {
			return false
		}
	}

	half := p.Window / 2
	border := half + p.Range
	maxCost := int64(p.MaxCost) * int64(p.Window) * int64(p.Window)
	if p.Metric == SSD {
		maxCost = int64(p.MaxCost) * int64(p.MaxCost) * int64(p.Window) * int64(p.Window)
	}

	for y := 0; y < h; y++ {
		if y%cancelRows == 0 && stop != nil && stop() {
			return false
		}
		for x := 0; x < w; x++ {
			i := y*w + x
			out[i] = 0
			if y < half || y >= h-half || x < border || x >= w-half {
				continue
			}
			d := m.bestD[i]
			if d < 0 {
				continue
			}
			bc := m.best[i]
			if p.MaxCost > 0 && int64(bc) > maxCost {
				continue
			}
			if p.UniquenessRatio > 0 && m.second[i] >= 0 {
				if int64(bc)*int64(100+p.UniquenessRatio) > int64(m.second[i])*100 {
					continue
				}
			}
			if p.LRCheck {
				rx := x - int(d)
				if rx < 0 {
					continue
				}
				rd := m.rdisp[y*w+rx]
				if rd < 0 || abs32(rd-d) > int32(p.LRMaxDiff) {
					continue
				}
			}
			disp := float32(d)
			if p.Subpixel && d > 0 && int(d) < p.Range-1 {
				disp += m.subpixel(base, compare, x, y, int(d), p)
			}
			out[i] = disp
		}
	}
	return true
}

// matchPass runs winner-take-all block matching. With rightToLeft the
// roles swap: ref[x] is matched against search[x+d]. bestD entries are -1
// where no candidate was evaluated. second, when non-nil, collects the
// best cost at least two candidates away from the winner for the
// uniqueness check.
func (m *Matcher) matchPass(ref, search []byte, w, h int, p Params, rightToLeft bool, bestD, best, second []int32, stop func() bool) bool {
	for i := range bestD {
		bestD[i] = -1
		best[i] = -1
	}
	if second != nil {
		for i := range second {
			second[i] = -1
		}
	}

	for d := 0; d < p.Range; d++ {
		if stop != nil && stop() {
			return false
		}
		m.costPlane(ref, search, w, h, d, p, rightToLeft)
		for i, c := range m.cost {
			if c < 0 {
				continue
			}
			if best[i] < 0 || c < best[i] {
				if second != nil && best[i] >= 0 && abs32(bestD[i]-int32(d)) > 1 {
					second[i] = best[i]
				}
				best[i] = c
				bestD[i] = int32(d)
			} else if second != nil && (second[i] < 0 || c < second[i]) && abs32(bestD[i]-int32(d)) > 1 {
				second[i] = c
			}
		}
	}
	return true
}

// costPlane fills m.cost with the windowed cost of candidate d for every
// pixel, -1 where the window leaves the image or the shifted column does.
func (m *Matcher) costPlane(ref, search []byte, w, h, d int, p Params, rightToLeft bool) {
	half := p.Window / 2

	// Per-pixel dissimilarity for this candidate.
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			sx := x - d
			if rightToLeft {
				sx = x + d
			}
			if sx < 0 || sx >= w {
				m.absdiff[row+x] = -1
				continue
			}
			diff := int32(ref[row+x]) - int32(search[row+sx])
			if diff < 0 {
				diff = -diff
			}
			if p.Metric == SSD {
				diff *= diff
			}
			m.absdiff[row+x] = diff
		}
	}

	// Horizontal window sums.
	for y := 0; y < h; y++ {
		row := y * w
		var run int32
		valid := true
		for x := 0; x < w; x++ {
			if x < p.Window-1 {
				if m.absdiff[row+x] < 0 {
					valid = false
				}
				run += max32(m.absdiff[row+x], 0)
				m.hsum[row+x] = -1
				continue
			}
			if m.absdiff[row+x] < 0 {
				valid = false
			}
			run += max32(m.absdiff[row+x], 0)
			if x >= p.Window {
				run -= max32(m.absdiff[row+x-p.Window], 0)
			}
			// A window containing any invalid column is invalid; track
			// cheaply by re-scanning only when the state may clear.
			if !valid {
				valid = true
				for k := x - p.Window + 1; k <= x; k++ {
					if m.absdiff[row+k] < 0 {
						valid = false
						break
					}
				}
			}
			if valid {
				m.hsum[row+x-half] = run
			} else {
				m.hsum[row+x-half] = -1
			}
		}
		// Right border never receives a full window.
		for x := w - half; x < w; x++ {
			m.hsum[row+x] = -1
		}
	}

	// Vertical window sums into m.cost.
	for x := 0; x < w; x++ {
		var run int32
		invalid := 0
		for y := 0; y < h; y++ {
			v := m.hsum[y*w+x]
			if v < 0 {
				invalid++
			}
			run += max32(v, 0)
			if y >= p.Window {
				old := m.hsum[(y-p.Window)*w+x]
				if old < 0 {
					invalid--
				}
				run -= max32(old, 0)
			}
			if y >= p.Window-1 {
				if invalid > 0 {
					m.cost[(y-half)*w+x] = -1
				} else {
					m.cost[(y-half)*w+x] = run
				}
			}
			if y < p.Window-1 {
				m.cost[y*w+x] = -1
			}
		}
		// Bottom border rows never receive a full window.
		for y := h - half; y < h; y++ {
			m.cost[y*w+x] = -1
		}
	}
}

// subpixel fits a parabola through the costs at d-1, d, d+1 and returns
// the fractional offset in [-0.5, 0.5].
func (m *Matcher) subpixel(base, compare []byte, x, y, d int, p Params) float32 {
	c0 := m.windowCost(base, compare, x, y, d-1, p)
	c1 := m.windowCost(base, compare, x, y, d, p)
	c2 := m.windowCost(base, compare, x, y, d+1, p)
	denom := c0 - 2*c1 + c2
	if denom <= 0 {
		return 0
	}
	off := float32(c0-c2) / (2 * float32(denom))
	if off > 0.5 {
		off = 0.5
	} else if off < -0.5 {
		off = -0.5
	}
	return off
}

// windowCost computes one windowed cost directly, for subpixel refinement.
func (m *Matcher) windowCost(ref, search []byte, x, y, d int, p Params) int64 {
	half := p.Window / 2
	var sum int64
	for j := -half; j <= half; j++ {
		row := (y + j) * m.w
		for i := -half; i <= half; i++ {
			rx := x + i
			sx := rx - d
			if sx < 0 || sx >= m.w {
				continue
			}
			diff := int64(ref[row+rx]) - int64(search[row+sx])
			if diff < 0 {
				diff = -diff
			}
			if p.Metric == SSD {
				diff *= diff
			}
			sum += diff
		}
	}
	return sum
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

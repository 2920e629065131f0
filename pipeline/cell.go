package pipeline

import (
	"sync"

	"iscpipe/camera"
	"iscpipe/frame"
)

// cell is a single-slot latest-wins FrameSet buffer behind one endpoint.
// The producer overwrites on every new frame; consumers copy out. The
// mutex is held only for the memcpy on either side.
type cell struct {
	mu    sync.Mutex
	set   *frame.Set
	valid bool
	last  uint64
}

func newCell(t *camera.ModelTable) *cell {
	return &cell{set: frame.NewSet(t)}
}

// publish copies src into the cell. Frames that do not advance the frame
// number are dropped so consumers always observe a strictly increasing
// sequence.
func (c *cell) publish(src *frame.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	num := src.Latest.Number
	if c.valid && num <= c.last {
		return
	}
	c.set.CopyFrom(src)
	c.valid = true
	c.last = num
}

// take copies the cell into dst. Returns false when nothing has been
// published yet.
func (c *cell) take(dst *frame.Set) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return false
	}
	dst.CopyFrom(c.set)
	return true
}

// reset empties the cell for a new session.
func (c *cell) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.last = 0
	c.set.Reset()
}

// pairCell is the processor's single-slot input: the newest decoded frame
// waiting for matching. A slow processor sees only the latest frame, never
// a backlog.
type pairCell struct {
	mu    sync.Mutex
	data  *frame.Data
	valid bool
	ready chan struct{}
}

func newPairCell(t *camera.ModelTable) *pairCell {
	return &pairCell{
		data:  frame.NewData(t),
		ready: make(chan struct{}, 1),
	}
}

// offer overwrites the slot with src and signals the processor.
func (p *pairCell) offer(src *frame.Data) {
	p.mu.Lock()
	p.data.CopyFrom(src)
	p.valid = true
	p.mu.Unlock()
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// take moves the slot into dst. Returns false when the slot is empty.
func (p *pairCell) take(dst *frame.Data) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid {
		return false
	}
	dst.CopyFrom(p.data)
	p.valid = false
	return true
}

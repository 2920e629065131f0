package frame

import (
	"testing"
	"time"

	"iscpipe/camera"
)

func TestNewDataCapacities(t *testing.T) {
	tbl := camera.TableFor(camera.ModelVM)
	d := NewData(tbl)
	w, h := tbl.WidthMax, tbl.HeightMax
	if cap(d.P1.Buf) != w*h {
		t.Errorf("p1 cap = %d, want %d", cap(d.P1.Buf), w*h)
	}
	if cap(d.Color.Buf) != w*h*3 {
		t.Errorf("color cap = %d, want %d", cap(d.Color.Buf), w*h*3)
	}
	if cap(d.Depth.Buf) != w*h {
		t.Errorf("depth cap = %d, want %d", cap(d.Depth.Buf), w*h)
	}
	if len(d.P1.Buf) != 0 || d.Valid {
		t.Error("new frame should be empty and invalid")
	}
}

func TestResizeKeepsCapacity(t *testing.T) {
	tbl := camera.TableFor(camera.ModelVM)
	d := NewData(tbl)
	before := cap(d.P1.Buf)
	d.P1.Resize(100, 50, 1)
	if len(d.P1.Buf) != 5000 || d.P1.Width != 100 || d.P1.Height != 50 {
		t.Fatalf("resize: len=%d w=%d h=%d", len(d.P1.Buf), d.P1.Width, d.P1.Height)
	}
	d.P1.Clear()
	if cap(d.P1.Buf) != before {
		t.Errorf("capacity changed: %d != %d", cap(d.P1.Buf), before)
	}
}

func TestCopyFrom(t *testing.T) {
	tbl := camera.TableFor(camera.ModelVM)
	src := NewData(tbl)
	src.Valid = true
	src.Number = 42
	src.Timestamp = time.UnixMilli(1234567)
	src.Gain = 7
	src.Exposure = 200
	src.Grab = camera.GrabParallax
	src.P1.Resize(4, 2, 1)
	copy(src.P1.Buf, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	src.Depth.Resize(4, 2)
	src.Depth.Buf[3] = 12.5

	dst := NewData(tbl)
	dst.CopyFrom(src)

	if dst.Number != 42 || !dst.Valid || dst.Gain != 7 || dst.Exposure != 200 {
		t.Fatalf("metadata not copied: %+v", dst)
	}
	if dst.P1.Buf[7] != 8 || dst.P1.Width != 4 {
		t.Error("p1 not copied")
	}
	if dst.Depth.Buf[3] != 12.5 {
		t.Error("depth not copied")
	}

	// Mutating the source must not reach the copy.
	src.P1.Buf[0] = 99
	if dst.P1.Buf[0] == 99 {
		t.Error("copy aliases source buffer")
	}
}

func TestSetSlots(t *testing.T) {
	tbl := camera.TableFor(camera.ModelVM)
	s := NewSet(tbl)
	if s.At(SlotLatest) != s.Latest || s.At(SlotPrevious) != s.Previous || s.At(SlotMerged) != s.Merged {
		t.Fatal("slot mapping broken")
	}
	if s.At(Slot(99)) != nil {
		t.Fatal("invalid slot should map to nil")
	}

	s.Latest.Valid = true
	s.Latest.Number = 5
	other := NewSet(tbl)
	other.CopyFrom(s)
	if !other.Latest.Valid || other.Latest.Number != 5 {
		t.Fatal("set copy lost latest")
	}
	s.Reset()
	if s.Latest.Valid {
		t.Fatal("reset left latest valid")
	}
}

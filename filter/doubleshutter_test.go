package filter

import (
	"testing"

	"iscpipe/camera"
	"iscpipe/frame"
)

func makeExposure(t *testing.T, num uint64, exposure int, lum byte, disp float32) *frame.Data {
	t.Helper()
	d := frame.NewData(camera.TableFor(camera.ModelVM))
	d.Valid = true
	d.Number = num
	d.Exposure = exposure
	d.Shutter = camera.ShutterDouble
	d.P1.Resize(4, 2, 1)
	for i := range d.P1.Buf {
		d.P1.Buf[i] = lum
	}
	d.Depth.Resize(4, 2)
	for i := range d.Depth.Buf {
		d.Depth.Buf[i] = disp
	}
	return d
}

func TestMergePrefersLongWithinBounds(t *testing.T) {
	// Short exposure is blown out at 250; long reads 80. The long
	// exposure is in bounds and wins.
	long := makeExposure(t, 2, 400, 80, 33)
	short := makeExposure(t, 1, 100, 250, 31)

	f := New()
	out := frame.NewData(camera.TableFor(camera.ModelVM))
	if !f.MergeDouble(long, short, out) {
		t.Fatal("merge skipped")
	}
	if out.P1.Buf[0] != 80 {
		t.Fatalf("merged p1 = %d, want 80", out.P1.Buf[0])
	}
	if out.Depth.Buf[0] != 33 {
		t.Fatalf("merged depth = %v, want long's 33", out.Depth.Buf[0])
	}
	if out.Number != long.Number || out.Exposure != 400 {
		t.Fatalf("merged metadata: number=%d exposure=%d", out.Number, out.Exposure)
	}
}

func TestMergeFallsBackToShort(t *testing.T) {
	// Long is saturated; short is in bounds.
	long := makeExposure(t, 2, 400, 255, 33)
	short := makeExposure(t, 1, 100, 120, 31)

	f := New()
	out := frame.NewData(camera.TableFor(camera.ModelVM))
	if !f.MergeDouble(long, short, out) {
		t.Fatal("merge skipped")
	}
	if out.P1.Buf[0] != 120 {
		t.Fatalf("merged p1 = %d, want short's 120", out.P1.Buf[0])
	}
	if out.Depth.Buf[0] != 31 {
		t.Fatalf("merged depth = %v, want short's 31", out.Depth.Buf[0])
	}
}

func TestMergeNeitherQualifies(t *testing.T) {
	long := makeExposure(t, 2, 400, 255, 33)
	short := makeExposure(t, 1, 100, 2, 31)

	f := New()
	out := frame.NewData(camera.TableFor(camera.ModelVM))
	if !f.MergeDouble(long, short, out) {
		t.Fatal("merge skipped")
	}
	if out.Depth.Buf[0] != 0 {
		t.Fatalf("merged depth = %v, want no measurement", out.Depth.Buf[0])
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	// cur/prev arrival order must not change which exposure is "long".
	long := makeExposure(t, 2, 400, 80, 33)
	short := makeExposure(t, 1, 100, 90, 31)

	f := New()
	a := frame.NewData(camera.TableFor(camera.ModelVM))
	b := frame.NewData(camera.TableFor(camera.ModelVM))
	if !f.MergeDouble(long, short, a) || !f.MergeDouble(short, long, b) {
		t.Fatal("merge skipped")
	}
	if a.P1.Buf[0] != b.P1.Buf[0] || a.Depth.Buf[0] != b.Depth.Buf[0] {
		t.Fatal("merge depends on argument order")
	}
	if a.P1.Buf[0] != 80 {
		t.Fatalf("merged p1 = %d, want long's 80", a.P1.Buf[0])
	}
}

func TestMergeSkipsWithoutPrevious(t *testing.T) {
	cur := makeExposure(t, 2, 400, 80, 33)
	empty := frame.NewData(camera.TableFor(camera.ModelVM))

	f := New()
	out := frame.NewData(camera.TableFor(camera.ModelVM))
	if f.MergeDouble(cur, empty, out) {
		t.Fatal("merge ran without a previous exposure")
	}
	if f.MergeDouble(nil, cur, out) {
		t.Fatal("merge ran with nil current")
	}
}

func TestMergeSkipsOnGeometryMismatch(t *testing.T) {
	cur := makeExposure(t, 2, 400, 80, 33)
	prev := makeExposure(t, 1, 100, 90, 31)
	prev.P1.Resize(2, 2, 1)

	f := New()
	out := frame.NewData(camera.TableFor(camera.ModelVM))
	if f.MergeDouble(cur, prev, out) {
		t.Fatal("merge ran across mismatched geometry")
	}
}

package decode

import (
	"errors"
	"testing"

	"iscpipe/camera"
	"iscpipe/dplerr"
	"iscpipe/frame"
)

// buildRaw assembles a payload in the documented layout.
func buildRaw(g camera.GrabMode, c camera.ColorMode, s, w, h int, base, second, fracPlane []byte, color []byte) []byte {
	planes := 2
	if g == camera.GrabParallax {
		planes = 3
	}
	rowBytes := s * w
	raw := make([]byte, RawSize(g, c, s, w, h))
	for y := 0; y < h; y++ {
		row := raw[y*planes*rowBytes:]
		for x := 0; x < w; x++ {
			row[x*s] = base[y*w+x]
			row[rowBytes+x*s] = second[y*w+x]
			if planes == 3 {
				row[2*rowBytes+x*s] = fracPlane[y*w+x]
			}
		}
	}
	if color != nil {
		copy(raw[planes*rowBytes*h:], color)
	}
	return raw
}

func newFrame(t *testing.T, model camera.Model, g camera.GrabMode, c camera.ColorMode, raw []byte, w, h int) *frame.Data {
	t.Helper()
	d := frame.NewData(camera.TableFor(model))
	d.Grab = g
	d.ColorMode = c
	d.Raw.Buf = d.Raw.Buf[:len(raw)]
	copy(d.Raw.Buf, raw)
	d.Raw.Width = w
	d.Raw.Height = h
	return d
}

func TestDecodeParallax(t *testing.T) {
	const w, h = 8, 4
	base := make([]byte, w*h)
	ints := make([]byte, w*h)
	fracs := make([]byte, w*h)
	for i := range base {
		base[i] = byte(i)
		ints[i] = 32
		fracs[i] = 128 // +0.5
	}
	ints[5] = 0 // no measurement at pixel 5
	raw := buildRaw(camera.GrabParallax, camera.ColorOff, 1, w, h, base, ints, fracs, nil)
	d := newFrame(t, camera.ModelVM, camera.GrabParallax, camera.ColorOff, raw, w, h)

	if err := Decode(d, camera.TableFor(camera.ModelVM)); err != nil {
		t.Fatal(err)
	}
	if d.P1.Width != w || d.P1.Height != h {
		t.Fatalf("p1 %dx%d", d.P1.Width, d.P1.Height)
	}
	if d.P1.Buf[3] != 3 {
		t.Errorf("p1[3] = %d", d.P1.Buf[3])
	}
	if d.P2.Buf[0] != 32 {
		t.Errorf("p2[0] = %d, want integer disparity", d.P2.Buf[0])
	}
	if d.Depth.Buf[0] != 32.5 {
		t.Errorf("depth[0] = %v, want 32.5", d.Depth.Buf[0])
	}
	if d.Depth.Buf[5] != 0 {
		t.Errorf("depth[5] = %v, want 0 where integer part is 0", d.Depth.Buf[5])
	}
}

func TestDecodeCorrectedPair(t *testing.T) {
	const w, h = 6, 3
	base := make([]byte, w*h)
	comp := make([]byte, w*h)
	for i := range base {
		base[i] = byte(i + 1)
		comp[i] = byte(200 - i)
	}
	raw := buildRaw(camera.GrabCorrected, camera.ColorOff, 1, w, h, base, comp, nil, nil)
	d := newFrame(t, camera.ModelVM, camera.GrabCorrected, camera.ColorOff, raw, w, h)

	if err := Decode(d, camera.TableFor(camera.ModelVM)); err != nil {
		t.Fatal(err)
	}
	if d.P2.Buf[2] != 198 {
		t.Errorf("p2[2] = %d", d.P2.Buf[2])
	}
	if !d.Depth.Empty() {
		t.Error("corrected mode must not emit disparity")
	}
}

func TestDecodeStride2(t *testing.T) {
	// The 4K raw path packs two bytes per pixel column.
	const w, h = 4, 2
	base := make([]byte, w*h)
	ints := make([]byte, w*h)
	fracs := make([]byte, w*h)
	for i := range base {
		base[i] = byte(10 + i)
		ints[i] = 5
		fracs[i] = 64 // +0.25
	}
	raw := buildRaw(camera.GrabParallax, camera.ColorOff, 2, w, h, base, ints, fracs, nil)
	tbl := camera.TableFor(camera.ModelK4)
	d := newFrame(t, camera.ModelK4, camera.GrabParallax, camera.ColorOff, raw, w, h)

	if err := Decode(d, tbl); err != nil {
		t.Fatal(err)
	}
	if d.P1.Buf[0] != 10 || d.P1.Buf[3] != 13 {
		t.Errorf("p1 = %v", d.P1.Buf[:4])
	}
	if d.Depth.Buf[0] != 5.25 {
		t.Errorf("depth[0] = %v, want 5.25", d.Depth.Buf[0])
	}
}

func TestDecodeColorPlane(t *testing.T) {
	const w, h = 4, 2
	base := make([]byte, w*h)
	comp := make([]byte, w*h)
	color := make([]byte, w*h*3)
	for i := range color {
		color[i] = byte(i)
	}
	raw := buildRaw(camera.GrabCorrected, camera.ColorOn, 1, w, h, base, comp, nil, color)
	d := newFrame(t, camera.ModelXC, camera.GrabCorrected, camera.ColorOn, raw, w, h)

	if err := Decode(d, camera.TableFor(camera.ModelXC)); err != nil {
		t.Fatal(err)
	}
	if d.Color.Channels != 3 || d.Color.Width != w {
		t.Fatalf("color plane %dx%dx%d", d.Color.Width, d.Color.Height, d.Color.Channels)
	}
	if d.Color.Buf[5] != 5 {
		t.Errorf("color[5] = %d", d.Color.Buf[5])
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	const w, h = 8, 4
	raw := make([]byte, RawSize(camera.GrabParallax, camera.ColorOff, 1, w, h)-1)
	d := newFrame(t, camera.ModelVM, camera.GrabParallax, camera.ColorOff, raw, w, h)
	err := Decode(d, camera.TableFor(camera.ModelVM))
	if !errors.Is(err, dplerr.ErrDecodeMismatch) {
		t.Fatalf("err = %v, want ErrDecodeMismatch", err)
	}
}

func TestDecodeEmptyFrame(t *testing.T) {
	d := frame.NewData(camera.TableFor(camera.ModelVM))
	d.Grab = camera.GrabParallax
	err := Decode(d, camera.TableFor(camera.ModelVM))
	if !errors.Is(err, dplerr.ErrDecodeMismatch) {
		t.Fatalf("err = %v, want ErrDecodeMismatch", err)
	}
}

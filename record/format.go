// Package record implements the ISCRAW self-describing container: the
// header/record codec, the recorder worker that appends live raw frames,
// and the player worker that re-emits them into the capture ring so that
// playback reproduces the live pipeline bit-for-bit.
package record

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"iscpipe/camera"
	"iscpipe/dplerr"
)

// Version is the container version this build reads and writes.
const Version uint32 = 1

var magic = [7]byte{'I', 'S', 'C', 'R', 'A', 'W', 0}

// HeaderSize is the fixed on-disk header length in bytes.
const HeaderSize = 7 + 11*4 + 8 + 64

// recordHeadSize is the fixed prefix of every record: frame number u64,
// timestamp u64, payload size u32.
const recordHeadSize = 8 + 8 + 4

// Header is the self-describing file preamble. Playback restores the
// camera spec and pipeline shape from these fields alone.
type Header struct {
	Version    uint32
	Model      camera.Model
	Grab       camera.GrabMode
	Color      camera.ColorMode
	Shutter    camera.ShutterMode
	BaseLength float32
	BF         float32
	DInf       float32
	Width      int
	Height     int
	IntervalMS uint32
	StartUTC   time.Time
}

// Spec reconstructs the camera constants stored in the header.
func (h *Header) Spec() camera.CameraSpec {
	return camera.CameraSpec{
		Model:      h.Model,
		BaseLength: h.BaseLength,
		BF:         h.BF,
		DInf:       h.DInf,
		WidthMax:   h.Width,
		HeightMax:  h.Height,
	}
}

// WriteTo serializes the header. Always writes exactly HeaderSize bytes.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[:7], magic[:])
	le := binary.LittleEndian
	le.PutUint32(buf[7:], h.Version)
	le.PutUint32(buf[11:], uint32(h.Model))
	le.PutUint32(buf[15:], uint32(h.Grab))
	le.PutUint32(buf[19:], uint32(h.Color))
	le.PutUint32(buf[23:], uint32(h.Shutter))
	le.PutUint32(buf[27:], math.Float32bits(h.BaseLength))
	le.PutUint32(buf[31:], math.Float32bits(h.BF))
	le.PutUint32(buf[35:], math.Float32bits(h.DInf))
	le.PutUint32(buf[39:], uint32(h.Width))
	le.PutUint32(buf[43:], uint32(h.Height))
	le.PutUint32(buf[47:], h.IntervalMS)
	le.PutUint64(buf[51:], uint64(h.StartUTC.UnixMilli()))
	// buf[59:123] reserved
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadHeader parses and validates a header from r. A bad magic fails with
// ErrUnsupportedFileVersion, as does any version this build does not read.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("record: short header: %w", dplerr.ErrUnsupportedFileVersion)
	}
	if [7]byte(buf[:7]) != magic {
		return Header{}, fmt.Errorf("record: bad magic: %w", dplerr.ErrUnsupportedFileVersion)
	}
	le := binary.LittleEndian
	h := Header{
		Version:    le.Uint32(buf[7:]),
		Model:      camera.Model(le.Uint32(buf[11:])),
		Grab:       camera.GrabMode(le.Uint32(buf[15:])),
		Color:      camera.ColorMode(le.Uint32(buf[19:])),
		Shutter:    camera.ShutterMode(le.Uint32(buf[23:])),
		BaseLength: math.Float32frombits(le.Uint32(buf[27:])),
		BF:         math.Float32frombits(le.Uint32(buf[31:])),
		DInf:       math.Float32frombits(le.Uint32(buf[35:])),
		Width:      int(le.Uint32(buf[39:])),
		Height:     int(le.Uint32(buf[43:])),
		IntervalMS: le.Uint32(buf[47:]),
		StartUTC:   time.UnixMilli(int64(le.Uint64(buf[51:]))).UTC(),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("record: version %d: %w", h.Version, dplerr.ErrUnsupportedFileVersion)
	}
	return h, nil
}

// Record is one raw frame as stored on disk.
type Record struct {
	Number      uint64
	TimestampMS uint64
	Payload     []byte
}

// appendRecord serializes rec into buf as a single contiguous write unit.
func appendRecord(buf []byte, num, tsMS uint64, payload []byte) []byte {
	le := binary.LittleEndian
	buf = le.AppendUint64(buf, num)
	buf = le.AppendUint64(buf, tsMS)
	buf = le.AppendUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}

// readRecord reads the next record from r. io.EOF is returned both at a
// clean end and for a truncated trailing record, which playback skips
// silently per the format contract. payload is appended into dst.
func readRecord(r io.Reader, dst []byte) (Record, []byte, error) {
	var head [recordHeadSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Record{}, dst, io.EOF
	}
	le := binary.LittleEndian
	rec := Record{
		Number:      le.Uint64(head[0:]),
		TimestampMS: le.Uint64(head[8:]),
	}
	size := le.Uint32(head[16:])
	if cap(dst) < int(size) {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	if _, err := io.ReadFull(r, dst); err != nil {
		return Record{}, dst, io.EOF
	}
	rec.Payload = dst
	return rec, dst, nil
}


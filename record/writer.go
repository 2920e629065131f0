package record

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sigurn/crc16"

	"iscpipe/dplerr"
)

// crcTable is CRC-16/ARC. The recorder keeps a running checksum over every
// written payload so a round trip can be verified without re-reading the
// file.
var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// WriterState is the recorder lifecycle state.
type WriterState int

const (
	WriterRecording WriterState = iota
	WriterFailed
	WriterClosed
)

func (s WriterState) String() string {
	switch s {
	case WriterRecording:
		return "recording"
	case WriterFailed:
		return "failed"
	case WriterClosed:
		return "closed"
	}
	return "invalid"
}

// WriterStatus is returned by status polls. Err carries the failure that
// moved the recorder to WriterFailed, if any.
type WriterStatus struct {
	State      WriterState
	Frames     uint64
	Bytes      uint64
	Dropped    uint64 // frames discarded by the throttle
	PayloadCRC uint16
	Path       string
	Err        error
}

// WriterConfig bounds the recorder's ingress queue and throttle.
type WriterConfig struct {
	// Dir is the output directory; the filename derives from the camera
	// model and the local start time.
	Dir string
	// MinInterval, when positive, silently drops frames arriving closer
	// together than this so long recordings stay small.
	MinInterval time.Duration
	// QueueDepth is the ingress bound. When the disk falls this many
	// frames behind, the recorder cancels itself with
	// ErrRecorderBackpressure instead of blocking capture.
	QueueDepth int
}

type ingress struct {
	num     uint64
	ts      time.Time
	payload []byte
}

// Writer appends raw records to one ISCRAW file on its own goroutine. Its
// ingress queue is bounded and never blocks the caller; everything
// upstream stays lossless as long as the disk keeps up.
type Writer struct {
	mu      sync.Mutex
	state   WriterState
	err     error
	frames  uint64
	bytes   uint64
	dropped uint64
	crc     uint16
	lastTS  time.Time
	haveTS  bool

	path        string
	minInterval time.Duration
	in          chan ingress
	done        chan struct{}
	joinTimeout time.Duration
}

// NewWriter creates the output file, synchronously writes the header, and
// starts the recorder goroutine. I/O errors while creating the file or
// writing the header surface immediately, and the file is removed.
func NewWriter(cfg WriterConfig, hdr Header) (*Writer, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("record: create dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.dat", hdr.Model, time.Now().Format("20060102_150405"))
	path := filepath.Join(cfg.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("record: create %s: %w", path, err)
	}
	if _, err := hdr.WriteTo(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("record: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("record: flush header: %w", err)
	}

	w := &Writer{
		state:       WriterRecording,
		path:        path,
		minInterval: cfg.MinInterval,
		crc:         crc16.Init(crcTable),
		in:          make(chan ingress, cfg.QueueDepth),
		done:        make(chan struct{}),
		joinTimeout: 2 * time.Second,
	}
	go w.run(f)
	return w, nil
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// Enqueue hands one raw frame to the recorder. It never blocks: a full
// queue means the disk is more than QueueDepth frames behind, and the
// recorder fails itself rather than stalling capture. The payload must not
// be reused by the caller.
func (w *Writer) Enqueue(num uint64, ts time.Time, payload []byte) {
	w.mu.Lock()
	if w.state != WriterRecording {
		w.mu.Unlock()
		return
	}
	if w.minInterval > 0 && w.haveTS && ts.Sub(w.lastTS) < w.minInterval {
		w.dropped++
		w.mu.Unlock()
		return
	}
	// Send under the lock: Close flips state before closing the channel,
	// so holding it here excludes a send on a closed channel.
	select {
	case w.in <- ingress{num: num, ts: ts, payload: payload}:
		w.mu.Unlock()
	default:
		w.mu.Unlock()
		w.fail(fmt.Errorf("record: queue full: %w", dplerr.ErrRecorderBackpressure))
	}
}

// Status returns a snapshot of the recorder state.
func (w *Writer) Status() WriterStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriterStatus{
		State:      w.state,
		Frames:     w.frames,
		Bytes:      w.bytes,
		Dropped:    w.dropped,
		PayloadCRC: crc16.Complete(w.crc, crcTable),
		Path:       w.path,
		Err:        w.err,
	}
}

// Close drains the queue, flushes and closes the file. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.state == WriterClosed {
		w.mu.Unlock()
		return nil
	}
	prev := w.state
	w.state = WriterClosed
	w.mu.Unlock()

	close(w.in)
	select {
	case <-w.done:
	case <-time.After(w.joinTimeout):
		log.Println("record: writer missed stop deadline")
		return fmt.Errorf("record: %w", dplerr.ErrThreadStuck)
	}
	if prev == WriterFailed {
		w.mu.Lock()
		err := w.err
		w.mu.Unlock()
		return err
	}
	return nil
}

func (w *Writer) fail(err error) {
	w.mu.Lock()
	if w.state == WriterRecording {
		w.state = WriterFailed
		w.err = err
		log.Printf("record[%s]: failed: %v", filepath.Base(w.path), err)
	}
	w.mu.Unlock()
}

// run is the recorder loop. Each record is a single contiguous write; on a
// short or failed write the file is truncated back to the previous record
// boundary so the container never holds a partial record.
func (w *Writer) run(f *os.File) {
	defer close(w.done)
	defer f.Close()

	offset := int64(HeaderSize)
	var buf []byte
	for rec := range w.in {
		w.mu.Lock()
		failed := w.err != nil
		w.mu.Unlock()
		if failed {
			continue // keep draining so Enqueue never blocks
		}

		buf = appendRecord(buf[:0], rec.num, uint64(rec.ts.UnixMilli()), rec.payload)
		n, err := f.Write(buf)
		if err != nil || n != len(buf) {
			if terr := f.Truncate(offset); terr != nil {
				log.Printf("record[%s]: truncate after failed write: %v", filepath.Base(w.path), terr)
			}
			if err == nil {
				err = fmt.Errorf("short write %d of %d", n, len(buf))
			}
			w.fail(fmt.Errorf("record: write: %v: %w", err, dplerr.ErrRecorderBackpressure))
			continue
		}
		offset += int64(n)

		w.mu.Lock()
		w.frames++
		w.bytes += uint64(n)
		w.crc = crc16.Update(w.crc, rec.payload, crcTable)
		w.lastTS, w.haveTS = rec.ts, true
		w.mu.Unlock()
	}
	_ = f.Sync()
}

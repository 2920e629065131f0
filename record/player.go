package record

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"iscpipe/capture"
	"iscpipe/dplerr"
	"iscpipe/frame"
)

// ReadStatus is the player position state reported to status polls.
type ReadStatus int

const (
	ReadIdle ReadStatus = iota
	ReadPlaying
	ReadEnded
)

func (s ReadStatus) String() string {
	switch s {
	case ReadIdle:
		return "idle"
	case ReadPlaying:
		return "playing"
	case ReadEnded:
		return "ended"
	}
	return "invalid"
}

// indexEntry locates one record in the file.
type indexEntry struct {
	number uint64
	offset int64
}

// Player replays an ISCRAW file into the capture ring at the header's
// pacing interval. Consumers downstream of the ring cannot distinguish
// playback from live capture.
type Player struct {
	path   string
	header Header
	index  []indexEntry

	mu      sync.Mutex
	status  ReadStatus
	pos     int // next index entry to emit
	seekReq int // -1 when none
	stop    chan struct{}
	done    chan struct{}

	joinTimeout time.Duration
}

// OpenPlayer reads and validates the header, then pre-scans the record
// stream to build the seek index. A truncated trailing record is dropped
// from the index silently.
func OpenPlayer(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	defer f.Close()

	hdr, err := ReadHeader(f)
	if err != nil {
		return nil, err
	}
	index, err := scanIndex(f)
	if err != nil {
		return nil, err
	}
	return &Player{
		path:        path,
		header:      hdr,
		index:       index,
		seekReq:     -1,
		joinTimeout: 2 * time.Second,
	}, nil
}

// scanIndex walks the record stream collecting (number, offset) pairs.
// The reader must be positioned just past the header.
func scanIndex(f *os.File) ([]indexEntry, error) {
	var index []indexEntry
	offset := int64(HeaderSize)
	var head [recordHeadSize]byte
	for {
		if _, err := io.ReadFull(f, head[:]); err != nil {
			return index, nil
		}
		num := binary.LittleEndian.Uint64(head[0:])
		size := int64(binary.LittleEndian.Uint32(head[16:]))
		next := offset + recordHeadSize + size
		if _, err := f.Seek(size, io.SeekCurrent); err != nil {
			return index, nil
		}
		// A record whose payload runs past the end of the file is
		// truncated; the scan stops there and leaves it out of the index.
		if fi, err := f.Stat(); err == nil && next > fi.Size() {
			return index, nil
		}
		index = append(index, indexEntry{number: num, offset: offset})
		offset = next
	}
}

// Header returns the file header.
func (p *Player) Header() Header { return p.header }

// TotalFrames returns the number of complete records in the file.
func (p *Player) TotalFrames() int { return len(p.index) }

// Status returns the current read status.
func (p *Player) Status() ReadStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Position returns the index of the next record to emit.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// SetReadFrameNumber requests a seek to the first record whose frame
// number is >= n. Takes effect before the next emit.
func (p *Player) SetReadFrameNumber(n uint64) error {
	for i, e := range p.index {
		if e.number >= n {
			p.mu.Lock()
			p.seekReq = i
			p.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("record: no frame >= %d: %w", n, dplerr.ErrOutOfRange)
}

// Start launches the player goroutine, emitting into ring. interval
// overrides the header pacing hint when positive.
func (p *Player) Start(ring *capture.Ring, interval time.Duration) error {
	p.mu.Lock()
	if p.status == ReadPlaying {
		p.mu.Unlock()
		return fmt.Errorf("record: player already running: %w", dplerr.ErrInvalidState)
	}
	if interval <= 0 {
		interval = time.Duration(p.header.IntervalMS) * time.Millisecond
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	p.status = ReadPlaying
	p.pos = 0
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	go p.run(ring, interval, stop, done)
	return nil
}

// Stop halts playback with a bounded join. Idempotent.
func (p *Player) Stop() error {
	p.mu.Lock()
	if p.status != ReadPlaying {
		p.mu.Unlock()
		return nil
	}
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-time.After(p.joinTimeout):
		log.Println("record: player missed stop deadline")
		return fmt.Errorf("record: %w", dplerr.ErrThreadStuck)
	}
	p.mu.Lock()
	if p.status == ReadPlaying {
		p.status = ReadIdle
	}
	p.mu.Unlock()
	return nil
}

// run paces records into the ring. Frames are reconstructed with the
// header's geometry and modes; the capture timestamp is restored from the
// record so downstream throttles behave as they did live.
func (p *Player) run(ring *capture.Ring, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	f, err := os.Open(p.path)
	if err != nil {
		log.Printf("record[%s]: reopen for playback: %v", filepath.Base(p.path), err)
		p.setEnded()
		return
	}
	defer f.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var payload []byte
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.seekReq >= 0 {
			p.pos = p.seekReq
			p.seekReq = -1
		}
		pos := p.pos
		p.mu.Unlock()

		if pos >= len(p.index) {
			p.setEnded()
			return
		}
		entry := p.index[pos]
		if _, err := f.Seek(entry.offset, io.SeekStart); err != nil {
			log.Printf("record[%s]: seek: %v", filepath.Base(p.path), err)
			p.setEnded()
			return
		}
		var rec Record
		rec, payload, err = readRecord(f, payload)
		if err != nil {
			p.setEnded()
			return
		}

		hdr := p.header
		ring.Push(func(d *frame.Data) {
			d.Number = rec.Number
			d.Timestamp = time.UnixMilli(int64(rec.TimestampMS))
			d.Grab = hdr.Grab
			d.Shutter = hdr.Shutter
			d.ColorMode = hdr.Color
			d.Raw.Buf = d.Raw.Buf[:len(rec.Payload)]
			copy(d.Raw.Buf, rec.Payload)
			d.Raw.Width = hdr.Width
			d.Raw.Height = hdr.Height
			if n := hdr.Width * hdr.Height; n > 0 {
				d.Raw.Channels = len(rec.Payload) / n
			}
		})

		p.mu.Lock()
		p.pos = pos + 1
		p.mu.Unlock()
	}
}

func (p *Player) setEnded() {
	p.mu.Lock()
	p.status = ReadEnded
	p.mu.Unlock()
}

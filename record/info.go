package record

import (
	"fmt"
	"io"
	"os"
	"time"
)

// FileInfo summarizes a raw file's record stream without starting playback.
type FileInfo struct {
	TotalFrames int
	FirstNumber uint64
	LastNumber  uint64
	// Duration spans the first to last record host timestamps.
	Duration time.Duration
	// PayloadCRC is the CRC-16/ARC over all payload bytes in order; it
	// matches the recorder's status CRC for an intact file.
	PayloadCRC uint16
	Bytes      int64
}

// ReadInfo reads a raw file's header and scans its records. Version
// mismatches fail with ErrUnsupportedFileVersion; a truncated trailing
// record is excluded from the counts.
func ReadInfo(path string) (Header, FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, FileInfo{}, fmt.Errorf("record: open %s: %w", path, err)
	}
	defer f.Close()

	hdr, err := ReadHeader(f)
	if err != nil {
		return Header{}, FileInfo{}, err
	}

	info := FileInfo{PayloadCRC: crcInit()}
	var firstTS, lastTS uint64
	var payload []byte
	for {
		var rec Record
		rec, payload, err = readRecord(f, payload)
		if err == io.EOF {
			break
		}
		if info.TotalFrames == 0 {
			info.FirstNumber = rec.Number
			firstTS = rec.TimestampMS
		}
		info.LastNumber = rec.Number
		lastTS = rec.TimestampMS
		info.TotalFrames++
		info.Bytes += int64(recordHeadSize + len(rec.Payload))
		info.PayloadCRC = crcUpdate(info.PayloadCRC, rec.Payload)
	}
	info.PayloadCRC = crcComplete(info.PayloadCRC)
	if info.TotalFrames > 1 {
		info.Duration = time.Duration(lastTS-firstTS) * time.Millisecond
	}
	return hdr, info, nil
}

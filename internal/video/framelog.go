package video

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Frame log format: an 8-byte magic, a sequence of length-prefixed frame
// records, and a JSON trailer locating the metadata. The trailer-at-end
// layout lets the writer stream frames without knowing the count up front
// and still produce a self-describing single file.
//
//	[8]  magic "NSLOG001"
//	per frame:
//	  [8]  timestamp, unix nanos, big endian
//	  [8]  sequence number, big endian
//	  [4]  pixel data length, big endian
//	  [n]  pixel data (row-major luma)
//	[t]  JSON-encoded LogHeader
//	[4]  trailer length, big endian
//	[4]  trailer magic "NSIX"

const (
	logMagic     = "NSLOG001"
	trailerMagic = "NSIX"
)

// LogHeader describes a frame log. The event fields are zero for plain
// captures and populated for sealed event clips.
type LogHeader struct {
	Version    string  `json:"version"`
	CreatedNs  int64   `json:"created_ns"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	StartNs    int64   `json:"start_ns"`
	EndNs      int64   `json:"end_ns"`
	FrameCount uint64  `json:"frame_count"`

	ObjectID   int64   `json:"object_id,omitempty"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// LogWriter streams frames into a frame log. Close finalizes the trailer but
// does not close the underlying writer.
type LogWriter struct {
	w      io.Writer
	header LogHeader
	closed bool
}

// NewLogWriter writes the magic and returns a writer for frames of the given
// geometry.
func NewLogWriter(w io.Writer, width, height int, fps float64) (*LogWriter, error) {
	if _, err := w.Write([]byte(logMagic)); err != nil {
		return nil, fmt.Errorf("write log magic: %w", err)
	}
	return &LogWriter{
		w: w,
		header: LogHeader{
			Version:   "1.0",
			CreatedNs: time.Now().UnixNano(),
			Width:     width,
			Height:    height,
			FPS:       fps,
		},
	}, nil
}

// SetEventInfo attaches event clip metadata recorded in the trailer.
func (lw *LogWriter) SetEventInfo(objectID int64, label string, confidence float64) {
	lw.header.ObjectID = objectID
	lw.header.Label = label
	lw.header.Confidence = confidence
}

// Append writes one frame record.
func (lw *LogWriter) Append(f *Frame) error {
	if lw.closed {
		return fmt.Errorf("frame log writer is closed")
	}
	if len(f.Pix) != lw.header.Width*lw.header.Height {
		return fmt.Errorf("frame %d has %d pixels, log geometry wants %d",
			f.Seq, len(f.Pix), lw.header.Width*lw.header.Height)
	}

	var rec [20]byte
	binary.BigEndian.PutUint64(rec[0:8], uint64(f.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(rec[8:16], f.Seq)
	binary.BigEndian.PutUint32(rec[16:20], uint32(len(f.Pix)))
	if _, err := lw.w.Write(rec[:]); err != nil {
		return fmt.Errorf("write frame record: %w", err)
	}
	if _, err := lw.w.Write(f.Pix); err != nil {
		return fmt.Errorf("write frame pixels: %w", err)
	}

	if lw.header.FrameCount == 0 {
		lw.header.StartNs = f.Timestamp.UnixNano()
	}
	lw.header.EndNs = f.Timestamp.UnixNano()
	lw.header.FrameCount++
	return nil
}

// FrameCount returns the number of frames appended so far.
func (lw *LogWriter) FrameCount() uint64 { return lw.header.FrameCount }

// Close writes the trailer. The log is unreadable until Close succeeds.
func (lw *LogWriter) Close() error {
	if lw.closed {
		return nil
	}
	lw.closed = true

	data, err := json.Marshal(lw.header)
	if err != nil {
		return fmt.Errorf("marshal log trailer: %w", err)
	}
	if _, err := lw.w.Write(data); err != nil {
		return fmt.Errorf("write log trailer: %w", err)
	}
	var tail [8]byte
	binary.BigEndian.PutUint32(tail[0:4], uint32(len(data)))
	copy(tail[4:8], trailerMagic)
	if _, err := lw.w.Write(tail[:]); err != nil {
		return fmt.Errorf("write trailer length: %w", err)
	}
	return nil
}

// LogReader reads frames back from a finalized frame log.
type LogReader struct {
	r          io.ReadSeeker
	Header     LogHeader
	framesEnd  int64
	nextOffset int64
}

// OpenLogReader validates the magic, parses the trailer and positions the
// reader at the first frame record.
func OpenLogReader(r io.ReadSeeker) (*LogReader, error) {
	var magic [8]byte
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read log magic: %w", err)
	}
	if string(magic[:]) != logMagic {
		return nil, fmt.Errorf("not a frame log: magic %q", magic)
	}

	end, err := r.Seek(-8, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek trailer: %w", err)
	}
	var tail [8]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return nil, fmt.Errorf("read trailer length: %w", err)
	}
	if string(tail[4:8]) != trailerMagic {
		return nil, fmt.Errorf("frame log not finalized: trailer magic %q", tail[4:8])
	}
	trailerLen := int64(binary.BigEndian.Uint32(tail[0:4]))
	framesEnd := end - trailerLen
	if framesEnd < int64(len(logMagic)) {
		return nil, fmt.Errorf("corrupt frame log: trailer length %d", trailerLen)
	}

	if _, err := r.Seek(framesEnd, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, trailerLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read trailer: %w", err)
	}
	var header LogHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("parse trailer: %w", err)
	}

	if _, err := r.Seek(int64(len(logMagic)), io.SeekStart); err != nil {
		return nil, err
	}
	return &LogReader{
		r:          r,
		Header:     header,
		framesEnd:  framesEnd,
		nextOffset: int64(len(logMagic)),
	}, nil
}

// Next returns the next frame, or io.EOF after the last one.
func (lr *LogReader) Next() (*Frame, error) {
	if lr.nextOffset >= lr.framesEnd {
		return nil, io.EOF
	}
	if _, err := lr.r.Seek(lr.nextOffset, io.SeekStart); err != nil {
		return nil, err
	}

	var rec [20]byte
	if _, err := io.ReadFull(lr.r, rec[:]); err != nil {
		return nil, fmt.Errorf("read frame record: %w", err)
	}
	tsNanos := int64(binary.BigEndian.Uint64(rec[0:8]))
	seq := binary.BigEndian.Uint64(rec[8:16])
	pixLen := binary.BigEndian.Uint32(rec[16:20])
	if int(pixLen) != lr.Header.Width*lr.Header.Height {
		return nil, fmt.Errorf("frame %d has %d pixels, log geometry wants %d",
			seq, pixLen, lr.Header.Width*lr.Header.Height)
	}

	pix := make([]byte, pixLen)
	if _, err := io.ReadFull(lr.r, pix); err != nil {
		return nil, fmt.Errorf("read frame pixels: %w", err)
	}
	lr.nextOffset += int64(len(rec)) + int64(pixLen)

	return &Frame{
		Seq:       seq,
		Timestamp: time.Unix(0, tsNanos),
		Width:     lr.Header.Width,
		Height:    lr.Header.Height,
		Pix:       pix,
	}, nil
}

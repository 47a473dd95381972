package parser

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Capture stream layout, all integers little-endian, one record per event:
//
// Offset | Size | Field
// -------|------|------------------------------
// 0      | 4    | magic "RAWE"
// 4      | 2    | description length N
// 6      | N    | description (e.g. "CE65Raw")
// 6+N    | 4    | device number
// 10+N   | 4    | event number
// 14+N   | 2    | block count B
// 16+N   | ...  | B x (uint32 length, bytes)
//
// A stream may be zstd compressed as a whole; the reader detects this from
// the zstd frame magic.

var eventMagic = []byte("RAWE")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// maxBlockSize bounds a single block allocation.
const maxBlockSize = 1 << 24

// CaptureReader iterates over raw events in a capture stream.
type CaptureReader struct {
	r      *bufio.Reader
	zr     *zstd.Decoder
	closer io.Closer
	events int
}

// NewCaptureReader wraps r, decompressing transparently when r holds zstd data.
func NewCaptureReader(r io.Reader) (*CaptureReader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err == nil && bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return &CaptureReader{r: bufio.NewReader(zr), zr: zr}, nil
	}
	return &CaptureReader{r: br}, nil
}

// OpenCaptureFile opens a capture file for reading. The caller must Close it.
func OpenCaptureFile(path string) (*CaptureReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	cr, err := NewCaptureReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	cr.closer = f
	return cr, nil
}

// Events returns how many events were read so far.
func (c *CaptureReader) Events() int {
	return c.events
}

// Next returns the next event, or io.EOF at a clean end of stream.
func (c *CaptureReader) Next() (RawEvent, error) {
	var ev RawEvent

	magic := make([]byte, len(eventMagic))
	if _, err := io.ReadFull(c.r, magic); err != nil {
		if err == io.EOF {
			return ev, io.EOF
		}
		return ev, c.truncated(err)
	}
	if !bytes.Equal(magic, eventMagic) {
		return ev, fmt.Errorf("%w at event %d: %q", ErrBadMagic, c.events, magic)
	}

	var descLen uint16
	if err := binary.Read(c.r, binary.LittleEndian, &descLen); err != nil {
		return ev, c.truncated(err)
	}
	desc := make([]byte, descLen)
	if _, err := io.ReadFull(c.r, desc); err != nil {
		return ev, c.truncated(err)
	}
	ev.Description = string(desc)

	var header struct {
		DeviceN uint32
		EventN  uint32
		NBlocks uint16
	}
	if err := binary.Read(c.r, binary.LittleEndian, &header); err != nil {
		return ev, c.truncated(err)
	}
	ev.DeviceN = header.DeviceN
	ev.EventN = header.EventN

	ev.Blocks = make([][]byte, header.NBlocks)
	for i := range ev.Blocks {
		var n uint32
		if err := binary.Read(c.r, binary.LittleEndian, &n); err != nil {
			return ev, c.truncated(err)
		}
		if n > maxBlockSize {
			return ev, fmt.Errorf("%w: block %d of event %d is %d bytes", ErrEventTooLarge, i, c.events, n)
		}
		block := make([]byte, n)
		if _, err := io.ReadFull(c.r, block); err != nil {
			return ev, c.truncated(err)
		}
		ev.Blocks[i] = block
	}

	c.events++
	return ev, nil
}

func (c *CaptureReader) truncated(err error) error {
	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w at event %d", ErrTruncatedEvent, c.events)
	}
	return fmt.Errorf("failed to read event %d: %w", c.events, err)
}

func (c *CaptureReader) Close() error {
	if c.zr != nil {
		c.zr.Close()
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// ReadCaptureFile loads every event of a capture file.
func ReadCaptureFile(path string) ([]RawEvent, error) {
	cr, err := OpenCaptureFile(path)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	var events []RawEvent
	for {
		ev, err := cr.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// CaptureWriter writes events in the layout read by CaptureReader.
type CaptureWriter struct {
	bw *bufio.Writer
	zw *zstd.Encoder
}

// NewCaptureWriter writes to w, zstd compressing the stream when compress is set.
// Close flushes but does not close w.
func NewCaptureWriter(w io.Writer, compress bool) (*CaptureWriter, error) {
	cw := &CaptureWriter{}
	if compress {
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		cw.zw = zw
		w = zw
	}
	cw.bw = bufio.NewWriter(w)
	return cw, nil
}

func (c *CaptureWriter) Write(ev RawEvent) error {
	if len(ev.Description) > 0xffff {
		return fmt.Errorf("description too long: %d bytes", len(ev.Description))
	}
	if len(ev.Blocks) > 0xffff {
		return fmt.Errorf("too many blocks: %d", len(ev.Blocks))
	}

	buf := make([]byte, 0, 16+len(ev.Description))
	buf = append(buf, eventMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ev.Description)))
	buf = append(buf, ev.Description...)
	buf = binary.LittleEndian.AppendUint32(buf, ev.DeviceN)
	buf = binary.LittleEndian.AppendUint32(buf, ev.EventN)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ev.Blocks)))
	if _, err := c.bw.Write(buf); err != nil {
		return err
	}

	for _, block := range ev.Blocks {
		if len(block) > maxBlockSize {
			return fmt.Errorf("%w: block of %d bytes", ErrEventTooLarge, len(block))
		}
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(block)))
		if _, err := c.bw.Write(n[:]); err != nil {
			return err
		}
		if _, err := c.bw.Write(block); err != nil {
			return err
		}
	}
	return nil
}

func (c *CaptureWriter) Close() error {
	if err := c.bw.Flush(); err != nil {
		return err
	}
	if c.zw != nil {
		return c.zw.Close()
	}
	return nil
}

package parser

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// DecodeFrame unpacks one raw block into signed 16-bit samples. Each sample
// is two bytes, low byte first; pixel p sits at column p/Height, row p%Height.
func DecodeFrame(block []byte, g Geometry) (*PixelMatrix, error) {
	if len(block) != g.FrameSize() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d for %s", ErrSizeMismatch, len(block), g.FrameSize(), g)
	}
	m := NewPixelMatrix(g)
	for p := range m.Samples {
		lo := block[2*p]
		hi := block[2*p+1]
		m.Samples[p] = int16(uint16(hi)<<8 | uint16(lo))
	}
	return m, nil
}

// EncodeFrame packs a matrix back into the raw block layout read by DecodeFrame.
func EncodeFrame(m *PixelMatrix) []byte {
	block := make([]byte, 2*len(m.Samples))
	for p, v := range m.Samples {
		u := uint16(v)
		block[2*p] = byte(u)
		block[2*p+1] = byte(u >> 8)
	}
	return block
}

// DumpFrame writes the matrix as text, one line per row, columns left to right.
func DumpFrame(w io.Writer, m *PixelMatrix) error {
	bw := bufio.NewWriter(w)
	for row := 0; row < m.Geometry.Height; row++ {
		fmt.Fprintf(bw, "Y%2d\t", row)
		for column := 0; column < m.Geometry.Width; column++ {
			if column > 0 {
				bw.WriteByte(',')
			}
			bw.WriteString(strconv.Itoa(int(m.At(column, row))))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

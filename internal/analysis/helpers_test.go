package analysis

import (
	"io"

	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/parser"
)

func init() {
	logging.SetOutput(io.Discard)
}

type pixelValue struct {
	column, row int
	value       int16
}

// makeFrame encodes a frame that is zero except for the given pixels.
func makeFrame(g parser.Geometry, pixels ...pixelValue) []byte {
	m := parser.NewPixelMatrix(g)
	for _, px := range pixels {
		m.Set(px.column, px.row, px.value)
	}
	return parser.EncodeFrame(m)
}

func ce65Event(frames ...[]byte) parser.RawEvent {
	return parser.RawEvent{Description: "CE65Raw", DeviceN: 4, EventN: 1, Blocks: frames}
}

// uniformCalibration has the same pedestal and noise everywhere but at the overrides.
func uniformCalibration(g parser.Geometry, pedestal, noise float64, overrides ...parser.CalibrationRecord) []parser.CalibrationRecord {
	records := make([]parser.CalibrationRecord, 0, g.NumPixels())
	for column := 0; column < g.Width; column++ {
		for row := 0; row < g.Height; row++ {
			rec := parser.CalibrationRecord{Column: column, Row: row, Pedestal: pedestal, Noise: noise}
			for _, o := range overrides {
				if o.Column == column && o.Row == row {
					rec = o
				}
			}
			records = append(records, rec)
		}
	}
	return records
}

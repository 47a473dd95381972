package analysis

import (
	"fmt"

	"github.com/user/ce65_converter_go/internal/parser"
)

// Mode is the zero suppression scheme applied by a converter.
type Mode int

const (
	SimpleCut          Mode = iota // uncalibrated, per-submatrix threshold, binary output
	CalibratedMonitor              // pedestal/noise SNR cut, binary output
	CalibratedAnalysis             // no suppression, charge output
)

func (m Mode) String() string {
	switch m {
	case SimpleCut:
		return "SimpleCut"
	case CalibratedMonitor:
		return "CalibratedMonitor"
	case CalibratedAnalysis:
		return "CalibratedAnalysis"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Binary reports whether surviving pixels carry the literal value 1.
func (m Mode) Binary() bool {
	return m != CalibratedAnalysis
}

// SparsePixel is one surviving pixel. Value is 1 in the binary modes and the
// pedestal-subtracted charge in ADC units otherwise.
type SparsePixel struct {
	Column int     `json:"x"`
	Row    int     `json:"y"`
	Value  float64 `json:"value"`
}

// StandardPlane is the converter output for one event.
type StandardPlane struct {
	DeviceN uint32        `json:"device"`
	EventN  uint32        `json:"event"`
	Type    string        `json:"type"`
	Sensor  string        `json:"sensor"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`
	Mode    Mode          `json:"mode"`
	Pixels  []SparsePixel `json:"pixels"`
}

func NewStandardPlane(deviceN, eventN uint32, g parser.Geometry, mode Mode) *StandardPlane {
	return &StandardPlane{
		DeviceN: deviceN,
		EventN:  eventN,
		Type:    "ITS3DAQ",
		Sensor:  "CE65",
		Width:   g.Width,
		Height:  g.Height,
		Mode:    mode,
		Pixels:  make([]SparsePixel, 0),
	}
}

func (p *StandardPlane) PushPixel(column, row int, value float64) {
	p.Pixels = append(p.Pixels, SparsePixel{Column: column, Row: row, Value: value})
}

func (p *StandardPlane) NumPixels() int {
	return len(p.Pixels)
}

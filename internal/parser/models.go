package parser

import "fmt"

// Sensor matrix size of the CE65 chip.
const (
	MatrixWidth  = 64
	MatrixHeight = 32
)

// Geometry is the declared pixel matrix size. Pixels are stored column-major
// with the row as the minor index: index = row + column*Height.
type Geometry struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// DefaultGeometry returns the 64x32 CE65 matrix.
func DefaultGeometry() Geometry {
	return Geometry{Width: MatrixWidth, Height: MatrixHeight}
}

// NumPixels is Width*Height.
func (g Geometry) NumPixels() int {
	return g.Width * g.Height
}

// FrameSize is the byte length of one raw frame (2 bytes per pixel).
func (g Geometry) FrameSize() int {
	return 2 * g.NumPixels()
}

// Index maps (column, row) to the linear pixel index.
func (g Geometry) Index(column, row int) int {
	return row + column*g.Height
}

// Coords is the inverse of Index.
func (g Geometry) Coords(p int) (column, row int) {
	return p / g.Height, p % g.Height
}

// Contains reports whether (column, row) lies inside the matrix.
func (g Geometry) Contains(column, row int) bool {
	return column >= 0 && column < g.Width && row >= 0 && row < g.Height
}

func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid geometry %dx%d", g.Width, g.Height)
	}
	return nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// PixelMatrix holds one decoded frame.
type PixelMatrix struct {
	Geometry Geometry
	Samples  []int16
}

// NewPixelMatrix allocates a zeroed matrix.
func NewPixelMatrix(g Geometry) *PixelMatrix {
	return &PixelMatrix{
		Geometry: g,
		Samples:  make([]int16, g.NumPixels()),
	}
}

func (m *PixelMatrix) At(column, row int) int16 {
	return m.Samples[m.Geometry.Index(column, row)]
}

func (m *PixelMatrix) Set(column, row int, v int16) {
	m.Samples[m.Geometry.Index(column, row)] = v
}

// Event descriptions under which the CE65 producer ships its raw events.
var CaptureTags = []string{"CE65", "CE65Raw", "ce65_producer"}

// RawEvent is a generic raw event as read from a capture stream. Blocks are
// opaque until the description says they are CE65 frames.
type RawEvent struct {
	Description string
	DeviceN     uint32
	EventN      uint32
	Blocks      [][]byte
}

// RawCapture is the typed view of a CE65 raw event: one frame per block.
// Only the first and the last frames take part in a conversion.
type RawCapture struct {
	DeviceN uint32
	EventN  uint32
	Frames  [][]byte
}

// IsCaptureTag reports whether desc is one of the CE65 event descriptions.
func IsCaptureTag(desc string) bool {
	for _, tag := range CaptureTags {
		if desc == tag {
			return true
		}
	}
	return false
}

// AsCapture returns the typed capture when the event carries a CE65 tag.
func AsCapture(ev RawEvent) (RawCapture, bool) {
	if !IsCaptureTag(ev.Description) {
		return RawCapture{}, false
	}
	return RawCapture{
		DeviceN: ev.DeviceN,
		EventN:  ev.EventN,
		Frames:  ev.Blocks,
	}, true
}

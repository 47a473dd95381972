package analysis

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/ce65_converter_go/internal/config"
	"github.com/user/ce65_converter_go/internal/parser"
)

type fakeRecorder struct {
	mu          sync.Mutex
	mode        string
	conversions int
	pixels      int
	declines    map[string]int
	failures    map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{declines: map[string]int{}, failures: map[string]int{}}
}

func (r *fakeRecorder) SetMode(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

func (r *fakeRecorder) ObserveConversion(mode string, pixels int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversions++
	r.pixels += pixels
}

func (r *fakeRecorder) ObserveDecline(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declines[reason]++
}

func (r *fakeRecorder) ObserveFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[reason]++
}

func TestConvert_SimpleCutHit(t *testing.T) {
	g := parser.DefaultGeometry()
	c := NewConverter(nil)

	ev := ce65Event(makeFrame(g), makeFrame(g, pixelValue{10, 5, 2000}))
	plane, ok, err := c.Convert(ev)
	if err != nil || !ok {
		t.Fatalf("Convert() = (%v, %v), want ok", ok, err)
	}
	if plane.Mode != SimpleCut {
		t.Errorf("Mode = %v, want SimpleCut", plane.Mode)
	}
	want := []SparsePixel{{Column: 10, Row: 5, Value: 1}}
	if len(plane.Pixels) != len(want) || plane.Pixels[0] != want[0] {
		t.Errorf("Pixels = %v, want %v", plane.Pixels, want)
	}
	if plane.Width != 64 || plane.Height != 32 || plane.DeviceN != 4 || plane.EventN != 1 {
		t.Errorf("plane header = %dx%d dev %d evt %d", plane.Width, plane.Height, plane.DeviceN, plane.EventN)
	}
	if plane.Type != "ITS3DAQ" || plane.Sensor != "CE65" {
		t.Errorf("plane labels = %q/%q", plane.Type, plane.Sensor)
	}
}

func TestConvert_SimpleCutBelowThreshold(t *testing.T) {
	g := parser.DefaultGeometry()
	c := NewConverter(nil)

	plane, ok, err := c.Convert(ce65Event(makeFrame(g), makeFrame(g, pixelValue{10, 5, 1400})))
	if err != nil || !ok {
		t.Fatalf("Convert() = (%v, %v), want ok", ok, err)
	}
	if plane.NumPixels() != 0 {
		t.Errorf("NumPixels() = %d, want 0", plane.NumPixels())
	}
}

func TestConvert_UsesFirstAndLastFrames(t *testing.T) {
	g := parser.DefaultGeometry()
	c := NewConverter(nil)

	ev := ce65Event(
		makeFrame(g, pixelValue{0, 0, 100}),
		makeFrame(g, pixelValue{0, 0, 30000}, pixelValue{1, 1, 30000}),
		makeFrame(g, pixelValue{0, 0, 1700}),
	)
	plane, _, err := c.Convert(ev)
	if err != nil {
		t.Fatal(err)
	}
	// 1700 - 100 = 1600 > 1500; the middle frame is ignored
	if len(plane.Pixels) != 1 || plane.Pixels[0].Column != 0 || plane.Pixels[0].Row != 0 {
		t.Errorf("Pixels = %v, want only (0,0)", plane.Pixels)
	}
}

func TestConvert_CalibratedAnalysis(t *testing.T) {
	g := parser.DefaultGeometry()
	load := func(path string, g parser.Geometry) (*CalibrationLookup, error) {
		return NewCalibrationLookup(uniformCalibration(g, 0, 1,
			parser.CalibrationRecord{Column: 3, Row: 3, Pedestal: 100, Noise: 5}), g)
	}
	cfg := &config.Config{Identifier: "CE65_4", CalibrationFile: "calib.csv"}
	c := NewConverter(cfg, WithCalibrationLoader(load))

	plane, ok, err := c.Convert(ce65Event(makeFrame(g), makeFrame(g, pixelValue{3, 3, 150})))
	if err != nil || !ok {
		t.Fatalf("Convert() = (%v, %v), want ok", ok, err)
	}
	if plane.Mode != CalibratedAnalysis {
		t.Fatalf("Mode = %v, want CalibratedAnalysis", plane.Mode)
	}
	if plane.NumPixels() != g.NumPixels() {
		t.Fatalf("NumPixels() = %d, want %d", plane.NumPixels(), g.NumPixels())
	}
	px := plane.Pixels[g.Index(3, 3)]
	if px != (SparsePixel{Column: 3, Row: 3, Value: 50}) {
		t.Errorf("pixel (3,3) = %+v, want value 50", px)
	}
}

func TestConvert_Errors(t *testing.T) {
	g := parser.DefaultGeometry()
	tests := []struct {
		name   string
		ev     parser.RawEvent
		want   error
		reason string
	}{
		{name: "single frame", ev: ce65Event(makeFrame(g)), want: ErrInsufficientFrames, reason: "insufficient_frames"},
		{name: "no frames", ev: ce65Event(), want: ErrInsufficientFrames, reason: "insufficient_frames"},
		{name: "short frame", ev: ce65Event(makeFrame(g), make([]byte, 100)), want: parser.ErrSizeMismatch, reason: "size_mismatch"},
		{name: "long first frame", ev: ce65Event(make([]byte, g.FrameSize()+2), makeFrame(g)), want: parser.ErrSizeMismatch, reason: "size_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newFakeRecorder()
			c := NewConverter(nil, WithRecorder(rec))
			plane, ok, err := c.Convert(tt.ev)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Convert() error = %v, want %v", err, tt.want)
			}
			if ok || plane != nil {
				t.Errorf("Convert() = (%v, %v), want no plane", plane, ok)
			}
			if rec.failures[tt.reason] != 1 {
				t.Errorf("failures = %v, want one %q", rec.failures, tt.reason)
			}
		})
	}
}

func TestConvert_Declines(t *testing.T) {
	g := parser.DefaultGeometry()
	frames := [][]byte{makeFrame(g), makeFrame(g, pixelValue{1, 1, 5000})}

	tests := []struct {
		name   string
		cfg    *config.Config
		desc   string
		reason string
	}{
		{name: "other sensor", cfg: &config.Config{Identifier: "OtherSensor_2"}, desc: "CE65Raw", reason: DeclineIdentifier},
		{name: "custom pattern", cfg: &config.Config{Identifier: "CE65_4", IdentifierPattern: "DUT_"}, desc: "CE65Raw", reason: DeclineIdentifier},
		{name: "other description", cfg: nil, desc: "ALPIDE", reason: DeclineDescription},
		{name: "lower case tag", cfg: nil, desc: "ce65raw", reason: DeclineDescription},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newFakeRecorder()
			c := NewConverter(tt.cfg, WithRecorder(rec))
			plane, ok, err := c.Convert(parser.RawEvent{Description: tt.desc, Blocks: frames})
			if err != nil || ok || plane != nil {
				t.Errorf("Convert() = (%v, %v, %v), want decline", plane, ok, err)
			}
			if rec.declines[tt.reason] != 1 {
				t.Errorf("declines = %v, want one %q", rec.declines, tt.reason)
			}
		})
	}
}

func TestConvert_AcceptsEveryTag(t *testing.T) {
	g := parser.DefaultGeometry()
	c := NewConverter(&config.Config{Identifier: "CE65_4"})
	for _, tag := range parser.CaptureTags {
		ev := parser.RawEvent{Description: tag, Blocks: [][]byte{makeFrame(g), makeFrame(g)}}
		if _, ok, err := c.Convert(ev); !ok || err != nil {
			t.Errorf("Convert(%q) = (%v, %v), want ok", tag, ok, err)
		}
	}
}

func TestConverter_LoadsCalibrationOnce(t *testing.T) {
	g := parser.DefaultGeometry()
	var calls atomic.Int32
	load := func(path string, g parser.Geometry) (*CalibrationLookup, error) {
		calls.Add(1)
		return NewCalibrationLookup(uniformCalibration(g, 0, 1), g)
	}
	rec := newFakeRecorder()
	c := NewConverter(&config.Config{Sensor: &config.SensorConfig{CalibrationFile: "calib.csv"}},
		WithCalibrationLoader(load), WithRecorder(rec))

	ev := ce65Event(makeFrame(g), makeFrame(g, pixelValue{2, 2, 50}))
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plane, ok, err := c.Convert(ev)
			if err != nil || !ok {
				t.Errorf("Convert() = (%v, %v)", ok, err)
				return
			}
			if plane.Mode != CalibratedMonitor || plane.NumPixels() != 1 {
				t.Errorf("plane mode %v with %d pixels", plane.Mode, plane.NumPixels())
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
	if rec.mode != "CalibratedMonitor" || rec.conversions != 32 || rec.pixels != 32 {
		t.Errorf("recorder = mode %q, %d conversions, %d pixels", rec.mode, rec.conversions, rec.pixels)
	}
}

func TestConverter_CalibrationFailureFallsBack(t *testing.T) {
	g := parser.DefaultGeometry()
	load := func(path string, g parser.Geometry) (*CalibrationLookup, error) {
		return nil, parser.ErrCalibrationFormat
	}
	c := NewConverter(&config.Config{Identifier: "CE65_4", CalibrationFile: "broken.csv"}, WithCalibrationLoader(load))

	plane, ok, err := c.Convert(ce65Event(makeFrame(g), makeFrame(g, pixelValue{10, 5, 2000})))
	if err != nil || !ok {
		t.Fatalf("Convert() = (%v, %v), want ok", ok, err)
	}
	if plane.Mode != SimpleCut || plane.NumPixels() != 1 {
		t.Errorf("plane mode %v with %d pixels, want SimpleCut with 1", plane.Mode, plane.NumPixels())
	}
}

func TestConverter_ConfigErrorIsSticky(t *testing.T) {
	g := parser.DefaultGeometry()
	rec := newFakeRecorder()
	c := NewConverter(&config.Config{Sensor: &config.SensorConfig{
		SubmatrixEdge:      config.IntList{10, 20},
		SubmatrixThreshold: config.IntList{1, 2},
	}}, WithRecorder(rec))

	ev := ce65Event(makeFrame(g), makeFrame(g))
	for i := 0; i < 2; i++ {
		if _, ok, err := c.Convert(ev); ok || !errors.Is(err, ErrThresholdCoverage) {
			t.Errorf("Convert() #%d = (%v, %v), want ErrThresholdCoverage", i, ok, err)
		}
	}
	if _, err := c.Suppressor(); !errors.Is(err, ErrThresholdCoverage) {
		t.Errorf("Suppressor() error = %v", err)
	}
	if rec.failures["config"] != 2 {
		t.Errorf("failures = %v, want two config", rec.failures)
	}
}

func TestConverter_CustomGeometry(t *testing.T) {
	g := parser.Geometry{Width: 8, Height: 4}
	cfg := &config.Config{
		Geometry: g,
		Sensor: &config.SensorConfig{
			SubmatrixEdge:      config.IntList{4, 8},
			SubmatrixThreshold: config.IntList{10, 20},
		},
	}
	c := NewConverter(cfg)
	if c.Geometry() != g {
		t.Fatalf("Geometry() = %v, want %v", c.Geometry(), g)
	}
	plane, _, err := c.Convert(ce65Event(makeFrame(g), makeFrame(g, pixelValue{3, 0, 11}, pixelValue{4, 1, 11}, pixelValue{7, 3, 21})))
	if err != nil {
		t.Fatal(err)
	}
	want := []SparsePixel{{3, 0, 1}, {7, 3, 1}}
	if len(plane.Pixels) != len(want) {
		t.Fatalf("Pixels = %v, want %v", plane.Pixels, want)
	}
	for i := range want {
		if plane.Pixels[i] != want[i] {
			t.Errorf("Pixels[%d] = %v, want %v", i, plane.Pixels[i], want[i])
		}
	}
	if _, _, err := c.Convert(ce65Event(makeFrame(g), makeFrame(parser.DefaultGeometry()))); !errors.Is(err, parser.ErrSizeMismatch) {
		t.Errorf("Convert(64x32 frame) error = %v, want ErrSizeMismatch", err)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInsufficientFrames, "insufficient_frames"},
		{parser.ErrSizeMismatch, "size_mismatch"},
		{parser.ErrDimensionMismatch, "dimension_mismatch"},
		{ErrInvalidBoundaries, "config"},
		{config.ErrInvalidList, "config"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := FailureReason(tt.err); got != tt.want {
			t.Errorf("FailureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

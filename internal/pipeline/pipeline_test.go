package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/config"
	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/parser"
)

func init() {
	logging.SetOutput(io.Discard)
}

type sliceSource struct {
	events []parser.RawEvent
	err    error // returned after the events instead of io.EOF
}

func (s *sliceSource) Next() (parser.RawEvent, error) {
	if len(s.events) == 0 {
		if s.err != nil {
			return parser.RawEvent{}, s.err
		}
		return parser.RawEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []uint32
}

func (s *recordingSink) PublishPlane(plane *analysis.StandardPlane) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, plane.EventN)
	return nil
}

// hitEvent fires pixel (column, 0) so each event is recognizable in the output.
func hitEvent(eventN uint32, column int) parser.RawEvent {
	g := parser.DefaultGeometry()
	first := parser.NewPixelMatrix(g)
	last := parser.NewPixelMatrix(g)
	last.Set(column, 0, 3000)
	return parser.RawEvent{
		Description: "CE65Raw",
		EventN:      eventN,
		Blocks:      [][]byte{parser.EncodeFrame(first), parser.EncodeFrame(last)},
	}
}

func TestRun_PreservesOrder(t *testing.T) {
	var events []parser.RawEvent
	for i := 0; i < 100; i++ {
		events = append(events, hitEvent(uint32(i), i%64))
	}
	var out bytes.Buffer
	sink := &recordingSink{}
	hitmap := analysis.NewHitmap(parser.DefaultGeometry())
	progress := 0

	stats, err := Run(context.Background(), &sliceSource{events: events}, Options{
		Converter: analysis.NewConverter(nil),
		Workers:   4,
		Hitmap:    hitmap,
		Output:    &out,
		Sink:      sink,
		Progress:  func(Stats) { progress++ },
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if stats != (Stats{Read: 100, Converted: 100}) {
		t.Errorf("stats = %+v", stats)
	}
	if progress == 0 {
		t.Error("Progress never called")
	}

	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	n := 0
	for scanner.Scan() {
		var plane struct {
			Event  uint32 `json:"event"`
			Mode   string `json:"mode"`
			Pixels []struct {
				X int `json:"x"`
			} `json:"pixels"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &plane); err != nil {
			t.Fatalf("line %d: %v", n, err)
		}
		if plane.Event != uint32(n) || plane.Mode != "SimpleCut" {
			t.Errorf("line %d = event %d mode %q", n, plane.Event, plane.Mode)
		}
		if len(plane.Pixels) != 1 || plane.Pixels[0].X != n%64 {
			t.Errorf("line %d pixels = %v", n, plane.Pixels)
		}
		n++
	}
	if n != 100 {
		t.Errorf("wrote %d lines, want 100", n)
	}
	for i, ev := range sink.events {
		if ev != uint32(i) {
			t.Fatalf("sink event %d = %d", i, ev)
		}
	}
	if s := hitmap.Summarize(0); s.Events != 100 {
		t.Errorf("hitmap events = %d", s.Events)
	}
}

func TestRun_CountsDeclinesAndFailures(t *testing.T) {
	events := []parser.RawEvent{
		hitEvent(0, 1),
		{Description: "ALPIDE", EventN: 1},
		{Description: "CE65", EventN: 2, Blocks: [][]byte{make([]byte, 10)}},
		hitEvent(3, 2),
	}
	hitmap := analysis.NewHitmap(parser.DefaultGeometry())
	stats, err := Run(context.Background(), &sliceSource{events: events}, Options{
		Converter: analysis.NewConverter(nil),
		Workers:   2,
		Hitmap:    hitmap,
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	want := Stats{Read: 4, Converted: 2, Declined: 1, Failed: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	s := hitmap.Summarize(0)
	if s.Declined != 1 || s.Failed != 1 || len(s.ConversionErrors) != 1 {
		t.Errorf("hitmap = declined %d failed %d errors %v", s.Declined, s.Failed, s.ConversionErrors)
	}
}

func TestRun_StopOnError(t *testing.T) {
	events := []parser.RawEvent{
		hitEvent(0, 1),
		{Description: "CE65", EventN: 1, Blocks: [][]byte{make([]byte, 10)}},
	}
	_, err := Run(context.Background(), &sliceSource{events: events}, Options{
		Converter:   analysis.NewConverter(nil),
		StopOnError: true,
	})
	if !errors.Is(err, analysis.ErrInsufficientFrames) {
		t.Errorf("Run() error = %v, want ErrInsufficientFrames", err)
	}
}

func TestRun_ConfigErrorFailsEveryEvent(t *testing.T) {
	cfg := &config.Config{Sensor: &config.SensorConfig{
		SubmatrixEdge:      config.IntList{8},
		SubmatrixThreshold: config.IntList{100},
	}}
	stats, err := Run(context.Background(), &sliceSource{events: []parser.RawEvent{hitEvent(0, 1), hitEvent(1, 1)}}, Options{
		Converter: analysis.NewConverter(cfg),
	})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if stats.Failed != 2 || stats.Converted != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRun_ReadError(t *testing.T) {
	src := &sliceSource{events: []parser.RawEvent{hitEvent(0, 1)}, err: parser.ErrTruncatedEvent}
	var out bytes.Buffer
	stats, err := Run(context.Background(), src, Options{Converter: analysis.NewConverter(nil), Output: &out})
	if !errors.Is(err, parser.ErrTruncatedEvent) {
		t.Fatalf("Run() error = %v, want ErrTruncatedEvent", err)
	}
	if stats.Converted != 1 || out.Len() == 0 {
		t.Errorf("events before the error were not emitted: %+v", stats)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, &sliceSource{events: []parser.RawEvent{hitEvent(0, 1)}}, Options{Converter: analysis.NewConverter(nil)}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRun_NoConverter(t *testing.T) {
	if _, err := Run(context.Background(), &sliceSource{}, Options{}); err == nil {
		t.Error("Run() without converter expected error")
	}
}

func TestRun_CaptureStream(t *testing.T) {
	var buf bytes.Buffer
	w, err := parser.NewCaptureWriter(&buf, true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := w.Write(hitEvent(uint32(i), i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := parser.NewCaptureReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	read := 0
	stats, err := Run(context.Background(), r, Options{Converter: analysis.NewConverter(nil), OnEvent: func() { read++ }})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if stats.Converted != 10 || read != 10 || r.Events() != 10 {
		t.Errorf("stats = %+v, OnEvent %d, reader %d", stats, read, r.Events())
	}
}

func TestReadPedestalRun(t *testing.T) {
	src := &sliceSource{events: []parser.RawEvent{hitEvent(0, 1), {Description: "TLU"}, hitEvent(2, 1)}}
	captures, err := ReadPedestalRun(src)
	if err != nil {
		t.Fatalf("ReadPedestalRun() unexpected error: %v", err)
	}
	if len(captures) != 2 || captures[1].EventN != 2 {
		t.Errorf("captures = %d", len(captures))
	}
}

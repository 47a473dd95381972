package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/parser"
)

func init() {
	logging.SetOutput(io.Discard)
}

func writeCapture(t *testing.T, events ...parser.RawEvent) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.rawe")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := parser.NewCaptureWriter(f, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range events {
		if err := w.Write(ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func frames(n int, value int16) [][]byte {
	g := parser.DefaultGeometry()
	out := make([][]byte, n)
	for i := range out {
		m := parser.NewPixelMatrix(g)
		m.Set(0, 0, value*int16(i))
		out[i] = parser.EncodeFrame(m)
	}
	return out
}

func TestRunDump(t *testing.T) {
	path := writeCapture(t,
		parser.RawEvent{Description: "TLU", EventN: 1},
		parser.RawEvent{Description: "CE65Raw", DeviceN: 4, EventN: 2, Blocks: frames(3, 7)},
		parser.RawEvent{Description: "CE65Raw", DeviceN: 4, EventN: 3, Blocks: frames(2, 7)},
	)

	var out bytes.Buffer
	if err := runDump([]string{path}, &out); err != nil {
		t.Fatalf("runDump() unexpected error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "== device 4 event 2: 3 frames") {
		t.Errorf("missing event header in:\n%s", text)
	}
	if strings.Contains(text, "event 3") {
		t.Error("dumped more than one event")
	}
	if strings.Contains(text, "-- frame 1\n") || !strings.Contains(text, "-- frame 2\n") {
		t.Error("expected only the first and last frames")
	}
	if !strings.Contains(text, "Y 0\t14,0,") {
		t.Error("last frame row 0 not dumped")
	}

	out.Reset()
	if err := runDump([]string{"-n", "0", "-all", path}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "-- frame 1\n") || !strings.Contains(out.String(), "event 3") {
		t.Error("-all -n 0 did not dump every frame of every event")
	}
}

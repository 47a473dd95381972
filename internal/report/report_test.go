package report

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/logging"
	"github.com/user/ce65_converter_go/internal/parser"
)

var pngMagic = []byte("\x89PNG")

func init() {
	logging.SetOutput(io.Discard)
}

func runSummary(mode analysis.Mode) *analysis.RunSummary {
	g := parser.DefaultGeometry()
	h := analysis.NewHitmap(g)
	for i := 0; i < 20; i++ {
		plane := analysis.NewStandardPlane(4, uint32(i), g, mode)
		plane.PushPixel(10, 5, 40+float64(i))
		plane.PushPixel(i%g.Width, i%g.Height, float64(i))
		h.Add(plane)
	}
	h.AddDeclined()
	h.AddFailure(99, analysis.ErrInsufficientFrames)
	return h.Summarize(10)
}

func TestCreateHitmapPlot(t *testing.T) {
	s := runSummary(analysis.SimpleCut)
	for _, m := range []string{MapHits, MapOccupancy, MapMeanCharge} {
		img, err := CreateHitmapPlot(s, m, "test")
		if err != nil {
			t.Fatalf("CreateHitmapPlot(%s) unexpected error: %v", m, err)
		}
		if !bytes.HasPrefix(img, pngMagic) {
			t.Errorf("CreateHitmapPlot(%s) did not return a PNG", m)
		}
	}
	if _, err := CreateHitmapPlot(s, "noise", "test"); err == nil {
		t.Error("CreateHitmapPlot(unknown map) expected error")
	}
	empty := analysis.NewHitmap(parser.DefaultGeometry()).Summarize(1)
	if _, err := CreateHitmapPlot(empty, MapHits, "test"); !errors.Is(err, ErrNoData) {
		t.Errorf("CreateHitmapPlot(empty) error = %v, want ErrNoData", err)
	}
}

func TestCreateColumnPlot(t *testing.T) {
	subs := analysis.DefaultThresholdTable().Entries()
	img, err := CreateColumnPlot(runSummary(analysis.SimpleCut), subs)
	if err != nil {
		t.Fatalf("CreateColumnPlot() unexpected error: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Error("CreateColumnPlot() did not return a PNG")
	}
}

func TestCreateChargeHistogram(t *testing.T) {
	img, err := CreateChargeHistogram(runSummary(analysis.CalibratedAnalysis), 0)
	if err != nil {
		t.Fatalf("CreateChargeHistogram() unexpected error: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Error("CreateChargeHistogram() did not return a PNG")
	}
	if _, err := CreateChargeHistogram(runSummary(analysis.SimpleCut), 10); !errors.Is(err, ErrNoData) {
		t.Errorf("CreateChargeHistogram(binary run) error = %v, want ErrNoData", err)
	}
}

func TestCreatePlots(t *testing.T) {
	binary := CreatePlots(runSummary(analysis.SimpleCut), nil)
	if len(binary) != 2 || binary[PlotHitmap] == nil || binary[PlotColumns] == nil {
		t.Errorf("CreatePlots(SimpleCut) keys = %v", keys(binary))
	}
	charge := CreatePlots(runSummary(analysis.CalibratedAnalysis), nil)
	if len(charge) != 4 {
		t.Errorf("CreatePlots(CalibratedAnalysis) keys = %v", keys(charge))
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestBuildPDFReport(t *testing.T) {
	tests := []struct {
		name    string
		summary *analysis.RunSummary
	}{
		{name: "simple cut", summary: runSummary(analysis.SimpleCut)},
		{name: "charge", summary: runSummary(analysis.CalibratedAnalysis)},
		{name: "empty", summary: analysis.NewHitmap(parser.DefaultGeometry()).Summarize(1)},
		{name: "nil", summary: nil},
	}
	info := ReportInfo{Source: "run042.rawe", RunID: "abc", Submatrices: analysis.DefaultThresholdTable().Entries()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := BuildPDFReport(&buf, info, tt.summary, CreatePlots(tt.summary, info.Submatrices)); err != nil {
				t.Fatalf("BuildPDFReport() unexpected error: %v", err)
			}
			if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
				t.Error("BuildPDFReport() did not write a PDF")
			}
		})
	}
}

func TestWritePDFReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := WritePDFReportFile(path, ReportInfo{Source: "test"}, runSummary(analysis.SimpleCut)); err != nil {
		t.Fatalf("WritePDFReportFile() unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Error("report file is not a PDF")
	}
}

package analysis

import (
	"fmt"
	"sort"
	"sync"

	"github.com/user/ce65_converter_go/internal/parser"
)

// maxChargeSamples caps the charge values kept for the spectrum.
const maxChargeSamples = 1 << 20

// maxRunErrors caps the error messages kept per run.
const maxRunErrors = 100

// Hitmap accumulates converted planes over a run. It is safe for concurrent use.
type Hitmap struct {
	mu sync.Mutex

	geometry parser.Geometry
	mode     Mode
	hits     []int
	charge   []float64
	charges  []float64
	events   int
	pixels   int
	declined int
	failed   int
	errors   []string
}

func NewHitmap(g parser.Geometry) *Hitmap {
	return &Hitmap{
		geometry: g,
		hits:     make([]int, g.NumPixels()),
		charge:   make([]float64, g.NumPixels()),
		charges:  make([]float64, 0),
		errors:   make([]string, 0),
	}
}

// Add accounts one converted plane.
func (h *Hitmap) Add(plane *StandardPlane) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.mode = plane.Mode
	h.events++
	h.pixels += len(plane.Pixels)
	for _, px := range plane.Pixels {
		if !h.geometry.Contains(px.Column, px.Row) {
			continue
		}
		p := h.geometry.Index(px.Column, px.Row)
		h.hits[p]++
		h.charge[p] += px.Value
		if !plane.Mode.Binary() && len(h.charges) < maxChargeSamples {
			h.charges = append(h.charges, px.Value)
		}
	}
}

func (h *Hitmap) AddDeclined() {
	h.mu.Lock()
	h.declined++
	h.mu.Unlock()
}

// AddFailure counts a failed event and keeps its message.
func (h *Hitmap) AddFailure(eventN uint32, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed++
	if len(h.errors) < maxRunErrors {
		h.errors = append(h.errors, fmt.Sprintf("event %d: %v", eventN, err))
	}
}

// RankedPixel is used for ranking pixels by hit count.
type RankedPixel struct {
	Column int
	Row    int
	Value  float64
}

// RunSummary is a snapshot of a Hitmap.
type RunSummary struct {
	Geometry         parser.Geometry
	Mode             Mode
	Events           int
	Declined         int
	Failed           int
	Pixels           int
	MeanPixels       float64   // Surviving pixels per converted event
	Hits             []int     // Per pixel, PixelMatrix layout
	MeanCharge       []float64 // Per pixel mean value of surviving entries
	ColumnHits       []int     // Hits summed over each column
	Charges          []float64 // Charge samples, analysis mode only
	RankedByHits     []RankedPixel
	ConversionErrors []string
}

// Occupancy is the fraction of converted events in which the pixel survived.
func (s *RunSummary) Occupancy(column, row int) float64 {
	if s.Events == 0 {
		return 0
	}
	return float64(s.Hits[s.Geometry.Index(column, row)]) / float64(s.Events)
}

// Summarize copies the accumulated state and ranks the top pixels by hits.
func (h *Hitmap) Summarize(top int) *RunSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.geometry
	s := &RunSummary{
		Geometry:         g,
		Mode:             h.mode,
		Events:           h.events,
		Declined:         h.declined,
		Failed:           h.failed,
		Pixels:           h.pixels,
		Hits:             append([]int(nil), h.hits...),
		MeanCharge:       make([]float64, g.NumPixels()),
		ColumnHits:       make([]int, g.Width),
		Charges:          append([]float64(nil), h.charges...),
		RankedByHits:     make([]RankedPixel, 0),
		ConversionErrors: append([]string(nil), h.errors...),
	}
	if h.events > 0 {
		s.MeanPixels = float64(h.pixels) / float64(h.events)
	}

	for p, n := range h.hits {
		column, row := g.Coords(p)
		s.ColumnHits[column] += n
		if n == 0 {
			continue
		}
		s.MeanCharge[p] = h.charge[p] / float64(n)
		s.RankedByHits = append(s.RankedByHits, RankedPixel{Column: column, Row: row, Value: float64(n)})
	}

	// Descending by hits, pixel order among equals
	sort.SliceStable(s.RankedByHits, func(i, j int) bool {
		return s.RankedByHits[i].Value > s.RankedByHits[j].Value
	})
	if top >= 0 && len(s.RankedByHits) > top {
		s.RankedByHits = s.RankedByHits[:top]
	}
	return s
}

package analysis

import (
	"fmt"

	"github.com/user/ce65_converter_go/internal/config"
)

// Submatrix is a column range ending before Edge sharing one threshold.
type Submatrix struct {
	Edge      int
	Threshold int
}

// ThresholdTable maps a column to the threshold of its submatrix. It is
// immutable once built.
type ThresholdTable struct {
	entries []Submatrix
}

// NewThresholdTable validates the boundaries: same length, at least one,
// strictly increasing edges, and the last edge reaching width.
func NewThresholdTable(edges, thresholds []int, width int) (ThresholdTable, error) {
	if len(edges) == 0 || len(edges) != len(thresholds) {
		return ThresholdTable{}, fmt.Errorf("%w: %d edges, %d thresholds", ErrInvalidBoundaries, len(edges), len(thresholds))
	}
	entries := make([]Submatrix, len(edges))
	for i, edge := range edges {
		if i > 0 && edge <= edges[i-1] {
			return ThresholdTable{}, fmt.Errorf("%w: edge %d (%d) not above %d", ErrInvalidBoundaries, i, edge, edges[i-1])
		}
		entries[i] = Submatrix{Edge: edge, Threshold: thresholds[i]}
	}
	if last := edges[len(edges)-1]; last < width {
		return ThresholdTable{}, fmt.Errorf("%w: last edge %d, width %d", ErrThresholdCoverage, last, width)
	}
	return ThresholdTable{entries: entries}, nil
}

// DefaultThresholdTable is {21->1500, 42->1800, 64->500}.
func DefaultThresholdTable() ThresholdTable {
	entries := make([]Submatrix, len(config.DefaultSubmatrixEdges))
	for i, edge := range config.DefaultSubmatrixEdges {
		entries[i] = Submatrix{Edge: edge, Threshold: config.DefaultSubmatrixThresholds[i]}
	}
	return ThresholdTable{entries: entries}
}

// Lookup returns the threshold of the first submatrix whose edge is above column.
func (t ThresholdTable) Lookup(column int) (int, error) {
	for _, sub := range t.entries {
		if column < sub.Edge {
			return sub.Threshold, nil
		}
	}
	return 0, fmt.Errorf("%w: column %d", ErrThresholdCoverage, column)
}

// PerColumn resolves the threshold of every column in [0, width).
func (t ThresholdTable) PerColumn(width int) ([]int, error) {
	thresholds := make([]int, width)
	for column := range thresholds {
		thr, err := t.Lookup(column)
		if err != nil {
			return nil, err
		}
		thresholds[column] = thr
	}
	return thresholds, nil
}

func (t ThresholdTable) Entries() []Submatrix {
	out := make([]Submatrix, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t ThresholdTable) Len() int {
	return len(t.entries)
}

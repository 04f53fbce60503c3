package sheet

import "context"

// Row is one spreadsheet record: the header labels in sheet order plus the
// cell value for each label. Values are strings or float64 (unformatted
// numbers); a missing cell is simply absent from the map.
//
// Rows are produced fresh on every fetch and never retained between firings.
type Row struct {
	Headers []string
	Cells   map[string]any
}

// Get returns the cell under the given header label.
func (r Row) Get(label string) (any, bool) {
	v, ok := r.Cells[label]
	return v, ok
}

// Source is the external row provider. Implementations fetch over the
// network and must surface failures as errors, never panic.
type Source interface {
	FetchRows(ctx context.Context) ([]Row, error)
}

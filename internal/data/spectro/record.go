// Package spectro parses point-spectroscopy files and maintains the
// modification-time keyed parse cache used during folder rescans.
package spectro

import (
	"time"
)

// Record is a single point (or grid-point) spectroscopy measurement.
// Immutable after parse.
type Record struct {
	Path string
	// Time is the acquisition timestamp; zero when the file carries
	// none, in which case assignment falls back to the filename
	// heuristic.
	Time time.Time
	// Position in physical units, valid when HasPosition is set.
	X, Y        float64
	HasPosition bool
	// Grid placement for grid-acquired sets; dims are zero for single
	// point records.
	GridRow, GridCol   int
	GridRows, GridCols int
	// Bias sweep values, one per sample row.
	Bias []float64
	// Channels maps channel name to its value array, aligned with Bias.
	Channels map[string][]float64
	// MatrixIndex is the ordinal within a grid-acquired set, -1 when
	// the record is not part of one.
	MatrixIndex int
}

// PixelPosition maps the record's physical position onto a scan's
// pixel raster given the scan center, ranges, and pixel dimensions.
// When the physical position falls outside the scan extent (or the
// record has none), the grid placement is used instead. ok is false
// when neither applies.
func (r *Record) PixelPosition(centerX, centerY, rangeX, rangeY float64, xpix, ypix int) (col, row float64, ok bool) {
	if r.HasPosition && rangeX > 0 && rangeY > 0 {
		xmin := centerX - rangeX/2
		xmax := centerX + rangeX/2
		ymin := centerY - rangeY/2
		ymax := centerY + rangeY/2
		fracX := (r.X - xmin) / (xmax - xmin)
		fracY := (ymax - r.Y) / (ymax - ymin)
		if fracX >= 0 && fracX <= 1 && fracY >= 0 && fracY <= 1 {
			return fracX * float64(maxInt(1, xpix-1)), fracY * float64(maxInt(1, ypix-1)), true
		}
	}
	return r.gridPixelPosition(xpix, ypix)
}

func (r *Record) gridPixelPosition(xpix, ypix int) (col, row float64, ok bool) {
	if r.GridCols <= 0 || r.GridRows <= 0 {
		return 0, 0, false
	}
	cols := maxInt(1, r.GridCols-1)
	rows := maxInt(1, r.GridRows-1)
	colFrac := float64(r.GridCol) / float64(cols)
	rowFrac := float64(r.GridRow) / float64(rows)
	return colFrac * float64(maxInt(1, xpix-1)), rowFrac * float64(maxInt(1, ypix-1)), true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package grid provides the 2-D float64 array type shared by the
// decode/filter/downsample pipeline.
package grid

import (
	"math"
	"sort"
)

// Grid is a row-major 2-D array of float64 samples.
type Grid struct {
	W, H int
	Data []float64 // len == W*H
}

// New allocates a zero-filled grid of the given dimensions.
func New(w, h int) *Grid {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Grid{W: w, H: h, Data: make([]float64, w*h)}
}

// At returns the value at (row, col). Callers are expected to pass
// in-range indices.
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.W+col]
}

// Set stores v at (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*g.W+col] = v
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{W: g.W, H: g.H, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// Size returns the number of samples.
func (g *Grid) Size() int {
	return len(g.Data)
}

// Downsample reduces the grid to at most (w, h) by nearest-neighbor
// index selection: evenly spaced source indices are picked via linear
// interpolation rounded to the nearest integer. Exact pixel
// correspondence is preserved for value probing, so no averaging is
// performed. Grids already within the target in both dimensions are
// returned unchanged, and no axis is ever upsampled.
func (g *Grid) Downsample(w, h int) *Grid {
	if g.Size() == 0 || w <= 0 || h <= 0 {
		return g
	}
	if g.H <= h && g.W <= w {
		return g
	}
	outH := min(h, g.H)
	outW := min(w, g.W)

	rows := spacedIndices(g.H, outH)
	cols := spacedIndices(g.W, outW)

	out := New(outW, outH)
	for r, sr := range rows {
		for c, sc := range cols {
			out.Set(r, c, g.At(sr, sc))
		}
	}
	return out
}

// spacedIndices returns n indices evenly spaced over [0, size-1],
// rounded to the nearest integer.
func spacedIndices(size, n int) []int {
	idx := make([]int, n)
	if n == 1 {
		return idx
	}
	step := float64(size-1) / float64(n-1)
	for i := range idx {
		v := int(math.Round(float64(i) * step))
		if v > size-1 {
			v = size - 1
		}
		idx[i] = v
	}
	return idx
}

// RobustLimits returns percentile-based intensity limits over the
// finite samples, widening equal limits by a small epsilon so callers
// can always normalize. ok is false when the grid has no finite data.
func (g *Grid) RobustLimits(lowPct, highPct float64) (vmin, vmax float64, ok bool) {
	finite := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, 0, false
	}
	low := math.Max(0, math.Min(lowPct, 100))
	high := math.Max(low+0.001, math.Min(highPct, 100))
	vmin = percentile(finite, low)
	vmax = percentile(finite, high)
	if vmin == vmax {
		vmax = vmin + 1e-12
	}
	return vmin, vmax, true
}

// percentile computes the linearly interpolated percentile of vals.
// vals is sorted in place.
func percentile(vals []float64, pct float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n == 1 {
		return vals[0]
	}
	pos := pct / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return vals[lo]
	}
	frac := pos - float64(lo)
	return vals[lo] + frac*(vals[hi]-vals[lo])
}

// InterpIndex maps a physical coordinate along an axis spanning
// [start, end] into fractional pixel space of the given size. It
// returns ok=false when the coordinate lies outside the span.
func InterpIndex(coord, start, end float64, size int) (float64, bool) {
	if size <= 0 || start == end {
		return 0, false
	}
	lo := math.Min(start, end)
	hi := math.Max(start, end)
	if coord < lo || coord > hi {
		return 0, false
	}
	var t float64
	if end > start {
		t = (coord - start) / (end - start)
	} else {
		t = (coord - end) / (start - end)
	}
	return t * float64(size-1), true
}

// SampleValue probes the grid at physical coordinate (x, y), mapping
// through the extent (xmin, xmax, ymin, ymax) when provided. Nearest
// pixel is returned; non-finite samples report ok=false.
func (g *Grid) SampleValue(x, y float64, extent *[4]float64) (float64, bool) {
	if g.Size() == 0 {
		return 0, false
	}
	var col, row float64
	if extent != nil {
		c, okC := InterpIndex(x, extent[0], extent[1], g.W)
		r, okR := InterpIndex(y, extent[2], extent[3], g.H)
		if !okC || !okR {
			return 0, false
		}
		col, row = c, r
	} else {
		if x < 0 || y < 0 || x > float64(g.W-1) || y > float64(g.H-1) {
			return 0, false
		}
		col, row = x, y
	}
	ci := clampInt(int(math.Round(col)), 0, g.W-1)
	ri := clampInt(int(math.Round(row)), 0, g.H-1)
	v := g.At(ri, ci)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

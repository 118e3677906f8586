package filter

import (
	"fmt"
	"math"

	"github.com/sxmview/server/internal/grid"
)

// surfaceTerms evaluates the basis terms of a fit surface at pixel
// (x, y). planeTerms spans a*x + b*y + c; quadTerms adds the
// second-order terms.
type surfaceTerms func(x, y float64) []float64

func planeTerms(x, y float64) []float64 {
	return []float64{x, y, 1}
}

func quadTerms(x, y float64) []float64 {
	return []float64{x * x, y * y, x * y, x, y, 1}
}

// fitSurface solves the least-squares coefficients for the given basis
// over all finite samples, via the normal equations. The systems are
// tiny (3x3 or 6x6), so Gaussian elimination with partial pivoting is
// plenty.
func fitSurface(g *grid.Grid, terms surfaceTerms) ([]float64, error) {
	n := len(terms(0, 0))
	ata := make([][]float64, n)
	for i := range ata {
		ata[i] = make([]float64, n)
	}
	atb := make([]float64, n)

	samples := 0
	for r := 0; r < g.H; r++ {
		for c := 0; c < g.W; c++ {
			z := g.At(r, c)
			if math.IsNaN(z) || math.IsInf(z, 0) {
				continue
			}
			t := terms(float64(c), float64(r))
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					ata[i][j] += t[i] * t[j]
				}
				atb[i] += t[i] * z
			}
			samples++
		}
	}
	if samples < n {
		return nil, fmt.Errorf("not enough finite samples for %d-term fit: %d", n, samples)
	}
	coef, err := solve(ata, atb)
	if err != nil {
		return nil, err
	}
	return coef, nil
}

func subtractSurface(g *grid.Grid, coef []float64, terms surfaceTerms) *grid.Grid {
	out := g.Clone()
	for r := 0; r < out.H; r++ {
		for c := 0; c < out.W; c++ {
			t := terms(float64(c), float64(r))
			fit := 0.0
			for i, v := range t {
				fit += coef[i] * v
			}
			out.Set(r, c, out.At(r, c)-fit)
		}
	}
	return out
}

// solve performs in-place Gaussian elimination with partial pivoting
// on the n x n system a*x = b.
func solve(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]
		for row := col + 1; row < n; row++ {
			f := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= f * a[col][k]
			}
			b[row] -= f * b[col]
		}
	}
	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < n; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}

// gaussianBlur applies a separable Gaussian kernel with the given
// sigma, using clamp-to-edge boundary handling.
func gaussianBlur(g *grid.Grid, sigma float64) *grid.Grid {
	if g.Size() == 0 {
		return g
	}
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2

	tmp := grid.New(g.W, g.H)
	for r := 0; r < g.H; r++ {
		for c := 0; c < g.W; c++ {
			sum := 0.0
			for k, w := range kernel {
				sc := clamp(c+k-radius, 0, g.W-1)
				sum += w * g.At(r, sc)
			}
			tmp.Set(r, c, sum)
		}
	}
	out := grid.New(g.W, g.H)
	for r := 0; r < g.H; r++ {
		for c := 0; c < g.W; c++ {
			sum := 0.0
			for k, w := range kernel {
				sr := clamp(r+k-radius, 0, g.H-1)
				sum += w * tmp.At(sr, c)
			}
			out.Set(r, c, sum)
		}
	}
	return out
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

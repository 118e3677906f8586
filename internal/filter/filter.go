// Package filter implements the ordered processing pipeline applied to
// channel grids before thumbnailing, plus the deterministic signature
// used for cache identity.
package filter

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/sxmview/server/internal/grid"
)

// Step is one named transform with named parameters.
type Step struct {
	Name   string            `json:"name" yaml:"name"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Pipeline is an ordered sequence of steps.
type Pipeline struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// Signature is the cache-identity fingerprint of a pipeline: an
// order-preserving rendering of (step name, sorted parameter pairs).
// Equal signatures guarantee identical output for identical input.
type Signature string

// Signature computes the pipeline's fingerprint. The empty pipeline
// has the empty signature.
func (p Pipeline) Signature() Signature {
	if len(p.Steps) == 0 {
		return ""
	}
	var b strings.Builder
	for i, step := range p.Steps {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(step.Name)
		b.WriteByte('(')
		keys := make([]string, 0, len(step.Params))
		for k := range step.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for j, k := range keys {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(step.Params[k])
		}
		b.WriteByte(')')
	}
	return Signature(b.String())
}

// Empty reports whether the pipeline has no steps.
func (p Pipeline) Empty() bool {
	return len(p.Steps) == 0
}

// StepResult records the outcome of one pipeline step. Skips are an
// explicit, non-fatal policy: an unknown step name or a failing step
// passes the grid through unchanged.
type StepResult struct {
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// FilterError describes a failing filter step. It is reported in the
// step results but never aborts the pipeline.
type FilterError struct {
	Step   string
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter step %q: %s", e.Step, e.Reason)
}

type stepFunc func(g *grid.Grid, params map[string]string) (*grid.Grid, error)

var steps = map[string]stepFunc{
	"flatten":  applyFlatten,
	"tilt":     applyTilt,
	"plane2":   applyPlane2,
	"highpass": applyHighpass,
	"lowpass":  applyLowpass,
}

// Apply runs each step of the pipeline in order. Steps are pure; the
// input grid is never mutated. Unknown or failing steps are skipped
// and logged, and the grid from the previous step carries forward.
func Apply(g *grid.Grid, p Pipeline) (*grid.Grid, []StepResult) {
	out := g
	results := make([]StepResult, 0, len(p.Steps))
	for _, step := range p.Steps {
		fn, ok := steps[step.Name]
		if !ok {
			log.Printf("[Filter] skipping unknown step %q", step.Name)
			results = append(results, StepResult{Name: step.Name, Reason: "unknown step"})
			continue
		}
		next, err := fn(out, step.Params)
		if err != nil {
			log.Printf("[Filter] step %q failed, passing through: %v", step.Name, err)
			results = append(results, StepResult{Name: step.Name, Reason: err.Error()})
			continue
		}
		out = next
		results = append(results, StepResult{Name: step.Name, Applied: true})
	}
	return out, results
}

// KnownStep reports whether name is a registered filter step.
func KnownStep(name string) bool {
	_, ok := steps[name]
	return ok
}

func floatParam(params map[string]string, key string, def float64) float64 {
	raw, ok := params[key]
	if !ok {
		return def
	}
	var v float64
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%g", &v); err != nil {
		return def
	}
	return v
}

// applyFlatten subtracts row and/or column medians. axis is "both"
// (default), "row", or "col".
func applyFlatten(g *grid.Grid, params map[string]string) (*grid.Grid, error) {
	if g.Size() == 0 {
		return g, nil
	}
	axis := params["axis"]
	if axis == "" {
		axis = "both"
	}
	if axis != "both" && axis != "row" && axis != "col" {
		return nil, &FilterError{Step: "flatten", Reason: fmt.Sprintf("bad axis %q", axis)}
	}
	out := g.Clone()
	if axis == "both" || axis == "row" {
		buf := make([]float64, 0, out.W)
		for r := 0; r < out.H; r++ {
			med, ok := rowMedian(out, r, buf)
			if !ok {
				continue
			}
			for c := 0; c < out.W; c++ {
				out.Set(r, c, out.At(r, c)-med)
			}
		}
	}
	if axis == "both" || axis == "col" {
		buf := make([]float64, 0, out.H)
		for c := 0; c < out.W; c++ {
			med, ok := colMedian(out, c, buf)
			if !ok {
				continue
			}
			for r := 0; r < out.H; r++ {
				out.Set(r, c, out.At(r, c)-med)
			}
		}
	}
	return out, nil
}

func rowMedian(g *grid.Grid, row int, buf []float64) (float64, bool) {
	buf = buf[:0]
	for c := 0; c < g.W; c++ {
		v := g.At(row, c)
		if !math.IsNaN(v) {
			buf = append(buf, v)
		}
	}
	return median(buf)
}

func colMedian(g *grid.Grid, col int, buf []float64) (float64, bool) {
	buf = buf[:0]
	for r := 0; r < g.H; r++ {
		v := g.At(r, col)
		if !math.IsNaN(v) {
			buf = append(buf, v)
		}
	}
	return median(buf)
}

func median(vals []float64) (float64, bool) {
	n := len(vals)
	if n == 0 {
		return 0, false
	}
	sort.Float64s(vals)
	if n%2 == 1 {
		return vals[n/2], true
	}
	return (vals[n/2-1] + vals[n/2]) / 2, true
}

// applyTilt subtracts the least-squares plane a*x + b*y + c.
func applyTilt(g *grid.Grid, _ map[string]string) (*grid.Grid, error) {
	if g.Size() == 0 {
		return g, nil
	}
	coef, err := fitSurface(g, planeTerms)
	if err != nil {
		return nil, &FilterError{Step: "tilt", Reason: err.Error()}
	}
	return subtractSurface(g, coef, planeTerms), nil
}

// applyPlane2 subtracts the least-squares quadratic surface
// a*x^2 + b*y^2 + c*x*y + d*x + e*y + f.
func applyPlane2(g *grid.Grid, _ map[string]string) (*grid.Grid, error) {
	if g.Size() == 0 {
		return g, nil
	}
	coef, err := fitSurface(g, quadTerms)
	if err != nil {
		return nil, &FilterError{Step: "plane2", Reason: err.Error()}
	}
	return subtractSurface(g, coef, quadTerms), nil
}

// applyLowpass is a separable Gaussian blur.
func applyLowpass(g *grid.Grid, params map[string]string) (*grid.Grid, error) {
	sigma := floatParam(params, "sigma", 2.0)
	if sigma <= 0 {
		return nil, &FilterError{Step: "lowpass", Reason: fmt.Sprintf("sigma must be positive, got %g", sigma)}
	}
	return gaussianBlur(g, sigma), nil
}

// applyHighpass subtracts the Gaussian low-pass from the original.
func applyHighpass(g *grid.Grid, params map[string]string) (*grid.Grid, error) {
	sigma := floatParam(params, "sigma", 2.0)
	if sigma <= 0 {
		return nil, &FilterError{Step: "highpass", Reason: fmt.Sprintf("sigma must be positive, got %g", sigma)}
	}
	lp := gaussianBlur(g, sigma)
	out := g.Clone()
	for i := range out.Data {
		out.Data[i] -= lp.Data[i]
	}
	return out, nil
}

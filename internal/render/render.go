// Package render turns thumbnail grids into color-mapped PNG images,
// and draws the placeholder, legend, and marker overlays.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/sxmview/server/internal/grid"
	"github.com/sxmview/server/pkg/colormap"
)

// Config contains renderer settings.
type Config struct {
	DefaultColormap string
	// Percentile clip applied before normalization; outliers would
	// otherwise compress the colormap into a flat band.
	LowPercentile  float64
	HighPercentile float64
	Gamma          float64
}

// Renderer renders grids with pooled encode buffers.
type Renderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewRenderer creates a renderer. Zero-valued config fields get the
// conventional defaults (viridis, 1/99 percentiles, gamma 1).
func NewRenderer(cfg Config) *Renderer {
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}
	if cfg.HighPercentile <= 0 {
		cfg.LowPercentile = 1
		cfg.HighPercentile = 99
	}
	if cfg.Gamma <= 0 {
		cfg.Gamma = 1
	}
	return &Renderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// RenderGrid encodes a grid as a color-mapped PNG using robust
// percentile limits. Unknown colormap names fall back to the default.
func (r *Renderer) RenderGrid(g *grid.Grid, colormapName string) ([]byte, error) {
	if g == nil || g.Size() == 0 {
		return nil, fmt.Errorf("render: empty grid")
	}
	cmap, ok := colormap.ByName(colormapName)
	if !ok {
		cmap, _ = colormap.ByName(r.config.DefaultColormap)
	}

	vmin, vmax, ok := g.RobustLimits(r.config.LowPercentile, r.config.HighPercentile)
	if !ok {
		return r.Placeholder(g.W, g.H)
	}
	span := vmax - vmin

	img := image.NewRGBA(image.Rect(0, 0, g.W, g.H))
	for row := 0; row < g.H; row++ {
		for col := 0; col < g.W; col++ {
			v := g.At(row, col)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				img.Set(col, row, color.RGBA{A: 255})
				continue
			}
			t := (v - vmin) / span
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
			if r.config.Gamma != 1 {
				t = math.Pow(t, 1/r.config.Gamma)
			}
			img.Set(col, row, cmap.At(t))
		}
	}
	return r.encodePNG(img)
}

// Placeholder renders the neutral gray tile with a failure cross shown
// while a thumbnail is pending or after its render failed.
func (r *Renderer) Placeholder(w, h int) ([]byte, error) {
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 64
	}
	dc := gg.NewContext(w, h)
	dc.SetColor(color.RGBA{200, 200, 200, 255})
	dc.Clear()
	dc.SetColor(color.RGBA{140, 140, 140, 255})
	dc.SetLineWidth(2)
	dc.DrawLine(0, 0, float64(w), float64(h))
	dc.DrawLine(float64(w), 0, 0, float64(h))
	dc.Stroke()
	return r.encodePNG(dc.Image())
}

// Legend renders a horizontal gradient strip for a colormap, used by
// presentation layers as a colormap picker icon.
func (r *Renderer) Legend(colormapName string, w, h int) ([]byte, error) {
	cmap, ok := colormap.ByName(colormapName)
	if !ok {
		return nil, fmt.Errorf("render: unknown colormap %q", colormapName)
	}
	if w <= 0 {
		w = 96
	}
	if h <= 0 {
		h = 14
	}
	dc := gg.NewContext(w, h)
	for x := 0; x < w; x++ {
		t := 0.0
		if w > 1 {
			t = float64(x) / float64(w-1)
		}
		dc.SetColor(cmap.At(t))
		dc.DrawRectangle(float64(x), 0, 1, float64(h))
		dc.Fill()
	}
	return r.encodePNG(dc.Image())
}

// Marker is one spectroscopy position to overlay on a rendered image,
// in pixel coordinates of that image.
type Marker struct {
	Col, Row float64
}

// DrawMarkers decodes a rendered PNG, overlays spectroscopy position
// markers, and re-encodes it.
func (r *Renderer) DrawMarkers(rendered []byte, markers []Marker) ([]byte, error) {
	if len(markers) == 0 {
		return rendered, nil
	}
	img, err := png.Decode(bytes.NewReader(rendered))
	if err != nil {
		return nil, fmt.Errorf("render: decode for marker overlay: %w", err)
	}
	dc := gg.NewContextForImage(img)
	radius := math.Max(2, float64(img.Bounds().Dx())/48)
	for _, m := range markers {
		dc.SetColor(color.RGBA{255, 64, 64, 255})
		dc.DrawCircle(m.Col, m.Row, radius)
		dc.Fill()
		dc.SetColor(color.White)
		dc.SetLineWidth(1)
		dc.DrawCircle(m.Col, m.Row, radius)
		dc.Stroke()
	}
	return r.encodePNG(dc.Image())
}

func (r *Renderer) encodePNG(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy out; the buffer is reused.
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Package api provides HTTP handlers for the sxmview server.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sxmview/server/internal/catalog"
	"github.com/sxmview/server/internal/data/spectro"
	"github.com/sxmview/server/internal/filter"
	"github.com/sxmview/server/internal/render"
	"github.com/sxmview/server/internal/service"
	"github.com/sxmview/server/pkg/colormap"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service       *service.Service
	Catalog       *catalog.Catalog
	Renderer      *render.Renderer
	Scanner       *spectro.Scanner
	Parse         catalog.ParseFunc
	ScanFolder    string
	SpectroFolder string
	CORSOrigins   []string
	ThumbSize     int
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/files", filesHandler(cfg))
		r.Get("/files/{id}/channels", channelsHandler(cfg))
		r.Get("/thumbnail", thumbnailHandler(cfg))
		r.Post("/filters", filtersHandler(cfg))
		r.Post("/reload", reloadHandler(cfg))
		r.Get("/spectroscopy/assignments", assignmentsHandler(cfg))
		r.Get("/colormaps", colormapsHandler())
		r.Get("/colormaps/{name}/legend", legendHandler(cfg))
		r.Get("/stats", statsHandler(cfg))
	})

	return r
}

// fileByID resolves a catalog index from the route or query. Indices
// are positional within the current load; a reload renumbers them.
func fileByID(cfg RouterConfig, idStr string) (*catalog.ScanFile, int, bool) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, 0, false
	}
	files := cfg.Catalog.Files()
	if id < 0 || id >= len(files) {
		return nil, 0, false
	}
	return files[id], id, true
}

func filesHandler(cfg RouterConfig) http.HandlerFunc {
	type fileEntry struct {
		ID         int    `json:"id"`
		Path       string `json:"path"`
		AcquiredAt string `json:"acquired_at,omitempty"`
		PixelsX    int    `json:"pixels_x"`
		PixelsY    int    `json:"pixels_y"`
		Channels   int    `json:"channels"`
		Topography int    `json:"topography"`
		Records    int    `json:"records"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		files := cfg.Catalog.Files()
		entries := make([]fileEntry, 0, len(files))
		for i, sf := range files {
			e := fileEntry{
				ID:         i,
				Path:       sf.Path,
				PixelsX:    sf.Header.PixelsX,
				PixelsY:    sf.Header.PixelsY,
				Channels:   len(sf.Channels),
				Topography: catalog.TopographyChannel(sf.Channels),
				Records:    len(cfg.Service.RecordsFor(sf.Path)),
			}
			if !sf.Header.AcquiredAt.IsZero() {
				e.AcquiredAt = sf.Header.AcquiredAt.Format("2006-01-02 15:04:05")
			}
			entries = append(entries, e)
		}
		stats := cfg.Service.LoadStats()
		writeJSON(w, map[string]interface{}{
			"folder": cfg.Catalog.Folder(),
			"loaded": stats.Loaded,
			"failed": stats.Failed,
			"files":  entries,
		})
	}
}

func channelsHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sf, _, ok := fileByID(cfg, chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]interface{}{
			"path":       sf.Path,
			"header":     sf.Header,
			"channels":   sf.Channels,
			"topography": catalog.TopographyChannel(sf.Channels),
		})
	}
}

// thumbnailHandler serves GET /api/thumbnail?file=&channel=&w=&h=&colormap=&markers=.
// Cache hits return 200 with the PNG; a miss queues the render and
// returns 202 with the placeholder so clients can poll.
func thumbnailHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sf, _, ok := fileByID(cfg, r.URL.Query().Get("file"))
		if !ok {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		channel, err := strconv.Atoi(r.URL.Query().Get("channel"))
		if err != nil {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}
		wpx := queryInt(r, "w", cfg.ThumbSize)
		hpx := queryInt(r, "h", cfg.ThumbSize)
		cmap := r.URL.Query().Get("colormap")
		if cmap == "" {
			cmap = "viridis"
		}

		res, err := cfg.Service.RequestImage(sf.Path, channel, wpx, hpx, cmap)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		if res.Status == service.StatusPending {
			png, perr := cfg.Service.Placeholder(wpx, hpx)
			if perr != nil {
				http.Error(w, perr.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			w.Write(png)
			return
		}

		png := res.PNG
		if r.URL.Query().Get("markers") == "1" {
			png, err = overlayMarkers(cfg, sf, png, wpx, hpx)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.Write(png)
	}
}

// overlayMarkers draws the scan's assigned spectroscopy positions on a
// rendered thumbnail.
func overlayMarkers(cfg RouterConfig, sf *catalog.ScanFile, png []byte, wpx, hpx int) ([]byte, error) {
	records := cfg.Service.RecordsFor(sf.Path)
	if len(records) == 0 {
		return png, nil
	}
	h := sf.Header
	markers := make([]render.Marker, 0, len(records))
	for i := range records {
		col, row, ok := records[i].PixelPosition(h.CenterX, h.CenterY, h.ScanRangeX, h.ScanRangeY, wpx, hpx)
		if !ok {
			continue
		}
		markers = append(markers, render.Marker{Col: col, Row: row})
	}
	return cfg.Renderer.DrawMarkers(png, markers)
}

// filtersHandler sets or clears the filter pipeline for one file. An
// empty steps list clears it.
func filtersHandler(cfg RouterConfig) http.HandlerFunc {
	type request struct {
		File  int           `json:"file"`
		Steps []filter.Step `json:"steps"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		sf, _, ok := fileByID(cfg, strconv.Itoa(req.File))
		if !ok {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		p := filter.Pipeline{Steps: req.Steps}
		if err := cfg.Service.SetPipeline(sf.Path, p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]interface{}{
			"path":      sf.Path,
			"signature": string(p.Signature()),
		})
	}
}

func reloadHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cfg.Service.LoadFolder(cfg.ScanFolder, cfg.Parse)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		assigned := 0
		if cfg.SpectroFolder != "" {
			records := cfg.Scanner.Scan(cfg.SpectroFolder)
			for _, list := range cfg.Service.AssignRecords(records) {
				assigned += len(list)
			}
		}
		writeJSON(w, map[string]interface{}{
			"loaded":   stats.Loaded,
			"failed":   stats.Failed,
			"assigned": assigned,
		})
	}
}

func assignmentsHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index := cfg.Service.Assignments()
		out := make(map[string][]string, len(index))
		for path, records := range index {
			paths := make([]string, len(records))
			for i := range records {
				paths[i] = records[i].Path
			}
			out[path] = paths
		}
		writeJSON(w, out)
	}
}

func colormapsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"colormaps": colormap.Names()})
	}
}

func legendHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		png, err := cfg.Renderer.Legend(name, queryInt(r, "w", 96), queryInt(r, "h", 14))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(png)
	}
}

func statsHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cfg.Service.Stats())
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

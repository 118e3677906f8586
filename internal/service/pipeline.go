// Package service wires the catalog, cache tiers, scheduler, and
// renderer into the image-request pipeline exposed to presentation
// layers.
package service

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sxmview/server/internal/assign"
	"github.com/sxmview/server/internal/catalog"
	"github.com/sxmview/server/internal/data/spectro"
	"github.com/sxmview/server/internal/data/sxm"
	"github.com/sxmview/server/internal/filter"
	"github.com/sxmview/server/internal/grid"
	"github.com/sxmview/server/internal/render"
	"github.com/sxmview/server/internal/scheduler"
	"github.com/sxmview/server/internal/store"
)

// Status of an image request.
type Status string

const (
	// StatusHit means the rendered image came straight from cache.
	StatusHit Status = "hit"
	// StatusPending means a render job was queued; the image arrives
	// through the completion handler.
	StatusPending Status = "pending"
)

// Result of RequestImage. PNG is set only on a hit.
type Result struct {
	Status Status
	PNG    []byte
}

// Config wires the service.
type Config struct {
	Catalog  *catalog.Catalog
	Stores   *store.Manager
	Renderer *render.Renderer
	Workers  int
	Queue    int
	// OnComplete, when set, observes every non-stale completion after
	// it has been applied to the rendered cache.
	OnComplete func(scheduler.Completion)
}

// Service is the pipeline coordinator.
type Service struct {
	catalog  *catalog.Catalog
	stores   *store.Manager
	renderer *render.Renderer
	gen      *scheduler.Generation
	pool     *scheduler.Pool

	onComplete func(scheduler.Completion)

	mu        sync.RWMutex
	pipelines map[string]filter.Pipeline // per header path
	assigned  map[string][]spectro.Record
	stats     catalog.LoadStats
}

// New builds the service and its worker pool. Start must be called
// before submitting work.
func New(cfg Config) *Service {
	s := &Service{
		catalog:    cfg.Catalog,
		stores:     cfg.Stores,
		renderer:   cfg.Renderer,
		gen:        &scheduler.Generation{},
		onComplete: cfg.OnComplete,
		pipelines:  make(map[string]filter.Pipeline),
		assigned:   make(map[string][]spectro.Record),
	}
	s.pool = scheduler.NewPool(
		scheduler.Config{Workers: cfg.Workers, QueueDepth: cfg.Queue},
		s.gen,
		s.Render,
		s.applyCompletion,
	)
	return s
}

// Start launches the worker pool.
func (s *Service) Start() {
	s.pool.Start()
}

// Stop drains the worker pool.
func (s *Service) Stop() {
	s.pool.Stop()
}

// Generation exposes the current epoch, mostly for tests and stats.
func (s *Service) Generation() int64 {
	return s.gen.Current()
}

// LoadFolder (re)loads a scan folder: catalog contents are replaced
// wholesale, the generation advances so in-flight results for the old
// state are discarded, and every cache tier is cleared.
func (s *Service) LoadFolder(dir string, parse catalog.ParseFunc) (catalog.LoadStats, error) {
	stats, err := s.catalog.LoadFolder(dir, parse)
	if err != nil {
		return stats, err
	}
	s.gen.Advance()
	s.stores.InvalidateAll()
	s.mu.Lock()
	s.pipelines = make(map[string]filter.Pipeline)
	s.assigned = make(map[string][]spectro.Record)
	s.stats = stats
	s.mu.Unlock()
	return stats, nil
}

// LoadStats returns the counts from the last folder load.
func (s *Service) LoadStats() catalog.LoadStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// SetPipeline applies (or clears, for an empty pipeline) the filter
// pipeline for one scan. The scan's cache entries are invalidated in
// every tier and the generation advances so stale renders are dropped.
func (s *Service) SetPipeline(headerPath string, p filter.Pipeline) error {
	sf, ok := s.catalog.Lookup(headerPath)
	if !ok {
		return fmt.Errorf("unknown scan %s", headerPath)
	}

	s.mu.Lock()
	if p.Empty() {
		delete(s.pipelines, headerPath)
	} else {
		s.pipelines[headerPath] = p
	}
	s.mu.Unlock()

	binPaths := make([]string, 0, len(sf.Channels))
	for _, ch := range sf.Channels {
		binPaths = append(binPaths, catalog.BinPath(headerPath, ch))
	}
	s.stores.Invalidate(store.Scope{
		HeaderPaths: []string{headerPath},
		BinPaths:    binPaths,
	})
	s.gen.Advance()
	return nil
}

// Pipeline returns the filter pipeline configured for a scan.
func (s *Service) Pipeline(headerPath string) filter.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipelines[headerPath]
}

// RequestImage serves "channel image for (file, channel, dimensions,
// color map)". The rendered cache answers hits immediately; a miss
// queues a job carrying the current generation and reports Pending.
// The coordinator never decodes or filters.
func (s *Service) RequestImage(headerPath string, channel, w, h int, colormapName string) (Result, error) {
	sf, ch, err := s.catalog.Channel(headerPath, channel)
	if err != nil {
		return Result{}, err
	}

	key, err := s.renderedKey(sf, ch, channel, w, h, colormapName)
	if err == nil {
		if png, ok := s.stores.Rendered.Get(key); ok {
			return Result{Status: StatusHit, PNG: png}, nil
		}
	}

	job := scheduler.Job{
		HeaderPath: headerPath,
		Channel:    channel,
		W:          w,
		H:          h,
		Colormap:   colormapName,
		Pipeline:   s.Pipeline(headerPath),
		Gen:        s.gen.Current(),
	}
	if !s.pool.Submit(job) {
		return Result{}, fmt.Errorf("render queue full")
	}
	return Result{Status: StatusPending}, nil
}

func (s *Service) renderedKey(sf *catalog.ScanFile, ch catalog.ChannelDescriptor, channel, w, h int, colormapName string) (store.RenderedKey, error) {
	rawKey, err := store.RawKeyFor(catalog.BinPath(sf.Path, ch), channel)
	if err != nil {
		return store.RenderedKey{}, err
	}
	return store.RenderedKey{
		Thumb: store.ThumbKey{
			HeaderPath: sf.Path,
			Channel:    channel,
			ModTime:    rawKey.ModTime,
			Sig:        s.Pipeline(sf.Path).Signature(),
			W:          w,
			H:          h,
		},
		Colormap: colormapName,
	}, nil
}

// Render performs the full cache walk for one job: raw decode,
// unit normalization + filtering, downsampling, color mapping. It runs
// on worker goroutines; this is the only place binary I/O and numeric
// filtering happen. The rendered PNG is NOT cached here — that happens
// in the completion handler, after the staleness check.
func (s *Service) Render(job scheduler.Job) scheduler.Completion {
	thumb, key, err := s.thumbnail(job)
	if err != nil {
		return scheduler.Completion{Err: err.Error()}
	}
	png, err := s.renderer.RenderGrid(thumb, job.Colormap)
	if err != nil {
		return scheduler.Completion{Err: err.Error()}
	}
	return scheduler.Completion{
		Key: store.RenderedKey{Thumb: key, Colormap: job.Colormap},
		PNG: png,
	}
}

// thumbnail walks raw -> processed -> thumbnail, populating each tier.
func (s *Service) thumbnail(job scheduler.Job) (*grid.Grid, store.ThumbKey, error) {
	sf, ch, err := s.catalog.Channel(job.HeaderPath, job.Channel)
	if err != nil {
		return nil, store.ThumbKey{}, err
	}
	binPath := catalog.BinPath(sf.Path, ch)
	rawKey, err := store.RawKeyFor(binPath, job.Channel)
	if err != nil {
		return nil, store.ThumbKey{}, &sxm.DecodeError{Path: binPath, Reason: "missing payload", Err: err}
	}

	raw, _, err := s.stores.Raw.GetOrDecode(rawKey, func() (*grid.Grid, error) {
		return sxm.DecodeChannel(binPath, sf.Header.PixelsX, sf.Header.PixelsY, ch.Scale, ch.Offset)
	})
	if err != nil {
		return nil, store.ThumbKey{}, err
	}

	unit, factor := filter.NormalizeUnit(ch.PhysUnit)
	sig := job.Pipeline.Signature()
	processedKey := store.ProcessedKey{Raw: rawKey, Unit: unit, Sig: sig}
	processed, _, err := s.stores.Processed.GetOrProcess(processedKey, func() (*grid.Grid, error) {
		g := raw
		if factor != 1 {
			g = g.Clone()
			for i := range g.Data {
				g.Data[i] *= factor
			}
		}
		out, results := filter.Apply(g, job.Pipeline)
		for _, r := range results {
			if !r.Applied {
				log.Printf("[Pipeline] %s ch%d: step %q skipped: %s", job.HeaderPath, job.Channel, r.Name, r.Reason)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, store.ThumbKey{}, err
	}

	thumbKey := store.ThumbKey{
		HeaderPath: sf.Path,
		Channel:    job.Channel,
		ModTime:    rawKey.ModTime,
		Sig:        sig,
		W:          job.W,
		H:          job.H,
	}
	thumb, _, err := s.stores.Thumbs.GetOrDownsample(thumbKey, func() (*grid.Grid, error) {
		return processed.Downsample(job.W, job.H), nil
	})
	if err != nil {
		return nil, store.ThumbKey{}, err
	}
	return thumb, thumbKey, nil
}

// applyCompletion runs on the dispatcher for non-stale completions
// only: it stores successful renders and logs failures. A failed
// channel never affects its siblings.
func (s *Service) applyCompletion(c scheduler.Completion) {
	if c.Err == "" {
		s.stores.Rendered.Set(c.Key, c.PNG)
	} else {
		log.Printf("[Pipeline] render failed for %s ch%d: %s", c.Job.HeaderPath, c.Job.Channel, c.Err)
	}
	if s.onComplete != nil {
		s.onComplete(c)
	}
}

// Placeholder renders the neutral pending/failure tile.
func (s *Service) Placeholder(w, h int) ([]byte, error) {
	return s.renderer.Placeholder(w, h)
}

// IsDecodeError reports whether err is a channel payload decode
// failure, which callers treat as per-channel (placeholder), not
// fatal.
func IsDecodeError(err error) bool {
	var de *sxm.DecodeError
	return errors.As(err, &de)
}

// AssignRecords rebuilds the image -> spectroscopy index from scratch
// against the current catalog.
func (s *Service) AssignRecords(records []spectro.Record) map[string][]spectro.Record {
	entries := s.catalog.TimeIndex()
	images := make([]assign.Image, len(entries))
	for i, e := range entries {
		images[i] = assign.Image{Path: e.Path, Time: e.Time}
	}
	index := assign.Assign(images, records)

	s.mu.Lock()
	s.assigned = index
	s.mu.Unlock()
	return index
}

// RecordsFor returns the spectroscopy records assigned to a scan.
func (s *Service) RecordsFor(headerPath string) []spectro.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assigned[headerPath]
}

// Assignments returns the full image -> records index.
func (s *Service) Assignments() map[string][]spectro.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]spectro.Record, len(s.assigned))
	for k, v := range s.assigned {
		out[k] = v
	}
	return out
}

// Stats reports cache and scheduler statistics.
func (s *Service) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	for k, v := range s.stores.Stats() {
		stats[k] = v
	}
	stats["generation"] = s.gen.Current()
	stats["stale_discards"] = s.pool.StaleDiscards()
	return stats
}

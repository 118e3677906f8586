// Package main is the entry point for the sxmview server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sxmview/server/internal/api"
	"github.com/sxmview/server/internal/catalog"
	"github.com/sxmview/server/internal/config"
	"github.com/sxmview/server/internal/data/spectro"
	"github.com/sxmview/server/internal/data/sxm"
	"github.com/sxmview/server/internal/headercache"
	"github.com/sxmview/server/internal/render"
	"github.com/sxmview/server/internal/service"
	"github.com/sxmview/server/internal/store"
)

// parseHeader reads and types one header file.
func parseHeader(path string) (catalog.Header, []catalog.ChannelDescriptor, error) {
	raw, channels, err := sxm.ParseHeader(path)
	if err != nil {
		return catalog.Header{}, nil, err
	}
	h := catalog.HeaderFromRaw(raw)
	descriptors := make([]catalog.ChannelDescriptor, len(channels))
	for i, ch := range channels {
		descriptors[i] = catalog.ChannelDescriptor{
			Caption:  ch.Caption,
			FileName: ch.FileName,
			PhysUnit: ch.PhysUnit,
			Scale:    ch.Scale,
			Offset:   ch.Offset,
		}
	}
	return h, descriptors, nil
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting sxmview server on port %d", cfg.Server.Port)

	// Persistent header cache
	headers, err := headercache.NewStore(cfg.Data.HeaderDBPath)
	if err != nil {
		log.Fatalf("Failed to open header cache: %v", err)
	}
	defer headers.Close()
	parse := headers.CachingParse(parseHeader)

	// Cache tiers
	stores, err := store.NewManager(store.Config{
		RawEntries:       cfg.Cache.RawEntries,
		ProcessedEntries: cfg.Cache.ProcessedEntries,
		ThumbEntries:     cfg.Cache.ThumbEntries,
		RenderedSizeMB:   cfg.Cache.RenderedSizeMB,
		RenderedTTL:      time.Duration(cfg.Cache.RenderedTTLMin) * time.Minute,
		DiskDir:          cfg.Cache.ThumbDiskDir,
	})
	if err != nil {
		log.Fatalf("Failed to initialize caches: %v", err)
	}
	defer stores.Close()

	renderer := render.NewRenderer(render.Config{
		DefaultColormap: cfg.Render.DefaultColormap,
		LowPercentile:   cfg.Render.LowPercentile,
		HighPercentile:  cfg.Render.HighPercentile,
	})

	cat := catalog.New()
	svc := service.New(service.Config{
		Catalog:  cat,
		Stores:   stores,
		Renderer: renderer,
		Workers:  cfg.Scheduler.Workers,
		Queue:    cfg.Scheduler.QueueDepth,
	})
	svc.Start()
	defer svc.Stop()

	// Initial folder load
	stats, err := svc.LoadFolder(cfg.Data.ScanFolder, parse)
	if err != nil {
		log.Fatalf("Failed to load scan folder %s: %v", cfg.Data.ScanFolder, err)
	}
	log.Printf("Loaded %d scan(s) from %s (%d failed)", stats.Loaded, cfg.Data.ScanFolder, stats.Failed)

	scanner := spectro.NewScanner()
	if cfg.Data.SpectroFolder != "" {
		records := scanner.Scan(cfg.Data.SpectroFolder)
		index := svc.AssignRecords(records)
		log.Printf("Assigned %d spectroscopy record(s) across %d scan(s)", len(records), len(index))
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		Catalog:       cat,
		Renderer:      renderer,
		Scanner:       scanner,
		Parse:         parse,
		ScanFolder:    cfg.Data.ScanFolder,
		SpectroFolder: cfg.Data.SpectroFolder,
		CORSOrigins:   cfg.Server.CORSOrigins,
		ThumbSize:     cfg.Render.ThumbSize,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

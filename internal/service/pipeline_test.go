package service

import (
	"bytes"
	"encoding/binary"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sxmview/server/internal/catalog"
	"github.com/sxmview/server/internal/data/spectro"
	"github.com/sxmview/server/internal/data/sxm"
	"github.com/sxmview/server/internal/filter"
	"github.com/sxmview/server/internal/render"
	"github.com/sxmview/server/internal/scheduler"
	"github.com/sxmview/server/internal/store"
)

const testHeader = `xPixel : 4
yPixel : 4
XScanRange : 10
YScanRange : 10
Date : 2026-08-20
Time : 10:00:00

FileDescBegin
Caption : Topography
FileName : scan.tf0
PhysUnit : nm
Scale : 1.0
FileDescEnd
`

func parseForTest(path string) (catalog.Header, []catalog.ChannelDescriptor, error) {
	raw, channels, err := sxm.ParseHeader(path)
	if err != nil {
		return catalog.Header{}, nil, err
	}
	h := catalog.HeaderFromRaw(raw)
	out := make([]catalog.ChannelDescriptor, len(channels))
	for i, ch := range channels {
		out[i] = catalog.ChannelDescriptor{
			Caption:  ch.Caption,
			FileName: ch.FileName,
			PhysUnit: ch.PhysUnit,
			Scale:    ch.Scale,
			Offset:   ch.Offset,
		}
	}
	return h, out, nil
}

// writeScan creates a 4x4 scan: text header plus int16 payload.
func writeScan(t *testing.T, dir string) string {
	t.Helper()
	headerPath := filepath.Join(dir, "scan.txt")
	if err := os.WriteFile(headerPath, []byte(testHeader), 0644); err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, 2*16)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(i))
	}
	if err := os.WriteFile(filepath.Join(dir, "scan.tf0"), payload, 0644); err != nil {
		t.Fatal(err)
	}
	return headerPath
}

func newTestService(t *testing.T, completions chan scheduler.Completion) *Service {
	t.Helper()
	stores, err := store.NewManager(store.Config{
		RawEntries:       8,
		ProcessedEntries: 8,
		ThumbEntries:     8,
		RenderedSizeMB:   8,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { stores.Close() })

	var onComplete func(scheduler.Completion)
	if completions != nil {
		onComplete = func(c scheduler.Completion) { completions <- c }
	}
	return New(Config{
		Catalog:    catalog.New(),
		Stores:     stores,
		Renderer:   render.NewRenderer(render.Config{}),
		Workers:    2,
		Queue:      16,
		OnComplete: onComplete,
	})
}

func waitCompletion(t *testing.T, ch chan scheduler.Completion) scheduler.Completion {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for render completion")
		return scheduler.Completion{}
	}
}

func TestRequestImageLifecycle(t *testing.T) {
	dir := t.TempDir()
	headerPath := writeScan(t, dir)

	completions := make(chan scheduler.Completion, 16)
	svc := newTestService(t, completions)
	svc.Start()
	defer svc.Stop()

	if _, err := svc.LoadFolder(dir, parseForTest); err != nil {
		t.Fatal(err)
	}

	res, err := svc.RequestImage(headerPath, 0, 4, 4, "viridis")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPending {
		t.Fatalf("cold request status = %q", res.Status)
	}

	c := waitCompletion(t, completions)
	if c.Err != "" {
		t.Fatalf("render failed: %s", c.Err)
	}

	res, err = svc.RequestImage(headerPath, 0, 4, 4, "viridis")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusHit {
		t.Fatalf("warm request status = %q", res.Status)
	}
	img, err := png.Decode(bytes.NewReader(res.PNG))
	if err != nil {
		t.Fatalf("cached image is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("image is %v", img.Bounds())
	}

	t.Run("differentColormapMisses", func(t *testing.T) {
		res, err := svc.RequestImage(headerPath, 0, 4, 4, "magma")
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusPending {
			t.Fatalf("status = %q", res.Status)
		}
		waitCompletion(t, completions)
	})

	t.Run("badChannelIndex", func(t *testing.T) {
		if _, err := svc.RequestImage(headerPath, 7, 4, 4, "viridis"); err == nil {
			t.Fatal("expected error for out-of-range channel")
		}
	})
}

func TestSetPipelineInvalidates(t *testing.T) {
	dir := t.TempDir()
	headerPath := writeScan(t, dir)

	completions := make(chan scheduler.Completion, 16)
	svc := newTestService(t, completions)
	svc.Start()
	defer svc.Stop()

	if _, err := svc.LoadFolder(dir, parseForTest); err != nil {
		t.Fatal(err)
	}

	svc.RequestImage(headerPath, 0, 4, 4, "viridis")
	waitCompletion(t, completions)
	if res, _ := svc.RequestImage(headerPath, 0, 4, 4, "viridis"); res.Status != StatusHit {
		t.Fatalf("expected warm hit, got %q", res.Status)
	}

	gen := svc.Generation()
	p := filter.Pipeline{Steps: []filter.Step{{Name: "flatten"}}}
	if err := svc.SetPipeline(headerPath, p); err != nil {
		t.Fatal(err)
	}
	if svc.Generation() != gen+1 {
		t.Fatalf("generation did not advance: %d -> %d", gen, svc.Generation())
	}
	if got := svc.Pipeline(headerPath); got.Signature() != p.Signature() {
		t.Fatalf("pipeline not stored: %q", got.Signature())
	}

	res, err := svc.RequestImage(headerPath, 0, 4, 4, "viridis")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPending {
		t.Fatalf("filter change should invalidate the rendered image, got %q", res.Status)
	}
	waitCompletion(t, completions)

	t.Run("clearPipeline", func(t *testing.T) {
		if err := svc.SetPipeline(headerPath, filter.Pipeline{}); err != nil {
			t.Fatal(err)
		}
		if !svc.Pipeline(headerPath).Empty() {
			t.Fatal("pipeline not cleared")
		}
	})

	t.Run("unknownScan", func(t *testing.T) {
		if err := svc.SetPipeline("/nope.txt", p); err == nil {
			t.Fatal("expected error for unknown scan")
		}
	})
}

func TestStaleResultNeverCached(t *testing.T) {
	dir := t.TempDir()
	headerPath := writeScan(t, dir)

	svc := newTestService(t, nil)
	if _, err := svc.LoadFolder(dir, parseForTest); err != nil {
		t.Fatal(err)
	}

	// Queue a render before the workers start, then reload so the
	// queued job's generation is superseded.
	res, err := svc.RequestImage(headerPath, 0, 4, 4, "viridis")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPending {
		t.Fatalf("status = %q", res.Status)
	}
	if _, err := svc.LoadFolder(dir, parseForTest); err != nil {
		t.Fatal(err)
	}

	svc.Start()
	defer svc.Stop()

	deadline := time.After(5 * time.Second)
	for {
		if svc.Stats()["stale_discards"].(int64) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stale discard never counted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The discarded result must not have populated the rendered
	// cache: the same request misses again.
	res, err = svc.RequestImage(headerPath, 0, 4, 4, "viridis")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPending {
		t.Fatalf("stale result leaked into the cache: status = %q", res.Status)
	}
}

func TestRenderFailureLeavesSiblingsAlone(t *testing.T) {
	dir := t.TempDir()
	headerPath := writeScan(t, dir)
	// Second scan whose payload is missing.
	brokenPath := filepath.Join(dir, "broken.txt")
	broken := `xPixel : 4
yPixel : 4

FileDescBegin
Caption : Topography
FileName : missing.tf0
FileDescEnd
`
	if err := os.WriteFile(brokenPath, []byte(broken), 0644); err != nil {
		t.Fatal(err)
	}

	completions := make(chan scheduler.Completion, 16)
	svc := newTestService(t, completions)
	svc.Start()
	defer svc.Stop()

	if _, err := svc.LoadFolder(dir, parseForTest); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RequestImage(brokenPath, 0, 4, 4, "viridis"); err != nil {
		t.Fatal(err)
	}
	c := waitCompletion(t, completions)
	if c.Err == "" {
		t.Fatal("expected a render failure for the missing payload")
	}

	// The healthy sibling still renders.
	if _, err := svc.RequestImage(headerPath, 0, 4, 4, "viridis"); err != nil {
		t.Fatal(err)
	}
	c = waitCompletion(t, completions)
	if c.Err != "" {
		t.Fatalf("sibling render failed: %s", c.Err)
	}
}

func TestAssignRecordsThroughService(t *testing.T) {
	dir := t.TempDir()
	headerPath := writeScan(t, dir)

	svc := newTestService(t, nil)
	if _, err := svc.LoadFolder(dir, parseForTest); err != nil {
		t.Fatal(err)
	}

	records := []spectro.Record{{
		Path: filepath.Join(dir, "sweep.dat"),
		Time: time.Date(2026, 8, 20, 10, 5, 0, 0, time.Local),
	}}
	index := svc.AssignRecords(records)
	if len(index[headerPath]) != 1 {
		t.Fatalf("assignment index = %v", index)
	}
	if got := svc.RecordsFor(headerPath); len(got) != 1 {
		t.Fatalf("RecordsFor returned %d records", len(got))
	}
}

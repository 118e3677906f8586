package api

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sxmview/server/internal/catalog"
	"github.com/sxmview/server/internal/data/spectro"
	"github.com/sxmview/server/internal/data/sxm"
	"github.com/sxmview/server/internal/render"
	"github.com/sxmview/server/internal/scheduler"
	"github.com/sxmview/server/internal/service"
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

type testEnv struct {
	router      http.Handler
	svc         *service.Service
	completions chan scheduler.Completion
	dir         string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scan.txt"), []byte(testHeader), 0644); err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, 2*16)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(i))
	}
	if err := os.WriteFile(filepath.Join(dir, "scan.tf0"), payload, 0644); err != nil {
		t.Fatal(err)
	}

	stores, err := store.NewManager(store.Config{
		RawEntries: 8, ProcessedEntries: 8, ThumbEntries: 8, RenderedSizeMB: 8,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { stores.Close() })

	completions := make(chan scheduler.Completion, 16)
	cat := catalog.New()
	renderer := render.NewRenderer(render.Config{})
	svc := service.New(service.Config{
		Catalog:  cat,
		Stores:   stores,
		Renderer: renderer,
		Workers:  2,
		Queue:    16,
		OnComplete: func(c scheduler.Completion) {
			completions <- c
		},
	})
	svc.Start()
	t.Cleanup(svc.Stop)

	if _, err := svc.LoadFolder(dir, parseForTest); err != nil {
		t.Fatal(err)
	}

	router := NewRouter(RouterConfig{
		Service:     svc,
		Catalog:     cat,
		Renderer:    renderer,
		Scanner:     spectro.NewScanner(),
		Parse:       parseForTest,
		ScanFolder:  dir,
		CORSOrigins: []string{"*"},
		ThumbSize:   64,
	})
	return &testEnv{router: router, svc: svc, completions: completions, dir: dir}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) waitRender(t *testing.T) {
	t.Helper()
	select {
	case c := <-e.completions:
		if c.Err != "" {
			t.Fatalf("render failed: %s", c.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for render")
	}
}

func TestFilesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.get(t, "/api/files")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Loaded int `json:"loaded"`
		Failed int `json:"failed"`
		Files  []struct {
			ID         int    `json:"id"`
			Path       string `json:"path"`
			Channels   int    `json:"channels"`
			Topography int    `json:"topography"`
		} `json:"files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Loaded != 1 || len(body.Files) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Files[0].Channels != 1 || body.Files[0].Topography != 0 {
		t.Fatalf("file entry = %+v", body.Files[0])
	}
}

func TestChannelsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.get(t, "/api/files/0/channels")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Channels []catalog.ChannelDescriptor `json:"channels"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Channels) != 1 || body.Channels[0].Caption != "Topography" {
		t.Fatalf("channels = %+v", body.Channels)
	}

	if w := env.get(t, "/api/files/42/channels"); w.Code != http.StatusNotFound {
		t.Fatalf("out-of-range id: status %d", w.Code)
	}
}

func TestThumbnailEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/api/thumbnail?file=0&channel=0&w=4&h=4")
	if w.Code != http.StatusAccepted {
		t.Fatalf("cold request: status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("placeholder content type %q", ct)
	}
	env.waitRender(t)

	w = env.get(t, "/api/thumbnail?file=0&channel=0&w=4&h=4")
	if w.Code != http.StatusOK {
		t.Fatalf("warm request: status %d", w.Code)
	}
	if len(w.Body.Bytes()) == 0 {
		t.Fatal("empty PNG body")
	}

	t.Run("badChannel", func(t *testing.T) {
		if w := env.get(t, "/api/thumbnail?file=0&channel=nope"); w.Code != http.StatusBadRequest {
			t.Fatalf("status %d", w.Code)
		}
	})

	t.Run("unknownFile", func(t *testing.T) {
		if w := env.get(t, "/api/thumbnail?file=9&channel=0"); w.Code != http.StatusNotFound {
			t.Fatalf("status %d", w.Code)
		}
	})
}

func TestFiltersEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString(`{"file": 0, "steps": [{"name": "flatten", "params": {"axis": "row"}}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/filters", body)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Signature != "flatten(axis=row)" {
		t.Fatalf("signature = %q", resp.Signature)
	}

	t.Run("invalidBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/filters", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status %d", w.Code)
		}
	})
}

func TestReloadEndpoint(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/reload", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Loaded int `json:"loaded"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Loaded != 1 {
		t.Fatalf("loaded = %d", resp.Loaded)
	}
}

func TestLegendAndColormaps(t *testing.T) {
	env := newTestEnv(t)

	if w := env.get(t, "/api/colormaps"); w.Code != http.StatusOK {
		t.Fatalf("colormaps: status %d", w.Code)
	}
	if w := env.get(t, "/api/colormaps/viridis/legend"); w.Code != http.StatusOK {
		t.Fatalf("legend: status %d", w.Code)
	}
	if w := env.get(t, "/api/colormaps/nope/legend"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown legend: status %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.get(t, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var stats map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"raw_entries", "generation", "stale_discards"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	if w := env.get(t, "/health"); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

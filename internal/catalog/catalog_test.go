package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHeaderFromRaw(t *testing.T) {
	t.Run("typedFields", func(t *testing.T) {
		h := HeaderFromRaw(map[string]string{
			"xPixel":     "512",
			"XScanRange": "100.5",
			"YScanRange": "50.25",
			"xCenter":    "10",
			"Bias":       "-0.3",
			"Date":       "2026-08-20",
			"Time":       "14:30:00",
			"Vendor":     "Example Instruments",
		})
		if h.PixelsX != 512 || h.PixelsY != 512 {
			t.Errorf("pixels = %dx%d, want yPixel to default to xPixel", h.PixelsX, h.PixelsY)
		}
		if h.ScanRangeX != 100.5 || h.ScanRangeY != 50.25 {
			t.Errorf("ranges = %g, %g", h.ScanRangeX, h.ScanRangeY)
		}
		if h.Bias != -0.3 {
			t.Errorf("bias = %g", h.Bias)
		}
		want := time.Date(2026, 8, 20, 14, 30, 0, 0, time.Local)
		if !h.AcquiredAt.Equal(want) {
			t.Errorf("AcquiredAt = %v, want %v", h.AcquiredAt, want)
		}
		if h.Extra["Vendor"] != "Example Instruments" {
			t.Errorf("unrecognized key not passed through: %v", h.Extra)
		}
		if _, ok := h.Extra["xPixel"]; ok {
			t.Error("typed key leaked into Extra")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		h := HeaderFromRaw(map[string]string{})
		if h.PixelsX != 128 || h.PixelsY != 128 {
			t.Errorf("expected 128x128 defaults, got %dx%d", h.PixelsX, h.PixelsY)
		}
		if !h.AcquiredAt.IsZero() {
			t.Error("expected zero AcquiredAt without Date")
		}
	})

	t.Run("sharedScanRange", func(t *testing.T) {
		h := HeaderFromRaw(map[string]string{"ScanRange": "75"})
		if h.ScanRangeX != 75 || h.ScanRangeY != 75 {
			t.Errorf("ScanRange fallback not applied: %g, %g", h.ScanRangeX, h.ScanRangeY)
		}
	})
}

func TestParseHeaderTime(t *testing.T) {
	cases := []struct {
		date, clock string
		ok          bool
	}{
		{"2026-08-20", "14:30:00", true},
		{"2026-08-20", "", true},
		{"20/08/2026", "09:15:00", true},
		{"", "", false},
		{"not a date", "also not", false},
	}
	for _, tc := range cases {
		_, ok := ParseHeaderTime(tc.date, tc.clock)
		if ok != tc.ok {
			t.Errorf("ParseHeaderTime(%q, %q) ok=%v, want %v", tc.date, tc.clock, ok, tc.ok)
		}
	}
}

func TestTopographyChannel(t *testing.T) {
	t.Run("captionWins", func(t *testing.T) {
		channels := []ChannelDescriptor{
			{Caption: "Current", PhysUnit: "pA"},
			{Caption: "Topography", PhysUnit: "nm"},
		}
		if got := TopographyChannel(channels); got != 1 {
			t.Fatalf("got %d, want 1", got)
		}
	})

	t.Run("filenameFallback", func(t *testing.T) {
		channels := []ChannelDescriptor{
			{Caption: "Ch0", FileName: "scan.cur"},
			{Caption: "Ch1", FileName: "scan_topo.tf0"},
		}
		if got := TopographyChannel(channels); got != 1 {
			t.Fatalf("got %d, want 1", got)
		}
	})

	t.Run("heightButNotSensor", func(t *testing.T) {
		channels := []ChannelDescriptor{
			{Caption: "Height Sensor"},
			{Caption: "Height"},
		}
		if got := TopographyChannel(channels); got != 1 {
			t.Fatalf("got %d, want 1", got)
		}
	})

	t.Run("lengthUnitLast", func(t *testing.T) {
		channels := []ChannelDescriptor{
			{Caption: "A", PhysUnit: "pA"},
			{Caption: "B", PhysUnit: "nm"},
		}
		if got := TopographyChannel(channels); got != 1 {
			t.Fatalf("got %d, want 1", got)
		}
	})

	t.Run("noCandidate", func(t *testing.T) {
		channels := []ChannelDescriptor{
			{Caption: "Current", PhysUnit: "pA"},
			{Caption: "Phase", PhysUnit: "deg"},
		}
		if got := TopographyChannel(channels); got != -1 {
			t.Fatalf("got %d, want -1", got)
		}
	})
}

func TestModeFromHeader(t *testing.T) {
	t.Run("constantHeight", func(t *testing.T) {
		h := Header{Extra: map[string]string{"ScanMode": "Constant-Height"}}
		if got := ModeFromHeader(h); got != ModeConstantHeight {
			t.Fatalf("got %q", got)
		}
	})
	t.Run("constantCurrent", func(t *testing.T) {
		h := Header{Extra: map[string]string{"Feedback": "current"}}
		if got := ModeFromHeader(h); got != ModeConstantCurrent {
			t.Fatalf("got %q", got)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		if got := ModeFromHeader(Header{}); got != ModeUnknown {
			t.Fatalf("got %q", got)
		}
	})
}

func stubParse(fail map[string]bool) ParseFunc {
	return func(path string) (Header, []ChannelDescriptor, error) {
		if fail[filepath.Base(path)] {
			return Header{}, nil, fmt.Errorf("stub failure")
		}
		return Header{PixelsX: 64, PixelsY: 64},
			[]ChannelDescriptor{{Caption: "Topo", FileName: "payload.tf0", Scale: 1}},
			nil
	}
}

func TestLoadFolder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "bad.txt", "skip.dat"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	c := New()
	stats, err := c.LoadFolder(dir, stubParse(map[string]bool{"bad.txt": true}))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Loaded != 2 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	files := c.Files()
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if filepath.Base(files[0].Path) != "a.txt" {
		t.Errorf("files not name-sorted: %s first", files[0].Path)
	}

	t.Run("mtimeFallback", func(t *testing.T) {
		if files[0].Header.AcquiredAt.IsZero() {
			t.Error("expected mtime fallback for zero AcquiredAt")
		}
	})

	t.Run("lookupAndChannel", func(t *testing.T) {
		sf, ch, err := c.Channel(files[0].Path, 0)
		if err != nil {
			t.Fatal(err)
		}
		if sf.Path != files[0].Path || ch.Caption != "Topo" {
			t.Errorf("unexpected channel: %+v", ch)
		}
		if _, _, err := c.Channel(files[0].Path, 5); err == nil {
			t.Error("expected out-of-range channel error")
		}
		if _, _, err := c.Channel("nope", 0); err == nil {
			t.Error("expected unknown scan error")
		}
	})

	t.Run("binPath", func(t *testing.T) {
		got := BinPath(files[0].Path, files[0].Channels[0])
		want := filepath.Join(dir, "payload.tf0")
		if got != want {
			t.Errorf("BinPath = %s, want %s", got, want)
		}
	})

	t.Run("reloadReplacesWholesale", func(t *testing.T) {
		if err := os.Remove(filepath.Join(dir, "b.txt")); err != nil {
			t.Fatal(err)
		}
		stats, err := c.LoadFolder(dir, stubParse(nil))
		if err != nil {
			t.Fatal(err)
		}
		if stats.Loaded != 2 { // a.txt and bad.txt now both parse
			t.Fatalf("stats = %+v", stats)
		}
		if _, ok := c.Lookup(filepath.Join(dir, "b.txt")); ok {
			t.Error("removed scan still present after reload")
		}
	})
}

func TestExtent(t *testing.T) {
	c := New()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scan.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	parse := func(path string) (Header, []ChannelDescriptor, error) {
		return Header{PixelsX: 64, PixelsY: 64, ScanRangeX: 100, ScanRangeY: 50},
			[]ChannelDescriptor{{FileName: "f"}}, nil
	}
	if _, err := c.LoadFolder(dir, parse); err != nil {
		t.Fatal(err)
	}
	extent, ok := c.Extent(filepath.Join(dir, "scan.txt"))
	if !ok {
		t.Fatal("expected extent")
	}
	if *extent != [4]float64{0, 100, 50, 0} {
		t.Fatalf("extent = %v", *extent)
	}
}

package assign

import (
	"testing"
	"time"

	"github.com/sxmview/server/internal/data/spectro"
)

func at(minute int) time.Time {
	return time.Date(2026, 8, 20, 10, minute, 0, 0, time.Local)
}

func TestAssignTemporal(t *testing.T) {
	images := []Image{
		{Path: "/scans/first.txt", Time: at(10)},
		{Path: "/scans/second.txt", Time: at(20)},
		{Path: "/scans/third.txt", Time: at(30)},
	}

	t.Run("mostRecentAtOrBefore", func(t *testing.T) {
		records := []spectro.Record{
			{Path: "/spec/r1.dat", Time: at(15)},
			{Path: "/spec/r2.dat", Time: at(25)},
			{Path: "/spec/r3.dat", Time: at(45)},
		}
		out := Assign(images, records)
		if got := out["/scans/first.txt"]; len(got) != 1 || got[0].Path != "/spec/r1.dat" {
			t.Errorf("first.txt got %v", paths(got))
		}
		if got := out["/scans/second.txt"]; len(got) != 1 || got[0].Path != "/spec/r2.dat" {
			t.Errorf("second.txt got %v", paths(got))
		}
		if got := out["/scans/third.txt"]; len(got) != 1 || got[0].Path != "/spec/r3.dat" {
			t.Errorf("third.txt got %v", paths(got))
		}
	})

	t.Run("inclusiveTie", func(t *testing.T) {
		records := []spectro.Record{{Path: "/spec/tie.dat", Time: at(20)}}
		out := Assign(images, records)
		if got := out["/scans/second.txt"]; len(got) != 1 {
			t.Fatalf("record at the exact image time should assign to that image, got %v", out)
		}
	})

	t.Run("multipleRecordsSorted", func(t *testing.T) {
		records := []spectro.Record{
			{Path: "/spec/z.dat", Time: at(12)},
			{Path: "/spec/a.dat", Time: at(12)},
			{Path: "/spec/late.dat", Time: at(14)},
		}
		out := Assign(images, records)
		got := out["/scans/first.txt"]
		if len(got) != 3 {
			t.Fatalf("expected 3 records, got %v", paths(got))
		}
		if got[0].Path != "/spec/a.dat" || got[1].Path != "/spec/z.dat" || got[2].Path != "/spec/late.dat" {
			t.Errorf("records not sorted by (time, path): %v", paths(got))
		}
	})

	t.Run("emptyInputs", func(t *testing.T) {
		if out := Assign(nil, []spectro.Record{{Path: "x"}}); len(out) != 0 {
			t.Error("no images should yield no assignments")
		}
		if out := Assign(images, nil); len(out) != 0 {
			t.Error("no records should yield no assignments")
		}
	})
}

func TestAssignFilenameFallback(t *testing.T) {
	images := []Image{
		{Path: "/scans/Sample_001.txt", Time: at(10)},
		{Path: "/scans/Sample_002.txt", Time: at(20)},
	}

	t.Run("untimedRecordMatchesByName", func(t *testing.T) {
		records := []spectro.Record{{Path: "/spec/Sample_002_Matrix_A1.dat"}}
		out := Assign(images, records)
		if got := out["/scans/Sample_002.txt"]; len(got) != 1 {
			t.Fatalf("expected name match to Sample_002, got %v", out)
		}
	})

	t.Run("hyphensFoldToUnderscores", func(t *testing.T) {
		records := []spectro.Record{{Path: "/spec/Sample-001-Matrix-B2.dat"}}
		out := Assign(images, records)
		if got := out["/scans/Sample_001.txt"]; len(got) != 1 {
			t.Fatalf("expected hyphenated name to match Sample_001, got %v", out)
		}
	})

	t.Run("recordPredatingAllImages", func(t *testing.T) {
		records := []spectro.Record{{Path: "/spec/Sample_001_early.dat", Time: at(5)}}
		out := Assign(images, records)
		if got := out["/scans/Sample_001.txt"]; len(got) != 1 {
			t.Fatalf("record before every image should fall back to the name heuristic, got %v", out)
		}
	})
}

func TestNormalizeStem(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/spec/Sample_001_Matrix_A1.dat", "sample_001"},
		{"/spec/Sample-001-Matrix-B2.dat", "sample_001"},
		{"/scans/Sample_001.txt", "sample_001"},
		{"/spec/plain.dat", "plain"},
	}
	for _, tc := range cases {
		if got := normalizeStem(tc.in); got != tc.want {
			t.Errorf("normalizeStem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func paths(records []spectro.Record) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].Path
	}
	return out
}

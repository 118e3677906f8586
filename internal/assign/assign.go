// Package assign associates spectroscopy records with the image
// acquired immediately before them, by timestamp sweep with a
// filename-similarity fallback.
package assign

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sxmview/server/internal/data/spectro"
)

// Image is one candidate scan for assignment.
type Image struct {
	Path string
	Time time.Time // zero when the scan has no usable timestamp
}

// Assign maps each record to the most recent image acquired at or
// before the record's timestamp (inclusive), using one two-pointer
// sweep over the time-sorted lists. Records without a timestamp, and
// records older than every timestamped image, fall back to the
// filename heuristic. Per-image record lists come back sorted by
// (time, path).
//
// Both inputs are sorted by (time, path) first, so any tie in the
// sweep or in the heuristic score deterministically resolves to the
// lexicographically smallest path.
func Assign(images []Image, records []spectro.Record) map[string][]spectro.Record {
	out := make(map[string][]spectro.Record)
	if len(images) == 0 || len(records) == 0 {
		return out
	}

	sorted := make([]Image, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].Time, sorted[j].Time
		// Images without a timestamp sort last; the sweep never
		// advances onto them.
		if ti.IsZero() != tj.IsZero() {
			return !ti.IsZero()
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return sorted[i].Path < sorted[j].Path
	})

	recs := make([]spectro.Record, len(records))
	copy(recs, records)
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Time.Equal(recs[j].Time) {
			return recs[i].Time.Before(recs[j].Time)
		}
		return recs[i].Path < recs[j].Path
	})

	cursor := 0
	for _, rec := range recs {
		target := ""
		switch {
		case rec.Time.IsZero():
			target = matchByName(rec.Path, sorted)
		default:
			for cursor+1 < len(sorted) &&
				!sorted[cursor+1].Time.IsZero() &&
				!sorted[cursor+1].Time.After(rec.Time) {
				cursor++
			}
			if !sorted[cursor].Time.IsZero() && !sorted[cursor].Time.After(rec.Time) {
				target = sorted[cursor].Path
			} else {
				// No image qualifies (record predates them all).
				target = matchByName(rec.Path, sorted)
			}
		}
		if target == "" {
			continue
		}
		out[target] = append(out[target], rec)
	}

	for path := range out {
		list := out[path]
		sort.SliceStable(list, func(i, j int) bool {
			if !list[i].Time.Equal(list[j].Time) {
				return list[i].Time.Before(list[j].Time)
			}
			return list[i].Path < list[j].Path
		})
	}
	return out
}

var matrixSuffix = regexp.MustCompile(`(?:_matrix|-matrix).*$`)

// normalizeStem lowercases a filename stem, strips matrix/grid
// suffixes, and folds hyphens into underscores.
func normalizeStem(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.TrimSpace(strings.ToLower(stem))
	stem = matrixSuffix.ReplaceAllString(stem, "")
	return strings.ReplaceAll(stem, "-", "_")
}

// matchByName scores every image against the record's filename:
// +10 per leading matching underscore-delimited token, plus the length
// of the common literal prefix, plus 50 when one normalized name
// contains the other. The first maximum in sort order wins.
func matchByName(recordPath string, images []Image) string {
	recStem := normalizeStem(recordPath)
	if recStem == "" {
		return ""
	}
	recTokens := splitTokens(recStem)

	best := ""
	bestScore := -1
	for _, img := range images {
		imgStem := normalizeStem(img.Path)
		score := 0

		imgTokens := splitTokens(imgStem)
		for i := 0; i < len(recTokens) && i < len(imgTokens); i++ {
			if recTokens[i] != imgTokens[i] {
				break
			}
			score += 10
		}

		common := 0
		for common < len(recStem) && common < len(imgStem) && recStem[common] == imgStem[common] {
			common++
		}
		score += common

		if strings.Contains(imgStem, recStem) || strings.Contains(recStem, imgStem) {
			score += 50
		}

		if score > bestScore {
			bestScore = score
			best = img.Path
		}
	}
	return best
}

func splitTokens(stem string) []string {
	parts := strings.Split(stem, "_")
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

package spectro

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sxmview/server/internal/data/sxm"
)

// Spectroscopy files are text: comment lines ("# Key: value") carry
// metadata, the first data line names the columns, and the remaining
// lines are whitespace-separated numbers. The first column is the bias
// sweep; every further column is a named channel.

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseFile reads one spectroscopy file into its records. Files
// produced by the instruments at hand hold a single sweep each.
func ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &sxm.ParseError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	rec := Record{Path: path, MatrixIndex: -1}
	var columns []string

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if err := applyMeta(&rec, strings.TrimSpace(strings.TrimPrefix(text, "#"))); err != nil {
				return nil, &sxm.ParseError{Path: path, Reason: fmt.Sprintf("line %d: %v", line, err)}
			}
			continue
		}
		fields := strings.Fields(text)
		if columns == nil {
			if len(fields) < 2 {
				return nil, &sxm.ParseError{Path: path, Reason: fmt.Sprintf("line %d: expected at least bias and one channel column", line)}
			}
			columns = fields
			rec.Channels = make(map[string][]float64, len(columns)-1)
			continue
		}
		if len(fields) != len(columns) {
			return nil, &sxm.ParseError{Path: path, Reason: fmt.Sprintf("line %d: %d values for %d columns", line, len(fields), len(columns))}
		}
		for i, raw := range fields {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, &sxm.ParseError{Path: path, Reason: fmt.Sprintf("line %d: bad value %q", line, raw)}
			}
			if i == 0 {
				rec.Bias = append(rec.Bias, v)
			} else {
				rec.Channels[columns[i]] = append(rec.Channels[columns[i]], v)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &sxm.ParseError{Path: path, Reason: err.Error()}
	}
	if columns == nil || len(rec.Bias) == 0 {
		return nil, &sxm.ParseError{Path: path, Reason: "no sweep data"}
	}
	return []Record{rec}, nil
}

func applyMeta(rec *Record, text string) error {
	key, value, ok := strings.Cut(text, ":")
	if !ok {
		// Free-form comment, not metadata.
		return nil
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	switch strings.ToLower(key) {
	case "date", "datetime", "saved date":
		if t, ok := parseTime(value); ok {
			rec.Time = t
		}
	case "x", "x (nm)":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("bad X %q", value)
		}
		rec.X = v
		rec.HasPosition = true
	case "y", "y (nm)":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("bad Y %q", value)
		}
		rec.Y = v
		rec.HasPosition = true
	case "gridrow":
		return parseIntInto(&rec.GridRow, value)
	case "gridcol":
		return parseIntInto(&rec.GridCol, value)
	case "gridrows":
		return parseIntInto(&rec.GridRows, value)
	case "gridcols":
		return parseIntInto(&rec.GridCols, value)
	case "matrixindex", "matrix":
		return parseIntInto(&rec.MatrixIndex, value)
	}
	return nil
}

func parseIntInto(dst *int, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("bad integer %q", value)
	}
	*dst = v
	return nil
}

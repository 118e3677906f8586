// Package catalog holds the parsed scan metadata for a loaded folder:
// headers, channel descriptors, and acquisition timestamps.
package catalog

import (
	"strconv"
	"strings"
	"time"
)

// Header is the typed scan-level metadata the pipeline reads, plus an
// opaque pass-through map for every other instrument field. Immutable
// once built.
type Header struct {
	PixelsX    int       `json:"pixels_x"`
	PixelsY    int       `json:"pixels_y"`
	ScanRangeX float64   `json:"scan_range_x"`
	ScanRangeY float64   `json:"scan_range_y"`
	CenterX    float64   `json:"center_x"`
	CenterY    float64   `json:"center_y"`
	Bias       float64   `json:"bias"`
	Setpoint   float64   `json:"setpoint"`
	AcquiredAt time.Time `json:"acquired_at"`

	Extra map[string]string `json:"extra,omitempty"`
}

// ChannelDescriptor describes one channel of a scan at a fixed ordinal
// index: its caption, binary payload filename (relative to the header's
// folder), physical unit, and linear decode transform. Immutable.
type ChannelDescriptor struct {
	Caption  string  `json:"caption"`
	FileName string  `json:"file_name"`
	PhysUnit string  `json:"phys_unit"`
	Scale    float64 `json:"scale"`
	Offset   float64 `json:"offset"`
}

// ScanFile pairs one header with its ordered channel descriptors.
type ScanFile struct {
	Path     string
	Header   Header
	Channels []ChannelDescriptor
}

var headerTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
}

// ParseHeaderTime combines the header Date and Time fields and tries
// the accepted layouts. ok is false when nothing parses.
func ParseHeaderTime(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" && clock == "" {
		return time.Time{}, false
	}
	candidates := make([]string, 0, 2)
	if date != "" && clock != "" {
		candidates = append(candidates, date+" "+clock)
	}
	if date != "" {
		candidates = append(candidates, date)
	}
	for _, s := range candidates {
		for _, layout := range headerTimeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Well-known header keys lifted into typed fields.
var typedKeys = map[string]bool{
	"xPixel": true, "yPixel": true,
	"XScanRange": true, "YScanRange": true, "ScanRange": true,
	"xCenter": true, "yCenter": true,
	"Bias": true, "SetPoint": true,
	"Date": true, "Time": true,
}

// HeaderFromRaw builds a typed Header from a raw key/value mapping.
// Missing pixel counts default to 128 (square when only one axis is
// given); every unrecognized key lands in Extra.
func HeaderFromRaw(raw map[string]string) Header {
	h := Header{
		PixelsX: intField(raw, "xPixel", 128),
	}
	h.PixelsY = intField(raw, "yPixel", h.PixelsX)
	h.ScanRangeX = floatField(raw, "XScanRange", floatField(raw, "ScanRange", 0))
	h.ScanRangeY = floatField(raw, "YScanRange", floatField(raw, "ScanRange", 0))
	h.CenterX = floatField(raw, "xCenter", 0)
	h.CenterY = floatField(raw, "yCenter", 0)
	h.Bias = floatField(raw, "Bias", 0)
	h.Setpoint = floatField(raw, "SetPoint", 0)
	if t, ok := ParseHeaderTime(raw["Date"], raw["Time"]); ok {
		h.AcquiredAt = t
	}

	for k, v := range raw {
		if typedKeys[k] {
			continue
		}
		if h.Extra == nil {
			h.Extra = make(map[string]string)
		}
		h.Extra[k] = v
	}
	return h
}

func intField(raw map[string]string, key string, def int) int {
	if s, ok := raw[key]; ok {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return def
}

func floatField(raw map[string]string, key string, def float64) float64 {
	if s, ok := raw[key]; ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return def
}

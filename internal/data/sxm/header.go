// Package sxm parses SPM scan headers and decodes their binary
// channel payloads.
//
// A scan is a text header (key: value lines, one FileDescBegin/End
// block per channel) alongside one flat little-endian binary file per
// channel. The header names the payload files; sample width is
// inferred from payload size.
package sxm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RawHeader is the parsed key/value mapping of one scan header.
type RawHeader map[string]string

// RawChannel is one channel descriptor block in parse order.
type RawChannel struct {
	Caption  string
	FileName string
	PhysUnit string
	Scale    float64
	Offset   float64
}

// ParseHeader reads a scan header file into its key/value mapping and
// ordered channel descriptors. A header without any channel block is
// malformed.
func ParseHeader(path string) (RawHeader, []RawChannel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &ParseError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	header := make(RawHeader)
	var channels []RawChannel
	var current map[string]string
	inBlock := false

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, ";") || strings.HasPrefix(text, "#") {
			continue
		}
		switch {
		case strings.EqualFold(text, "FileDescBegin"):
			if inBlock {
				return nil, nil, &ParseError{Path: path, Reason: fmt.Sprintf("line %d: nested FileDescBegin", line)}
			}
			inBlock = true
			current = make(map[string]string)
		case strings.EqualFold(text, "FileDescEnd"):
			if !inBlock {
				return nil, nil, &ParseError{Path: path, Reason: fmt.Sprintf("line %d: FileDescEnd without FileDescBegin", line)}
			}
			ch, err := channelFromBlock(path, current)
			if err != nil {
				return nil, nil, err
			}
			channels = append(channels, ch)
			inBlock = false
		default:
			key, value, ok := splitKeyValue(text)
			if !ok {
				return nil, nil, &ParseError{Path: path, Reason: fmt.Sprintf("line %d: expected key: value, got %q", line, text)}
			}
			if inBlock {
				current[key] = value
			} else {
				header[key] = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, &ParseError{Path: path, Reason: err.Error()}
	}
	if inBlock {
		return nil, nil, &ParseError{Path: path, Reason: "unterminated FileDescBegin block"}
	}
	if len(channels) == 0 {
		return nil, nil, &ParseError{Path: path, Reason: "no channel descriptors"}
	}
	return header, channels, nil
}

func splitKeyValue(text string) (string, string, bool) {
	idx := strings.Index(text, ":")
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+1:]), true
}

func channelFromBlock(path string, block map[string]string) (RawChannel, error) {
	ch := RawChannel{
		Caption:  block["Caption"],
		FileName: block["FileName"],
		PhysUnit: block["PhysUnit"],
		Scale:    1,
		Offset:   0,
	}
	if ch.FileName == "" {
		return RawChannel{}, &ParseError{Path: path, Reason: "channel block missing FileName"}
	}
	if raw, ok := block["Scale"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return RawChannel{}, &ParseError{Path: path, Reason: fmt.Sprintf("bad Scale %q", raw)}
		}
		ch.Scale = v
	}
	if raw, ok := block["Offset"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return RawChannel{}, &ParseError{Path: path, Reason: fmt.Sprintf("bad Offset %q", raw)}
		}
		ch.Offset = v
	}
	return ch, nil
}

// Int returns the integer value of a header key, or def when absent
// or unparsable.
func (h RawHeader) Int(key string, def int) int {
	raw, ok := h[key]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

// Float returns the float value of a header key, or def when absent
// or unparsable.
func (h RawHeader) Float(key string, def float64) float64 {
	raw, ok := h[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return def
	}
	return v
}

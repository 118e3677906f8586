package sxm

import "fmt"

// ParseError describes a malformed header or spectroscopy text file.
// The offending file is skipped; a folder load continues past it.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

// DecodeError describes a missing, short, or undecodable binary
// channel payload. The channel is skipped; other channels of the same
// file are unaffected.
type DecodeError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Path, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Package store implements the layered cache hierarchy: raw decoded
// grids, unit/filter-processed grids, downsampled thumbnail grids, and
// rendered color-mapped images.
package store

import (
	"fmt"
	"os"

	"github.com/sxmview/server/internal/filter"
)

// RawKey identifies a decoded channel grid. Identity is
// content-versioned by the payload's modification time and size, so an
// externally changed file produces a new key without rehashing
// contents; the stale entry ages out of the LRU.
type RawKey struct {
	BinPath string
	Channel int
	ModTime int64 // unix nanoseconds
	Size    int64
}

// RawKeyFor stats the payload and builds its current key.
func RawKeyFor(binPath string, channel int) (RawKey, error) {
	info, err := os.Stat(binPath)
	if err != nil {
		return RawKey{}, fmt.Errorf("stat %s: %w", binPath, err)
	}
	return RawKey{
		BinPath: binPath,
		Channel: channel,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}, nil
}

// ProcessedKey identifies a unit-normalized, filtered grid.
type ProcessedKey struct {
	Raw  RawKey
	Unit string
	Sig  filter.Signature
}

// ThumbKey identifies a downsampled thumbnail grid. The header path
// (not the payload path) keys thumbnails because that is the identity
// the presentation layer navigates by.
type ThumbKey struct {
	HeaderPath string
	Channel    int
	ModTime    int64
	Sig        filter.Signature
	W, H       int
}

// String renders a stable textual form used for the rendered-image
// cache and the disk tier.
func (k ThumbKey) String() string {
	return fmt.Sprintf("%s|%d|%d|%s|%dx%d", k.HeaderPath, k.Channel, k.ModTime, k.Sig, k.W, k.H)
}

// RenderedKey identifies a color-mapped rendered image.
type RenderedKey struct {
	Thumb    ThumbKey
	Colormap string
}

func (k RenderedKey) String() string {
	return k.Thumb.String() + "|" + k.Colormap
}

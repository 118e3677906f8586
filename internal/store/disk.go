package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/sxmview/server/internal/grid"
)

// DiskCache persists thumbnail grids as zstd-compressed float32 blobs
// so rescans of a large folder skip the decode/filter/downsample walk
// entirely. Entries are content-addressed by the thumbnail key (which
// embeds modification time and filter signature), so a changed source
// file simply makes the old blob unreachable. All operations are best
// effort: a broken disk tier degrades to recomputation, never to an
// error.
type DiskCache struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

const diskMagic = "SXTH"

// NewDiskCache opens (creating if needed) the cache directory.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir, encoder: encoder, decoder: decoder}, nil
}

func (d *DiskCache) pathFor(key ThumbKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:16])+".zst")
}

// Get loads the thumbnail grid for key, if present and intact.
func (d *DiskCache) Get(key ThumbKey) (*grid.Grid, bool) {
	raw, err := os.ReadFile(d.pathFor(key))
	if err != nil {
		return nil, false
	}
	blob, err := d.decoder.DecodeAll(raw, nil)
	if err != nil {
		log.Printf("[DiskCache] corrupt entry for %s: %v", key.HeaderPath, err)
		return nil, false
	}
	if len(blob) < len(diskMagic)+8 || string(blob[:len(diskMagic)]) != diskMagic {
		return nil, false
	}
	w := int(binary.LittleEndian.Uint32(blob[4:]))
	h := int(binary.LittleEndian.Uint32(blob[8:]))
	if w <= 0 || h <= 0 || len(blob) != 12+w*h*4 {
		return nil, false
	}
	g := grid.New(w, h)
	for i := range g.Data {
		bits := binary.LittleEndian.Uint32(blob[12+i*4:])
		g.Data[i] = float64(math.Float32frombits(bits))
	}
	return g, true
}

// Put writes the thumbnail grid for key. Failures are logged and
// swallowed.
func (d *DiskCache) Put(key ThumbKey, g *grid.Grid) {
	blob := make([]byte, 12+len(g.Data)*4)
	copy(blob, diskMagic)
	binary.LittleEndian.PutUint32(blob[4:], uint32(g.W))
	binary.LittleEndian.PutUint32(blob[8:], uint32(g.H))
	for i, v := range g.Data {
		binary.LittleEndian.PutUint32(blob[12+i*4:], math.Float32bits(float32(v)))
	}
	compressed := d.encoder.EncodeAll(blob, nil)

	path := d.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		log.Printf("[DiskCache] write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Printf("[DiskCache] rename failed: %v", err)
		os.Remove(tmp)
	}
}

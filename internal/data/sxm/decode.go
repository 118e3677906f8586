package sxm

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/sxmview/server/internal/grid"
)

// sampleKind enumerates the binary sample encodings instruments write.
type sampleKind int

const (
	kindInt16 sampleKind = iota
	kindUint16
	kindInt32
	kindUint32
	kindInt64
	kindFloat32
	kindFloat64
	kindUint8
)

// dtypeCandidates is the probe order for sample-width inference.
// Narrow integer formats are by far the most common, so they come
// first; float32 remains the fallback when nothing fits.
var dtypeCandidates = []sampleKind{
	kindInt16, kindUint16, kindInt32, kindUint32,
	kindInt64, kindFloat32, kindFloat64, kindUint8,
}

func (k sampleKind) size() int {
	switch k {
	case kindUint8:
		return 1
	case kindInt16, kindUint16:
		return 2
	case kindInt32, kindUint32, kindFloat32:
		return 4
	default:
		return 8
	}
}

// inferKind picks a sample encoding for a payload of fileSize bytes
// holding expected samples. A candidate is accepted when the file can
// hold all expected samples and either divides evenly or still covers
// the expected count with padding left over.
func inferKind(fileSize, expected int64) sampleKind {
	for _, k := range dtypeCandidates {
		s := int64(k.size())
		if fileSize >= expected*s && (fileSize%s == 0 || fileSize/s >= expected) {
			return k
		}
	}
	return kindFloat32
}

// DecodeChannel reads a flat little-endian binary channel payload of
// w*h samples, infers the sample width from the file size, and applies
// the channel's linear transform (scale, offset). A missing or short
// file yields a DecodeError.
func DecodeChannel(path string, w, h int, scale, offset float64) (*grid.Grid, error) {
	if w <= 0 || h <= 0 {
		return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("invalid dimensions %dx%d", w, h)}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "stat failed", Err: err}
	}
	expected := int64(w) * int64(h)
	kind := inferKind(info.Size(), expected)
	sampleSize := int64(kind.size())
	if info.Size() < expected*sampleSize {
		return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("file too short: %d bytes for %d %d-byte samples", info.Size(), expected, sampleSize)}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "read failed", Err: err}
	}
	if int64(len(raw)) < expected*sampleSize {
		return nil, &DecodeError{Path: path, Reason: "short read"}
	}

	out := grid.New(w, h)
	for i := int64(0); i < expected; i++ {
		out.Data[i] = decodeSample(raw[i*sampleSize:], kind)*scale + offset
	}
	return out, nil
}

func decodeSample(b []byte, kind sampleKind) float64 {
	switch kind {
	case kindUint8:
		return float64(b[0])
	case kindInt16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case kindUint16:
		return float64(binary.LittleEndian.Uint16(b))
	case kindInt32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case kindUint32:
		return float64(binary.LittleEndian.Uint32(b))
	case kindInt64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case kindFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
}

// SampleChannelValues probes up to count evenly spaced samples from a
// channel payload without decoding the whole grid, applying the linear
// transform. Used for cheap scan-mode classification.
func SampleChannelValues(path string, w, h, count int, scale, offset float64) ([]float64, error) {
	if count <= 0 {
		count = 16
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "stat failed", Err: err}
	}
	expected := int64(w) * int64(h)
	if expected <= 0 {
		expected = info.Size()
	}
	kind := inferKind(info.Size(), expected)
	sampleSize := int64(kind.size())
	total := info.Size() / sampleSize
	if total <= 0 {
		return nil, &DecodeError{Path: path, Reason: "empty payload"}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "open failed", Err: err}
	}
	defer f.Close()

	n := int64(count)
	if n > total {
		n = total
	}
	values := make([]float64, 0, n)
	buf := make([]byte, sampleSize)
	for i := int64(0); i < n; i++ {
		var idx int64
		if n > 1 {
			idx = i * (total - 1) / (n - 1)
		}
		if _, err := f.ReadAt(buf, idx*sampleSize); err != nil {
			return nil, &DecodeError{Path: path, Reason: "sample read failed", Err: err}
		}
		values = append(values, decodeSample(buf, kind)*scale+offset)
	}
	return values, nil
}

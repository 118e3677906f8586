package filter

import "strings"

// siUnit is a canonical unit plus the multiplicative factor that
// converts a source value into it.
type siUnit struct {
	unit   string
	factor float64
}

// siUnits maps instrument unit strings to canonical SI units. Lookup
// is tried verbatim first, then lowercased. Unrecognized units pass
// through unconverted.
var siUnits = map[string]siUnit{
	"pm":  {"m", 1e-12},
	"nm":  {"m", 1e-9},
	"um":  {"m", 1e-6},
	"µm":  {"m", 1e-6},
	"μm":  {"m", 1e-6},
	"mm":  {"m", 1e-3},
	"cm":  {"m", 1e-2},
	"m":   {"m", 1},
	"pa":  {"A", 1e-12},
	"pA":  {"A", 1e-12},
	"na":  {"A", 1e-9},
	"nA":  {"A", 1e-9},
	"ua":  {"A", 1e-6},
	"uA":  {"A", 1e-6},
	"µA":  {"A", 1e-6},
	"μA":  {"A", 1e-6},
	"ma":  {"A", 1e-3},
	"mA":  {"A", 1e-3},
	"a":   {"A", 1},
	"A":   {"A", 1},
	"mv":  {"V", 1e-3},
	"mV":  {"V", 1e-3},
	"kv":  {"V", 1e3},
	"kV":  {"V", 1e3},
	"v":   {"V", 1},
	"V":   {"V", 1},
	"hz":  {"Hz", 1},
	"kHz": {"Hz", 1e3},
	"khz": {"Hz", 1e3},
	"MHz": {"Hz", 1e6},
	"mhz": {"Hz", 1e6},
	"GHz": {"Hz", 1e9},
	"ghz": {"Hz", 1e9},
}

// NormalizeUnit resolves a source unit string into its canonical unit
// and conversion factor. Unrecognized units are returned unchanged
// with factor 1 (a lenient pass-through, never an error).
func NormalizeUnit(unit string) (string, float64) {
	key := strings.TrimSpace(unit)
	if key == "" {
		return "", 1
	}
	if target, ok := siUnits[key]; ok {
		return target.unit, target.factor
	}
	if target, ok := siUnits[strings.ToLower(key)]; ok {
		return target.unit, target.factor
	}
	return key, 1
}

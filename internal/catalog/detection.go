package catalog

import "strings"

// ScanMode classifies how a scan was acquired.
type ScanMode string

const (
	ModeUnknown         ScanMode = ""
	ModeConstantHeight  ScanMode = "CH"
	ModeConstantCurrent ScanMode = "CC"
)

var constantHeightHints = []string{
	"constant-height", "constant height", "constantheight", "constheight",
	"mode: constant", "scanmode: constant", "operationmode: constant",
}

var constantCurrentHints = []string{
	"constant-current", "constant current", "constantcurrent",
	"feedback: current", "mode: current", "scanmode: current",
}

// ModeFromHeader inspects the header's free-form fields for textual
// constant-height / constant-current indicators.
func ModeFromHeader(h Header) ScanMode {
	entries := make([]string, 0, len(h.Extra))
	for k, v := range h.Extra {
		entries = append(entries, strings.ToLower(k+": "+v))
	}
	combined := strings.Join(entries, " ")
	for _, hint := range constantHeightHints {
		if strings.Contains(combined, hint) {
			return ModeConstantHeight
		}
	}
	for _, hint := range constantCurrentHints {
		if strings.Contains(combined, hint) {
			return ModeConstantCurrent
		}
	}
	// Short-form vendors write just "constant"; require the qualifier
	// in the same entry.
	for _, entry := range entries {
		if strings.Contains(entry, "constant") {
			if strings.Contains(entry, "height") {
				return ModeConstantHeight
			}
			if strings.Contains(entry, "current") {
				return ModeConstantCurrent
			}
		}
	}
	return ModeUnknown
}

var lengthUnitTokens = []string{
	"nm", "nanometer", "nanometre", "pm", "picometer", "picometre",
	"um", "micrometer", "micrometre",
	"ang", "angstrom", "angstroms", "aa", "meter", "metre",
}

var currentUnitTokens = []string{"pa", "ma", "na", "ua", "amp", "ampere", "a "}

func looksLikeLengthUnit(unit string) bool {
	u := strings.ToLower(strings.TrimSpace(unit))
	if u == "" {
		return false
	}
	for _, tok := range currentUnitTokens {
		if strings.Contains(u, tok) {
			return false
		}
	}
	for _, tok := range lengthUnitTokens {
		if strings.Contains(u, tok) {
			return true
		}
	}
	return false
}

// TopographyChannel returns the ordinal of the true topographic
// channel, or -1 when none can be identified. Priority: caption
// containing "topo", then filename, then a "height" caption that is
// not a sensor/feedback/setpoint channel, then a length-like physical
// unit.
func TopographyChannel(channels []ChannelDescriptor) int {
	for i, ch := range channels {
		if strings.Contains(strings.ToLower(ch.Caption), "topo") {
			return i
		}
	}
	for i, ch := range channels {
		if strings.Contains(strings.ToLower(ch.FileName), "topo") {
			return i
		}
	}
	for i, ch := range channels {
		cap := strings.ToLower(ch.Caption)
		if strings.Contains(cap, "height") &&
			!strings.Contains(cap, "sensor") &&
			!strings.Contains(cap, "feedback") &&
			!strings.Contains(cap, "setpoint") {
			return i
		}
	}
	for i, ch := range channels {
		if looksLikeLengthUnit(ch.PhysUnit) {
			return i
		}
	}
	return -1
}

package header

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// manifestOrder is the order of the fields every variant emits first.
var manifestOrder = []FieldKind{
	FieldSize,
	FieldChecksum,
	FieldChecksumHeader,
	FieldAppBuildVersion,
	FieldStart,
}

// ManifestEntry is one KEY = value line.
type ManifestEntry struct {
	Key   string
	Value uint32
}

// ManifestEntries lists the manifest lines for h under v, in output order.
func ManifestEntries(v *Variant, h *Header) []ManifestEntry {
	var entries []ManifestEntry
	for _, kind := range manifestOrder {
		if f, ok := v.Field(kind); ok && f.Key != "" {
			entries = append(entries, ManifestEntry{Key: f.Key, Value: h.value(kind)})
		}
	}
	for i, f := range v.ReservedFields() {
		entries = append(entries, ManifestEntry{Key: f.Key, Value: h.ReservedWord(v, i)})
	}
	return entries
}

// WriteManifest writes h as the "KEY = value;" text consumed by the linker
// script of a microapp build.
func WriteManifest(w io.Writer, v *Variant, h *Header) error {
	bw := bufio.NewWriter(w)
	for _, e := range ManifestEntries(v, h) {
		if _, err := fmt.Fprintf(bw, "%s = %d;\n", e.Key, e.Value); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseManifest reads "KEY = value;" lines. Blank lines and lines starting
// with '#' or "//" are skipped.
func ParseManifest(r io.Reader) (map[string]uint32, error) {
	out := make(map[string]uint32)
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		key, value, ok := strings.Cut(strings.TrimSuffix(line, ";"), "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '='", lineNum)
		}
		key = strings.TrimSpace(key)
		n, err := strconv.ParseUint(strings.TrimSpace(value), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNum, key, err)
		}
		out[key] = uint32(n)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// HeaderFromManifest rebuilds a header from parsed manifest values.
// Fields without a manifest key (the SDK version) are left zero.
func HeaderFromManifest(v *Variant, values map[string]uint32) (*Header, error) {
	h := &Header{Extension: make([]byte, v.ExtensionSize())}
	for _, f := range v.Fields {
		if f.Key == "" || f.Kind == FieldReserved {
			continue
		}
		val, ok := values[f.Key]
		if !ok {
			return nil, fmt.Errorf("%w: manifest is missing %s", ErrInvalidArgument, f.Key)
		}
		h.setValue(f.Kind, val)
	}
	for i, f := range v.ReservedFields() {
		if val, ok := values[f.Key]; ok {
			if err := h.SetReservedWord(v, i, val); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

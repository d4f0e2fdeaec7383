// Package sidecar reads and writes the "(listfile)" and "(attributes)"
// entries that accompany an archive's index.
package sidecar

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ParseListfile splits a name list on CR, LF and ';'. Blank names are
// skipped and repeated names are kept once, in first-seen order. Names are
// returned as stored: the archive hashes raw bytes.
func ParseListfile(data []byte) []string {
	fields := bytes.FieldsFunc(data, func(r rune) bool {
		return r == '\r' || r == '\n' || r == ';'
	})
	seen := make(map[string]struct{}, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		name := strings.TrimSpace(string(f))
		if name == "" {
			continue
		}
		key := strings.ToUpper(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}

// FormatListfile writes names deduplicated without regard to case, sorted
// case-insensitively, one per CRLF-terminated line.
func FormatListfile(names []string) []byte {
	sorted := slices.Clone(names)
	slices.SortFunc(sorted, func(a, b string) int {
		if c := strings.Compare(strings.ToUpper(a), strings.ToUpper(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	sorted = slices.CompactFunc(sorted, strings.EqualFold)

	var buf bytes.Buffer
	for _, n := range sorted {
		if n == "" {
			continue
		}
		buf.WriteString(n)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// DecodeName converts a stored name to UTF-8. Valid UTF-8 and a nil
// encoding leave the name untouched.
func DecodeName(enc encoding.Encoding, raw string) string {
	if enc == nil || utf8.ValidString(raw) {
		return raw
	}
	s, err := enc.NewDecoder().String(raw)
	if err != nil {
		return raw
	}
	return s
}

// EncodeName converts a UTF-8 name back to its stored form. It reports
// false when the name needs no conversion or cannot be represented.
func EncodeName(enc encoding.Encoding, name string) (string, bool) {
	if enc == nil || isASCII(name) {
		return "", false
	}
	s, err := enc.NewEncoder().String(name)
	if err != nil || s == name {
		return "", false
	}
	return s, true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

var encodings = map[string]*charmap.Charmap{
	"cp437":        charmap.CodePage437,
	"cp850":        charmap.CodePage850,
	"cp866":        charmap.CodePage866,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-2":   charmap.ISO8859_2,
	"koi8-r":       charmap.KOI8R,
	"windows-1250": charmap.Windows1250,
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
}

// Encoding resolves a legacy 8-bit name encoding by name, such as
// "windows-1252" or "cp437". The empty name resolves to nil.
func Encoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}
	cm, ok := encodings[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown name encoding %q", name)
	}
	return cm, nil
}

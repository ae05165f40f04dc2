// SPDX-License-Identifier: Unlicense OR MIT

package transfer

import "strings"

// Format is a data representation negotiated between peers. Name is
// the canonical MIME type and defines equality; Aliases are alternative
// names other platforms use for the same representation.
type Format struct {
	Name    string
	Aliases []string
}

// Standard formats.
var (
	Raw = Format{Name: "application/octet-stream", Aliases: []string{
		"application/binary", "application/unknown", "raw", "binary", "buffer", "unknown",
	}}
	Text = Format{Name: "text/plain", Aliases: []string{
		"text", "string", "unicode", "utf8", "STRING", "TEXT", "UTF8_STRING", "UNICODETEXT",
	}}
	URIList   = Format{Name: "text/uri-list", Aliases: []string{"uriList"}}
	ImageData = Format{Name: "image/x-ny-data", Aliases: []string{"imageData"}}
	PNG       = Format{Name: "image/png", Aliases: []string{"PNG"}}
	BMP       = Format{Name: "image/bmp", Aliases: []string{"image/x-bmp", "BMP"}}
	TIFF      = Format{Name: "image/tiff", Aliases: []string{"TIFF"}}
)

var standard = []Format{Raw, Text, URIList, ImageData, PNG, BMP, TIFF}

// Equal reports whether f and o name the same representation.
func (f Format) Equal(o Format) bool {
	return f.Name == o.Name
}

// IsZero reports whether f is the zero format.
func (f Format) IsZero() bool {
	return f.Name == ""
}

// Match reports whether the native format name refers to f. The
// canonical name matches case-insensitively and may carry MIME
// parameters such as ";charset=utf-8"; aliases match exactly.
func (f Format) Match(name string) bool {
	if f.Name == "" {
		return false
	}
	base, _, _ := strings.Cut(name, ";")
	if strings.EqualFold(strings.TrimSpace(base), f.Name) {
		return true
	}
	for _, a := range f.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

func (f Format) String() string {
	return f.Name
}

// Parse returns the standard format native refers to.
func Parse(native string) (Format, bool) {
	for _, f := range standard {
		if f.Match(native) {
			return f, true
		}
	}
	return Format{}, false
}

// Normalize returns the standard format for native, or a custom format
// named native.
func Normalize(native string) Format {
	if f, ok := Parse(native); ok {
		return f
	}
	return Format{Name: native}
}

// Package content implements the closed enumeration of supported media
// types. Each type knows its MIME string, its file extension, and how to
// learn a variant's dimensions either by decoding the file or by parsing
// its canonical "<w>x<h>.<ext>" filename.
package content

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"strings"
)

// Type is one member of the closed {JPEG, PNG, GIF} enumeration.
type Type struct {
	mime string
	ext  string
}

func (t Type) MIME() string      { return t.mime }
func (t Type) Extension() string { return t.ext }
func (t Type) String() string    { return t.ext }

var (
	JPEG = Type{mime: "image/jpeg", ext: "jpg"}
	PNG  = Type{mime: "image/png", ext: "png"}
	GIF  = Type{mime: "image/gif", ext: "gif"}

	all = []Type{JPEG, PNG, GIF}
)

// ByExtension looks a type up by its lower-case file extension. Lookup is
// case-sensitive, matching the canonical filenames this engine writes.
func ByExtension(ext string) (Type, bool) {
	for _, t := range all {
		if t.ext == ext {
			return t, true
		}
	}
	return Type{}, false
}

// ByMIME looks a type up by MIME string. Lookup is case-insensitive and
// ignores any ";parameter" tail (e.g. "image/jpeg; charset=binary").
func ByMIME(mime string) (Type, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	for _, t := range all {
		if t.mime == mime {
			return t, true
		}
	}
	return Type{}, false
}

// All returns every registered content type.
func All() []Type {
	out := make([]Type, len(all))
	copy(out, all)
	return out
}

// DecodeDimensions probes the width and height of the image at path by
// decoding just enough of it to read the header, without materializing
// the full pixel buffer.
func (t Type) DecodeDimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("content: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("content: decode %s: %w", path, err)
	}
	if want, ok := formatForExt(t.ext); ok && format != want {
		return 0, 0, fmt.Errorf("content: %s does not look like %s (decoded as %s)", path, t.ext, format)
	}
	return cfg.Width, cfg.Height, nil
}

func formatForExt(ext string) (string, bool) {
	switch ext {
	case "jpg":
		return "jpeg", true
	case "png":
		return "png", true
	case "gif":
		return "gif", true
	default:
		return "", false
	}
}

// ParseFilenameDimensions extracts (w, h) from a canonical variant
// filename "<w>x<h>.<ext>" without touching the file's contents. name is
// a base filename, not a path.
func (t Type) ParseFilenameDimensions(name string) (width, height int, err error) {
	suffix := "." + t.ext
	if !strings.HasSuffix(name, suffix) {
		return 0, 0, fmt.Errorf("content: %q does not have extension %q", name, suffix)
	}
	stem := strings.TrimSuffix(name, suffix)
	parts := strings.SplitN(stem, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("content: %q is not <w>x<h>%s", name, suffix)
	}
	w, err := parseCanonicalInt(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("content: %q: width: %w", name, err)
	}
	h, err := parseCanonicalInt(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("content: %q: height: %w", name, err)
	}
	return w, h, nil
}

// parseCanonicalInt requires the string to be the exact decimal rendering
// of a positive int (no leading zeros, no sign), matching invariant 2's
// "canonical decimal integers (Integer.toString round-trip)" rule.
func parseCanonicalInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be >= 1, got %d", n)
	}
	if strconv.Itoa(n) != s {
		return 0, fmt.Errorf("not canonical: %q", s)
	}
	return n, nil
}

// CanonicalFilename renders the canonical "<w>x<h>.<ext>" filename for a
// variant of this type.
func (t Type) CanonicalFilename(width, height int) string {
	return fmt.Sprintf("%dx%d.%s", width, height, t.ext)
}

// OriginalLinkName renders the "original.<ext>" symlink name for this type.
func (t Type) OriginalLinkName() string {
	return "original." + t.ext
}

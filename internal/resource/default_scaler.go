package resource

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"strings"

	"golang.org/x/image/draw"
)

// DefaultScaler renders variants with golang.org/x/image/draw's
// Catmull-Rom interpolator, the closest stock equivalent to the
// bicubic-style resampling image CDNs typically use. It is the scaler
// wired in by cmd/cdndata; callers embedding this package directly may
// substitute any other Scaler, e.g. one backed by an external image
// service.
type DefaultScaler struct{}

func (DefaultScaler) ScaleInto(src string, width, height int, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("default scaler: open %s: %w", src, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("default scaler: decode %s: %w", src, err)
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Over, nil)

	w, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("default scaler: create %s: %w", dst, err)
	}
	defer w.Close()

	switch ext := strings.ToLower(strings.TrimPrefix(extOf(dst), ".")); ext {
	case "jpg", "jpeg":
		err = jpeg.Encode(w, out, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(w, out)
	case "gif":
		err = gif.Encode(w, out, nil)
	default:
		err = fmt.Errorf("default scaler: unsupported destination extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("default scaler: encode %s: %w", dst, err)
	}
	return nil
}

func extOf(path string) string {
	path = strings.TrimSuffix(path, ".new")
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}

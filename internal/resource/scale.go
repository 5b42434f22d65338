package resource

import (
	"context"
	"math"
	"path/filepath"

	"github.com/ao-apps/ao-cdn-data/internal/cdnerr"
	"github.com/ao-apps/ao-cdn-data/internal/dirlock"
	"github.com/ao-apps/ao-cdn-data/lib/osutil"
)

// axis names the dimension that scale computed on the caller's behalf, so
// the clamp step can tell the explicitly-requested side from the derived
// one.
type axis int

const (
	axisNeither axis = iota
	axisWidth
	axisHeight
)

// roundHalfAwayFromZero matches IEEE-754 round-half-away-from-zero, the
// direction math.Round already implements for float64.
func roundHalfAwayFromZero(f float64) int {
	return int(math.Round(f))
}

// Scale returns the variant that best matches the requested dimensions,
// rendering and committing a new one if no existing variant already
// satisfies the request. At least one of width, height must be non-nil;
// passing neither returns the original.
func (r *Resource) Scale(ctx context.Context, width, height *int) (Variant, error) {
	if width == nil && height == nil {
		return r.Original()
	}

	original, err := r.Original()
	if err != nil {
		return Variant{}, err
	}

	w, h := 0, 0
	var auto axis
	switch {
	case width != nil && height != nil:
		w, h = *width, *height
	case width != nil:
		w = *width
		h = roundHalfAwayFromZero(float64(w) * float64(original.Height) / float64(original.Width))
		auto = axisHeight
	case height != nil:
		h = *height
		w = roundHalfAwayFromZero(float64(h) * float64(original.Width) / float64(original.Height))
		auto = axisWidth
	}

	if w == original.Width && h == original.Height {
		r.hit()
		return original, nil
	}

	lock, err := dirlock.Acquire(r.Dir, false)
	if err != nil {
		return Variant{}, err
	}
	released := false
	release := func() error {
		if released {
			return nil
		}
		released = true
		return lock.Release()
	}
	defer release()

	candidates, err := r.EnumerateVariants(&original.Type)
	if err != nil {
		return Variant{}, err
	}
	candidates = append(candidates, original)

	if v, ok := findExact(candidates, w, h); ok {
		r.hit()
		return v, nil
	}
	if v, ok := findVerticalLetterbox(candidates, w, h); ok {
		r.hit()
		return v, nil
	}
	if v, ok := findHorizontalLetterbox(candidates, w, h); ok {
		r.hit()
		return v, nil
	}

	biggest := pickBiggest(candidates)

	if w > biggest.Width || h > biggest.Height {
		givenAxisExceeded := (auto == axisHeight && w > biggest.Width) || (auto == axisWidth && h > biggest.Height)
		if w > biggest.Width {
			w = biggest.Width
		}
		if h > biggest.Height {
			h = biggest.Height
		}
		if givenAxisExceeded {
			if auto == axisHeight {
				h = biggest.Height
			} else if auto == axisWidth {
				w = biggest.Width
			}
		}
	}

	if w == biggest.Width && h == biggest.Height {
		r.hit()
		return biggest, nil
	}

	letterboxW := roundHalfAwayFromZero(float64(biggest.Width) * float64(h) / float64(biggest.Height))
	letterboxH := roundHalfAwayFromZero(float64(biggest.Height) * float64(w) / float64(biggest.Width))
	if letterboxW < w && h < letterboxH {
		w = letterboxW
	} else {
		h = letterboxH
	}

	if w > biggest.Width || h > biggest.Height {
		return Variant{}, cdnerr.New(cdnerr.InvalidState, r.Dir, "scale refuses to enlarge beyond the biggest known variant")
	}
	if r.Scaler == nil {
		return Variant{}, cdnerr.New(cdnerr.InvalidState, r.Dir, "no scaler configured")
	}

	finalName := original.Type.CanonicalFilename(w, h)
	finalPath := filepath.Join(r.Dir, finalName)
	tempPath := finalPath + ".new"

	if err := r.Scaler.ScaleInto(biggest.Path, w, h, tempPath); err != nil {
		return Variant{}, cdnerr.Wrap(cdnerr.Io, tempPath, "failed to render scaled variant", err)
	}
	if err := osutil.RenameOrCopy(tempPath, finalPath); err != nil {
		return Variant{}, cdnerr.Wrap(cdnerr.Io, finalPath, "failed to commit scaled variant", err)
	}

	if err := release(); err != nil {
		return Variant{}, err
	}

	if r.Notify != nil {
		r.Notify(finalPath)
	}
	if r.Metrics != nil {
		r.Metrics.ScaleRendered()
	}

	return Variant{Path: finalPath, Type: original.Type, Width: w, Height: h}, nil
}

func (r *Resource) hit() {
	if r.Metrics != nil {
		r.Metrics.ScaleCacheHit()
	}
}

func findExact(candidates []Variant, w, h int) (Variant, bool) {
	for _, v := range candidates {
		if v.Width == w && v.Height == h {
			return v, true
		}
	}
	return Variant{}, false
}

func findVerticalLetterbox(candidates []Variant, w, h int) (Variant, bool) {
	for _, v := range candidates {
		if v.Width == w && v.Height <= h {
			return v, true
		}
	}
	return Variant{}, false
}

func findHorizontalLetterbox(candidates []Variant, w, h int) (Variant, bool) {
	for _, v := range candidates {
		if v.Height == h && v.Width <= w {
			return v, true
		}
	}
	return Variant{}, false
}

// pickBiggest returns the candidate with the greatest max(width, height),
// breaking ties by larger width, then larger height.
func pickBiggest(candidates []Variant) Variant {
	biggest := candidates[0]
	biggestMax := max(biggest.Width, biggest.Height)
	for _, v := range candidates[1:] {
		vMax := max(v.Width, v.Height)
		switch {
		case vMax > biggestMax:
			biggest, biggestMax = v, vMax
		case vMax == biggestMax && v.Width > biggest.Width:
			biggest, biggestMax = v, vMax
		case vMax == biggestMax && v.Width == biggest.Width && v.Height > biggest.Height:
			biggest, biggestMax = v, vMax
		}
	}
	return biggest
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

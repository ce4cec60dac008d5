package catset

import (
	"image"
	"log/slog"
)

// acceptImage reports whether a decoded image is large enough to be worth
// labeling. Thumbnails and tracking pixels are rejected.
func acceptImage(img image.Image, minWidth int) bool {
	b := img.Bounds()
	if b.Dx() < minWidth || b.Dy() <= 0 {
		slog.Debug("catset: image too narrow", "width", b.Dx(), "min", minWidth)
		return false
	}
	return true
}

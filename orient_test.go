package catset

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

// strip returns a 3x1 image colored red, green, blue from left to right.
func strip() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 255})
	img.Set(2, 0, color.NRGBA{B: 255, A: 255})
	return img
}

func red(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r == 0xffff && g == 0 && b == 0
}

func TestApplyOrientation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		orientation int
		w, h        int
		redAt       image.Point
	}{
		{1, 3, 1, image.Pt(0, 0)},
		{2, 3, 1, image.Pt(2, 0)},
		{3, 3, 1, image.Pt(2, 0)},
		{6, 1, 3, image.Pt(0, 0)},
		{8, 1, 3, image.Pt(0, 2)},
	}
	for _, tt := range tests {
		got := applyOrientation(strip(), tt.orientation)
		if b := got.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
			t.Errorf("orientation %d: size %dx%d, want %dx%d", tt.orientation, b.Dx(), b.Dy(), tt.w, tt.h)
			continue
		}
		if !red(got.At(tt.redAt.X, tt.redAt.Y)) {
			t.Errorf("orientation %d: red pixel not at %v", tt.orientation, tt.redAt)
		}
	}
}

func TestTagValueInt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{uint16(6), 6, true},
		{uint32(3), 3, true},
		{[]uint16{8}, 8, true},
		{"6", 0, false},
		{[]uint16{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := tagValueInt(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("tagValueInt(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDecodeImage_PNGWithoutExif(t *testing.T) {
	t.Parallel()
	img, err := decodeImage(patternPNG(t, false))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("size = %v, want 64x48", b)
	}
	var buf bytes.Buffer
	if err := encodeImage(&buf, img, ".gif"); err == nil {
		t.Error("encodeImage accepted an unsupported extension")
	}
}

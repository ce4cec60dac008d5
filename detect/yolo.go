// Package detect holds the model-independent parts of a YOLO detector:
// letterboxing an image into a square float32 input tensor and decoding
// end-to-end ([N,6]) output rows back into source pixel coordinates.
package detect

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"

	catset "github.com/anatolykoptev/go-catset"
)

// DefaultInputSize is the square input edge of the stock YOLO exports.
const DefaultInputSize = 640

// padValue is the gray YOLO pads letterboxed inputs with (114/255).
const padValue = float32(114.0 / 255.0)

// RowWidth is the number of values per output row: x1 y1 x2 y2 score class.
const RowWidth = 6

// Letterbox records how a source image was placed into the model input.
type Letterbox struct {
	Size       int     // input edge in pixels
	Scale      float64 // source pixels * Scale = input pixels
	PadX, PadY int     // offset of the scaled image inside the input
	SrcW, SrcH int
}

// Prepare scales img to fit a size x size square keeping the aspect ratio,
// pads the rest with gray and returns the RGB values in [0,1] as an NHWC
// tensor of length size*size*3.
func Prepare(img image.Image, size int) ([]float32, Letterbox, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, Letterbox{}, fmt.Errorf("detect: empty image %dx%d", w, h)
	}
	if size <= 0 {
		size = DefaultInputSize
	}

	scale := min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))
	lb := Letterbox{
		Size:  size,
		Scale: scale,
		PadX:  (size - nw) / 2,
		PadY:  (size - nh) / 2,
		SrcW:  w,
		SrcH:  h,
	}

	tensor := make([]float32, size*size*3)
	for i := range tensor {
		tensor[i] = padValue
	}

	scaled := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear)
	sb := scaled.Bounds()
	for y := 0; y < nh; y++ {
		row := (lb.PadY + y) * size
		for x := 0; x < nw; x++ {
			r, g, bl, _ := scaled.At(sb.Min.X+x, sb.Min.Y+y).RGBA()
			i := (row + lb.PadX + x) * 3
			tensor[i] = float32(r) / 0xffff
			tensor[i+1] = float32(g) / 0xffff
			tensor[i+2] = float32(bl) / 0xffff
		}
	}
	return tensor, lb, nil
}

// Decode converts output rows into detections in source pixels. Rows with a
// score below minScore are dropped. Coordinates may be in input pixels or
// normalized to [0,1]; normalized output is detected from the largest
// coordinate. A negative class value yields catset.NoClass.
func Decode(out []float32, lb Letterbox, minScore float64) ([]catset.Detection, error) {
	if len(out)%RowWidth != 0 {
		return nil, fmt.Errorf("detect: output length %d is not a multiple of %d", len(out), RowWidth)
	}
	if lb.Scale <= 0 {
		return nil, fmt.Errorf("detect: invalid letterbox scale %v", lb.Scale)
	}

	norm := 1.0
	if isNormalized(out) {
		norm = float64(lb.Size)
	}

	var dets []catset.Detection
	for i := 0; i+RowWidth <= len(out); i += RowWidth {
		row := out[i : i+RowWidth]
		score := float64(row[4])
		if score < minScore {
			continue
		}
		class := int(row[5] + 0.5)
		if row[5] < 0 {
			class = catset.NoClass
		}
		x1, y1 := lb.toSource(float64(row[0])*norm, float64(row[1])*norm)
		x2, y2 := lb.toSource(float64(row[2])*norm, float64(row[3])*norm)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		dets = append(dets, catset.Detection{XMin: x1, YMin: y1, XMax: x2, YMax: y2, ClassID: class, Score: score})
	}
	return dets, nil
}

// toSource maps an input-pixel point back to the source image, clamped to
// its bounds.
func (lb Letterbox) toSource(x, y float64) (float64, float64) {
	sx := (x - float64(lb.PadX)) / lb.Scale
	sy := (y - float64(lb.PadY)) / lb.Scale
	return clamp(sx, float64(lb.SrcW)), clamp(sy, float64(lb.SrcH))
}

func clamp(v, hi float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > hi:
		return hi
	default:
		return v
	}
}

func isNormalized(out []float32) bool {
	var peak float32
	for i := 0; i+RowWidth <= len(out); i += RowWidth {
		for _, v := range out[i : i+4] {
			peak = max(peak, v)
		}
	}
	return peak > 0 && peak <= 1.5
}

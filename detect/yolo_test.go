package detect

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catset "github.com/anatolykoptev/go-catset"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestPrepare_Letterbox(t *testing.T) {
	t.Parallel()
	tensor, lb, err := Prepare(solid(200, 100, color.RGBA{R: 255, A: 255}), 100)
	require.NoError(t, err)
	require.Len(t, tensor, 100*100*3)

	assert.InDelta(t, 0.5, lb.Scale, 1e-9)
	assert.Equal(t, 0, lb.PadX)
	assert.Equal(t, 25, lb.PadY)

	// top padding row stays gray
	assert.InDelta(t, padValue, tensor[0], 1e-6)
	// first image row is red
	i := (25*100 + 10) * 3
	assert.InDelta(t, 1.0, tensor[i], 1e-3)
	assert.InDelta(t, 0.0, tensor[i+1], 1e-3)
	assert.InDelta(t, 0.0, tensor[i+2], 1e-3)
}

func TestPrepare_EmptyImage(t *testing.T) {
	t.Parallel()
	_, _, err := Prepare(image.NewRGBA(image.Rect(0, 0, 0, 0)), 64)
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	t.Parallel()
	lb := Letterbox{Size: 100, Scale: 0.5, PadY: 25, SrcW: 200, SrcH: 100}
	want := catset.Detection{XMin: 20, YMin: 10, XMax: 100, YMax: 90, ClassID: catset.CatClassID, Score: 0.9}

	tests := []struct {
		name string
		out  []float32
	}{
		{"input pixels", []float32{10, 30, 50, 70, 0.9, 15, 0, 0, 10, 10, 0.1, 15}},
		{"normalized", []float32{0.1, 0.3, 0.5, 0.7, 0.9, 15, 0, 0, 0.1, 0.1, 0.1, 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dets, err := Decode(tt.out, lb, 0.5)
			require.NoError(t, err)
			require.Len(t, dets, 1)
			assert.InDelta(t, want.XMin, dets[0].XMin, 1e-3)
			assert.InDelta(t, want.YMin, dets[0].YMin, 1e-3)
			assert.InDelta(t, want.XMax, dets[0].XMax, 1e-3)
			assert.InDelta(t, want.YMax, dets[0].YMax, 1e-3)
			assert.Equal(t, want.ClassID, dets[0].ClassID)
			assert.InDelta(t, want.Score, dets[0].Score, 1e-6)
		})
	}
}

func TestDecode_ClampsAndNoClass(t *testing.T) {
	t.Parallel()
	lb := Letterbox{Size: 100, Scale: 0.5, PadY: 25, SrcW: 200, SrcH: 100}
	dets, err := Decode([]float32{-10, 0, 120, 100, 0.8, -1}, lb, 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, catset.NoClass, dets[0].ClassID)
	assert.Equal(t, 0.0, dets[0].XMin)
	assert.Equal(t, 0.0, dets[0].YMin)
	assert.Equal(t, 200.0, dets[0].XMax)
	assert.Equal(t, 100.0, dets[0].YMax)
}

func TestDecode_BadLength(t *testing.T) {
	t.Parallel()
	_, err := Decode(make([]float32, 7), Letterbox{Size: 640, Scale: 1}, 0.5)
	assert.Error(t, err)
}

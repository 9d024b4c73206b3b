package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// ErrEmptyImage is returned when a blob decodes to zero pixels.
var ErrEmptyImage = errors.New("image has no pixels")

// decodeGray decodes any registered format into an 8-bit grayscale image.
func decodeGray(blob []byte) (*image.Gray, string, error) {
	img, format, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, "", fmt.Errorf("decode: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, format, ErrEmptyImage
	}
	if g, ok := img.(*image.Gray); ok {
		return g, format, nil
	}
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray, format, nil
}

// grayPixels returns the pixel intensities of g row by row.
func grayPixels(g *image.Gray) []float64 {
	b := g.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, p := range row {
			out = append(out, float64(p))
		}
	}
	return out
}

// intensityVariance returns the population variance of pixel intensities.
func intensityVariance(px []float64) float64 {
	if len(px) == 0 {
		return 0
	}
	var sum float64
	for _, p := range px {
		sum += p
	}
	mean := sum / float64(len(px))
	var sq float64
	for _, p := range px {
		d := p - mean
		sq += d * d
	}
	return sq / float64(len(px))
}

// inkCoverage returns the fraction of pixels darker than threshold.
func inkCoverage(g *image.Gray, threshold uint8) float64 {
	b := g.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	ink := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y < threshold {
				ink++
			}
		}
	}
	return float64(ink) / float64(total)
}

// resizeGray scales g onto a w x h canvas with bilinear interpolation.
func resizeGray(g *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), g, g.Bounds(), draw.Src, nil)
	return dst
}

// normalizedCrossCorrelation returns Pearson's r between two equal-length
// series. It is NaN when either series is constant.
func normalizedCrossCorrelation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	n := float64(len(a))
	var sa, sb float64
	for i := range a {
		sa += a[i]
		sb += b[i]
	}
	ma, mb := sa/n, sb/n

	var num, da, db float64
	for i := range a {
		x, y := a[i]-ma, b[i]-mb
		num += x * y
		da += x * x
		db += y * y
	}
	den := math.Sqrt(da * db)
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

// euclidean returns the L2 distance between two embeddings of equal length.
func euclidean(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), true
}

package classify

import (
	"fmt"
	"image"
	"math"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Metrics are the per-image characteristics the classifier scores on.
// They are recomputed on every run and never persisted.
type Metrics struct {
	Brightness     float64 // mean grayscale value, 0..255
	WhitenessRatio float64 // fraction of pixels above the white threshold
	EdgeDensity    float64 // fraction of pixels sitting on a strong gradient
	StdDev         float64 // grayscale standard deviation
	HistPeakPos    int     // histogram bin holding the most pixels
	HistPeakMass   float64 // fraction of pixels in that bin
	FileSizeMB     float64
}

const (
	whiteThreshold = 200
	edgeThreshold  = 96
)

// Analyze decodes the image at path and computes its metrics.
// A file that cannot be decoded is a classification error; callers skip the
// unit rather than guess.
func Analyze(path string) (Metrics, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metrics{}, fmt.Errorf("stat image: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return Metrics{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Metrics{}, fmt.Errorf("decode image %s: %w", path, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return Metrics{}, fmt.Errorf("empty image %s", path)
	}
	total := float64(w * h)

	// Grayscale plane plus running sums in one pass.
	gray := make([]uint8, w*h)
	var hist [256]int
	var sum, sumSq float64
	white := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma on 8-bit channels.
			v := (299*float64(r>>8) + 587*float64(g>>8) + 114*float64(b>>8)) / 1000
			gv := uint8(v)
			gray[y*w+x] = gv
			hist[gv]++
			sum += v
			sumSq += v * v
			if gv > whiteThreshold {
				white++
			}
		}
	}

	mean := sum / total
	variance := sumSq/total - mean*mean
	if variance < 0 {
		variance = 0
	}

	peakPos, peakCount := 0, 0
	for i, c := range hist {
		if c > peakCount {
			peakPos, peakCount = i, c
		}
	}

	// Edge density from a first-difference gradient; text and scribbles
	// light up far more pixels than a flat background.
	edges := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := int(gray[y*w+x+1]) - int(gray[y*w+x-1])
			gy := int(gray[(y+1)*w+x]) - int(gray[(y-1)*w+x])
			if abs(gx)+abs(gy) > edgeThreshold {
				edges++
			}
		}
	}

	return Metrics{
		Brightness:     mean,
		WhitenessRatio: float64(white) / total,
		EdgeDensity:    float64(edges) / total,
		StdDev:         math.Sqrt(variance),
		HistPeakPos:    peakPos,
		HistPeakMass:   float64(peakCount) / total,
		FileSizeMB:     float64(info.Size()) / (1024 * 1024),
	}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

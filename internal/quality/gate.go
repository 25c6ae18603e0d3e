// Package quality scores face crops before they are matched against the
// identity catalog.
package quality

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// Config holds the per-criterion thresholds.
type Config struct {
	BlurThreshold     float64 // minimum Laplacian variance
	BlurNormalization float64
	MinBrightness     float64
	MaxBrightness     float64
	MinFaceSize       int
	SizeNormalization float64
	PoseAngle         float64 // degrees, exclusive
}

// DefaultConfig returns the thresholds used for 8-bit frames.
func DefaultConfig() Config {
	return Config{
		BlurThreshold:     100,
		BlurNormalization: 200,
		MinBrightness:     40,
		MaxBrightness:     220,
		MinFaceSize:       40,
		SizeNormalization: 100,
		PoseAngle:         30,
	}
}

// Gate evaluates face crops. It holds no mutable state and is safe for
// concurrent use.
type Gate struct {
	cfg Config
}

func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate scores a crop of a detected face. The size check uses the
// detector's bounding box, the pose check its optional angles.
func (g *Gate) Evaluate(crop image.Image, face domain.DetectedFace) domain.QualityVerdict {
	if crop == nil || crop.Bounds().Empty() {
		return domain.QualityVerdict{}
	}

	gray := grayscale(crop)
	bounds := crop.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var (
		verdict domain.QualityVerdict
		scores  [4]float64
	)

	// sharpness
	_, variance := stat.PopMeanVariance(laplacian(gray, w, h), nil)
	verdict.Sharpness = variance
	if variance >= g.cfg.BlurThreshold {
		scores[0] = math.Min(1, variance/g.cfg.BlurNormalization)
	} else {
		verdict.Issues = append(verdict.Issues, domain.IssueBlurry)
	}

	// brightness
	mean := stat.Mean(gray, nil)
	verdict.Brightness = mean
	switch {
	case mean < g.cfg.MinBrightness:
		verdict.Issues = append(verdict.Issues, domain.IssueTooDark)
	case mean > g.cfg.MaxBrightness:
		verdict.Issues = append(verdict.Issues, domain.IssueTooBright)
	default:
		scores[1] = 1 - math.Abs(mean-128)/128
	}

	// size
	minDim := face.Box.MinDim()
	verdict.MinDim = minDim
	if minDim >= g.cfg.MinFaceSize {
		scores[2] = math.Min(1, float64(minDim)/g.cfg.SizeNormalization)
	} else {
		verdict.Issues = append(verdict.Issues, domain.IssueTooSmall)
	}

	// pose; a detector without pose estimation is assumed frontal
	var angle float64
	if face.Pose != nil {
		angle = face.Pose.MaxAngle()
	}
	verdict.PoseAngle = angle
	if angle < g.cfg.PoseAngle {
		scores[3] = 1 - angle/g.cfg.PoseAngle
	} else {
		verdict.Issues = append(verdict.Issues, domain.IssueBadPose)
	}

	verdict.Score = (scores[0] + scores[1] + scores[2] + scores[3]) / 4
	return verdict
}

// grayscale converts img to luma values (BT.601 weights) in row-major order.
func grayscale(img image.Image) []float64 {
	g := imaging.Grayscale(img)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w*4]
		for x := 0; x < w; x++ {
			out[y*w+x] = float64(row[x*4])
		}
	}
	return out
}

// laplacian applies the 4-neighbour Laplacian kernel with reflect-101
// borders.
func laplacian(gray []float64, w, h int) []float64 {
	out := make([]float64, len(gray))
	for y := 0; y < h; y++ {
		up, down := reflect101(y-1, h), reflect101(y+1, h)
		for x := 0; x < w; x++ {
			left, right := reflect101(x-1, w), reflect101(x+1, w)
			out[y*w+x] = gray[y*w+left] + gray[y*w+right] +
				gray[up*w+x] + gray[down*w+x] -
				4*gray[y*w+x]
		}
	}
	return out
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*n - 2 - i
	}
	return i
}

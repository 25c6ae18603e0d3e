package deepface

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"math"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/provider"
)

const jpegQuality = 90

// Detector implements provider.Detector and provider.Embedder on top of
// the DeepFace /represent endpoint.
type Detector struct {
	client *Client
}

var (
	_ provider.Detector = (*Detector)(nil)
	_ provider.Embedder = (*Detector)(nil)
)

func NewDetector(config Config) *Detector {
	return &Detector{
		client: NewClient(config),
	}
}

func (d *Detector) Name() string {
	return "deepface"
}

// Detect returns every face DeepFace finds in img with its normalised
// embedding. Pose carries only roll, and only when the backend located
// both eyes.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]domain.DetectedFace, error) {
	data, err := encodeDataURI(img)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Represent(ctx, data, "")
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	bounds := img.Bounds()
	faces := make([]domain.DetectedFace, 0, len(resp.Results))
	for _, result := range resp.Results {
		// With enforce_detection off DeepFace answers "no face" with the
		// whole image at zero confidence.
		if isWholeImage(result, bounds) {
			continue
		}

		area := result.FacialArea
		face := domain.DetectedFace{
			Box: domain.BoundingBox{
				X1: bounds.Min.X + area.X,
				Y1: bounds.Min.Y + area.Y,
				X2: bounds.Min.X + area.X + area.W,
				Y2: bounds.Min.Y + area.Y + area.H,
			},
			Embedding:  NormalizeEmbedding(result.Embedding),
			Confidence: result.FaceConfidence,
		}
		if roll, ok := area.EyeRoll(); ok {
			face.Pose = &domain.Pose{Roll: roll}
		}
		faces = append(faces, face)
	}

	return faces, nil
}

// Embed computes the embedding of a face crop without running detection.
func (d *Detector) Embed(ctx context.Context, crop image.Image) ([]float64, error) {
	data, err := encodeDataURI(crop)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Represent(ctx, data, SkipDetection)
	if err != nil {
		return nil, fmt.Errorf("embed face: %w", err)
	}

	if len(resp.Results) == 0 || len(resp.Results[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}

	return NormalizeEmbedding(resp.Results[0].Embedding), nil
}

func isWholeImage(result RepresentResult, bounds image.Rectangle) bool {
	area := result.FacialArea
	return result.FaceConfidence == 0 &&
		area.X == 0 && area.Y == 0 &&
		area.W >= bounds.Dx() && area.H >= bounds.Dy()
}

func encodeDataURI(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", ErrUnencodableImage
	}

	data, err := provider.EncodeJPEG(img, jpegQuality)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnencodableImage, err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// NormalizeEmbedding normalizes an embedding vector to unit length.
// Zero vectors are returned unchanged.
func NormalizeEmbedding(embedding []float64) []float64 {
	if len(embedding) == 0 {
		return embedding
	}

	var norm float64
	for _, v := range embedding {
		norm += v * v
	}

	if norm == 0 {
		return embedding
	}

	norm = math.Sqrt(norm)
	normalized := make([]float64, len(embedding))
	for i, v := range embedding {
		normalized[i] = v / norm
	}

	return normalized
}

package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// Detector finds the faces in a frame. Boxes are in frame pixel
// coordinates and may extend past the frame edges.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]domain.DetectedFace, error)
	Name() string
}

// Embedder computes the embedding of an already cropped face.
type Embedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float64, error)
}

// EncodeJPEG encodes img for detectors that take compressed uploads.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

package mock

import (
	"context"
	"crypto/sha256"
	"image"
	"math"
	"sync/atomic"

	"github.com/disintegration/imaging"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/provider"
)

const (
	embeddingDimension = 512
	// thumbnailSize is the side of the grayscale thumbnail the embedding
	// is derived from, so small pixel noise maps to the same identity.
	thumbnailSize = 8
)

// Detector implements provider.Detector and provider.Embedder for tests
// and development without a face service. It reports one centred face per
// frame with an embedding derived from the frame content.
type Detector struct {
	calls atomic.Int64
}

var (
	_ provider.Detector = (*Detector)(nil)
	_ provider.Embedder = (*Detector)(nil)
)

// New cria uma nova instância do mock Detector
func New() *Detector {
	return &Detector{}
}

func (d *Detector) Name() string {
	return "mock"
}

// Calls returns how many times Detect ran.
func (d *Detector) Calls() int64 {
	return d.calls.Load()
}

// Detect simula detecção: a face covering the middle half of the frame.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]domain.DetectedFace, error) {
	d.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, nil
	}

	box := domain.BoundingBox{
		X1: b.Min.X + b.Dx()/4,
		Y1: b.Min.Y + b.Dy()/4,
		X2: b.Min.X + b.Dx()*3/4,
		Y2: b.Min.Y + b.Dy()*3/4,
	}

	return []domain.DetectedFace{
		{
			Box:        box,
			Embedding:  generateEmbedding(imaging.Crop(img, box.Rect())),
			Pose:       &domain.Pose{},
			Confidence: 0.99,
		},
	}, nil
}

// Embed gera embedding determinístico a partir do conteúdo do recorte
func (d *Detector) Embed(ctx context.Context, crop image.Image) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if crop.Bounds().Empty() {
		return nil, domain.ErrEmptyImage
	}
	return generateEmbedding(crop), nil
}

// generateEmbedding hashes a coarse grayscale thumbnail into a unit vector.
func generateEmbedding(img image.Image) []float64 {
	thumb := imaging.Grayscale(imaging.Resize(img, thumbnailSize, thumbnailSize, imaging.Box))
	hash := sha256.Sum256(thumb.Pix)

	embedding := make([]float64, embeddingDimension)
	hashLen := len(hash)
	for i := 0; i < embeddingDimension; i++ {
		idx := i % hashLen
		embedding[i] = (float64(hash[idx])/255.0)*2 - 1
	}

	norm := 0.0
	for _, v := range embedding {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return embedding
	}

	for i := range embedding {
		embedding[i] /= norm
	}

	return embedding
}

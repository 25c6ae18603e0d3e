package rekognition

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/disintegration/imaging"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/provider"
)

const (
	// maxImageSize is the maximum image size supported by AWS Rekognition (5MB)
	maxImageSize = 5 * 1024 * 1024
	jpegQuality  = 90
)

// Detector locates faces with AWS Rekognition DetectFaces. Rekognition
// returns no embeddings, so each face crop is passed to an Embedder.
type Detector struct {
	api      faceAPI
	embedder provider.Embedder
	config   Config
	logger   *slog.Logger
}

var _ provider.Detector = (*Detector)(nil)

// NewDetector wires a Detector to the given Rekognition API. embedder may
// be nil, in which case faces are returned without embeddings.
func NewDetector(api faceAPI, embedder provider.Embedder, cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		api:      api,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}
}

// New builds a Detector backed by a real Rekognition client.
func New(ctx context.Context, cfg Config, embedder provider.Embedder, logger *slog.Logger) (*Detector, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create rekognition client: %w", err)
	}
	return NewDetector(client, embedder, cfg, logger), nil
}

func (d *Detector) Name() string {
	return "rekognition"
}

// Detect returns the faces Rekognition finds in img. Returns an empty
// slice if no faces are detected (not an error).
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]domain.DetectedFace, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrInvalidImage
	}

	data, err := provider.EncodeJPEG(img, jpegQuality)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("%w: image too large (%d bytes, maximum %d)", ErrInvalidImage, len(data), maxImageSize)
	}

	output, err := d.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: data},
		Attributes: []types.Attribute{types.AttributeDefault},
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", translateError(err))
	}

	bounds := img.Bounds()
	faces := make([]domain.DetectedFace, 0, len(output.FaceDetails))
	for _, detail := range output.FaceDetails {
		if detail.BoundingBox == nil {
			continue
		}

		confidence := float64(aws.ToFloat32(detail.Confidence)) / 100
		if confidence < d.config.MinConfidence {
			continue
		}

		face := domain.DetectedFace{
			Box:        pixelBox(detail.BoundingBox, bounds),
			Pose:       convertPose(detail.Pose),
			Confidence: confidence,
		}

		if d.embedder != nil {
			face.Embedding = d.embed(ctx, img, face.Box)
		}

		faces = append(faces, face)
	}

	return faces, nil
}

// embed returns nil when the crop is empty or the embedder fails; such
// faces are still reported so the caller sees the detection.
func (d *Detector) embed(ctx context.Context, img image.Image, box domain.BoundingBox) []float64 {
	clamped := box.Clamp(img.Bounds().Max.X, img.Bounds().Max.Y)
	if clamped.Empty() {
		return nil
	}

	crop := imaging.Crop(img, clamped.Rect())
	embedding, err := d.embedder.Embed(ctx, crop)
	if err != nil {
		d.logger.Warn("embed face crop failed",
			"bbox", box,
			"error", err,
		)
		return nil
	}
	return embedding
}

// pixelBox converts Rekognition's frame-relative ratios into pixel
// coordinates. The box may extend past the frame.
func pixelBox(bb *types.BoundingBox, bounds image.Rectangle) domain.BoundingBox {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	left := float64(aws.ToFloat32(bb.Left))
	top := float64(aws.ToFloat32(bb.Top))
	width := float64(aws.ToFloat32(bb.Width))
	height := float64(aws.ToFloat32(bb.Height))

	x1 := bounds.Min.X + int(left*w)
	y1 := bounds.Min.Y + int(top*h)
	return domain.BoundingBox{
		X1: x1,
		Y1: y1,
		X2: x1 + int(width*w),
		Y2: y1 + int(height*h),
	}
}

func convertPose(p *types.Pose) *domain.Pose {
	if p == nil {
		return nil
	}
	return &domain.Pose{
		Pitch: float64(aws.ToFloat32(p.Pitch)),
		Yaw:   float64(aws.ToFloat32(p.Yaw)),
		Roll:  float64(aws.ToFloat32(p.Roll)),
	}
}

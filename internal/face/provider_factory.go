package face

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/config"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/provider"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/provider/deepface"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/provider/rekognition"
)

// ProviderType defines supported face detector types
type ProviderType string

const (
	// ProviderTypeDeepFace is the DeepFace service (local, default)
	ProviderTypeDeepFace ProviderType = "deepface"
	// ProviderTypeRekognition is AWS Rekognition for detection with DeepFace embeddings
	ProviderTypeRekognition ProviderType = "rekognition"
	// ProviderTypeMock is a deterministic in-process detector for development
	ProviderTypeMock ProviderType = "mock"
)

// NewDetector creates the Detector selected by cfg.Detector.Provider.
//
// Rekognition does not return embeddings, so it is paired with the DeepFace
// service for the embedding step. AWS credentials come from the SDK
// default chain (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, profiles).
func NewDetector(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Detector, error) {
	providerType := ProviderType(cfg.Detector.Provider)

	switch providerType {
	case ProviderTypeRekognition:
		return createRekognitionDetector(ctx, cfg, logger)

	case ProviderTypeDeepFace, "":
		return createDeepFaceDetector(cfg), nil

	case ProviderTypeMock:
		return mock.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s, %s, %s)",
			cfg.Detector.Provider, ProviderTypeDeepFace, ProviderTypeRekognition, ProviderTypeMock)
	}
}

// createRekognitionDetector creates an AWS Rekognition detector instance
func createRekognitionDetector(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Detector, error) {
	rekogConfig := rekognition.DefaultConfig()
	if cfg.Detector.AWSRegion != "" {
		rekogConfig.Region = cfg.Detector.AWSRegion
	}

	det, err := rekognition.New(ctx, rekogConfig, createDeepFaceDetector(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("create rekognition detector in %s: %w", rekogConfig.Region, err)
	}

	return det, nil
}

// createDeepFaceDetector creates a DeepFace detector instance
func createDeepFaceDetector(cfg *config.Config) *deepface.Detector {
	deepfaceConfig := deepface.DefaultConfig()

	if cfg.Detector.DeepFaceURL != "" {
		deepfaceConfig.BaseURL = cfg.Detector.DeepFaceURL
	}
	if cfg.Detector.Model != "" {
		deepfaceConfig.Model = cfg.Detector.Model
	}
	if cfg.Detector.Backend != "" {
		deepfaceConfig.Detector = cfg.Detector.Backend
	}
	if cfg.Detector.Timeout > 0 {
		deepfaceConfig.Timeout = cfg.Detector.Timeout
	}
	if cfg.Detector.RetryCount >= 0 {
		deepfaceConfig.RetryCount = cfg.Detector.RetryCount
	}

	return deepface.NewDetector(deepfaceConfig)
}

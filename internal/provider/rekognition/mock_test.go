package rekognition

import (
	"context"
	"image"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
)

// mockRekognitionAPI is a mock implementation of faceAPI for testing
type mockRekognitionAPI struct {
	detectFacesFunc func(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

func (m *mockRekognitionAPI) DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	if m.detectFacesFunc != nil {
		return m.detectFacesFunc(ctx, params, optFns...)
	}
	return &rekognition.DetectFacesOutput{}, nil
}

// mockEmbedder records the crop sizes it is asked to embed.
type mockEmbedder struct {
	mu        sync.Mutex
	crops     []image.Rectangle
	embedding []float64
	err       error
}

func (m *mockEmbedder) Embed(_ context.Context, crop image.Image) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crops = append(m.crops, crop.Bounds())
	if m.err != nil {
		return nil, m.err
	}
	return m.embedding, nil
}

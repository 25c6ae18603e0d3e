package handler

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

func solidFrame(seq uint64, c color.Color) domain.Frame {
	return domain.Frame{
		Image:      imaging.New(32, 24, c),
		Seq:        seq,
		CapturedAt: time.Now(),
	}
}

// closedDone makes each stream emit at most one frame and then finish.
func closedDone() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func streamOnce(t *testing.T, cam *fakeCapture, path string) (string, []image.Image) {
	t.Helper()

	h := NewStreamHandler(cam, StreamConfig{Interval: time.Hour, JPEGQuality: 80}, closedDone(), testLogger())
	app := fiber.New()
	app.Get("/v1/stream/raw", h.Raw)
	app.Get("/v1/stream/annotated", h.Annotated)

	resp, err := app.Test(httptest.NewRequest("GET", path, nil), 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	contentType := resp.Header.Get(fiber.HeaderContentType)
	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/x-mixed-replace", mediaType)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var images []image.Image
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		img, err := jpeg.Decode(part)
		require.NoError(t, err)
		images = append(images, img)
	}

	return params["boundary"], images
}

func TestStreamHandler_Raw(t *testing.T) {
	cam := &fakeCapture{raw: solidFrame(1, color.NRGBA{R: 200, A: 255}), hasRaw: true}

	boundary, images := streamOnce(t, cam, "/v1/stream/raw")

	assert.Equal(t, "frame", boundary)
	require.Len(t, images, 1)
	assert.Equal(t, 32, images[0].Bounds().Dx())
	assert.Equal(t, 24, images[0].Bounds().Dy())
}

func TestStreamHandler_AnnotatedPreferred(t *testing.T) {
	cam := &fakeCapture{
		raw:       solidFrame(1, color.NRGBA{R: 255, A: 255}),
		hasRaw:    true,
		annotated: solidFrame(1, color.NRGBA{G: 255, A: 255}),
		hasAnn:    true,
	}

	_, images := streamOnce(t, cam, "/v1/stream/annotated")

	require.Len(t, images, 1)
	r, g, _, _ := images[0].At(16, 12).RGBA()
	assert.Greater(t, g>>8, uint32(200))
	assert.Less(t, r>>8, uint32(60))
}

func TestStreamHandler_AnnotatedFallsBackToRaw(t *testing.T) {
	cam := &fakeCapture{raw: solidFrame(1, color.NRGBA{R: 255, A: 255}), hasRaw: true}

	_, images := streamOnce(t, cam, "/v1/stream/annotated")

	require.Len(t, images, 1)
	r, g, _, _ := images[0].At(16, 12).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
}

func TestStreamHandler_NoFrameYet(t *testing.T) {
	_, images := streamOnce(t, &fakeCapture{}, "/v1/stream/raw")

	assert.Empty(t, images)
}

func TestNewStreamHandler_Defaults(t *testing.T) {
	h := NewStreamHandler(&fakeCapture{}, StreamConfig{}, nil, testLogger())

	assert.Equal(t, DefaultStreamConfig(), h.cfg)
}

package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// HealthResponse represents the liveness and readiness responses
type HealthResponse struct {
	Status  string            `json:"status" example:"ready"`
	Version string            `json:"version,omitempty" example:"0.1.0"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// IdentityResponse represents a resolved identity. Embeddings are never returned.
type IdentityResponse struct {
	ID             string `json:"id" example:"PERSON_3F2A9C1E04B7"`
	FirstSeen      string `json:"first_seen" example:"2024-03-01T12:00:00Z"`
	LastSeen       string `json:"last_seen" example:"2024-03-01T12:05:31Z"`
	DetectionCount int64  `json:"detection_count" example:"7"`
}

// ListIdentitiesResponse represents the identity catalog
type ListIdentitiesResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total" example:"1"`
}

// IdentityStatsData summarises the identity catalog
type IdentityStatsData struct {
	TotalIdentities  int64              `json:"total_identities" example:"12"`
	TotalDetections  int64              `json:"total_detections" example:"340"`
	RecentIdentities []IdentityResponse `json:"recent_identities"`
}

// PipelineCounters mirrors the recognition loop counters
type PipelineCounters struct {
	FramesPulled      int64 `json:"frames_pulled" example:"9000"`
	FramesAnalyzed    int64 `json:"frames_analyzed" example:"3000"`
	FramesSkipped     int64 `json:"frames_skipped" example:"6000"`
	FrameErrors       int64 `json:"frame_errors" example:"2"`
	FacesDetected     int64 `json:"faces_detected" example:"410"`
	FacesTooSmall     int64 `json:"faces_too_small" example:"31"`
	FacesBadCrop      int64 `json:"faces_bad_crop" example:"0"`
	FacesLowQuality   int64 `json:"faces_low_quality" example:"44"`
	EmbeddingsMissing int64 `json:"embeddings_missing" example:"3"`
	MatchErrors       int64 `json:"match_errors" example:"0"`
	Matches           int64 `json:"matches" example:"320"`
	Registrations     int64 `json:"registrations" example:"12"`
	Notifications     int64 `json:"notifications" example:"25"`
}

// CaptureData describes the camera reader
type CaptureData struct {
	Running       bool   `json:"running" example:"true"`
	FramesRead    uint64 `json:"frames_read" example:"9000"`
	FramesDropped uint64 `json:"frames_dropped" example:"120"`
	ReadFailures  uint64 `json:"read_failures" example:"0"`
	Reconnects    uint64 `json:"reconnects" example:"0"`
}

// StatsResponse represents the combined system statistics
type StatsResponse struct {
	Identities  IdentityStatsData `json:"identities"`
	Pipeline    PipelineCounters  `json:"pipeline"`
	Capture     CaptureData       `json:"capture"`
	Subscribers int               `json:"subscribers" example:"2"`
}

// NotificationEvent is the message pushed to WebSocket, webhook and MQTT subscribers
type NotificationEvent struct {
	Type        string  `json:"type" example:"identity_detected"`
	IdentityID  string  `json:"identity_id" example:"PERSON_3F2A9C1E04B7"`
	Confidence  float64 `json:"confidence" example:"0.87"`
	BoundingBox []int   `json:"bbox" example:"[120,80,220,200]"`
	Timestamp   string  `json:"timestamp" example:"2024-03-01T12:05:31Z"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code    string `json:"code" example:"IDENTITY_NOT_FOUND"`
	Message string `json:"message" example:"Identity not found"`
}

// EmptyResponse represents no content response (204)
type EmptyResponse struct{}

func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Facewatch API",
		Version:     "v1.0.0",
		Description: "Administrative and streaming API of the real-time face identity resolution pipeline",
		Host:        "localhost:8000",
		Path:        "/",
	})

	internalError := response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
	storeUnavailable := response.New(ErrorResponse{Code: "STORE_UNAVAILABLE", Message: "Identity store is unavailable"}, "503", "Service Unavailable")
	notFound := response.New(ErrorResponse{Code: "IDENTITY_NOT_FOUND", Message: "Identity not found"}, "404", "Not Found")
	idParam := parameter.StrParam("id", parameter.Path, parameter.WithDescription("Identity identifier"))

	endpoints := []*endpoint.EndPoint{
		// GET /health - Liveness
		endpoint.New(
			endpoint.GET,
			"/health",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Liveness probe"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{}, "200", "Process is alive"),
			}),
		),

		// GET /ready - Readiness
		endpoint.New(
			endpoint.GET,
			"/ready",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Readiness probe"),
			endpoint.WithDescription("Ready once the identity store answers a ping and the camera reader is running."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{}, "200", "Ready"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(HealthResponse{}, "503", "Not ready"),
			}),
		),

		// GET /v1/stats - System statistics
		endpoint.New(
			endpoint.GET,
			"/v1/stats",
			endpoint.WithTags("Stats"),
			endpoint.WithSummary("System statistics"),
			endpoint.WithDescription("Identity catalog totals, the ten most recently seen identities, pipeline counters, camera reader counters and the number of notification subscribers."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(StatsResponse{}, "200", "Statistics"),
			}),
			endpoint.WithErrors([]response.Response{storeUnavailable, internalError}),
		),

		// GET /v1/identities - List identities
		endpoint.New(
			endpoint.GET,
			"/v1/identities",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("List identities"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(ListIdentitiesResponse{}, "200", "Identity catalog"),
			}),
			endpoint.WithErrors([]response.Response{storeUnavailable, internalError}),
		),

		// GET /v1/identities/{id} - Get identity
		endpoint.New(
			endpoint.GET,
			"/v1/identities/{id}",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("Get an identity"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(idParam),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(IdentityResponse{}, "200", "Identity"),
			}),
			endpoint.WithErrors([]response.Response{notFound, storeUnavailable, internalError}),
		),

		// DELETE /v1/identities/{id} - Delete identity
		endpoint.New(
			endpoint.DELETE,
			"/v1/identities/{id}",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("Delete an identity"),
			endpoint.WithDescription("Removes the identity. The next sighting of the same person registers a new identity."),
			endpoint.WithParams(idParam),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "204", "Identity deleted"),
			}),
			endpoint.WithErrors([]response.Response{notFound, storeUnavailable, internalError}),
		),

		// GET /v1/ws/notifications - WebSocket notifications
		endpoint.New(
			endpoint.GET,
			"/v1/ws/notifications",
			endpoint.WithTags("Notifications"),
			endpoint.WithSummary("Subscribe to identity notifications"),
			endpoint.WithDescription("Upgrades to a WebSocket. Each message is a JSON NotificationEvent, sent at most once per identity per cooldown window."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(NotificationEvent{}, "101", "Switching Protocols"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "HTTP_ERROR", Message: "Upgrade Required"}, "426", "Upgrade Required"),
			}),
		),

		// GET /v1/stream/raw - Raw MJPEG
		endpoint.New(
			endpoint.GET,
			"/v1/stream/raw",
			endpoint.WithTags("Streams"),
			endpoint.WithSummary("Raw camera stream"),
			endpoint.WithDescription("MJPEG stream (multipart/x-mixed-replace; boundary=frame) of the latest camera frame."),
			endpoint.WithProduce([]mime.MIME{mime.MIME("multipart/x-mixed-replace")}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "200", "MJPEG stream"),
			}),
		),

		// GET /v1/stream/annotated - Annotated MJPEG
		endpoint.New(
			endpoint.GET,
			"/v1/stream/annotated",
			endpoint.WithTags("Streams"),
			endpoint.WithSummary("Annotated camera stream"),
			endpoint.WithDescription("MJPEG stream of the latest analysed frame with face boxes and labels. Serves raw frames until the first annotated frame exists."),
			endpoint.WithProduce([]mime.MIME{mime.MIME("multipart/x-mixed-replace")}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "200", "MJPEG stream"),
			}),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}

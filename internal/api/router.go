package api

import (
	"log/slog"
	"strings"
	"sync"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/audit"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/capture"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/metrics"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/notify"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/repository"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/ws"
)

// Camera is what the API reads from the capture layer.
type Camera interface {
	handler.FrameProvider
	Running() bool
	Stats() capture.Stats
}

type Dependencies struct {
	Store      repository.IdentityStore
	Camera     Camera
	Pipeline   *metrics.Pipeline
	Dispatcher *notify.Dispatcher
	// Audit is optional.
	Audit      audit.Logger
}

type Config struct {
	CORSOrigins string
	Stream      handler.StreamConfig
}

type Router struct {
	app    *fiber.App
	logger *slog.Logger
	deps   *Dependencies
	cfg    Config

	streamsDone chan struct{}
	closeOnce   sync.Once
}

func NewRouter(logger *slog.Logger, deps *Dependencies, cfg Config) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(logger),
		AppName:               "Facewatch API",
		DisableStartupMessage: true,
	})

	return &Router{
		app:         app,
		logger:      logger,
		deps:        deps,
		cfg:         cfg,
		streamsDone: make(chan struct{}),
	}
}

func (r *Router) Setup() {
	origins := r.cfg.CORSOrigins
	if strings.TrimSpace(origins) == "" {
		origins = "*"
	}

	r.app.Use(requestid.New())
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	healthHandler := handler.NewHealthHandler(r.deps.Store, r.deps.Camera)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	identityHandler := handler.NewIdentityHandler(r.deps.Store, r.deps.Audit)
	statsHandler := handler.NewStatsHandler(r.deps.Store, r.deps.Pipeline, r.deps.Camera, r.deps.Dispatcher)
	streamHandler := handler.NewStreamHandler(r.deps.Camera, r.cfg.Stream, r.streamsDone, r.logger)

	v1 := r.app.Group("/v1")

	v1.Get("/stats", statsHandler.Get)

	identities := v1.Group("/identities")
	identities.Get("/", identityHandler.List)
	identities.Get("/:id", identityHandler.Get)
	identities.Delete("/:id", identityHandler.Delete)

	v1.Get("/ws/notifications", ws.UpgradeMiddleware(), ws.Handler(r.deps.Dispatcher))

	stream := v1.Group("/stream")
	stream.Get("/raw", streamHandler.Raw)
	stream.Get("/annotated", streamHandler.Annotated)
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

// Shutdown ends every open MJPEG stream and then stops the server.
func (r *Router) Shutdown() error {
	r.closeOnce.Do(func() { close(r.streamsDone) })
	return r.app.Shutdown()
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yaml"

type Config struct {
	Environment string `yaml:"environment" envconfig:"ENV"`
	LogFile     string `yaml:"log_file" envconfig:"LOG_FILE"`

	API           APIConfig           `yaml:"api" envconfig:"API"`
	Camera        CameraConfig        `yaml:"camera" envconfig:"CAMERA"`
	Detector      DetectorConfig      `yaml:"detector" envconfig:"DETECTOR"`
	Quality       QualityConfig       `yaml:"quality" envconfig:"QUALITY"`
	Matching      MatchingConfig      `yaml:"matching" envconfig:"MATCHING"`
	Notifications NotificationsConfig `yaml:"notifications" envconfig:"NOTIFICATIONS"`
	Pipeline      PipelineConfig      `yaml:"pipeline" envconfig:"PIPELINE"`
	Store         StoreConfig         `yaml:"store" envconfig:"STORE"`
}

type APIConfig struct {
	Host           string        `yaml:"host" envconfig:"HOST"`
	Port           int           `yaml:"port" envconfig:"PORT"`
	StreamInterval time.Duration `yaml:"stream_interval" envconfig:"STREAM_INTERVAL"`
	JPEGQuality    int           `yaml:"jpeg_quality" envconfig:"JPEG_QUALITY"`
	CORSOrigins    string        `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

type CameraConfig struct {
	URL              string        `yaml:"rtsp_url" envconfig:"RTSP_URL"`
	Width            int           `yaml:"width" envconfig:"WIDTH"`
	Height           int           `yaml:"height" envconfig:"HEIGHT"`
	FPS              int           `yaml:"fps" envconfig:"FPS"`
	QueueSize        int           `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	MaxReadFailures  int           `yaml:"max_read_failures" envconfig:"MAX_READ_FAILURES"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff" envconfig:"RECONNECT_BACKOFF"`
	OpenTimeout      time.Duration `yaml:"open_timeout" envconfig:"OPEN_TIMEOUT"`
	RTSPTransport    string        `yaml:"rtsp_transport" envconfig:"RTSP_TRANSPORT"`
}

type DetectorConfig struct {
	Provider    string        `yaml:"provider" envconfig:"PROVIDER"`
	DeepFaceURL string        `yaml:"deepface_url" envconfig:"DEEPFACE_URL"`
	Model       string        `yaml:"model" envconfig:"MODEL"`
	Backend     string        `yaml:"backend" envconfig:"BACKEND"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	RetryCount  int           `yaml:"retry_count" envconfig:"RETRY_COUNT"`
	AWSRegion   string        `yaml:"aws_region" envconfig:"AWS_REGION"`
}

type QualityConfig struct {
	BlurThreshold     float64 `yaml:"min_blur_threshold" envconfig:"BLUR_THRESHOLD"`
	BlurNormalization float64 `yaml:"blur_normalization" envconfig:"BLUR_NORMALIZATION"`
	MinBrightness     float64 `yaml:"min_brightness" envconfig:"MIN_BRIGHTNESS"`
	MaxBrightness     float64 `yaml:"max_brightness" envconfig:"MAX_BRIGHTNESS"`
	MinFaceSize       int     `yaml:"min_face_size" envconfig:"MIN_FACE_SIZE"`
	SizeNormalization float64 `yaml:"size_normalization" envconfig:"SIZE_NORMALIZATION"`
	PoseAngle         float64 `yaml:"pose_angle" envconfig:"POSE_ANGLE"`
	AcceptScore       float64 `yaml:"accept_score" envconfig:"ACCEPT_SCORE"`
	MinCropSize       int     `yaml:"min_crop_size" envconfig:"MIN_CROP_SIZE"`
}

type MatchingConfig struct {
	Threshold float64       `yaml:"threshold" envconfig:"THRESHOLD"`
	Cooldown  time.Duration `yaml:"cooldown" envconfig:"COOLDOWN"`
}

type NotificationsConfig struct {
	Enabled       bool          `yaml:"enabled" envconfig:"ENABLED"`
	Cooldown      time.Duration `yaml:"cooldown" envconfig:"COOLDOWN"`
	EvictInterval time.Duration `yaml:"evict_interval" envconfig:"EVICT_INTERVAL"`
	WebhookURL    string        `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
	WebhookSecret string        `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
	MQTTBroker    string        `yaml:"mqtt_broker" envconfig:"MQTT_BROKER"`
	MQTTTopic     string        `yaml:"mqtt_topic" envconfig:"MQTT_TOPIC"`
	MQTTClientID  string        `yaml:"mqtt_client_id" envconfig:"MQTT_CLIENT_ID"`
}

type PipelineConfig struct {
	DecimationFactor int           `yaml:"decimation_factor" envconfig:"DECIMATION_FACTOR"`
	IdleDelay        time.Duration `yaml:"idle_delay" envconfig:"IDLE_DELAY"`
	ErrorBackoff     time.Duration `yaml:"error_backoff" envconfig:"ERROR_BACKOFF"`
	ReportInterval   time.Duration `yaml:"report_interval" envconfig:"REPORT_INTERVAL"`
}

type StoreConfig struct {
	Driver          string `yaml:"driver" envconfig:"DRIVER"`
	DatabaseURL     string `yaml:"database_url" envconfig:"DATABASE_URL"`
	AutoMigrate     bool   `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
	MongoURI        string `yaml:"mongo_uri" envconfig:"MONGO_URI"`
	MongoDatabase   string `yaml:"mongo_database" envconfig:"MONGO_DATABASE"`
	MongoCollection string `yaml:"mongo_collection" envconfig:"MONGO_COLLECTION"`
}

// Default returns the configuration used when neither a file nor the
// environment sets a value.
func Default() Config {
	return Config{
		Environment: "development",
		API: APIConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			StreamInterval: 30 * time.Millisecond,
			JPEGQuality:    80,
			CORSOrigins:    "*",
		},
		Camera: CameraConfig{
			URL:              "0",
			Width:            1280,
			Height:           720,
			FPS:              30,
			QueueSize:        10,
			MaxReadFailures:  30,
			ReconnectBackoff: 2 * time.Second,
			OpenTimeout:      15 * time.Second,
			RTSPTransport:    "tcp",
		},
		Detector: DetectorConfig{
			Provider:    "deepface",
			DeepFaceURL: "http://localhost:5005",
			Model:       "ArcFace",
			Backend:     "retinaface",
			Timeout:     10 * time.Second,
			RetryCount:  2,
			AWSRegion:   "us-east-1",
		},
		Quality: QualityConfig{
			BlurThreshold:     100,
			BlurNormalization: 200,
			MinBrightness:     40,
			MaxBrightness:     220,
			MinFaceSize:       40,
			SizeNormalization: 100,
			PoseAngle:         30,
			AcceptScore:       0.5,
			MinCropSize:       10,
		},
		Matching: MatchingConfig{
			Threshold: 0.6,
			Cooldown:  60 * time.Second,
		},
		Notifications: NotificationsConfig{
			Enabled:       true,
			Cooldown:      60 * time.Second,
			EvictInterval: 5 * time.Minute,
			MQTTTopic:     "facewatch",
			MQTTClientID:  "facewatch",
		},
		Pipeline: PipelineConfig{
			DecimationFactor: 3,
			IdleDelay:        10 * time.Millisecond,
			ErrorBackoff:     100 * time.Millisecond,
			ReportInterval:   time.Minute,
		},
		Store: StoreConfig{
			Driver:          "postgres",
			AutoMigrate:     true,
			MongoURI:        "mongodb://localhost:27017",
			MongoDatabase:   "face_recognition",
			MongoCollection: "identities",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE, or config.yaml when present) and the environment, in that
// order of increasing precedence. A .env file is read into the environment
// first when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path, explicit := os.LookupEnv("CONFIG_FILE")
	if !explicit {
		path = defaultConfigFile
	}
	if err := loadFile(path, &cfg, explicit); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Pipeline.DecimationFactor < 1:
		return errors.New("pipeline.decimation_factor must be >= 1")
	case c.Camera.QueueSize < 1:
		return errors.New("camera.queue_size must be >= 1")
	case c.Camera.MaxReadFailures < 1:
		return errors.New("camera.max_read_failures must be >= 1")
	case c.Matching.Threshold < -1 || c.Matching.Threshold > 1:
		return errors.New("matching.threshold must be within [-1, 1]")
	case c.Quality.MinBrightness > c.Quality.MaxBrightness:
		return errors.New("quality.min_brightness must not exceed quality.max_brightness")
	case c.Quality.PoseAngle <= 0:
		return errors.New("quality.pose_angle must be positive")
	case c.Quality.BlurNormalization <= 0 || c.Quality.SizeNormalization <= 0:
		return errors.New("quality normalisation constants must be positive")
	case c.API.JPEGQuality < 1 || c.API.JPEGQuality > 100:
		return errors.New("api.jpeg_quality must be within [1, 100]")
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required for the postgres driver")
		}
	case "mongo", "memory":
	default:
		return fmt.Errorf("unknown store driver %q (supported: postgres, mongo, memory)", c.Store.Driver)
	}

	switch c.Detector.Provider {
	case "deepface", "rekognition", "mock":
	default:
		return fmt.Errorf("unknown detector provider %q (supported: deepface, rekognition, mock)", c.Detector.Provider)
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

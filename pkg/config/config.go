package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Logger    Logger    `envPrefix:"LOGGER_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Store     Store     `envPrefix:"STORE_"`
		Redis     Redis     `envPrefix:"REDIS_"`
		Cache     Cache     `envPrefix:"CACHE_"`
		Scheduler Scheduler `envPrefix:"SCHEDULER_"`
		LOD       LOD       `envPrefix:"LOD_"`
		Frame     Frame     `envPrefix:"FRAME_"`
		Upstream  Upstream  `envPrefix:"UPSTREAM_"`
		Camera    Camera    `envPrefix:"CAMERA_"`
	}

	HTTP struct {
		Server  Server        `envPrefix:"SERVER_"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	}

	Server struct {
		Port         string        `env:"PORT,required"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level    string `env:"LEVEL,required"`
		Encoding string `env:"ENCODING" envDefault:"console"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"guide-helper-tilestream"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"otel-collector.observability.svc.cluster.local:4317"`
	}

	// Store selects the persistent tile store providers read through.
	Store struct {
		Kind       string `env:"KIND" envDefault:"memory"`
		SQLitePath string `env:"SQLITE_PATH" envDefault:"file:tiles.db?cache=shared"`
		Dir        string `env:"DIR" envDefault:"./tiles"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD" envDefault:""`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}

	Cache struct {
		Capacity int           `env:"CAPACITY" envDefault:"512"`
		MaxSize  int64         `env:"MAX_SIZE" envDefault:"268435456"`
		TTL      time.Duration `env:"TTL" envDefault:"5m"`
	}

	Scheduler struct {
		MaxConcurrency int `env:"MAX_CONCURRENCY" envDefault:"8"`
		MaxRetries     int `env:"MAX_RETRIES" envDefault:"4"`
	}

	LOD struct {
		Metric             string        `env:"METRIC" envDefault:"box"`
		SubdivideThreshold float32       `env:"SUBDIVIDE_THRESHOLD" envDefault:"2"`
		MergeRatio         float32       `env:"MERGE_RATIO" envDefault:"0.5"`
		MinDwell           time.Duration `env:"MIN_DWELL" envDefault:"0s"`
		MaxLevel           uint32        `env:"MAX_LEVEL" envDefault:"18"`
	}

	Frame struct {
		RefreshInterval    time.Duration `env:"REFRESH_INTERVAL" envDefault:"16ms"`
		MinNear            float32       `env:"MIN_NEAR" envDefault:"0.1"`
		MaxFar             float32       `env:"MAX_FAR" envDefault:"2e8"`
		CleanupDelay       time.Duration `env:"CLEANUP_DELAY" envDefault:"2s"`
		CompactionInterval time.Duration `env:"COMPACTION_INTERVAL" envDefault:"10s"`
	}

	Upstream struct {
		ImageryURL   string        `env:"IMAGERY_URL" envDefault:"https://tile.openstreetmap.org/{z}/{x}/{y}.png"`
		ElevationURL string        `env:"ELEVATION_URL" envDefault:""`
		UserAgent    string        `env:"USER_AGENT" envDefault:"GuideHelper/1.0 (https://github.com/jaennil/guide_helper)"`
		Referer      string        `env:"REFERER" envDefault:"https://guidehelper.ru.tuna.am"`
		Timeout      time.Duration `env:"TIMEOUT" envDefault:"30s"`
		MaxZoom      uint32        `env:"MAX_ZOOM" envDefault:"19"`
	}

	Camera struct {
		Width  float32 `env:"WIDTH" envDefault:"1280"`
		Height float32 `env:"HEIGHT" envDefault:"720"`
		FOV    float32 `env:"FOV" envDefault:"45"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	LinkedIn struct {
		BaseURL string        `envconfig:"LINKEDIN_BASE_URL" default:"https://api.linkedin.com/v2"`
		Timeout time.Duration `envconfig:"LINKEDIN_TIMEOUT" default:"30s"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Ranking struct {
		TopK            int `envconfig:"RANKING_TOP_K" default:"1"`
		DiversityWindow int `envconfig:"RANKING_DIVERSITY_WINDOW_DAYS" default:"14"`
	} `envconfig:""`

	Predictor struct {
		HorizonDays    int           `envconfig:"PREDICTOR_HORIZON_DAYS" default:"14"`
		MinSamples     int           `envconfig:"PREDICTOR_MIN_SAMPLES" default:"5"`
		MinSpacing     time.Duration `envconfig:"PREDICTOR_MIN_SPACING" default:"4h"`
		HalfLifeDays   float64       `envconfig:"PREDICTOR_HALF_LIFE_DAYS" default:"30"`
		StaleThreshold time.Duration `envconfig:"PREDICTOR_STALE_THRESHOLD" default:"48h"`
	} `envconfig:""`

	Dispatch struct {
		Interval       time.Duration `envconfig:"DISPATCH_INTERVAL" default:"1m"`
		PublishTimeout time.Duration `envconfig:"DISPATCH_PUBLISH_TIMEOUT" default:"30s"`
		MaxAttempts    int           `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"3"`
		ReclaimAfter   time.Duration `envconfig:"DISPATCH_RECLAIM_AFTER" default:"5m"`
	} `envconfig:""`

	Queues struct {
		Retrain string `envconfig:"RETRAIN_QUEUE_KEY" default:"retrain_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env подхватывается, если он есть.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

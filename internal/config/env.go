package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string `yaml:"database_url"`
	SslCertPath string `yaml:"ssl_cert_path"`

	BlobBackend  string `yaml:"blob_backend"`
	AwsAccessKey string `yaml:"aws_access_key"`
	AwsSecretKey string `yaml:"aws_secret_key"`
	AwsRegion    string `yaml:"aws_region"`
	BucketName   string `yaml:"bucket_name"`
	GCSBucket    string `yaml:"gcs_bucket"`

	AIAPIKey       string  `yaml:"gemini_api_key"`
	EmbedModel     string  `yaml:"embed_model"`
	EmbedDim       int     `yaml:"embed_dim"`
	EmbedBatchSize int     `yaml:"embed_batch_size"`
	EmbedRPS       float64 `yaml:"embed_rps"`
	GenModel       string  `yaml:"gen_model"`

	Port        string   `yaml:"port"`
	JWTSecret   string   `yaml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb"`

	ChunkSize         int     `yaml:"chunk_size"`
	ChunkOverlap      int     `yaml:"chunk_overlap"`
	RetrievalTopK     int     `yaml:"retrieval_top_k"`
	RetrievalMinScore float64 `yaml:"retrieval_min_score"`

	IngestWorkers        int           `yaml:"ingest_workers"`
	JobMaxAttempts       int           `yaml:"job_max_attempts"`
	JobBackoff           time.Duration `yaml:"job_backoff"`
	JobTimeout           time.Duration `yaml:"job_timeout"`
	JobVisibilityTimeout time.Duration `yaml:"job_visibility_timeout"`
	JobPollInterval      time.Duration `yaml:"job_poll_interval"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

// Default returns the built-in settings every other source overrides.
func Default() *Config {
	return &Config{
		BlobBackend:          "s3",
		AwsRegion:            "us-east-2",
		BucketName:           "contexta-docs",
		EmbedModel:           "text-embedding-004",
		EmbedDim:             768,
		EmbedBatchSize:       100,
		EmbedRPS:             5,
		GenModel:             "gemini-1.5-flash",
		Port:                 "8080",
		CORSOrigins:          []string{"*"},
		MaxUploadMB:          50,
		ChunkSize:            1000,
		ChunkOverlap:         200,
		RetrievalTopK:        5,
		IngestWorkers:        3,
		JobMaxAttempts:       5,
		JobBackoff:           2 * time.Second,
		JobTimeout:           5 * time.Minute,
		JobVisibilityTimeout: 10 * time.Minute,
		JobPollInterval:      time.Second,
		LogLevel:             "info",
	}
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load reads .env, then the optional YAML file named by CONFIG_FILE, then
// the process environment. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SslCertPath = getEnv("SSL_CERT_PATH", c.SslCertPath)

	c.BlobBackend = strings.ToLower(getEnv("BLOB_BACKEND", c.BlobBackend))
	c.AwsAccessKey = getEnv("AWS_ACCESS_KEY", c.AwsAccessKey)
	c.AwsSecretKey = getEnv("AWS_SECRET_KEY", c.AwsSecretKey)
	c.AwsRegion = getEnv("AWS_REGION", c.AwsRegion)
	c.BucketName = getEnv("BUCKET_NAME", c.BucketName)
	c.GCSBucket = getEnv("GCS_BUCKET", c.GCSBucket)

	c.AIAPIKey = getEnv("GEMINI_API_KEY", c.AIAPIKey)
	c.EmbedModel = getEnv("EMBED_MODEL", c.EmbedModel)
	c.EmbedDim = getEnvInt("EMBED_DIM", c.EmbedDim)
	c.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", c.EmbedBatchSize)
	c.EmbedRPS = getEnvFloat("EMBED_RPS", c.EmbedRPS)
	c.GenModel = getEnv("GEN_MODEL", c.GenModel)

	c.Port = getEnv("PORT", c.Port)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	if v := getEnv("CORS_ORIGINS", ""); v != "" {
		c.CORSOrigins = splitList(v)
	}
	c.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", c.MaxUploadMB)

	c.ChunkSize = getEnvInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.RetrievalTopK = getEnvInt("RETRIEVAL_TOP_K", c.RetrievalTopK)
	c.RetrievalMinScore = getEnvFloat("RETRIEVAL_MIN_SCORE", c.RetrievalMinScore)

	c.IngestWorkers = getEnvInt("INGEST_WORKERS", c.IngestWorkers)
	c.JobMaxAttempts = getEnvInt("JOB_MAX_ATTEMPTS", c.JobMaxAttempts)
	c.JobBackoff = getEnvDuration("JOB_BACKOFF", c.JobBackoff)
	c.JobTimeout = getEnvDuration("JOB_TIMEOUT", c.JobTimeout)
	c.JobVisibilityTimeout = getEnvDuration("JOB_VISIBILITY_TIMEOUT", c.JobVisibilityTimeout)
	c.JobPollInterval = getEnvDuration("JOB_POLL_INTERVAL", c.JobPollInterval)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogPretty = getEnvBool("LOG_PRETTY", c.LogPretty)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL not set")
	}
	switch c.BlobBackend {
	case "s3":
		if c.BucketName == "" {
			return errors.New("BUCKET_NAME not set")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return errors.New("GCS_BUCKET not set")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND %q must be s3 or gcs", c.BlobBackend)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	if c.RetrievalMinScore < -1 || c.RetrievalMinScore > 1 {
		return fmt.Errorf("RETRIEVAL_MIN_SCORE must be in [-1, 1], got %g", c.RetrievalMinScore)
	}
	if c.IngestWorkers <= 0 {
		return fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.IngestWorkers)
	}
	if c.JobMaxAttempts <= 0 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be positive, got %d", c.JobMaxAttempts)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive, got %s", c.JobTimeout)
	}
	// A reservation must outlive the job, or a second worker picks it up
	// while the first is still writing.
	if c.JobVisibilityTimeout <= c.JobTimeout {
		return fmt.Errorf("JOB_VISIBILITY_TIMEOUT (%s) must exceed JOB_TIMEOUT (%s)", c.JobVisibilityTimeout, c.JobTimeout)
	}
	return nil
}

// MaxUploadBytes is the multipart body limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Keys describes the object key layout shared by ingestion, transcoding and
// due-track selection.
type Keys struct {
	LosslessPrefix  string `validate:"required"` // e.g. "flac/"
	LosslessSuffix  string `validate:"required"` // e.g. ".flac"
	PlaybackPrefix  string `validate:"required"` // e.g. "mp3/"
	PlaybackSuffix  string `validate:"required"` // e.g. ".mp3"
	AlbumArtPrefix  string `validate:"required"`
	MetaPrefix      string `validate:"required"`
	UploadPrefix    string `validate:"required"`
	DefaultAlbumArt string `validate:"required"`
	PendingAudio    string `validate:"required"`
}

// Config stores the application configuration.
type Config struct {
	Port string `validate:"required,numeric"`

	DBHost     string `validate:"required"`
	DBPort     string `validate:"required,numeric"`
	DBUser     string `validate:"required"`
	DBPassword string
	DBName     string `validate:"required"`

	// Redis配置
	RedisHost     string `validate:"required"`
	RedisPort     string `validate:"required,numeric"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	// MinIO / S3 配置
	MinioEndpoint  string `validate:"required"`
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string `validate:"required"`
	MinioRegion    string
	MinioUseSSL    bool

	FFmpegPath        string `validate:"required"`
	ScratchDir        string // empty means os.TempDir()
	InboxDir          string
	IngestConcurrency int           `validate:"gte=1,lte=64"`
	CatalogBatchSize  int           `validate:"gte=1,lte=1000"`
	FetchTimeout      time.Duration `validate:"gt=0"`
	TranscodeTimeout  time.Duration `validate:"gt=0"`
	PresignExpiry     time.Duration `validate:"gt=0,lte=168h"`
	UploadExpiry      time.Duration `validate:"gt=0,lte=168h"`

	LearningPK      string `validate:"required"`
	DueDefaultLimit int    `validate:"gte=1"`

	EventsChannel string `validate:"required"`

	LogLevel      string `validate:"oneof=debug info warn error"`
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	Keys Keys
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "waveloft"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "waveloft"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		ScratchDir:        getEnv("SCRATCH_DIR", ""),
		InboxDir:          getEnv("INBOX_DIR", "inbox"),
		IngestConcurrency: getEnvInt("INGEST_CONCURRENCY", 4),
		CatalogBatchSize:  getEnvInt("CATALOG_BATCH_SIZE", 25),
		FetchTimeout:      getEnvDuration("FETCH_TIMEOUT", 2*time.Minute),
		TranscodeTimeout:  getEnvDuration("TRANSCODE_TIMEOUT", 10*time.Minute),
		PresignExpiry:     getEnvDuration("PRESIGN_EXPIRY", time.Hour),
		UploadExpiry:      getEnvDuration("UPLOAD_EXPIRY", 2*time.Hour),

		LearningPK:      getEnv("LEARNING_PK", "DJ"),
		DueDefaultLimit: getEnvInt("DUE_DEFAULT_LIMIT", 40),

		EventsChannel: getEnv("EVENTS_CHANNEL", "waveloft:catalog-events"),

		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),

		Keys: Keys{
			LosslessPrefix:  getEnv("KEY_LOSSLESS_PREFIX", "flac/"),
			LosslessSuffix:  getEnv("KEY_LOSSLESS_SUFFIX", ".flac"),
			PlaybackPrefix:  getEnv("KEY_PLAYBACK_PREFIX", "mp3/"),
			PlaybackSuffix:  getEnv("KEY_PLAYBACK_SUFFIX", ".mp3"),
			AlbumArtPrefix:  getEnv("KEY_ALBUM_ART_PREFIX", "album_art/"),
			MetaPrefix:      getEnv("KEY_META_PREFIX", "meta/"),
			UploadPrefix:    getEnv("KEY_UPLOAD_PREFIX", "tracks/"),
			DefaultAlbumArt: getEnv("DEFAULT_ALBUM_ART_KEY", "album_art/default_album_art.png"),
			PendingAudio:    getEnv("PENDING_AUDIO_KEY", "flac/pending"),
		},
	}
}

var validate = validator.New()

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

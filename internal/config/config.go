package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Port                      string
	Origin                    string
	Environment               string
	LogLevel                  string
	JWTSecret                 string
	JWTRefreshSecret          string
	JWTExpirationMinutes      int
	JWTRefreshExpirationHours int
	Database                  DatabaseConfig
	Documents                 DocumentsConfig
	Events                    EventsConfig
	Archive                   ArchiveConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	SSLMode  string
	DSN      string
}

// DocumentsConfig holds the prescription document pipeline settings.
type DocumentsConfig struct {
	// EncryptionKey is the 32-byte master key decoded from APP_ENCRYPTION_KEY.
	EncryptionKey    []byte
	MaxUploadBytes   int64
	ImageMaxWidth    int
	ImageJPEGQuality int
	ImageMaxPixels   int
}

// EventsConfig selects where workflow events are published.
type EventsConfig struct {
	Backend      string
	KafkaBrokers []string
	KafkaTopic   string
	SQSQueueURL  string
}

// ArchiveConfig configures the optional S3 mirror of encrypted documents.
type ArchiveConfig struct {
	Bucket string
	Prefix string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	dbConfig := DatabaseConfig{
		Driver:   strings.ToLower(v.GetString("DB_DRIVER")),
		Host:     v.GetString("DB_HOST"),
		Port:     v.GetString("DB_PORT"),
		Username: v.GetString("DB_USERNAME"),
		Password: v.GetString("DB_PASSWORD"),
		Name:     v.GetString("DB_NAME"),
		SSLMode:  v.GetString("DB_SSLMODE"),
	}
	dsn, err := buildDSN(dbConfig)
	if err != nil {
		return nil, err
	}
	dbConfig.DSN = dsn

	key, err := decodeKey(v.GetString("APP_ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}

	docsConfig := DocumentsConfig{
		EncryptionKey:    key,
		MaxUploadBytes:   v.GetInt64("UPLOAD_MAX_BYTES"),
		ImageMaxWidth:    v.GetInt("IMAGE_MAX_WIDTH"),
		ImageJPEGQuality: v.GetInt("IMAGE_JPEG_QUALITY"),
		ImageMaxPixels:   v.GetInt("IMAGE_MAX_PIXELS"),
	}
	if docsConfig.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("invalid UPLOAD_MAX_BYTES: %d", docsConfig.MaxUploadBytes)
	}
	if docsConfig.ImageJPEGQuality < 1 || docsConfig.ImageJPEGQuality > 100 {
		return nil, fmt.Errorf("invalid IMAGE_JPEG_QUALITY: %d", docsConfig.ImageJPEGQuality)
	}

	eventsConfig := EventsConfig{
		Backend:      strings.ToLower(v.GetString("EVENTS_BACKEND")),
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),
		SQSQueueURL:  v.GetString("SQS_QUEUE_URL"),
	}
	switch eventsConfig.Backend {
	case "log":
	case "kafka":
		if len(eventsConfig.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS is required when EVENTS_BACKEND=kafka")
		}
	case "sqs":
		if eventsConfig.SQSQueueURL == "" {
			return nil, fmt.Errorf("SQS_QUEUE_URL is required when EVENTS_BACKEND=sqs")
		}
	default:
		return nil, fmt.Errorf("invalid EVENTS_BACKEND: %q", eventsConfig.Backend)
	}

	return &Config{
		Port:                      v.GetString("PORT"),
		Origin:                    v.GetString("ORIGIN"),
		Environment:               v.GetString("APP_ENV"),
		LogLevel:                  v.GetString("LOG_LEVEL"),
		JWTSecret:                 v.GetString("JWT_SECRET"),
		JWTRefreshSecret:          v.GetString("JWT_REFRESH_SECRET"),
		JWTExpirationMinutes:      v.GetInt("JWT_EXPIRATION_MINUTES"),
		JWTRefreshExpirationHours: v.GetInt("JWT_REFRESH_EXPIRATION_HOURS"),
		Database:                  dbConfig,
		Documents:                 docsConfig,
		Events:                    eventsConfig,
		Archive: ArchiveConfig{
			Bucket: v.GetString("ARCHIVE_BUCKET"),
			Prefix: v.GetString("ARCHIVE_PREFIX"),
		},
	}, nil
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool {
	return c.Environment == "development"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "3000")
	v.SetDefault("ORIGIN", "http://localhost:3000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "default_jwt_secret")
	v.SetDefault("JWT_REFRESH_SECRET", "default_refresh_secret")
	v.SetDefault("JWT_EXPIRATION_MINUTES", 15)
	v.SetDefault("JWT_REFRESH_EXPIRATION_HOURS", 8)

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_USERNAME", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "medical_centers")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("UPLOAD_MAX_BYTES", 5*1024*1024)
	v.SetDefault("IMAGE_MAX_WIDTH", 1400)
	v.SetDefault("IMAGE_JPEG_QUALITY", 70)
	v.SetDefault("IMAGE_MAX_PIXELS", 20_000_000)

	v.SetDefault("EVENTS_BACKEND", "log")
	v.SetDefault("KAFKA_TOPIC", "visit-workflow")
	v.SetDefault("ARCHIVE_PREFIX", "documents/")
}

// buildDSN builds the Data Source Name for the configured driver.
func buildDSN(db DatabaseConfig) (string, error) {
	switch db.Driver {
	case "mysql":
		port := db.Port
		if port == "" {
			port = "3306"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			db.Username, db.Password, db.Host, port, db.Name), nil
	case "postgres":
		port := db.Port
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			db.Host, port, db.Username, db.Password, db.Name, db.SSLMode), nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER: %q", db.Driver)
	}
}

func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("APP_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_ENCRYPTION_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("APP_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pop-reconciliation-backend/internal/models"
)

type Config struct {
	Port         string
	DatabaseURL  string
	CORSOrigins  []string
	BlobDir      string
	RedisURL     string
	KafkaBrokers string
	OTelEndpoint string

	OpenAIAPIKey string
	OpenAIModel  string

	WhatsAppVerifyToken string
	WhatsAppAccessToken string
	WhatsAppGraphURL    string

	XeroClientID     string
	XeroClientSecret string
	XeroRedirectURI  string
}

func LoadConfig() (*Config, error) {
	// A missing .env is fine; the process env is used as-is.
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvOrDefault("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		CORSOrigins:  splitList(getEnvOrDefault("CORS_ORIGINS", "http://localhost:3000")),
		BlobDir:      getEnvOrDefault("BLOB_DIR", "./data/pop"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_ENDPOINT"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),

		WhatsAppVerifyToken: os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		WhatsAppAccessToken: os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		WhatsAppGraphURL:    getEnvOrDefault("WHATSAPP_GRAPH_URL", "https://graph.facebook.com/v19.0"),

		XeroClientID:     os.Getenv("XERO_CLIENT_ID"),
		XeroClientSecret: os.Getenv("XERO_CLIENT_SECRET"),
		XeroRedirectURI:  os.Getenv("XERO_REDIRECT_URI"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// Migrate creates or updates every ledger table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Payment{},
		&models.BankTransaction{},
		&models.Invoice{},
		&models.ImportBatch{},
		&models.MatchAuditLog{},
		&models.XeroToken{},
	)
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

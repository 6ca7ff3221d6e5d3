// Package config loads the control plane's configuration from environment
// variables.
package config

import "os"

// Config holds the application configuration.
type Config struct {
	ListenAddr   string
	DatabaseURL  string
	DockerSocket string

	// Managed game containers are named ContainerPrefix+<server_id>.
	// Containers labelled with ComposeProject are the panel's own
	// infrastructure and are excluded from active-game queries.
	ContainerPrefix string
	ComposeProject  string

	DataDir    string
	BackupRoot string

	BotAPIKey       string
	ErrorWebhookURL string
	PublicURL       string

	RabbitMQURL string

	BackupS3Bucket   string
	BackupS3Region   string
	BackupS3Endpoint string

	AuthMode         string
	SessionSecret    string
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
		DatabaseURL:  getEnv("DATABASE_URL", "postgres://postgres@localhost:5432/gamehost?sslmode=disable"),
		DockerSocket: getEnv("DOCKER_SOCKET", "/var/run/docker.sock"),

		ContainerPrefix: getEnv("CONTAINER_PREFIX", "game-panel-"),
		ComposeProject:  getEnv("COMPOSE_PROJECT", "game-panel"),

		DataDir:    getEnv("DATA_DIR", "/host-data"),
		BackupRoot: getEnv("BACKUP_ROOT", "/backups"),

		BotAPIKey:       os.Getenv("BOT_API_KEY"),
		ErrorWebhookURL: os.Getenv("ERROR_WEBHOOK_URL"),
		PublicURL:       os.Getenv("PUBLIC_URL"),

		RabbitMQURL: os.Getenv("RABBITMQ_URL"),

		BackupS3Bucket:   os.Getenv("BACKUP_S3_BUCKET"),
		BackupS3Region:   getEnv("BACKUP_S3_REGION", "us-east-1"),
		BackupS3Endpoint: os.Getenv("BACKUP_S3_ENDPOINT"),

		AuthMode:         getEnv("AUTH_MODE", "none"),
		SessionSecret:    getEnv("SESSION_SECRET", "dev-secret-key-change-in-production"),
		OIDCIssuer:       os.Getenv("OIDC_ISSUER"),
		OIDCClientID:     os.Getenv("OIDC_CLIENT_ID"),
		OIDCClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
		OIDCRedirectURL:  getEnv("OIDC_REDIRECT_URL", "http://localhost:8080/auth/callback"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Dataverse  DataverseConfig
	SharePoint SharePointConfig
	Sync       SyncConfig
	Auth       AuthConfig
	WebSocket  WebSocketConfig
	CORS       CORSConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// DataverseConfig points at the Dynamics 365 organization and the custom
// table mirroring the rule store. An empty OrgURL is legal at startup; syncs
// against Dataverse then fail with a remediation message.
type DataverseConfig struct {
	OrgURL       string
	TableName    string
	ColumnPrefix string
}

// SharePointConfig points at the site and list used as the alternative
// backend. Empty values are legal at startup, same as Dataverse.
type SharePointConfig struct {
	SiteURL  string
	ListName string
}

type SyncConfig struct {
	Strategy       string
	AutoSyncEnable bool
	// AutoSyncSpec is a cron expression; the default runs an hourly
	// download-only sync, matching the extension's periodic alarm.
	AutoSyncSpec   string
	RequestTimeout time.Duration
}

type AuthConfig struct {
	// TokenMaxAge bounds how long a cached bearer token is trusted when its
	// claims carry no expiry. RoleMaxAge is deliberately shorter: role
	// verification fails closed once stale.
	TokenMaxAge  time.Duration
	RoleMaxAge   time.Duration
	RequiredRole string
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerPage  int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	timeout, err := time.ParseDuration(getEnv("SYNC_REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_REQUEST_TIMEOUT: %w", err)
	}

	tokenMaxAge, err := time.ParseDuration(getEnv("AUTH_TOKEN_MAX_AGE", "8h"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_TOKEN_MAX_AGE: %w", err)
	}

	roleMaxAge, err := time.ParseDuration(getEnv("AUTH_ROLE_MAX_AGE", "2h"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_ROLE_MAX_AGE: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "domstyle"),
		},
		Dataverse: DataverseConfig{
			OrgURL:       getEnv("DATAVERSE_ORG_URL", ""),
			TableName:    getEnv("DATAVERSE_TABLE_NAME", "cr123_domstylecustomizations"),
			ColumnPrefix: getEnv("DATAVERSE_COLUMN_PREFIX", "cr123_"),
		},
		SharePoint: SharePointConfig{
			SiteURL:  getEnv("SHAREPOINT_SITE_URL", ""),
			ListName: getEnv("SHAREPOINT_LIST_NAME", ""),
		},
		Sync: SyncConfig{
			Strategy:       getEnv("SYNC_CONFLICT_STRATEGY", "remote_wins"),
			AutoSyncEnable: getEnvAsBool("SYNC_AUTO_ENABLED", true),
			AutoSyncSpec:   getEnv("SYNC_AUTO_SPEC", "@every 1h"),
			RequestTimeout: timeout,
		},
		Auth: AuthConfig{
			TokenMaxAge:  tokenMaxAge,
			RoleMaxAge:   roleMaxAge,
			RequiredRole: getEnv("AUTH_REQUIRED_ROLE", "System Customizer"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1048576)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerPage:  getEnvAsInt("WS_MAX_CONN_PER_PAGE", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

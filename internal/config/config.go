package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Hard-coded pool identifiers for local development only.
const (
	devUserPoolID = "ap-northeast-2_LocalDev1"
	devClientID   = "localdevclient0000000000"
)

type Config struct {
	Env       string
	Server    ServerConfig
	Services  ServicesConfig
	Provider  string
	Cognito   CognitoConfig
	OIDC      OIDCConfig
	Store     StoreConfig
	Redis     RedisConfig
	DynamoDB  DynamoDBConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig

	// UsedDevFallback is set when the Cognito identifiers came from the
	// hard-coded development values.
	UsedDevFallback bool
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	AllowedOrigin  string
}

type ServicesConfig struct {
	UserURL           string
	PostURL           string
	CommentURL        string
	UsernameLookupURL string
}

type CognitoConfig struct {
	Region       string
	UserPoolID   string
	ClientID     string
	ClientSecret string
	Endpoint     string
}

type OIDCConfig struct {
	Issuer      string
	AuthURL     string
	TokenURL    string
	RevokeURL   string
	RedirectURL string
	Scopes      []string
}

type StoreConfig struct {
	Backend   string
	KeyPrefix string
	TTL       time.Duration
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type RateLimitConfig struct {
	LoginPerMinute int
	LoginBurst     int
}

// env resolves keys from the process environment first, then from the
// runtime-injected env file.
type env struct {
	runtime map[string]string
}

func Load() (*Config, error) {
	e := env{runtime: map[string]string{}}

	if path := os.Getenv("RUNTIME_ENV_FILE"); path != "" {
		values, err := godotenv.Read(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read runtime env file %s: %w", path, err)
		}
		if values != nil {
			e.runtime = values
		}
	}

	cfg := &Config{
		Env: e.get("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           e.get("PORT", "8080"),
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			RequestTimeout: e.getDuration("UPSTREAM_REQUEST_TIMEOUT", 0),
			AllowedOrigin:  e.get("CORS_ALLOWED_ORIGIN", "*"),
		},
		Services: ServicesConfig{
			UserURL:           e.get("USER_SERVICE_URL", "http://localhost:8081"),
			PostURL:           e.get("POST_SERVICE_URL", "http://localhost:8082"),
			CommentURL:        e.get("COMMENT_SERVICE_URL", "http://localhost:8083"),
			UsernameLookupURL: e.get("USERNAME_LOOKUP_URL", ""),
		},
		Provider: e.get("IDENTITY_PROVIDER", "cognito"),
		Cognito: CognitoConfig{
			Region:       e.get("COGNITO_REGION", "ap-northeast-2"),
			UserPoolID:   e.get("COGNITO_USER_POOL_ID", ""),
			ClientID:     e.get("COGNITO_CLIENT_ID", ""),
			ClientSecret: e.get("COGNITO_CLIENT_SECRET", ""),
			Endpoint:     e.get("COGNITO_ENDPOINT", ""),
		},
		OIDC: OIDCConfig{
			Issuer:      e.get("OIDC_ISSUER", ""),
			AuthURL:     e.get("OIDC_AUTH_URL", ""),
			TokenURL:    e.get("OIDC_TOKEN_URL", ""),
			RevokeURL:   e.get("OIDC_REVOKE_URL", ""),
			RedirectURL: e.get("OIDC_REDIRECT_URL", ""),
			Scopes:      e.getList("OIDC_SCOPES"),
		},
		Store: StoreConfig{
			Backend:   e.get("SESSION_STORE", "memory"),
			KeyPrefix: e.get("SESSION_KEY_PREFIX", ""),
			TTL:       e.getDuration("SESSION_TTL", 0),
		},
		Redis: RedisConfig{
			Endpoint: e.get("REDIS_ENDPOINT", "localhost:6379"),
			Password: e.get("REDIS_PASSWORD", ""),
			DB:       e.getInt("REDIS_DB", 0),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  e.get("DYNAMODB_ENDPOINT", ""),
			Region:    e.get("DYNAMODB_REGION", "ap-northeast-2"),
			TableName: e.get("DYNAMODB_TABLE_NAME", "CommunitySessions"),
		},
		Retry: RetryConfig{
			MaxAttempts: e.getInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   e.getDuration("RETRY_BASE_DELAY", time.Second),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: e.getInt("LOGIN_RATE_PER_MINUTE", 10),
			LoginBurst:     e.getInt("LOGIN_RATE_BURST", 5),
		},
	}

	if cfg.Cognito.UserPoolID == "" || cfg.Cognito.ClientID == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("COGNITO_USER_POOL_ID and COGNITO_CLIENT_ID are required in production")
		}
		if cfg.Cognito.UserPoolID == "" {
			cfg.Cognito.UserPoolID = devUserPoolID
		}
		if cfg.Cognito.ClientID == "" {
			cfg.Cognito.ClientID = devClientID
		}
		cfg.UsedDevFallback = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) validate() error {
	switch c.Provider {
	case "cognito":
	case "oidc":
		if c.OIDC.Issuer == "" && c.OIDC.TokenURL == "" {
			return fmt.Errorf("OIDC_ISSUER or OIDC_TOKEN_URL is required when IDENTITY_PROVIDER=oidc")
		}
	default:
		return fmt.Errorf("unknown IDENTITY_PROVIDER %q", c.Provider)
	}

	switch c.Store.Backend {
	case "memory", "redis", "dynamodb":
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Store.Backend)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

func (e env) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return e.runtime[key]
}

func (e env) get(key, defaultValue string) string {
	if value := e.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (e env) getInt(key string, defaultValue int) int {
	if value := e.lookup(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (e env) getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := e.lookup(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (e env) getList(key string) []string {
	value := e.lookup(key)
	if value == "" {
		return nil
	}
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
}

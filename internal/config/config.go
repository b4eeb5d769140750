package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// EVE SSO
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       string
	AuthURL      string
	TokenURL     string

	// ESI
	ESIBaseURL   string
	FetchTimeout time.Duration
	ESIRate      float64 // 外向きESIリクエストのレート（req/sec）
	ESIBurst     int

	// Store
	DataFile    string
	DatabaseURL string // 設定時はPostgresストアを使用する

	// Poll
	PollInterval   time.Duration
	PollGraceDelay time.Duration
	PendingLinkTTL time.Duration

	// Notify
	NotifyTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int // API全般（req/min/クライアント）
	RateLimitLink    int // リンク開始（req/min/クライアント）

	// Server
	ServerPort string
}

const (
	defaultAuthURL    = "https://login.eveonline.com/v2/oauth/authorize"
	defaultTokenURL   = "https://login.eveonline.com/v2/oauth/token"
	defaultESIBaseURL = "https://esi.evetech.net/latest"
	defaultScopes     = "esi-contracts.read_character_contracts.v1"
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.ClientID = os.Getenv("EVE_CLIENT_ID")
	if cfg.ClientID == "" {
		missing = append(missing, "EVE_CLIENT_ID")
	}

	cfg.ClientSecret = os.Getenv("EVE_CLIENT_SECRET")
	if cfg.ClientSecret == "" {
		missing = append(missing, "EVE_CLIENT_SECRET")
	}

	cfg.CallbackURL = os.Getenv("CALLBACK_URL")
	if cfg.CallbackURL == "" {
		missing = append(missing, "CALLBACK_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.Scopes = getEnvString("EVE_SCOPES", defaultScopes)
	cfg.AuthURL = getEnvString("EVE_AUTH_URL", defaultAuthURL)
	cfg.TokenURL = getEnvString("EVE_TOKEN_URL", defaultTokenURL)
	cfg.ESIBaseURL = getEnvString("ESI_BASE_URL", defaultESIBaseURL)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.ESIRate = getEnvFloat("ESI_RATE", 10)
	cfg.ESIBurst = getEnvInt("ESI_BURST", 20)
	cfg.DataFile = getEnvString("DATA_FILE", "data/users.json")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 5*time.Minute)
	cfg.PollGraceDelay = getEnvDuration("POLL_GRACE_DELAY", 10*time.Second)
	cfg.PendingLinkTTL = getEnvDuration("PENDING_LINK_TTL", 15*time.Minute)
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLink = getEnvInt("RATE_LIMIT_LINK", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

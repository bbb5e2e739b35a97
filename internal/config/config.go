package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	Env        string `mapstructure:"ENV"`
	PublicBase string `mapstructure:"PUBLIC_BASE_URL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AIMode       string `mapstructure:"AI_MODE"`
	AIBaseURL    string `mapstructure:"AI_BASE_URL"`
	AIAPIKey     string `mapstructure:"AI_API_KEY"`
	AIModel      string `mapstructure:"AI_MODEL"`
	AIMaxRetries int    `mapstructure:"AI_MAX_RETRIES"`

	TTSModel        string `mapstructure:"TTS_MODEL"`
	TTSVoice        string `mapstructure:"TTS_VOICE"`
	TranscribeModel string `mapstructure:"TRANSCRIBE_MODEL"`

	RegistryBaseURL  string  `mapstructure:"REGISTRY_BASE_URL"`
	RegistryPageSize int     `mapstructure:"REGISTRY_PAGE_SIZE"`
	RegistryRPS      float64 `mapstructure:"REGISTRY_RPS"`

	RadarScanInterval    time.Duration `mapstructure:"RADAR_SCAN_INTERVAL"`
	RadarScanConcurrency int           `mapstructure:"RADAR_SCAN_CONCURRENCY"`

	AudioDir string `mapstructure:"AUDIO_DIR"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AI_MODE", "") // auto-detect: "" -> live when AI_API_KEY is set, else stub
	v.SetDefault("AI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_MAX_RETRIES", 3)
	v.SetDefault("TTS_MODEL", "tts-1")
	v.SetDefault("TTS_VOICE", "alloy")
	v.SetDefault("TRANSCRIBE_MODEL", "whisper-1")
	v.SetDefault("REGISTRY_BASE_URL", "https://clinicaltrials.gov/api/v2")
	v.SetDefault("REGISTRY_PAGE_SIZE", 10)
	v.SetDefault("REGISTRY_RPS", 2)
	v.SetDefault("RADAR_SCAN_INTERVAL", "0")
	v.SetDefault("RADAR_SCAN_CONCURRENCY", 4)
	v.SetDefault("AUDIO_DIR", "./static/audio")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("PUBLIC_BASE_URL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AI_MODE")
	v.BindEnv("AI_BASE_URL")
	v.BindEnv("AI_API_KEY")
	v.BindEnv("AI_MODEL")
	v.BindEnv("AI_MAX_RETRIES")
	v.BindEnv("TTS_MODEL")
	v.BindEnv("TTS_VOICE")
	v.BindEnv("TRANSCRIBE_MODEL")
	v.BindEnv("REGISTRY_BASE_URL")
	v.BindEnv("REGISTRY_PAGE_SIZE")
	v.BindEnv("REGISTRY_RPS")
	v.BindEnv("RADAR_SCAN_INTERVAL")
	v.BindEnv("RADAR_SCAN_CONCURRENCY")
	v.BindEnv("AUDIO_DIR")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_SIGNING_KEY.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAIMode returns the effective AI mode. If AI_MODE is explicitly set,
// it is returned. Otherwise the mode is inferred: "live" when AI_API_KEY is
// configured, "stub" when it is not. Stub mode serves canned deterministic
// responses and never touches the network.
func (c *Config) ResolvedAIMode() string {
	if c.AIMode != "" {
		return c.AIMode
	}
	if c.AIAPIKey != "" {
		return "live"
	}
	return "stub"
}

// Validate checks that the configuration is safe to run. Production mode
// requires a JWT signing key so that real authentication is enforced, and a
// live AI mode requires an API key.
func (c *Config) Validate() error {
	mode := c.ResolvedAIMode()
	if mode != "live" && mode != "stub" {
		return fmt.Errorf("AI_MODE must be \"live\" or \"stub\", got %q", mode)
	}
	if mode == "live" && c.AIAPIKey == "" {
		return fmt.Errorf("AI_API_KEY is required when AI_MODE is \"live\"")
	}

	if c.IsProduction() {
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_SIGNING_KEY or AUTH_JWKS_URL is required in production (ENV=%q). "+
					"Refusing to start without authentication configuration", c.Env)
		}
		if mode == "stub" {
			log.Println("WARNING: AI_MODE=stub in production: all clinical reasoning is canned")
		}
	}

	if c.RadarScanConcurrency < 1 {
		return fmt.Errorf("RADAR_SCAN_CONCURRENCY must be at least 1, got %d", c.RadarScanConcurrency)
	}
	if c.RegistryPageSize < 1 || c.RegistryPageSize > 100 {
		return fmt.Errorf("REGISTRY_PAGE_SIZE must be between 1 and 100, got %d", c.RegistryPageSize)
	}

	return nil
}

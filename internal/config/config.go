package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"whatsapp-relay/internal/integrations/paramstore"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const defaultPersona = `Eres "ChatBoty", un asistente virtual amigable. Respondé de forma breve, cálida y en español rioplatense.`

// Config holds the environment driven configuration for the relay.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"whatsapp-relay"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`
	Port        int    `env:"PORT" envDefault:"8080"`

	AllowedOrigin   string        `env:"ALLOWED_ORIGIN" envDefault:"*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	GoogleAPIKey    string `env:"GOOGLE_API_KEY"`
	MetaVerifyToken string `env:"META_VERIFY_TOKEN"`
	MetaAccessToken string `env:"META_ACCESS_TOKEN"`
	PhoneNumberID   string `env:"PHONE_NUMBER_ID"`
	ParamPrefix     string `env:"PARAM_PREFIX"`

	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	StateTable     string        `env:"STATE_TABLE"`
	RedisURL       string        `env:"REDIS_URL"`

	GenerationProvider string `env:"GENERATION_PROVIDER" envDefault:"gemini"`
	GeminiModel        string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash-latest"`
	GeminiBaseURL      string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	OpenAIModel        string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`

	GraphAPIVersion string        `env:"GRAPH_API_VERSION" envDefault:"v19.0"`
	GraphBaseURL    string        `env:"GRAPH_BASE_URL" envDefault:"https://graph.facebook.com"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`

	HistoryLimit  int    `env:"HISTORY_LIMIT" envDefault:"10"`
	PersonaPrompt string `env:"PERSONA_PROMPT"`
	FallbackReply string `env:"FALLBACK_REPLY" envDefault:"Upa, parece que se me quemaron los cables."`

	DedupeTTL       time.Duration `env:"DEDUPE_TTL" envDefault:"24h"`
	DedupeCacheSize int           `env:"DEDUPE_CACHE_SIZE" envDefault:"10000"`
}

// LoadDotEnv reads the first existing file among paths into the process
// environment. Variables already set are left alone.
func LoadDotEnv(paths ...string) (string, error) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("load %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.GenerationProvider = strings.ToLower(strings.TrimSpace(cfg.GenerationProvider))
	switch cfg.GenerationProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return nil, fmt.Errorf("GENERATION_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, cfg.GenerationProvider)
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.DedupeCacheSize <= 0 {
		cfg.DedupeCacheSize = 10000
	}
	if strings.TrimSpace(cfg.PersonaPrompt) == "" {
		cfg.PersonaPrompt = defaultPersona
	}
	return cfg, nil
}

// Secrets lists the fields that may be filled from the parameter store.
func (c *Config) Secrets() []paramstore.Secret {
	return []paramstore.Secret{
		{Name: "google-api-key", Dest: &c.GoogleAPIKey},
		{Name: "meta-verify-token", Dest: &c.MetaVerifyToken},
		{Name: "meta-access-token", Dest: &c.MetaAccessToken},
		{Name: "openai-api-key", Dest: &c.OpenAIAPIKey},
		{Name: "database-url", Dest: &c.DatabaseURL},
	}
}

// ValidateRelay reports the settings the message lane cannot work without.
func (c *Config) ValidateRelay() error {
	var errs []error
	if strings.TrimSpace(c.MetaAccessToken) == "" {
		errs = append(errs, errors.New("META_ACCESS_TOKEN is required"))
	}
	if strings.TrimSpace(c.PhoneNumberID) == "" {
		errs = append(errs, errors.New("PHONE_NUMBER_ID is required"))
	}
	switch c.GenerationProvider {
	case ProviderGemini:
		if strings.TrimSpace(c.GoogleAPIKey) == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is required for the gemini provider"))
		}
	case ProviderOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" && strings.TrimSpace(c.ParamPrefix) == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY or PARAM_PREFIX is required for the openai provider"))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

const dsnMask = "*****"

var (
	keywordPassword = regexp.MustCompile(`(?i)(\bpassword\s*=\s*)('(?:[^'\\]|\\.)*'|\S*)`)
	queryPassword   = regexp.MustCompile(`(?i)([?&]password=)[^&#]*`)
)

// SanitizeDSN masks the password of a URL or keyword/value DSN for logging.
// A URL that does not parse is masked from the first colon of its userinfo
// to the last '@'.
func SanitizeDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return keywordPassword.ReplaceAllString(dsn, "${1}"+dsnMask)
	}

	authority, tail := rest, ""
	if _, err := url.Parse(dsn); err == nil {
		if i := strings.IndexAny(rest, "/?#"); i >= 0 {
			authority, tail = rest[:i], rest[i:]
		}
	}
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		if colon := strings.IndexByte(authority[:at], ':'); colon >= 0 {
			authority = authority[:colon+1] + dsnMask + authority[at:]
		}
	}
	return queryPassword.ReplaceAllString(scheme+"://"+authority+tail, "${1}"+dsnMask)
}

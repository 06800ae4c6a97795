package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Port           int      `toml:"port"`
	FrontendURL    string   `toml:"frontend_url"`
	AllowedOrigins []string `toml:"allowed_origins"`
	LogLevel       string   `toml:"log_level"`
	RateLimit      int      `toml:"rate_limit"`     // requests per minute per client
	LLMRateLimit   int      `toml:"llm_rate_limit"` // requests per minute on LLM-backed routes
}

type GoogleConfig struct {
	ClientSecretsFile string `toml:"client_secrets_file"`
	RedirectURL       string `toml:"redirect_url"`
}

type SessionConfig struct {
	Secret        string        `toml:"secret"`         // signs the OAuth state
	EncryptionKey string        `toml:"encryption_key"` // seals OAuth tokens at rest
	Expiration    time.Duration `toml:"expiration"`
	CookieName    string        `toml:"cookie_name"`
	CookieSecure  bool          `toml:"cookie_secure"`
	GCInterval    time.Duration `toml:"gc_interval"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type AzureConfig struct {
	Endpoint   string `toml:"endpoint"`
	APIKey     string `toml:"api_key"`
	APIVersion string `toml:"api_version"`
	Deployment string `toml:"deployment"`
}

type PerplexityConfig struct {
	APIKey      string        `toml:"api_key"`
	BaseURL     string        `toml:"base_url"`
	Model       string        `toml:"model"`
	MaxTokens   int64         `toml:"max_tokens"`
	Temperature float64       `toml:"temperature"`
	TopP        float64       `toml:"top_p"`
	Timeout     time.Duration `toml:"timeout"`
}

// RelevancyConfig tunes the thread grouping heuristic.
// combined = participant*ParticipantWeight + (1-ParticipantWeight)*(content*ContentWeight + subject*SubjectWeight)
type RelevancyConfig struct {
	Threshold         float64 `toml:"threshold"`
	ParticipantWeight float64 `toml:"participant_weight"`
	ContentWeight     float64 `toml:"content_weight"`
	SubjectWeight     float64 `toml:"subject_weight"`
}

type SearchConfig struct {
	StrictMatch        bool          `toml:"strict_match"`
	ExpandAliases      bool          `toml:"expand_aliases"`
	DeepScanCandidates int           `toml:"deep_scan_candidates"`
	DeepScanMaxChecks  int           `toml:"deep_scan_max_checks"`
	DeepScanInAnywhere bool          `toml:"deep_scan_in_anywhere"`
	MaxThreads         int64         `toml:"max_threads"`
	ThreadCacheTTL     time.Duration `toml:"thread_cache_ttl"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Google     GoogleConfig     `toml:"google"`
	Session    SessionConfig    `toml:"session"`
	Storage    StorageConfig    `toml:"storage"`
	Azure      AzureConfig      `toml:"azure"`
	Perplexity PerplexityConfig `toml:"perplexity"`
	Relevancy  RelevancyConfig  `toml:"relevancy"`
	Search     SearchConfig     `toml:"search"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config

	config.Server.Port = 5000
	config.Server.FrontendURL = "http://localhost:3000"
	config.Server.AllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	config.Server.LogLevel = "info"
	config.Server.RateLimit = 100
	config.Server.LLMRateLimit = 10

	config.Google.ClientSecretsFile = "client_secret.json"
	config.Google.RedirectURL = "http://localhost:5000/api/auth/callback"

	config.Session.Expiration = 24 * time.Hour
	config.Session.CookieName = "dossier_session"
	config.Session.GCInterval = 10 * time.Minute

	config.Storage.DataDir = "./data"

	config.Azure.APIVersion = "2024-06-01"

	config.Perplexity.BaseURL = "https://api.perplexity.ai"
	config.Perplexity.Model = "sonar-reasoning"
	config.Perplexity.MaxTokens = 4000
	config.Perplexity.Temperature = 0.2
	config.Perplexity.TopP = 0.9
	config.Perplexity.Timeout = 300 * time.Second

	config.Relevancy.Threshold = 0.5
	config.Relevancy.ParticipantWeight = 0.6
	config.Relevancy.ContentWeight = 0.7
	config.Relevancy.SubjectWeight = 0.3

	config.Search.StrictMatch = true
	config.Search.DeepScanCandidates = 350
	config.Search.DeepScanMaxChecks = 700
	config.Search.DeepScanInAnywhere = true
	config.Search.MaxThreads = 100
	config.Search.ThreadCacheTTL = 5 * time.Minute

	return &config
}

// LoadConfig reads the TOML file at path on top of the defaults, then overlays
// secrets from the environment (and a .env file when present).
// A missing config file is not an error.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if _, err := toml.DecodeFile(path, config); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	config.applyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set(&c.Server.FrontendURL, "FRONTEND_URL")
	set(&c.Google.ClientSecretsFile, "GOOGLE_CLIENT_SECRETS")
	set(&c.Google.RedirectURL, "OAUTH_REDIRECT_URI")
	set(&c.Session.Secret, "SESSION_SECRET")
	set(&c.Session.EncryptionKey, "ENCRYPTION_KEY")
	set(&c.Azure.Endpoint, "AZURE_OPENAI_ENDPOINT")
	set(&c.Azure.APIKey, "AZURE_OPENAI_KEY")
	set(&c.Azure.APIVersion, "AZURE_OPENAI_API_VERSION")
	set(&c.Azure.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	set(&c.Perplexity.APIKey, "PERPLEXITY_API_KEY")

	if v, ok := lookup("STRICT_GMAIL_MATCH"); ok {
		c.Search.StrictMatch = strings.EqualFold(strings.TrimSpace(v), "true")
	}
}

// Validate checks the values that would otherwise fail deep inside a request
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	r := c.Relevancy
	for name, v := range map[string]float64{
		"relevancy.threshold":          r.Threshold,
		"relevancy.participant_weight": r.ParticipantWeight,
		"relevancy.content_weight":     r.ContentWeight,
		"relevancy.subject_weight":     r.SubjectWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}

	if c.Session.Expiration <= 0 {
		return fmt.Errorf("session.expiration must be positive")
	}
	return nil
}

// LLMConfigured reports whether Azure OpenAI credentials are present
func (c *Config) LLMConfigured() bool {
	return c.Azure.Endpoint != "" && c.Azure.APIKey != "" && c.Azure.Deployment != ""
}

package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hetu-project/subnet-grader/pkg/crypto"
	"github.com/hetu-project/subnet-grader/pkg/retry"
	"github.com/hetu-project/subnet-grader/pkg/sampling"
	"github.com/hetu-project/subnet-grader/pkg/scoring"
	"github.com/hetu-project/subnet-grader/pkg/tokens"
	"github.com/hetu-project/subnet-grader/pkg/tolerance"
)

// GradingConfig holds the published grading thresholds
type GradingConfig struct {
	TokenTolerance     float64 `yaml:"token_tolerance" json:"token_tolerance"`
	SentimentTolerance float64 `yaml:"sentiment_tolerance" json:"sentiment_tolerance"`
	TokenEps           float64 `yaml:"token_eps" json:"token_eps"`
	TokenCap           int     `yaml:"token_cap" json:"token_cap"`
	SampleSize         int     `yaml:"sample_size" json:"sample_size"`
}

// ScoringConfig holds the score normalization caps and weights
type ScoringConfig struct {
	Caps         scoring.Caps    `yaml:"caps" json:"caps"`
	Weights      scoring.Weights `yaml:"weights" json:"weights"`
	HorizonHours float64         `yaml:"horizon_hours" json:"horizon_hours"`
	TopK         int             `yaml:"top_k" json:"top_k"`
}

// Config holds all configuration for the validator service
type Config struct {
	Port                string            `yaml:"port" json:"port"`
	ValidatorPrivateKey *ecdsa.PrivateKey `yaml:"-" json:"-"`
	APIURL              string            `yaml:"api_url" json:"api_url"`
	AnalyzerURL         string            `yaml:"analyzer_url" json:"analyzer_url"`
	AnalyzerAPIKey      string            `yaml:"-" json:"-"`
	AnalyzerModel       string            `yaml:"analyzer_model" json:"analyzer_model"`
	ChainRPCURL         string            `yaml:"chain_rpc_url" json:"chain_rpc_url"`
	ScoresBlockInterval uint64            `yaml:"scores_block_interval" json:"scores_block_interval"`
	PollInterval        time.Duration     `yaml:"poll_interval" json:"poll_interval"`
	HTTPTimeout         time.Duration     `yaml:"http_timeout" json:"http_timeout"`
	DgraphURL           string            `yaml:"dgraph_url" json:"dgraph_url"`
	XBaseURL            string            `yaml:"x_base_url" json:"x_base_url"`
	XBearerToken        string            `yaml:"-" json:"-"`
	SN13APIURL          string            `yaml:"sn13_api_url" json:"sn13_api_url"`
	SN13APIKey          string            `yaml:"-" json:"-"`
	CrosscheckEnabled   bool              `yaml:"crosscheck_enabled" json:"crosscheck_enabled"`
	RetryAttempts       int               `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBaseDelay      time.Duration     `yaml:"retry_base_delay" json:"retry_base_delay"`
	LogLevel            string            `yaml:"log_level" json:"log_level"`
	RateLimit           int               `yaml:"rate_limit" json:"rate_limit"`
	RateWindow          time.Duration     `yaml:"rate_window" json:"rate_window"`
	Grading             GradingConfig     `yaml:"grading" json:"grading"`
	Scoring             ScoringConfig     `yaml:"scoring" json:"scoring"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Port:                "8080",
		ScoresBlockInterval: 100,
		PollInterval:        10 * time.Second,
		HTTPTimeout:         30 * time.Second,
		RetryAttempts:       retry.DefaultAttempts,
		RetryBaseDelay:      retry.DefaultBaseDelay,
		LogLevel:            "info",
		RateLimit:           100,
		RateWindow:          15 * time.Minute,
		Grading: GradingConfig{
			TokenTolerance:     tolerance.DefaultTokenTolerance,
			SentimentTolerance: tolerance.DefaultSentimentTolerance,
			TokenEps:           tokens.DefaultEps,
			TokenCap:           tokens.DefaultCap,
			SampleSize:         sampling.DefaultSampleSize,
		},
		Scoring: ScoringConfig{
			Caps:         scoring.DefaultCaps(),
			Weights:      scoring.DefaultWeights(),
			HorizonHours: scoring.DefaultHorizonHours,
			TopK:         scoring.DefaultTopK,
		},
	}
}

// Load loads configuration from .env, the optional YAML file, then environment variables
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv("GRADER_CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	// Load private key
	if privateKeyHex := getEnv("VALIDATOR_PRIVATE_KEY", ""); privateKeyHex != "" {
		privateKey, err := crypto.LoadPrivateKeyFromHex(privateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		config.ValidatorPrivateKey = privateKey
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.APIURL = getEnv("API_URL", c.APIURL)
	c.AnalyzerURL = getEnv("ANALYZER_URL", c.AnalyzerURL)
	c.AnalyzerAPIKey = getEnv("ANALYZER_API_KEY", c.AnalyzerAPIKey)
	c.AnalyzerModel = getEnv("ANALYZER_MODEL", c.AnalyzerModel)
	c.ChainRPCURL = getEnv("CHAIN_RPC_URL", c.ChainRPCURL)
	c.DgraphURL = getEnv("DGRAPH_URL", c.DgraphURL)
	c.XBaseURL = getEnv("X_BASE_URL", c.XBaseURL)
	c.XBearerToken = getEnv("X_BEARER_TOKEN", c.XBearerToken)
	c.SN13APIURL = getEnv("SN13_API_URL", c.SN13APIURL)
	c.SN13APIKey = getEnv("SN13_API_KEY", c.SN13APIKey)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	var errs []error
	parse := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	parse(getEnvUint("SCORES_BLOCK_INTERVAL", &c.ScoresBlockInterval))
	parse(getEnvDuration("POLL_INTERVAL", &c.PollInterval))
	parse(getEnvDuration("HTTP_TIMEOUT", &c.HTTPTimeout))
	parse(getEnvBool("CROSSCHECK_ENABLED", &c.CrosscheckEnabled))
	parse(getEnvInt("RETRY_ATTEMPTS", &c.RetryAttempts))
	parse(getEnvDuration("RETRY_BASE_DELAY", &c.RetryBaseDelay))
	parse(getEnvFloat("TOKEN_TOLERANCE", &c.Grading.TokenTolerance))
	parse(getEnvFloat("SENTIMENT_TOLERANCE", &c.Grading.SentimentTolerance))
	parse(getEnvFloat("TOKEN_EPS", &c.Grading.TokenEps))
	parse(getEnvInt("TOKEN_CAP", &c.Grading.TokenCap))
	parse(getEnvInt("SAMPLE_SIZE", &c.Grading.SampleSize))
	parse(getEnvInt("RATE_LIMIT", &c.RateLimit))
	parse(getEnvDuration("RATE_WINDOW", &c.RateWindow))
	return errors.Join(errs...)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.AnalyzerURL == "" {
		return fmt.Errorf("ANALYZER_URL is required")
	}

	if c.APIURL != "" && c.ValidatorPrivateKey == nil {
		return fmt.Errorf("VALIDATOR_PRIVATE_KEY is required when API_URL is set")
	}

	if c.APIURL != "" && c.ScoresBlockInterval == 0 {
		return fmt.Errorf("SCORES_BLOCK_INTERVAL must be positive")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got: %s", c.PollInterval)
	}

	if c.CrosscheckEnabled && c.XBearerToken == "" && c.SN13APIKey == "" {
		return fmt.Errorf("CROSSCHECK_ENABLED requires X_BEARER_TOKEN or SN13_API_KEY")
	}

	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got: %d", c.RetryAttempts)
	}

	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return fmt.Errorf("RATE_WINDOW must be positive when RATE_LIMIT is set")
	}

	g := c.Grading
	if g.TokenTolerance < 0 || g.SentimentTolerance < 0 || g.TokenEps < 0 {
		return fmt.Errorf("tolerances must not be negative")
	}

	if g.TokenCap < 1 || g.SampleSize < 1 {
		return fmt.Errorf("TOKEN_CAP and SAMPLE_SIZE must be at least 1")
	}

	return nil
}

// LoopEnabled reports whether the validation poll loop should run
func (c *Config) LoopEnabled() bool {
	return c.APIURL != ""
}

// TokenPolicy returns the configured token selection policy
func (c *Config) TokenPolicy() tokens.Policy {
	return tokens.Policy{Eps: c.Grading.TokenEps, Cap: c.Grading.TokenCap}
}

// RetryPolicy returns the configured retry policy
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy(c.RetryAttempts)
	p.BaseDelay = c.RetryBaseDelay
	return p
}

// NewScorer builds a scorer from the scoring block
func (c *Config) NewScorer() *scoring.Scorer {
	s := scoring.NewScorer()
	s.Caps = c.Scoring.Caps
	s.Weights = c.Scoring.Weights
	s.HorizonHours = c.Scoring.HorizonHours
	s.TopK = c.Scoring.TopK
	return s
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func getEnvUint(key string, dst *uint64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func getEnvFloat(key string, dst *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func getEnvBool(key string, dst *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

// getEnvDuration accepts Go durations ("10s") or plain seconds ("10")
func getEnvDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

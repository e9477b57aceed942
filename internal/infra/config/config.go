package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Model      ModelConfig      `yaml:"model"`
	Agents     AgentsConfig     `yaml:"agents"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Session    SessionConfig    `yaml:"session"`
	Store      StoreConfig      `yaml:"store"`
	Security   SecurityConfig   `yaml:"security"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Server     ServerConfig     `yaml:"server"`
	Janitor    JanitorConfig    `yaml:"janitor"`
}

// ModelConfig holds the model endpoints used by the agents.
type ModelConfig struct {
	// Image is the vision endpoint used by the image analyzer.
	Image ProviderConfig `yaml:"image"`
	// Record is the optional text model used for JSON record extraction.
	// An empty Type disables it.
	Record         ProviderConfig       `yaml:"record"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// ProviderConfig holds settings for a single model endpoint.
type ProviderConfig struct {
	Type        string        `yaml:"type"` // "endpoint", "openai" or "" (disabled)
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig holds HTTP connection pool settings for model endpoints.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for model endpoints.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig is a token bucket. Zero RequestsPerMinute disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// AgentsConfig holds per-agent knobs.
type AgentsConfig struct {
	ImageAnalyzer ImageAnalyzerConfig `yaml:"image_analyzer"`
	RecordParser  RecordParserConfig  `yaml:"record_parser"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
}

// ImageAnalyzerConfig tunes the image analyzer agent.
type ImageAnalyzerConfig struct {
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	MinImageQuality float64 `yaml:"min_image_quality"`
	QualityCheck    bool    `yaml:"quality_check"`
	// MaxDimension is the long-side pixel limit before uploads are downscaled.
	MaxDimension int `yaml:"max_dimension"`
}

// RecordParserConfig tunes the record parser agent.
type RecordParserConfig struct {
	UseModel bool `yaml:"use_model"`
}

// OrchestratorConfig tunes the orchestration pipeline.
type OrchestratorConfig struct {
	EnableReflexion    bool    `yaml:"enable_reflexion"`
	ReflexionThreshold float64 `yaml:"reflexion_threshold"`
	AddConfidence      bool    `yaml:"add_confidence"`
}

// SessionConfig holds conversation settings.
type SessionConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	ContextWindow int           `yaml:"context_window"`
}

// StoreConfig holds conversation persistence settings.
// The encryption passphrase is read from MEDSIGHT_ENCRYPTION_KEY.
type StoreConfig struct {
	Backend   string        `yaml:"backend"` // "json" or "sqlite"
	Dir       string        `yaml:"dir"`
	Encrypt   bool          `yaml:"encrypt"`
	Retention time.Duration `yaml:"retention"`
}

// SecurityConfig holds audit settings.
type SecurityConfig struct {
	Audit AuditConfig `yaml:"audit"`
}

// AuditConfig holds audit logging settings.
type AuditConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Path      string          `yaml:"path"`
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig holds audit log retention policy settings.
type RetentionConfig struct {
	MaxAge  string `yaml:"max_age"`  // duration string, e.g. "61320h" (7 years)
	MaxSize string `yaml:"max_size"` // e.g. "100MB"
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	RedactPHI bool   `yaml:"redact_phi"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// ServerConfig holds HTTP API settings for the serve command.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// JanitorConfig holds the retention janitor schedule.
type JanitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression or descriptor
}

// defaultDataDir returns the persistent data directory under $HOME/.medsight.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".medsight")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir: dataDir,
		Model: ModelConfig{
			Image: ProviderConfig{
				Type:        "endpoint",
				Model:       "medgemma-4b-it",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 120 * time.Second,
			},
			Record: ProviderConfig{
				Model:       "gemini-2.5-flash-lite",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 60 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Agents: AgentsConfig{
			ImageAnalyzer: ImageAnalyzerConfig{
				MaxTokens:       500,
				Temperature:     0,
				MinImageQuality: 0.6,
				QualityCheck:    true,
				MaxDimension:    2048,
			},
			RecordParser: RecordParserConfig{UseModel: true},
			Orchestrator: OrchestratorConfig{
				EnableReflexion:    true,
				ReflexionThreshold: 0.85,
				AddConfidence:      true,
			},
		},
		Guardrails: DefaultGuardrails(),
		Session: SessionConfig{
			MaxAge:        24 * time.Hour,
			ContextWindow: 10,
		},
		Store: StoreConfig{
			Backend:   "json",
			Dir:       filepath.Join(dataDir, "conversations"),
			Retention: 90 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			Audit: AuditConfig{
				Enabled: true,
				Path:    filepath.Join(dataDir, "audit.jsonl"),
				Retention: RetentionConfig{
					MaxAge: "61320h",
				},
			},
		},
		Logger: LoggerConfig{
			Level:     "info",
			Format:    "text",
			Output:    "stderr",
			RedactPHI: true,
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			ServiceName: "medsight",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerSecond: 5,
			Burst:             10,
			MaxUploadBytes:    20 << 20,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      180 * time.Second,
		},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "@hourly",
		},
	}
}

// LoadDotEnv loads .env and .env.<MEDSIGHT_ENV> from dir. Missing files are
// ignored and variables already present in the environment win.
func LoadDotEnv(dir string) {
	files := []string{filepath.Join(dir, ".env")}
	if env := os.Getenv("MEDSIGHT_ENV"); env != "" {
		files = append(files, filepath.Join(dir, ".env."+env))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// Load reads a YAML config file, applies .env files and env var overrides,
// loads an external guardrail policy and decrypts secrets. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	LoadDotEnv(".")

	baseDir := "."
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		baseDir = filepath.Dir(absPath)
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if p := cfg.Guardrails.Path; p != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		g, err := LoadGuardrails(p)
		if err != nil {
			return nil, err
		}
		g.Path = cfg.Guardrails.Path
		cfg.Guardrails = g
	}

	if passphrase := os.Getenv("MEDSIGHT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps MEDSIGHT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEDSIGHT_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.Store.Dir = filepath.Join(v, "conversations")
		cfg.Security.Audit.Path = filepath.Join(v, "audit.jsonl")
	}
	if v := os.Getenv("MEDSIGHT_MODEL_TYPE"); v != "" {
		cfg.Model.Image.Type = v
	}
	if v := os.Getenv("MEDSIGHT_MODEL_BASE_URL"); v != "" {
		cfg.Model.Image.BaseURL = v
	}
	if v := os.Getenv("MEDSIGHT_MODEL_API_KEY"); v != "" {
		cfg.Model.Image.APIKey = v
	}
	if v := os.Getenv("MEDSIGHT_MODEL_NAME"); v != "" {
		cfg.Model.Image.Model = v
	}
	if v := os.Getenv("MEDSIGHT_RECORD_MODEL_TYPE"); v != "" {
		cfg.Model.Record.Type = v
	}
	if v := os.Getenv("MEDSIGHT_RECORD_MODEL_BASE_URL"); v != "" {
		cfg.Model.Record.BaseURL = v
	}
	if v := os.Getenv("MEDSIGHT_RECORD_MODEL_API_KEY"); v != "" {
		cfg.Model.Record.APIKey = v
	}
	if v := os.Getenv("MEDSIGHT_RECORD_MODEL_NAME"); v != "" {
		cfg.Model.Record.Model = v
	}
	if v := os.Getenv("MEDSIGHT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MEDSIGHT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MEDSIGHT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MEDSIGHT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("MEDSIGHT_TRACER_SERVICE_NAME"); v != "" {
		cfg.Tracer.ServiceName = v
	}
	if v := os.Getenv("MEDSIGHT_ENABLE_REFLEXION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Agents.Orchestrator.EnableReflexion = b
		}
	}
	if v := os.Getenv("MEDSIGHT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MEDSIGHT_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("MEDSIGHT_GUARDRAILS_PATH"); v != "" {
		cfg.Guardrails.Path = v
	}
	if os.Getenv("MEDSIGHT_ENCRYPTION_KEY") != "" && os.Getenv("MEDSIGHT_STORE_ENCRYPT") != "false" {
		cfg.Store.Encrypt = true
	}
}

// decryptSecrets finds "enc:..." values in model API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"model.image.api_key":  &cfg.Model.Image.APIKey,
		"model.record.api_key": &cfg.Model.Record.APIKey,
	}
	for name, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

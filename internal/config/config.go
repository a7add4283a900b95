// Package config handles loading and parsing of the MediaShelf storage
// gateway configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/media"
	"github.com/mediashelf/mediashelf/internal/storage"
)

// EnvPrefix prefixes every environment variable the gateway reads.
const EnvPrefix = "MEDIASHELF_"

// MaxPresignTTL is the longest lifetime a SigV4 presigned URL may have.
const MaxPresignTTL = 7 * 24 * time.Hour

// Config is the top-level configuration for the storage gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Storage       StorageConfig       `yaml:"storage"`
	Uploads       UploadsConfig       `yaml:"uploads"`
	Presign       PresignConfig       `yaml:"presign"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIToken, when set, must be presented as a bearer token on /v1 routes.
	APIToken string `yaml:"api_token"`
	// ReadHeaderTimeout bounds reading request headers. Bodies and responses
	// are not bounded so long streams are never cut off.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CORSOrigins lists the origins browsers may call the gateway from.
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	// Metrics enables the /metrics endpoint.
	Metrics bool `yaml:"metrics"`
}

// StorageConfig holds object storage backend settings.
type StorageConfig struct {
	// Backend is the storage backend type: "s3", "gcs", "azure" or "memory".
	Backend string `yaml:"backend"`
	// Prefix is the optional key prefix for all objects in the upstream store.
	Prefix string       `yaml:"prefix"`
	S3     S3Config     `yaml:"s3"`
	GCS    GCSConfig    `yaml:"gcs"`
	Azure  AzureConfig  `yaml:"azure"`
	Memory MemoryConfig `yaml:"memory"`
}

// S3Config holds settings for S3-compatible backends.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	// InternalEndpoint carries every server-side read, write and delete.
	InternalEndpoint string `yaml:"internal_endpoint"`
	// PublicEndpoint is the browser-reachable address presigned uploads are
	// signed against. Defaults to InternalEndpoint.
	PublicEndpoint  string `yaml:"public_endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// FallbackAccessKeyID and FallbackSecretAccessKey are used when the
	// primary pair is incomplete.
	FallbackAccessKeyID     string        `yaml:"fallback_access_key_id"`
	FallbackSecretAccessKey string        `yaml:"fallback_secret_access_key"`
	ConnectTimeout          time.Duration `yaml:"connect_timeout"`
	ReadTimeout             time.Duration `yaml:"read_timeout"`
	// MaxAttempts is the SDK attempt budget per call. 1 means no retries.
	MaxAttempts int      `yaml:"max_attempts"`
	PartSize    ByteSize `yaml:"part_size"`
	Concurrency int      `yaml:"concurrency"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket          string        `yaml:"bucket"`
	Endpoint        string        `yaml:"endpoint"`
	CredentialsFile string        `yaml:"credentials_file"`
	Anonymous       bool          `yaml:"anonymous"`
	ChunkSize       ByteSize      `yaml:"chunk_size"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	// MaxAttempts is the attempt budget per call. 1 means no retries.
	MaxAttempts int `yaml:"max_attempts"`
}

// AzureConfig holds Azure Blob Storage settings.
type AzureConfig struct {
	Container string `yaml:"container"`
	// AccountURL is the full storage account URL. If empty, it is
	// constructed from AccountName as https://{account}.blob.core.windows.net.
	AccountURL         string        `yaml:"account_url"`
	AccountName        string        `yaml:"account_name"`
	AccountKey         string        `yaml:"account_key"`
	ConnectionString   string        `yaml:"connection_string"`
	UseManagedIdentity bool          `yaml:"use_managed_identity"`
	BlockSize          ByteSize      `yaml:"block_size"`
	Concurrency        int           `yaml:"concurrency"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	// MaxAttempts is the attempt budget per call. 1 means no retries.
	MaxAttempts int `yaml:"max_attempts"`
}

// MemoryConfig holds settings for the in-memory development backend.
type MemoryConfig struct {
	MaxSize ByteSize `yaml:"max_size"`
}

// UploadsConfig holds upload limits.
type UploadsConfig struct {
	// MaxSizes maps each media category to its upload limit.
	MaxSizes map[string]ByteSize `yaml:"max_sizes"`
}

// PresignConfig holds presigned URL lifetimes.
type PresignConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
}

// ByteSize is a size in bytes written as a human string such as "512MiB".
type ByteSize int64

// ParseByteSize parses a human-readable size.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return ByteSize(n), nil
}

// UnmarshalYAML accepts either a plain integer or a human-readable string.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", node.Line, node.Value, err)
	}
	*b = v
	return nil
}

// MarshalYAML renders the size in IEC units.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return strings.ReplaceAll(humanize.IBytes(uint64(b)), " ", "")
}

// Load reads a YAML configuration file from the given path and applies
// environment overrides. An empty path skips the file. The result is not
// validated; call Validate once every override has been applied.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: true,
		},
		Storage: StorageConfig{
			Backend: "s3",
			S3: S3Config{
				Region:         "us-east-1",
				ConnectTimeout: 5 * time.Second,
				ReadTimeout:    60 * time.Second,
				MaxAttempts:    1,
			},
			GCS: GCSConfig{
				ConnectTimeout: 5 * time.Second,
				ReadTimeout:    60 * time.Second,
				MaxAttempts:    1,
			},
			Azure: AzureConfig{
				ConnectTimeout: 5 * time.Second,
				ReadTimeout:    60 * time.Second,
				MaxAttempts:    1,
			},
		},
		Presign: PresignConfig{
			DefaultTTL: 15 * time.Minute,
			MaxTTL:     24 * time.Hour,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "s3"
	}
	if cfg.Storage.S3.Region == "" {
		cfg.Storage.S3.Region = "us-east-1"
	}
	if cfg.Storage.S3.MaxAttempts == 0 {
		cfg.Storage.S3.MaxAttempts = 1
	}
	if cfg.Storage.GCS.MaxAttempts == 0 {
		cfg.Storage.GCS.MaxAttempts = 1
	}
	if cfg.Storage.Azure.MaxAttempts == 0 {
		cfg.Storage.Azure.MaxAttempts = 1
	}
	if cfg.Storage.S3.PublicEndpoint == "" {
		cfg.Storage.S3.PublicEndpoint = cfg.Storage.S3.InternalEndpoint
	}
	if cfg.Presign.DefaultTTL == 0 {
		cfg.Presign.DefaultTTL = 15 * time.Minute
	}
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxSizes returns the upload limit of every configured category.
func (c *Config) MaxSizes() map[media.Category]int64 {
	out := make(map[media.Category]int64, len(c.Uploads.MaxSizes))
	for name, size := range c.Uploads.MaxSizes {
		if cat, ok := media.ParseCategory(name); ok {
			out[cat] = int64(size)
		}
	}
	return out
}

// ClientConfig converts the S3 settings for the backend client factory.
func (c S3Config) ClientConfig() storage.ClientConfig {
	return storage.ClientConfig{
		Bucket:           c.Bucket,
		Region:           c.Region,
		InternalEndpoint: c.InternalEndpoint,
		PublicEndpoint:   c.PublicEndpoint,
		Credentials: storage.CredentialPair{
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
		},
		FallbackCredentials: storage.CredentialPair{
			AccessKeyID:     c.FallbackAccessKeyID,
			SecretAccessKey: c.FallbackSecretAccessKey,
		},
		ConnectTimeout: c.ConnectTimeout,
		ReadTimeout:    c.ReadTimeout,
		MaxAttempts:    c.MaxAttempts,
	}
}

// Validate checks the configuration. Every failure is a ConfigurationError.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return configErr("server.port %d is out of range", c.Server.Port)
	}

	switch c.Storage.Backend {
	case "s3":
		if err := c.Storage.S3.ClientConfig().Validate(); err != nil {
			return err
		}
		if c.Storage.S3.PartSize != 0 && c.Storage.S3.PartSize < 5*humanize.MiByte {
			return configErr("storage.s3.part_size must be at least 5MiB, got %s", c.Storage.S3.PartSize)
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return configErr("storage.gcs.bucket is required")
		}
	case "azure":
		az := c.Storage.Azure
		if az.Container == "" {
			return configErr("storage.azure.container is required")
		}
		if az.ConnectionString == "" && az.AccountURL == "" && az.AccountName == "" {
			return configErr("storage.azure needs connection_string, account_url or account_name")
		}
	case "memory":
	default:
		return configErr("unknown storage.backend %q (want s3, gcs, azure or memory)", c.Storage.Backend)
	}

	for name := range c.Uploads.MaxSizes {
		if _, ok := media.ParseCategory(name); !ok {
			return configErr("uploads.max_sizes names unknown category %q", name)
		}
	}
	for _, cat := range media.Categories() {
		if c.Uploads.MaxSizes[string(cat)] <= 0 {
			return configErr("uploads.max_sizes.%s is required", cat)
		}
	}

	if c.Presign.MaxTTL <= 0 || c.Presign.MaxTTL > MaxPresignTTL {
		return configErr("presign.max_ttl must be between 1s and %s, got %s", MaxPresignTTL, c.Presign.MaxTTL)
	}
	if c.Presign.DefaultTTL <= 0 || c.Presign.DefaultTTL > c.Presign.MaxTTL {
		return configErr("presign.default_ttl %s must be positive and at most presign.max_ttl %s",
			c.Presign.DefaultTTL, c.Presign.MaxTTL)
	}
	return nil
}

func configErr(format string, args ...any) error {
	return gwerr.ErrConfiguration.WithMessage(format, args...)
}

// applyEnv overrides cfg from MEDIASHELF_* variables. The standard
// AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY pair fills the S3 fallback
// credentials when those are not configured.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(p *string) func(string) error {
		return func(v string) error { *p = v; return nil }
	}
	dur := func(p *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*p = d
			return nil
		}
	}
	num := func(p *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*p = n
			return nil
		}
	}
	flag := func(p *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*p = b
			return nil
		}
	}

	s3 := &cfg.Storage.S3
	setters := []struct {
		name string
		set  func(string) error
	}{
		{"SERVER_HOST", str(&cfg.Server.Host)},
		{"SERVER_PORT", num(&cfg.Server.Port)},
		{"API_TOKEN", str(&cfg.Server.APIToken)},
		{"LOG_LEVEL", str(&cfg.Logging.Level)},
		{"LOG_FORMAT", str(&cfg.Logging.Format)},
		{"METRICS", flag(&cfg.Observability.Metrics)},
		{"STORAGE_BACKEND", str(&cfg.Storage.Backend)},
		{"STORAGE_PREFIX", str(&cfg.Storage.Prefix)},
		{"S3_BUCKET", str(&s3.Bucket)},
		{"S3_REGION", str(&s3.Region)},
		{"S3_INTERNAL_ENDPOINT", str(&s3.InternalEndpoint)},
		{"S3_PUBLIC_ENDPOINT", str(&s3.PublicEndpoint)},
		{"S3_ACCESS_KEY_ID", str(&s3.AccessKeyID)},
		{"S3_SECRET_ACCESS_KEY", str(&s3.SecretAccessKey)},
		{"S3_FALLBACK_ACCESS_KEY_ID", str(&s3.FallbackAccessKeyID)},
		{"S3_FALLBACK_SECRET_ACCESS_KEY", str(&s3.FallbackSecretAccessKey)},
		{"S3_CONNECT_TIMEOUT", dur(&s3.ConnectTimeout)},
		{"S3_READ_TIMEOUT", dur(&s3.ReadTimeout)},
		{"S3_MAX_ATTEMPTS", num(&s3.MaxAttempts)},
		{"GCS_BUCKET", str(&cfg.Storage.GCS.Bucket)},
		{"GCS_ENDPOINT", str(&cfg.Storage.GCS.Endpoint)},
		{"GCS_CREDENTIALS_FILE", str(&cfg.Storage.GCS.CredentialsFile)},
		{"GCS_CONNECT_TIMEOUT", dur(&cfg.Storage.GCS.ConnectTimeout)},
		{"GCS_READ_TIMEOUT", dur(&cfg.Storage.GCS.ReadTimeout)},
		{"AZURE_CONTAINER", str(&cfg.Storage.Azure.Container)},
		{"AZURE_ACCOUNT_URL", str(&cfg.Storage.Azure.AccountURL)},
		{"AZURE_ACCOUNT_NAME", str(&cfg.Storage.Azure.AccountName)},
		{"AZURE_ACCOUNT_KEY", str(&cfg.Storage.Azure.AccountKey)},
		{"AZURE_CONNECTION_STRING", str(&cfg.Storage.Azure.ConnectionString)},
		{"AZURE_CONNECT_TIMEOUT", dur(&cfg.Storage.Azure.ConnectTimeout)},
		{"AZURE_READ_TIMEOUT", dur(&cfg.Storage.Azure.ReadTimeout)},
		{"PRESIGN_DEFAULT_TTL", dur(&cfg.Presign.DefaultTTL)},
		{"PRESIGN_MAX_TTL", dur(&cfg.Presign.MaxTTL)},
	}
	for _, s := range setters {
		v, ok := lookup(EnvPrefix + s.name)
		if !ok || v == "" {
			continue
		}
		if err := s.set(v); err != nil {
			return configErr("%s%s=%q: %v", EnvPrefix, s.name, v, err)
		}
	}

	for _, cat := range media.Categories() {
		name := EnvPrefix + "MAX_SIZE_" + strings.ToUpper(strings.ReplaceAll(string(cat), "-", "_"))
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		size, err := ParseByteSize(v)
		if err != nil {
			return configErr("%s=%q: %v", name, v, err)
		}
		if cfg.Uploads.MaxSizes == nil {
			cfg.Uploads.MaxSizes = make(map[string]ByteSize)
		}
		cfg.Uploads.MaxSizes[string(cat)] = size
	}

	if s3.FallbackAccessKeyID == "" && s3.FallbackSecretAccessKey == "" {
		s3.FallbackAccessKeyID, _ = lookup("AWS_ACCESS_KEY_ID")
		s3.FallbackSecretAccessKey, _ = lookup("AWS_SECRET_ACCESS_KEY")
	}
	return nil
}

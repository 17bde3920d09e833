// Package config loads BranchDB settings from an optional YAML file and
// BRANCHDB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configFileName = "branchdb"
	configFileType = "yaml"
	envPrefix      = "BRANCHDB"
)

const (
	BackendGit    = "git"
	BackendGitHub = "github"
	BackendS3     = "s3"
	BackendBolt   = "bolt"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Backend  string         `mapstructure:"backend"`
	Git      GitConfig      `mapstructure:"git"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	S3       S3Config       `mapstructure:"s3"`
	Bolt     BoltConfig     `mapstructure:"bolt"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Registry RegistryConfig `mapstructure:"registry"`
	Entity   EntityConfig   `mapstructure:"entity"`
	Retries  RetriesConfig  `mapstructure:"retries"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Identity IdentityConfig `mapstructure:"identity"`
}

type GitConfig struct {
	Dir         string `mapstructure:"dir"`    // Empty keeps the repository in memory
	Remote      string `mapstructure:"remote"` // Mirror URL for push and fetch
	RemoteToken string `mapstructure:"remote_token"`
}

type GitHubConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Owner          string        `mapstructure:"owner"`
	Repo           string        `mapstructure:"repo"`
	Token          string        `mapstructure:"token"`
	AppID          string        `mapstructure:"app_id"`
	InstallationID int64         `mapstructure:"installation_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// UsesApp reports whether GitHub App credentials are configured
func (c GitHubConfig) UsesApp() bool {
	return c.AppID != "" || c.InstallationID != 0 || c.PrivateKeyPath != ""
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type BoltConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type RegistryConfig struct {
	Branch string        `mapstructure:"branch"`
	Path   string        `mapstructure:"path"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type EntityConfig struct {
	Prefix string        `mapstructure:"prefix"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type RetriesConfig struct {
	Conflict  int           `mapstructure:"conflict"`
	Registry  int           `mapstructure:"registry"`
	Transient int           `mapstructure:"transient"`
	Backoff   time.Duration `mapstructure:"backoff"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type IdentityConfig struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// defaults registers every key so environment variables bind on Unmarshal
var defaults = map[string]any{
	"backend":                 BackendGit,
	"git.dir":                 "",
	"git.remote":              "",
	"git.remote_token":        "",
	"github.base_url":         "https://api.github.com",
	"github.owner":            "",
	"github.repo":             "",
	"github.token":            "",
	"github.app_id":           "",
	"github.installation_id":  0,
	"github.private_key_path": "",
	"github.timeout":          "10s",
	"s3.bucket":               "",
	"s3.prefix":               "",
	"s3.region":               "",
	"s3.endpoint":             "",
	"s3.access_key":           "",
	"s3.secret_key":           "",
	"bolt.path":               "branchdb.db",
	"cache.backend":           CacheMemory,
	"cache.redis_addr":        "localhost:6379",
	"cache.redis_password":    "",
	"cache.redis_db":          0,
	"registry.branch":         "registry",
	"registry.path":           "users.json",
	"registry.max_age":        "30s",
	"entity.prefix":           "user/",
	"entity.max_age":          "0s",
	"retries.conflict":        0,
	"retries.registry":        3,
	"retries.transient":       2,
	"retries.backoff":         "250ms",
	"server.addr":             ":8080",
	"server.jwt_secret":       "",
	"server.issuer":           "",
	"server.audience":         "",
	"log.level":               "info",
	"log.format":              "json",
	"log.file":                "",
	"identity.name":           "BranchDB",
	"identity.email":          "store@branchdb.local",
}

// Load reads configuration. With an empty path a branchdb.yaml in the
// working directory is used if present; an explicit path must exist.
// Environment variables override the file, e.g. BRANCHDB_GITHUB_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing or inconsistent setting at once
func (c *Config) Validate() error {
	var problems []string
	missing := func(key string) {
		problems = append(problems, key+" is required")
	}

	switch c.Backend {
	case BackendGit:
	case BackendGitHub:
		if c.GitHub.Owner == "" {
			missing("github.owner")
		}
		if c.GitHub.Repo == "" {
			missing("github.repo")
		}
		if c.GitHub.UsesApp() {
			if c.GitHub.AppID == "" {
				missing("github.app_id")
			}
			if c.GitHub.InstallationID == 0 {
				missing("github.installation_id")
			}
			if c.GitHub.PrivateKeyPath == "" {
				missing("github.private_key_path")
			}
		} else if c.GitHub.Token == "" {
			problems = append(problems, "github.token or github app credentials are required")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			missing("s3.bucket")
		}
	case BackendBolt:
		if c.Bolt.Path == "" {
			missing("bolt.path")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Backend))
	}

	switch c.Cache.Backend {
	case "", CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			missing("cache.redis_addr")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}

	if c.Registry.Branch == "" {
		missing("registry.branch")
	}
	if c.Registry.Path == "" {
		missing("registry.path")
	}
	if c.Entity.Prefix == "" {
		missing("entity.prefix")
	} else if strings.HasPrefix(c.Registry.Branch, c.Entity.Prefix) {
		problems = append(problems, "registry.branch must not start with entity.prefix")
	}
	if c.Retries.Conflict < 0 || c.Retries.Registry < 0 || c.Retries.Transient < 0 {
		problems = append(problems, "retries must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateServer additionally checks the settings the HTTP server needs
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("%w: server.jwt_secret is required", ErrInvalidConfig)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	}
	return nil
}

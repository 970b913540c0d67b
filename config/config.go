package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Session   SessionConfig   `yaml:"session"`
	Stage     StageConfig     `yaml:"stage"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Users     []User          `yaml:"users"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// AnalysisConfig points at the remote analysis service
type AnalysisConfig struct {
	BaseURL             string        `yaml:"base_url"`
	APIToken            string        `yaml:"api_token"`
	UploadTimeout       time.Duration `yaml:"upload_timeout"`
	CounterOfferTimeout time.Duration `yaml:"counter_offer_timeout"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
}

type SessionConfig struct {
	ProgressInterval time.Duration `yaml:"progress_interval"`
	RedirectDelay    time.Duration `yaml:"redirect_delay"`
	MaxSessions      int           `yaml:"max_sessions"`
	IdleTTL          time.Duration `yaml:"idle_ttl"`
}

// StageConfig selects where selected files wait until they are uploaded
type StageConfig struct {
	Driver string      `yaml:"driver"` // memory, minio
	Minio  MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

const (
	StageMemory = "memory"
	StageMinio  = "minio"
)

// Environment overrides, loaded after the YAML file
const (
	EnvAnalysisURL   = "CONTRACTRISK_ANALYSIS_URL"
	EnvAnalysisToken = "CONTRACTRISK_ANALYSIS_TOKEN"
	EnvJWTSecret     = "CONTRACTRISK_JWT_SECRET"
	EnvMinioAccess   = "CONTRACTRISK_MINIO_ACCESS_KEY"
	EnvMinioSecret   = "CONTRACTRISK_MINIO_SECRET_KEY"
	EnvPort          = "CONTRACTRISK_PORT"
)

// Load reads the YAML file at path, then applies .env and environment overrides.
// A missing .env file is ignored.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	applyEnv(&cfg)

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Analysis.BaseURL == "" {
		cfg.Analysis.BaseURL = "http://localhost:8000/api"
	}
	if cfg.Analysis.UploadTimeout == 0 {
		cfg.Analysis.UploadTimeout = 30 * time.Second
	}
	if cfg.Analysis.CounterOfferTimeout == 0 {
		cfg.Analysis.CounterOfferTimeout = 15 * time.Second
	}
	if cfg.Analysis.RequestTimeout == 0 {
		cfg.Analysis.RequestTimeout = 30 * time.Second
	}
	if cfg.Analysis.PollInterval == 0 {
		cfg.Analysis.PollInterval = 2 * time.Second
	}
	if cfg.Session.ProgressInterval == 0 {
		cfg.Session.ProgressInterval = 200 * time.Millisecond
	}
	if cfg.Session.RedirectDelay == 0 {
		cfg.Session.RedirectDelay = 2 * time.Second
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 100
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = 30 * time.Minute
	}
	if cfg.Stage.Driver == "" {
		cfg.Stage.Driver = StageMemory
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 100
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAnalysisURL); v != "" {
		cfg.Analysis.BaseURL = v
	}
	if v := os.Getenv(EnvAnalysisToken); v != "" {
		cfg.Analysis.APIToken = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvMinioAccess); v != "" {
		cfg.Stage.Minio.AccessKey = v
	}
	if v := os.Getenv(EnvMinioSecret); v != "" {
		cfg.Stage.Minio.SecretKey = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

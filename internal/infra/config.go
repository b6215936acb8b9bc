package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"vexchange/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 배포별 값을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr            string   `yaml:"addr"`
		PprofAddr       string   `yaml:"pprof_addr"`
		ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
		WriteTimeoutSec int      `yaml:"write_timeout_sec"`
		ShutdownSec     int      `yaml:"shutdown_sec"`
		AllowedOrigins  []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		Driver          string `yaml:"driver"` // sqlite | postgres
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		SlowQueryMillis int    `yaml:"slow_query_ms"`
	} `yaml:"storage"`

	Service struct {
		OpTimeoutMillis    int `yaml:"op_timeout_ms"`
		MaxAttempts        int `yaml:"max_attempts"`
		RetryBaseMillis    int `yaml:"retry_base_ms"`
		RetryMaxMillis     int `yaml:"retry_max_ms"`
		MaxRetryElapsedSec int `yaml:"max_retry_elapsed_sec"`
	} `yaml:"service"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when a field is left empty.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "vexchange"
	cfg.App.Version = "dev"
	cfg.Server.Addr = ":8080"
	cfg.Server.PprofAddr = "localhost:6060"
	cfg.Server.ReadTimeoutSec = 10
	cfg.Server.WriteTimeoutSec = 15
	cfg.Server.ShutdownSec = 10
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SlowQueryMillis = 200
	cfg.Service.OpTimeoutMillis = 2000
	cfg.Service.MaxAttempts = 5
	cfg.Service.RetryBaseMillis = 10
	cfg.Service.RetryMaxMillis = 500
	cfg.Service.MaxRetryElapsedSec = 10
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Logging.File = "app.log"
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 환경 변수 오버라이드 지원
	if err := overrideWithEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &domain.ConfigError{Field: "server.addr", Err: errors.New("must not be empty")}
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return &domain.ConfigError{Field: "storage.dsn", Err: errors.New("required for postgres")}
		}
	default:
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unsupported driver %q", c.Storage.Driver)}
	}

	if c.Service.OpTimeoutMillis <= 0 {
		return &domain.ConfigError{Field: "service.op_timeout_ms", Err: errors.New("must be positive")}
	}
	if c.Service.MaxAttempts < 1 {
		return &domain.ConfigError{Field: "service.max_attempts", Err: errors.New("must be at least 1")}
	}
	if c.Service.RetryBaseMillis <= 0 || c.Service.RetryMaxMillis < c.Service.RetryBaseMillis {
		return &domain.ConfigError{Field: "service.retry_base_ms", Err: errors.New("must be positive and not above retry_max_ms")}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	return nil
}

// OpTimeout is the deadline given to each storage attempt.
func (c *Config) OpTimeout() time.Duration {
	return time.Duration(c.Service.OpTimeoutMillis) * time.Millisecond
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	if v := os.Getenv("VEX_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("VEX_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("VEX_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("VEX_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("VEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	ints := []struct {
		env   string
		field string
		dst   *int
	}{
		{"VEX_OP_TIMEOUT_MS", "service.op_timeout_ms", &cfg.Service.OpTimeoutMillis},
		{"VEX_MAX_ATTEMPTS", "service.max_attempts", &cfg.Service.MaxAttempts},
		{"VEX_STORAGE_MAX_OPEN_CONNS", "storage.max_open_conns", &cfg.Storage.MaxOpenConns},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &domain.ConfigError{Field: o.field, Err: fmt.Errorf("%s: %w", o.env, err)}
		}
		*o.dst = n
	}
	return nil
}

package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

// Storage backends accepted in storage.backend.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendFirebase = "firebase"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Handlers struct {
		Prometheus struct {
			Port string `mapstructure:"port"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"handlers"`
	Repositories struct {
		Postgres struct {
			Host              string `mapstructure:"host"`
			Password          string `mapstructure:"password"`
			Port              string `mapstructure:"port"`
			Username          string `mapstructure:"username"`
			DB                string `mapstructure:"db"`
			SSLMODE           string `mapstructure:"SSLMODE"`
			MAXCONWAITINGTIME int    `mapstructure:"MAXCONWAITINGTIME"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	Server struct {
		HTTPPort string        `mapstructure:"HTTPPort"`
		Timeout  time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	Storage struct {
		Backend string `mapstructure:"backend"`
		File    struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"file"`
	} `mapstructure:"storage"`
	Firebase struct {
		BaseURL string        `mapstructure:"baseURL"`
		Auth    string        `mapstructure:"auth"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"firebase"`
	Cache struct {
		TTL     time.Duration `mapstructure:"ttl"`
		Cleanup time.Duration `mapstructure:"cleanup"`
	} `mapstructure:"cache"`
}

// InitConfig reads config.yml from the usual locations, falling back to the
// embedded copy. Any key can be overridden from the environment with the
// CITIES_ prefix, e.g. CITIES_STORAGE_BACKEND=firebase.
func InitConfig() (Config, error) {
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")
	v.SetConfigName("config")
	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	return load(v)
}

// load applies env overrides to an already populated viper instance.
func load(v *viper.Viper) (Config, error) {
	var config Config

	v.SetEnvPrefix("CITIES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.File.Path == "" {
			return fmt.Errorf("storage.file.path is required for the %s backend", BackendFile)
		}
	case BackendPostgres:
		if c.Repositories.Postgres.Host == "" {
			return fmt.Errorf("repositories.postgres.host is required for the %s backend", BackendPostgres)
		}
	case BackendFirebase:
		if c.Firebase.BaseURL == "" {
			return fmt.Errorf("firebase.baseURL is required for the %s backend", BackendFirebase)
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Server.HTTPPort == "" {
		return fmt.Errorf("server.HTTPPort is required")
	}
	return nil
}

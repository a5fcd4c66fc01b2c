// Package config loads the blocker's configuration from flags, a config
// file and environment variables via spf13/viper, grounded on the
// teacher's internal/config/config.go (AutomaticEnv + SetEnvKeyReplacer +
// setDefaults pattern).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the blocker's full runtime configuration.
type Config struct {
	CookiesPath string        `mapstructure:"cookies_path" validate:"required"`
	UsersFile   string        `mapstructure:"users_file" validate:"required"`
	DBPath      string        `mapstructure:"db_path" validate:"required"`
	CacheDir    string        `mapstructure:"cache_dir" validate:"required"`

	BatchSize int           `mapstructure:"batch_size" validate:"gt=0"`
	Delay     time.Duration `mapstructure:"delay" validate:"gte=0"`
	MaxUsers  int           `mapstructure:"max_users"`

	CredentialCacheTTL time.Duration `mapstructure:"credential_cache_ttl"`
	CacheLRUSize       int           `mapstructure:"cache_lru_size"`

	EnableHeaderEnhancement bool `mapstructure:"enable_header_enhancement"`
	EnableForwardedFor      bool `mapstructure:"enable_forwarded_for"`

	Debug bool `mapstructure:"debug"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogOutput string `mapstructure:"log_output"`
	LogFile   string `mapstructure:"log_file"`
}

// TargetsFile is the schema asserted on the users file: {format, users}.
type TargetsFile struct {
	Format string   `json:"format" validate:"required,oneof=id handle"`
	Users  []string `json:"users" validate:"required,min=1,dive,required"`
}

var validate = validator.New()

// Load reads configuration from defaults, an optional config file, and
// environment variables (COOKIES_PATH, USERS_FILE, BLOCK_DB, CACHE_DIR and
// the rest via the standard key replacer), then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("cookies_path", "COOKIES_PATH")
	_ = v.BindEnv("users_file", "USERS_FILE")
	_ = v.BindEnv("db_path", "BLOCK_DB")
	_ = v.BindEnv("cache_dir", "CACHE_DIR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// ValidateTargets validates a decoded targets file against the required
// schema {format, users}.
func ValidateTargets(t *TargetsFile) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("validate targets file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("batch_size", 50)
	v.SetDefault("delay", time.Second)
	v.SetDefault("max_users", 0)
	v.SetDefault("credential_cache_ttl", 30*time.Second)
	v.SetDefault("cache_lru_size", 4096)
	v.SetDefault("enable_header_enhancement", true)
	v.SetDefault("enable_forwarded_for", false)
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_output", "stdout")
	v.SetDefault("cache_dir", "./cache")
	v.SetDefault("db_path", "./block_history.db")
}

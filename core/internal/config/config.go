// Package config loads run settings from flags, MEMSENTINEL_* environment
// variables and an optional YAML file through Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "MEMSENTINEL"

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	File   string `mapstructure:"file"`
}

type Config struct {
	VolatilityPath string        `mapstructure:"volatility_path" validate:"required"`
	TimeoutSeconds int           `mapstructure:"timeout" validate:"gt=0"`
	DetectTimeout  time.Duration `mapstructure:"detect_timeout" validate:"gt=0"`
	ExtractTimeout time.Duration `mapstructure:"extract_timeout" validate:"gte=0"`
	Workers        int           `mapstructure:"workers" validate:"min=1,max=64"`
	Output         string        `mapstructure:"output" validate:"required"`
	Catalog        string        `mapstructure:"catalog"`
	Modules        []string      `mapstructure:"modules"`
	IOCFile        string        `mapstructure:"ioc_file"`
	Resume         bool          `mapstructure:"resume"`
	Archive        bool          `mapstructure:"archive"`
	Log            LogConfig     `mapstructure:"log"`
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NewViper returns a Viper instance with defaults and environment lookup
// configured.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("volatility_path", "vol.exe")
	v.SetDefault("timeout", 120)
	v.SetDefault("detect_timeout", 30*time.Minute)
	v.SetDefault("extract_timeout", time.Duration(0))
	v.SetDefault("workers", 1)
	v.SetDefault("output", "./evidence")
	v.SetDefault("catalog", "")
	v.SetDefault("modules", []string{})
	v.SetDefault("ioc_file", "")
	v.SetDefault("resume", false)
	v.SetDefault("archive", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Load reads the config file named by the "config" key, if any, and returns
// the validated settings.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

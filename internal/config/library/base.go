package library

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type BaseConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Library LibraryConfig `mapstructure:"library" yaml:"library"`
	User    UserConfig    `mapstructure:"user"    yaml:"user"`
	Ingest  IngestConfig  `mapstructure:"ingest"  yaml:"ingest"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log"     yaml:"log"`
}

func LoadConfig() (*BaseConfig, error) {
	cfg := &BaseConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the struct tags of the whole configuration tree.
func (cfg *BaseConfig) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

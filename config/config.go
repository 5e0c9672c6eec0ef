package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	PageSize     int           `mapstructure:"pagesize"`
	DB           string        `mapstructure:"db"`
	User         string        `mapstructure:"user"`
	Server       string        `mapstructure:"server"`
	Channel      string        `mapstructure:"channel"`
	Debug        bool          `mapstructure:"debug"`
	Trace        bool          `mapstructure:"trace"`
	Gops         bool          `mapstructure:"gops"`
	ProfileCache int           `mapstructure:"profilecache"`
	PresenceTTL  time.Duration `mapstructure:"presencettl"`
	Width        int           `mapstructure:"width"`
	Seed         int           `mapstructure:"seed"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("pagesize", 20)
	v.SetDefault("db", "membersync.db")
	v.SetDefault("user", "me")
	v.SetDefault("profilecache", 500)
	v.SetDefault("presencettl", 30*time.Second)
	v.SetDefault("width", 80)
}

// LoadConfig reads cfgfile when it is set. Values can be overridden with
// MEMBERSYNC_ prefixed environment variables.
func LoadConfig(cfgfile string) (*viper.Viper, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetEnvPrefix("membersync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	// use environment variables
	v.AutomaticEnv()

	if cfgfile == "" {
		return v, nil
	}

	v.SetConfigFile(cfgfile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s", err)
	}

	// reload config on file changes
	if runtime.GOOS != "illumos" {
		v.WatchConfig()
	}

	return v, nil
}

func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.Server == "" {
		return nil, fmt.Errorf("no server configured")
	}

	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	Secret          string        `mapstructure:"secret"`
	AdminToken      string        `mapstructure:"admin_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	WS         WSConfig        `mapstructure:"ws"`
	Store      StoreConfig     `mapstructure:"store"`
	Push       PushConfig      `mapstructure:"push"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	ICEServers []ICEServer     `mapstructure:"ice_servers"`
}

type WSConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

type StoreConfig struct {
	// Driver is one of mongo, postgres, sqlite, memory.
	Driver    string        `mapstructure:"driver"`
	URI       string        `mapstructure:"uri"`
	Database  string        `mapstructure:"database"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

type PushConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	ProjectID       string        `mapstructure:"project_id"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
}

type RateLimitConfig struct {
	InitiateCalls int           `mapstructure:"initiate_calls"`
	Interval      time.Duration `mapstructure:"interval"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

var storeDrivers = []string{"mongo", "postgres", "sqlite", "memory"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("ws.read_limit", 32768)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_timeout", "10s")
	v.SetDefault("ws.send_buffer", 64)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.uri", "")
	v.SetDefault("store.database", "callsignal")
	v.SetDefault("store.op_timeout", "5s")

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.credentials_file", "")
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.workers", 4)
	v.SetDefault("push.queue_size", 256)
	v.SetDefault("push.send_timeout", "10s")

	v.SetDefault("rate_limit.initiate_calls", 10)
	v.SetDefault("rate_limit.interval", "1m")

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("CALLSIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Printf("mode: %s | port: %d | store: %s\n", cfg.Mode, cfg.Port, cfg.Store.Driver)
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !contains(storeDrivers, c.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver %q: want one of %s", c.Store.Driver, strings.Join(storeDrivers, ", ")))
	}
	if c.Store.Driver != "memory" && c.Store.URI == "" {
		errs = append(errs, fmt.Errorf("store.uri required for driver %s", c.Store.Driver))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.send_buffer must be positive"))
	}
	if c.Push.Enabled && c.Push.CredentialsFile == "" && c.Push.ProjectID == "" {
		errs = append(errs, errors.New("push enabled without credentials_file or project_id"))
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice_servers[%d]: no urls", i))
		}
	}
	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

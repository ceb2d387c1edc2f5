package configs

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config struct
type Config struct {
	App      `mapstructure:"app"`
	Postgres `mapstructure:"postgres"`
	Redis    `mapstructure:"redis"`
	Store    `mapstructure:"store"`
	Line     `mapstructure:"line"`
	Backend  `mapstructure:"backend"`
	Session  `mapstructure:"session"`
	Media    `mapstructure:"media"`
}

// App struct
type App struct {
	Debug bool   `mapstructure:"debug"`
	Env   string `mapstructure:"env"`
	Port  string `mapstructure:"port"`
}

// Postgres struct
type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DbName   string `mapstructure:"database"`
	SSLMode  bool   `mapstructure:"sslmode"`
}

// Redis struct
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Store selects the durable object store backing sessions and artifacts.
// Driver is one of "postgres", "redis" or "memory".
type Store struct {
	Driver string `mapstructure:"driver"`
}

// Line struct
type Line struct {
	ChannelSecret string `mapstructure:"channel_secret"`
	ChannelToken  string `mapstructure:"channel_token"`
}

// Backend configures the agent backend HTTP API.
type Backend struct {
	BaseURL string `mapstructure:"base_url"`
	AppName string `mapstructure:"app_name"`
	// Timeout is the per-request timeout in seconds.
	Timeout   int  `mapstructure:"timeout"`
	Streaming bool `mapstructure:"streaming"`
	// CumulativeDeltas is true when every streamed fragment carries the full text so far.
	CumulativeDeltas bool `mapstructure:"cumulative_deltas"`
	// StreamTimeoutMultiplier scales Timeout into the absolute bound on stream consumption.
	StreamTimeoutMultiplier int `mapstructure:"stream_timeout_multiplier"`
}

// Session struct
type Session struct {
	// CacheMaxAge in minutes; in-memory cache entries older than this are swept.
	CacheMaxAge int `mapstructure:"cache_max_age"`
	// SweepInterval in minutes.
	SweepInterval int `mapstructure:"sweep_interval"`
}

// Media struct
type Media struct {
	PublicBaseURL string `mapstructure:"public_base_url"`
	MaxBytes      int64  `mapstructure:"max_bytes"`
}

var config Config

// InitViper func
func InitViper(path, env string) {
	getConfig(path, env)
}

// GetViper func
func GetViper() *Config {
	return &config
}

func getConfig(path, env string) {
	viper.SetConfigName("config")
	viper.AddConfigPath(path)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		panic(err)
	}
	if env != "" {
		viper.Set("app.env", env)
	}
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Println("Config file has changed: ", e.Name)
	})
	err = viper.Unmarshal(&config)
	if err != nil {
		log.Fatalln(err)
	}
}

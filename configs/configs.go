package configs

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		Env      string
		LogLevel string
	}
	Database struct {
		Driver       string
		Host         string
		Port         string
		User         string
		Password     string
		Name         string
		SSLMode      string
		MaxOpenConns int
	}
	WebSocket struct {
		PingInterval   string
		MaxMessageSize int
		RateLimit      float64
		RateBurst      int
	}
	Auth struct {
		SecretKey  string
		CookieName string
	}
	Scheduler struct {
		ReconcileSpec string
	}
	Broker struct {
		Kind     string
		URL      string
		Exchange string
	}
	Features struct {
		EnableLogging    bool
		AllowCrossOrigin bool
		Dashboard        bool
	}
}

// PingInterval parses the websocket ping interval, falling back to 30s.
func (c *Config) PingInterval() time.Duration {
	d, err := time.ParseDuration(c.WebSocket.PingInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom("./configs")
}

// LoadConfigFrom reads config.yaml and .env from dir. A missing config file is
// not an error: defaults and the environment are used instead.
func LoadConfigFrom(dir string) (*Config, error) {
	// Load .env file
	if err := godotenv.Load(dir + "/.env"); err != nil {
		log.Info("No .env file found")
	}

	v := viper.New()
	v.SetConfigName("config") // Name of the config file (without extension)
	v.SetConfigType("yaml")   // Config file type
	v.AddConfigPath(dir)      // Path to look for the config file
	v.AutomaticEnv()          // Automatically map environment variables

	// Allow dots in environment variables to map to nested keys
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("No config file found, using defaults")
	}

	// Manually substitute environment variables in the config
	substituteEnvVarsInConfig(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Auth.SecretKey == "" {
		config.Auth.SecretKey = os.Getenv("AUTH_SECRET")
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "dev")
	v.SetDefault("server.loglevel", "debug")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "auctions")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxopenconns", 20)

	v.SetDefault("websocket.pinginterval", "30s")
	v.SetDefault("websocket.maxmessagesize", 4096)
	v.SetDefault("websocket.ratelimit", 5)
	v.SetDefault("websocket.rateburst", 10)

	v.SetDefault("auth.secretkey", "")
	v.SetDefault("auth.cookiename", "authjs.session-token")

	v.SetDefault("scheduler.reconcilespec", "@every 30s")

	v.SetDefault("broker.kind", "log")
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.exchange", "auction_events")

	v.SetDefault("features.enablelogging", true)
	v.SetDefault("features.allowcrossorigin", false)
	v.SetDefault("features.dashboard", false)
}

// substituteEnvVarsInConfig expands ${VAR} references in config file values.
// A reference that expands to nothing falls back to the key's default.
func substituteEnvVarsInConfig(v *viper.Viper) {
	defaults := viper.New()
	setDefaults(defaults)
	for _, key := range v.AllKeys() {
		value := v.GetString(key)

		// Check if the value contains environment variable syntax (e.g., ${PORT})
		if strings.Contains(value, "${") {
			replacedValue := os.Expand(value, func(name string) string {
				return os.Getenv(name)
			})
			if strings.TrimSpace(replacedValue) == "" {
				v.Set(key, defaults.Get(key))
				continue
			}
			v.Set(key, replacedValue)
		}
	}
}

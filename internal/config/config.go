package config

import (
	"errors"
	"io/fs"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	AirQo      AirQoConfig      `yaml:"airqo" mapstructure:"airqo"`
	Boundary   BoundaryConfig   `yaml:"boundary" mapstructure:"boundary"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Prediction PredictionConfig `yaml:"prediction" mapstructure:"prediction"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AirQoConfig holds the measurements API settings.
type AirQoConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Path        string  `yaml:"path" mapstructure:"path" validate:"startswith=/"`
	Token       string  `yaml:"token" mapstructure:"token"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=1"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gt=0"`
	MaxPages    int     `yaml:"max_pages" mapstructure:"max_pages" validate:"gte=1"`
}

// BoundaryConfig locates the per-country boundary files.
type BoundaryConfig struct {
	Dir             string `yaml:"dir" mapstructure:"dir"`
	Pattern         string `yaml:"pattern" mapstructure:"pattern" validate:"contains={country}"`
	Property        string `yaml:"property" mapstructure:"property" validate:"required"`
	LoadTimeoutSecs int    `yaml:"load_timeout_secs" mapstructure:"load_timeout_secs" validate:"gte=1"`
}

// StoreConfig configures the result store backend.
type StoreConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres firestore mongo"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	FirestoreProject string `yaml:"firestore_project" mapstructure:"firestore_project"`
	Database         string `yaml:"database" mapstructure:"database"`
	Collection       string `yaml:"collection" mapstructure:"collection"`
	CredentialsFile  string `yaml:"credentials_file" mapstructure:"credentials_file"`
	MaxConns         int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
}

// PredictionConfig tunes the per-city pipeline.
type PredictionConfig struct {
	MinReadings int      `yaml:"min_readings" mapstructure:"min_readings" validate:"gte=1"`
	GridPoints  int      `yaml:"grid_points" mapstructure:"grid_points" validate:"gte=1"`
	Power       float64  `yaml:"power" mapstructure:"power" validate:"gt=0"`
	Neighbors   int      `yaml:"neighbors" mapstructure:"neighbors" validate:"gte=1"`
	Workers     int      `yaml:"workers" mapstructure:"workers" validate:"gte=1,lte=64"`
	Seed        uint64   `yaml:"seed" mapstructure:"seed"`
	LookbackHrs int      `yaml:"lookback_hours" mapstructure:"lookback_hours" validate:"gte=1"`
	AirQlouds   []string `yaml:"airqlouds" mapstructure:"airqlouds"`
}

// RetryConfig controls retries of API calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
	BreakerFailures  int `yaml:"breaker_failures" mapstructure:"breaker_failures" validate:"gte=1"`
	BreakerCooldownS int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs" validate:"gte=1"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AirQlouds      []string `yaml:"airqlouds" mapstructure:"airqlouds"`
}

// MonitoringConfig configures run-health alerts.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	SkipRateThreshold float64 `yaml:"skip_rate_threshold" mapstructure:"skip_rate_threshold" validate:"gte=0,lte=1"`
	MaxAgeHours       int     `yaml:"max_age_hours" mapstructure:"max_age_hours" validate:"gte=0"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads .env, then configuration from file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HEATMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv can see it during Unmarshal.
	v.SetDefault("airqo.base_url", "https://api.airqo.net")
	v.SetDefault("airqo.path", "/api/v2/devices/measurements")
	v.SetDefault("airqo.token", "")
	v.SetDefault("airqo.timeout_secs", 60)
	v.SetDefault("airqo.rate_limit", 5.0)
	v.SetDefault("airqo.max_pages", 100)
	v.SetDefault("boundary.dir", "boundaries")
	v.SetDefault("boundary.pattern", "{country}_adm2")
	v.SetDefault("boundary.property", "region")
	v.SetDefault("boundary.load_timeout_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.firestore_project", "")
	v.SetDefault("store.database", "airqo_netmanager_staging")
	v.SetDefault("store.collection", "idw_model_predictions")
	v.SetDefault("store.credentials_file", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("prediction.min_readings", 10)
	v.SetDefault("prediction.grid_points", 1000)
	v.SetDefault("prediction.power", 2.0)
	v.SetDefault("prediction.neighbors", 5)
	v.SetDefault("prediction.workers", 4)
	v.SetDefault("prediction.seed", 0)
	v.SetDefault("prediction.lookback_hours", 1)
	v.SetDefault("prediction.airqlouds", []string{})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.breaker_failures", 5)
	v.SetDefault("retry.breaker_cooldown_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.airqlouds", []string{})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.skip_rate_threshold", 0.5)
	v.SetDefault("monitoring.max_age_hours", 3)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of "predict",
// "serve", "migrate" or "boundaries". All problems are reported together,
// wrapped in model.ErrConfiguration.
func (c *Config) Validate(mode string) error {
	var problems []string

	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fieldProblem(fe))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	switch mode {
	case "predict":
		if strings.TrimSpace(c.AirQo.Token) == "" {
			problems = append(problems, "airqo.token is required")
		}
		if c.Boundary.Dir == "" {
			problems = append(problems, "boundary.dir is required")
		}
		problems = append(problems, c.storeProblems()...)
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
		problems = append(problems, c.storeProblems()...)
	case "migrate":
		problems = append(problems, c.storeProblems()...)
	case "boundaries":
		if c.Boundary.Dir == "" {
			problems = append(problems, "boundary.dir is required")
		}
	default:
		return eris.Wrapf(model.ErrConfiguration, "config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Wrapf(model.ErrConfiguration, "config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	case "firestore":
		if c.Store.FirestoreProject == "" {
			return []string{"store.firestore_project is required for firestore"}
		}
	case "mongo":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for mongo"}
		}
	}
	return nil
}

// newValidator reports fields by their mapstructure keys.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldProblem renders a validator error with the config key path, e.g.
// "prediction.workers failed lte=64".
func fieldProblem(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return ns + " failed " + rule
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

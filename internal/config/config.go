package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Query   QueryConfig   `yaml:"query" mapstructure:"query"`
	Remote  RemoteConfig  `yaml:"remote" mapstructure:"remote"`
	Publish PublishConfig `yaml:"publish" mapstructure:"publish"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	DataDir   string `yaml:"data_dir" mapstructure:"data_dir"`
	Encoding  string `yaml:"encoding" mapstructure:"encoding"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
	Parallel  bool   `yaml:"parallel" mapstructure:"parallel"`
	// Files maps a system name to a file name or glob relative to the
	// data directory, overriding the adapter default.
	Files map[string]string `yaml:"files" mapstructure:"files"`
	// WatchDebounceMs coalesces bursts of file events in watch mode.
	WatchDebounceMs int `yaml:"watch_debounce_ms" mapstructure:"watch_debounce_ms"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	DefaultLimit    int     `yaml:"default_limit" mapstructure:"default_limit"`
	DefaultDistance float64 `yaml:"default_distance" mapstructure:"default_distance"`
}

// RemoteConfig configures staging of http(s)://, ftp:// and s3:// data dirs.
type RemoteConfig struct {
	StagingDir  string `yaml:"staging_dir" mapstructure:"staging_dir"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	S3Endpoint  string `yaml:"s3_endpoint" mapstructure:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key" mapstructure:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key" mapstructure:"s3_secret_key"`
	S3Secure    bool   `yaml:"s3_secure" mapstructure:"s3_secure"`
}

// PublishConfig configures the optional Kafka change feed.
type PublishConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// Enabled reports whether records should be published after ingest.
func (p PublishConfig) Enabled() bool {
	return len(p.Brokers) > 0 && p.Topic != ""
}

// MetricsConfig configures the Prometheus textfile written after ingest.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOCATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ingest.data_dir", "data")
	v.SetDefault("ingest.encoding", "utf-8")
	v.SetDefault("ingest.batch_size", 5000)
	v.SetDefault("ingest.parallel", false)
	v.SetDefault("ingest.watch_debounce_ms", 2000)
	v.SetDefault("query.default_limit", 1000)
	v.SetDefault("query.default_distance", 10000.0)
	v.SetDefault("remote.staging_dir", "/tmp/geo-catalog")
	v.SetDefault("remote.user_agent", "geo-catalog/1.0")
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("remote.s3_secure", true)
	v.SetDefault("publish.topic", "geo-catalog.records")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

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

// Validate checks the settings a command needs. Mode is one of
// "ingest", "query", "migrate", "runs" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || (c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns) {
		errs = append(errs, "store.min_conns must be between 0 and store.max_conns")
	}

	switch mode {
	case "ingest":
		if c.Ingest.DataDir == "" {
			errs = append(errs, "ingest.data_dir is required")
		}
		if c.Ingest.BatchSize < 1 {
			errs = append(errs, "ingest.batch_size must be >= 1")
		}
		if c.Publish.Topic == "" && len(c.Publish.Brokers) > 0 {
			errs = append(errs, "publish.topic is required when publish.brokers is set")
		}
	case "query":
		if c.Query.DefaultLimit < 0 {
			errs = append(errs, "query.default_limit must be >= 0")
		}
		if c.Query.DefaultDistance <= 0 {
			errs = append(errs, "query.default_distance must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Query.DefaultLimit < 0 {
			errs = append(errs, "query.default_limit must be >= 0")
		}
	case "migrate", "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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

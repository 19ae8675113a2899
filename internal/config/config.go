package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Stores   []StoreConfig  `mapstructure:"stores"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

type CacheConfig struct {
	Dir                 string `mapstructure:"dir"`
	MaxSize             string `mapstructure:"max_size"` // e.g. "500GB"
	HighWaterPercentage int    `mapstructure:"high_water_percentage"`
	LowWaterPercentage  int    `mapstructure:"low_water_percentage"`
}

// MaxSizeBytes parses MaxSize as a human readable byte count.
func (c *CacheConfig) MaxSizeBytes() (int64, error) {
	size, err := units.ParseStrictBytes(c.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid cache.max_size %q: %w", c.MaxSize, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("cache.max_size must be positive, got %q", c.MaxSize)
	}
	return size, nil
}

type CatalogConfig struct {
	LookupTTL     time.Duration `mapstructure:"lookup_ttl"`
	StagingDir    string        `mapstructure:"staging_dir"` // <dir>/<source>/manifest.jsonl
	ImportWorkers int           `mapstructure:"import_workers"`
}

// Load reads configuration from configPath (or ./configs/config.yaml) and the environment.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/tiercache.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("cache.dir", "./data/cache")
	v.SetDefault("cache.max_size", "10GB")
	v.SetDefault("cache.high_water_percentage", 95)
	v.SetDefault("cache.low_water_percentage", 85)
	v.SetDefault("catalog.lookup_ttl", "30s")
	v.SetDefault("catalog.staging_dir", "./data/staging")
	v.SetDefault("catalog.import_workers", 4)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets come from the environment
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("cache.dir", "CACHE_DIR")
	v.BindEnv("cache.max_size", "CACHE_MAX_SIZE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Stores))
	for i := range cfg.Stores {
		store := &cfg.Stores[i]
		store.ApplyDefaults()
		store.ResolveEnvVars()
		if err := store.Validate(); err != nil {
			return nil, err
		}
		if seen[store.Name] {
			return nil, fmt.Errorf("store %q is configured twice", store.Name)
		}
		seen[store.Name] = true
	}

	return &cfg, nil
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"
)

// Store types understood by the remote adapter factory.
const (
	StoreTypeOData = "odata"
	StoreTypeS3    = "s3"
	StoreTypeAMQP  = "amqp"
)

// Defaults applied to every store entry.
const (
	DefaultMaxPendingRequests     = 4
	DefaultMaxRunningRequests     = 4
	DefaultMaxConcurrentDownloads = 2
	DefaultReconcilePeriod        = time.Minute
	DefaultSubmitTimeout          = 30 * time.Second
	DefaultAMQPMaxJobAge          = 24 * time.Hour
)

// StoreConfig configures one remote archive fronted by the local cache.
type StoreConfig struct {
	Name                   string          `mapstructure:"name"`
	Type                   string          `mapstructure:"type"`
	MaxPendingRequests     int             `mapstructure:"max_pending_requests"`
	MaxRunningRequests     int             `mapstructure:"max_running_requests"`
	MaxConcurrentDownloads int             `mapstructure:"max_concurrent_downloads"`
	PatternReplaceIn       *PatternReplace `mapstructure:"pattern_replace_in"`
	PatternReplaceOut      *PatternReplace `mapstructure:"pattern_replace_out"`
	ReconcilePeriod        time.Duration   `mapstructure:"reconcile_period"`
	SubmitTimeout          time.Duration   `mapstructure:"submit_timeout"`

	OData ODataConfig `mapstructure:"odata"`
	S3    S3Config    `mapstructure:"s3"`
	AMQP  AMQPConfig  `mapstructure:"amqp"`
}

// PatternReplace is a regex substitution applied to product identifiers.
type PatternReplace struct {
	Pattern     string `mapstructure:"pattern"`
	Replacement string `mapstructure:"replacement"`
}

type ODataConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	PasswordEnv string        `mapstructure:"password_env"`
	Token       string        `mapstructure:"token"`
	TokenEnv    string        `mapstructure:"token_env"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type S3Config struct {
	Type         string `mapstructure:"type"` // s3, r2, s3compatible
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SecretKeyEnv string `mapstructure:"secret_key_env"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	RestoreDays  int32  `mapstructure:"restore_days"`
	RestoreTier  string `mapstructure:"restore_tier"` // Standard, Bulk, Expedited
}

type AMQPConfig struct {
	URL          string        `mapstructure:"url"`
	URLEnv       string        `mapstructure:"url_env"`
	RequestQueue string        `mapstructure:"request_queue"`
	StatusQueue  string        `mapstructure:"status_queue"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxJobAge    time.Duration `mapstructure:"max_job_age"` // silence tolerated past the estimated completion
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *StoreConfig) ApplyDefaults() {
	if c.MaxPendingRequests <= 0 {
		c.MaxPendingRequests = DefaultMaxPendingRequests
	}
	if c.MaxRunningRequests <= 0 {
		c.MaxRunningRequests = DefaultMaxRunningRequests
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	if c.ReconcilePeriod <= 0 {
		c.ReconcilePeriod = DefaultReconcilePeriod
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.S3.RestoreDays <= 0 {
		c.S3.RestoreDays = 1
	}
	if c.S3.RestoreTier == "" {
		c.S3.RestoreTier = "Standard"
	}
	if c.AMQP.RequestQueue == "" {
		c.AMQP.RequestQueue = c.Name + ".requests"
	}
	if c.AMQP.StatusQueue == "" {
		c.AMQP.StatusQueue = c.Name + ".status"
	}
	if c.AMQP.MaxJobAge <= 0 {
		c.AMQP.MaxJobAge = DefaultAMQPMaxJobAge
	}
}

// ResolveEnvVars loads secrets named by the *_env fields. Direct values take precedence.
func (c *StoreConfig) ResolveEnvVars() {
	resolve := func(dst *string, env string) {
		if env != "" && *dst == "" {
			if val := os.Getenv(env); val != "" {
				*dst = val
			}
		}
	}
	resolve(&c.OData.Password, c.OData.PasswordEnv)
	resolve(&c.OData.Token, c.OData.TokenEnv)
	resolve(&c.S3.SecretKey, c.S3.SecretKeyEnv)
	resolve(&c.AMQP.URL, c.AMQP.URLEnv)
}

// Validate checks that the store entry has all required fields.
func (c *StoreConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("store config: name is required")
	}
	for _, rule := range []*PatternReplace{c.PatternReplaceIn, c.PatternReplaceOut} {
		if rule == nil {
			continue
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("store %q: invalid pattern %q: %w", c.Name, rule.Pattern, err)
		}
	}

	switch c.Type {
	case StoreTypeOData:
		if c.OData.BaseURL == "" {
			return fmt.Errorf("store %q: odata.base_url is required", c.Name)
		}
	case StoreTypeS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("store %q: s3.bucket is required", c.Name)
		}
	case StoreTypeAMQP:
		if c.AMQP.URL == "" {
			return fmt.Errorf("store %q: amqp.url is required", c.Name)
		}
	default:
		return fmt.Errorf("store %q: unknown type %q (valid: odata, s3, amqp)", c.Name, c.Type)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/shareloft/shareloft/internal/duration"
)

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	GracefulShutdown time.Duration `mapstructure:"graceful-shutdown"`
	ReadTimeout      time.Duration `mapstructure:"read-timeout"`
	WriteTimeout     time.Duration `mapstructure:"write-timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type StoreConfig struct {
	Path          string        `mapstructure:"path"`
	SweepInterval time.Duration `mapstructure:"sweep-interval"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Insecure  bool   `mapstructure:"insecure"`
	PathStyle bool   `mapstructure:"path-style"`
}

type CacheConfig struct {
	MaxSize   int    `mapstructure:"max-size"`
	RedisAddr string `mapstructure:"redis-addr"`
	RedisPass string `mapstructure:"redis-pass"`
}

type UploadConfig struct {
	PlanTimeout      time.Duration `mapstructure:"plan-timeout"`
	PartURLTTL       time.Duration `mapstructure:"part-url-ttl"`
	MaxFileSize      int64         `mapstructure:"max-file-size"`
	SessionRetention time.Duration `mapstructure:"session-retention"`
}

type PipelineConfig struct {
	BatchSize    int           `mapstructure:"batch-size"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	MaxRetries   int           `mapstructure:"max-retries"`
	RetryBackoff time.Duration `mapstructure:"retry-backoff"`
}

type CronConfig struct {
	Enable        bool          `mapstructure:"enable"`
	SweepInterval time.Duration `mapstructure:"sweep-interval"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LoggingConfig  `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Store    StoreConfig    `mapstructure:"store"`
	S3       S3Config       `mapstructure:"s3"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cron     CronConfig     `mapstructure:"cron"`
}

// Validate catches fatal misconfiguration at startup; the process must not
// serve requests past a failure here.
func (c *Config) Validate() error {
	var errs []error
	if c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3 bucket is required"))
	}
	if c.S3.Region == "" {
		errs = append(errs, errors.New("s3 region is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, errors.New("upload max-file-size must be positive"))
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, errors.New("pipeline batch-size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

func stringToDurationHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		str, ok := data.(string)
		if !ok {
			return data, nil
		}
		return duration.ParseDuration(str)
	}
}

func (l *Loader) Initialize(cmd *cobra.Command) error {
	l.v.SetConfigType("toml")

	cfgFile := cmd.Flags().Lookup("config").Value.String()
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error getting home directory: %v", err)
		}
		l.v.AddConfigPath(filepath.Join(home, ".shareloft"))
		l.v.AddConfigPath(".")
		l.v.SetConfigName("config")
	}

	l.v.SetEnvPrefix("shareloft")
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %v", err)
		}
	}
	return nil
}

func (l *Loader) Load(cfg interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToDurationHook(),
		),
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %v", err)
	}
	if err := decoder.Decode(l.v.AllSettings()); err != nil {
		return fmt.Errorf("failed to decode config: %v", err)
	}
	return nil
}

func AddCommonFlags(flags *pflag.FlagSet, config *Config) {

	flags.StringP("config", "c", "", "Config file path (default $HOME/.shareloft/config.toml)")

	// Log config
	flags.StringVar(&config.Log.Level, "log-level", zapcore.InfoLevel.String(), "Logging level")
	flags.StringVar(&config.Log.File, "log-file", "", "Logging file path")

	// Server config
	flags.IntVar(&config.Server.Port, "server-port", 8080, "Listen port")
	duration.DurationVar(flags, &config.Server.GracefulShutdown, "server-graceful-shutdown", 10*time.Second, "Graceful shutdown timeout")
	duration.DurationVar(flags, &config.Server.ReadTimeout, "server-read-timeout", time.Minute, "HTTP read timeout")
	duration.DurationVar(flags, &config.Server.WriteTimeout, "server-write-timeout", time.Minute, "HTTP write timeout")

	// JWT config
	flags.StringVar(&config.JWT.Secret, "jwt-secret", "", "JWT signing secret")

	// Record store config
	flags.StringVar(&config.Store.Path, "store-path", "shareloft.db", "Record store file path")
	duration.DurationVar(flags, &config.Store.SweepInterval, "store-sweep-interval", time.Second, "TTL sweep interval")

	// Object store config
	flags.StringVar(&config.S3.Endpoint, "s3-endpoint", "", "S3 endpoint (empty for AWS)")
	flags.StringVar(&config.S3.Region, "s3-region", "", "S3 region")
	flags.StringVar(&config.S3.Bucket, "s3-bucket", "", "S3 bucket for shared files")
	flags.BoolVar(&config.S3.Insecure, "s3-insecure", false, "Use plain HTTP for custom endpoints")
	flags.BoolVar(&config.S3.PathStyle, "s3-path-style", false, "Use path-style addressing")

	// Cache config
	flags.IntVar(&config.Cache.MaxSize, "cache-max-size", 10*1024*1024, "Max cache size in bytes")
	flags.StringVar(&config.Cache.RedisAddr, "cache-redis-addr", "", "Redis address (also used for the dead-letter queue)")
	flags.StringVar(&config.Cache.RedisPass, "cache-redis-pass", "", "Redis password")

	// Upload config
	duration.DurationVar(flags, &config.Upload.PlanTimeout, "upload-plan-timeout", 15*time.Second, "Transfer planning deadline")
	duration.DurationVar(flags, &config.Upload.PartURLTTL, "upload-part-url-ttl", time.Hour, "Presigned part URL lifetime")
	flags.Int64Var(&config.Upload.MaxFileSize, "upload-max-file-size", 10<<30, "Max fulfillment file size in bytes")
	duration.DurationVar(flags, &config.Upload.SessionRetention, "upload-session-retention", 24*time.Hour, "Age before an orphaned multipart session is reclaimed")

	// Deletion pipeline config
	flags.IntVar(&config.Pipeline.BatchSize, "pipeline-batch-size", 100, "Change notification batch size")
	duration.DurationVar(flags, &config.Pipeline.PollInterval, "pipeline-poll-interval", 500*time.Millisecond, "Change stream poll interval")
	flags.IntVar(&config.Pipeline.MaxRetries, "pipeline-max-retries", 5, "Retry budget per failing unit before dead-lettering")
	duration.DurationVar(flags, &config.Pipeline.RetryBackoff, "pipeline-retry-backoff", time.Second, "Initial retry backoff")

	// Cron config
	flags.BoolVar(&config.Cron.Enable, "cron-enable", true, "Enable background jobs")
	duration.DurationVar(flags, &config.Cron.SweepInterval, "cron-sweep-interval", time.Hour, "Orphaned session sweep interval")
}

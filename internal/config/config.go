package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Database DatabaseConfig        `mapstructure:"database"`
	Storage  StorageConfig         `mapstructure:"storage"`
	S3       S3Config              `mapstructure:"s3"`
	Files    FilesConfig           `mapstructure:"files"`
	JWT      JWTConfig             `mapstructure:"jwt"`
	Log      LogConfig             `mapstructure:"log"`
	Kinds    map[string]KindConfig `mapstructure:"kinds"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

// StorageConfig selects the object storage backend: "s3" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

// FilesConfig tunes how file references are resolved.
type FilesConfig struct {
	UploadExpiry   time.Duration `mapstructure:"upload_expiry"`
	DownloadExpiry time.Duration `mapstructure:"download_expiry"`
	MaxConcurrency int           `mapstructure:"max_concurrency"` // 0 means unbounded
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// KindConfig lists the field paths holding file references for one
// record kind, e.g. ["cover", "gallery[].image"].
type KindConfig struct {
	FileFields []string `mapstructure:"file_fields"`
}

// ErrMissingJWTSecret means jwt.secret is unset; tokens would be verified
// against an empty key.
var ErrMissingJWTSecret = errors.New("jwt.secret must be set")

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if c.JWT.Secret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	v.SetDefault("server.address", ":8080")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "filemanager")
	v.SetDefault("storage.driver", "s3")
	v.SetDefault("s3.region", "auto")
	v.SetDefault("files.upload_expiry", "1h")
	v.SetDefault("files.download_expiry", "168h")
	v.SetDefault("files.max_concurrency", 0)
	v.SetDefault("jwt.secret", "") // registered so JWT_SECRET is picked up
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	err = v.ReadInConfig()
	// A missing config file is fine; defaults and env vars still apply.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	// Duration strings ("1h", "168h") decode straight into time.Duration.
	err = v.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/hupe1980/fcarchive"
	"github.com/hupe1980/fcarchive/blobstore"
	"github.com/hupe1980/fcarchive/blobstore/minio"
	"github.com/hupe1980/fcarchive/blobstore/s3"
	"github.com/hupe1980/fcarchive/resource"
)

// Config is the fcarchive command line configuration.
type Config struct {
	Workers         int64      `mapstructure:"workers"`
	BatchSize       int        `mapstructure:"batch_size"`
	MemoryLimit     int64      `mapstructure:"memory_limit"`
	IOLimit         int64      `mapstructure:"io_limit"`
	LogLevel        string     `mapstructure:"log_level"`
	LogFormat       string     `mapstructure:"log_format"`
	InMemoryOffsets bool       `mapstructure:"in_memory_offsets"`
	Blob            BlobConfig `mapstructure:"blob"`
}

// BlobConfig selects the blob store used by publish and fetch.
type BlobConfig struct {
	Backend     string `mapstructure:"backend"`
	Root        string `mapstructure:"root"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	Secure      bool   `mapstructure:"secure"`
	Compression string `mapstructure:"compression"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 0)
	v.SetDefault("batch_size", fcarchive.DefaultBatchSize)
	v.SetDefault("memory_limit", 0)
	v.SetDefault("io_limit", 0)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
	v.SetDefault("in_memory_offsets", true)
	v.SetDefault("blob.backend", "local")
	v.SetDefault("blob.root", ".")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.prefix", "")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.secure", true)
	v.SetDefault("blob.compression", "zstd")
}

func setupEnv(v *viper.Viper) {
	v.SetEnvPrefix("FCARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Validate reports every invalid setting.
func (c *Config) Validate() []error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if _, err := fcarchive.ParseCompression(c.Blob.Compression); err != nil {
		errs = append(errs, fmt.Errorf("blob.compression: %w", err))
	}
	switch c.Blob.Backend {
	case "local":
	case "s3", "minio":
		if c.Blob.Bucket == "" {
			errs = append(errs, fmt.Errorf("blob.bucket is required for the %s backend", c.Blob.Backend))
		}
		if c.Blob.Backend == "minio" && c.Blob.Endpoint == "" {
			errs = append(errs, fmt.Errorf("blob.endpoint is required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.backend must be local, s3 or minio, got %q", c.Blob.Backend))
	}
	return errs
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

func (c *Config) logger(w io.Writer) *fcarchive.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return fcarchive.NewLogger(slog.NewJSONHandler(w, opts))
	}
	return fcarchive.NewLogger(slog.NewTextHandler(w, opts))
}

func (c *Config) archiveOptions(w io.Writer) []fcarchive.Option {
	rc := resource.NewController(resource.Config{
		MaxWorkers:         c.Workers,
		MemoryLimitBytes:   c.MemoryLimit,
		IOLimitBytesPerSec: c.IOLimit,
	})
	return []fcarchive.Option{
		fcarchive.WithLogger(c.logger(w)),
		fcarchive.WithResourceController(rc),
		fcarchive.WithInMemoryOffsets(c.InMemoryOffsets),
	}
}

func (c *Config) openStore(ctx context.Context) (blobstore.Store, error) {
	b := c.Blob
	switch b.Backend {
	case "s3":
		return s3.New(ctx, s3.ClientConfig{Region: b.Region, Endpoint: b.Endpoint}, b.Bucket, b.Prefix)
	case "minio":
		return minio.New(minio.Config{
			Endpoint:  b.Endpoint,
			AccessKey: b.AccessKey,
			SecretKey: b.SecretKey,
			Region:    b.Region,
			Secure:    b.Secure,
		}, b.Bucket, b.Prefix)
	default:
		return blobstore.NewLocalStore(b.Root), nil
	}
}

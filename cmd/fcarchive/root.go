package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/fcarchive"
)

// app carries the configuration resolved before a subcommand runs.
type app struct {
	v   *viper.Viper
	cfg *Config
}

// NewRootCmd creates the root fcarchive command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	_, root := newRoot()
	return root
}

func newRoot() (*app, *cobra.Command) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "fcarchive",
		Short:         "fcarchive - feature collector archives",
		Long:          "fcarchive creates, inspects, searches and distributes append-only archives of image feature records.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	// Global flags, mapped to viper keys in init.
	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "path to config file")
	pf.Int64("workers", 0, "extra worker goroutines per search (0 = GOMAXPROCS-1, negative = none)")
	pf.Int("batch-size", fcarchive.DefaultBatchSize, "records held in memory per search batch")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.Bool("in-memory-offsets", true, "hold the offset index in memory")

	root.AddCommand(
		newCreateCmd(a),
		newInfoCmd(a),
		newSearchCmd(a),
		newShuffleCmd(a),
		newCountCmd(a),
		newSampleCmd(a),
		newInterDistCmd(a),
		newPublishCmd(a),
		newFetchCmd(a),
		newVersionCmd(),
	)

	return a, root
}

var flagKeys = map[string]string{
	"workers":           "workers",
	"batch-size":        "batch_size",
	"log-level":         "log_level",
	"log-format":        "log_format",
	"in-memory-offsets": "in_memory_offsets",
}

// init resolves the configuration with the precedence
// flag > env > file > defaults.
func (a *app) init(cmd *cobra.Command) error {
	v := a.v

	setDefaults(v)
	setupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted: with it, viper also tries the bare name,
		// which collides with the fcarchive binary in the working directory.
		v.SetConfigName("fcarchive")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/fcarchive")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("reading config: %w", err)
			}
		}
	}

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("binding %s flag: %w", flag, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	a.cfg = &cfg
	return nil
}

// open opens an existing archive with the configured options.
func (a *app) open(cmd *cobra.Command, path string, extra ...fcarchive.Option) (*fcarchive.Archive, error) {
	opts := append(a.cfg.archiveOptions(cmd.ErrOrStderr()), extra...)
	return fcarchive.Open(path, opts...)
}

func (a *app) searchOptions() []fcarchive.SearchOption {
	return []fcarchive.SearchOption{fcarchive.WithBatchSize(a.cfg.BatchSize)}
}

// closeInto closes c and records its error in err unless err is already set.
func closeInto(err *error, c interface{ Close() error }) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// Package config loads dialogdb settings from a config file, a .env file,
// DIALOGDB_* environment variables and CLI flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	csvparser "dialogdb/internal/parser/csv"
	"dialogdb/internal/discovery"
)

// EnvPrefix is the environment variable prefix; "storage.dsn" is read from
// DIALOGDB_STORAGE_DSN.
const EnvPrefix = "DIALOGDB"

// Config keys.
const (
	KeyBaseDir            = "base_dir"
	KeyCategories         = "categories"
	KeyStorageKind        = "storage.kind"
	KeyStorageDSN         = "storage.dsn"
	KeyCSVEncoding        = "csv.encoding"
	KeyCSVComma           = "csv.comma"
	KeyCSVLazyQuotes      = "csv.lazy_quotes"
	KeyCSVTrimSpace       = "csv.trim_space"
	KeyOrphanPolicy       = "merge.orphan_policy"
	KeyDuplicateKeyPolicy = "merge.duplicate_key_policy"
	KeyKeepGoing          = "run.keep_going"
	KeyMetricsBackend     = "metrics.backend"
	KeyMetricsJobName     = "metrics.job_name"
	KeyMetricsTags        = "metrics.tags"
	KeyMetricsFlushEvery  = "metrics.flush_every"
	KeyLogLevel           = "log.level"
	KeyLogDevelopment     = "log.development"
)

type Config struct {
	BaseDir    string   `mapstructure:"base_dir"`
	Categories []string `mapstructure:"categories"`
	Storage    Storage  `mapstructure:"storage"`
	CSV        CSV      `mapstructure:"csv"`
	Merge      Merge    `mapstructure:"merge"`
	Run        Run      `mapstructure:"run"`
	Metrics    Metrics  `mapstructure:"metrics"`
	Log        Log      `mapstructure:"log"`
}

type Storage struct {
	Kind string `mapstructure:"kind"`
	DSN  string `mapstructure:"dsn"`
}

type CSV struct {
	Encoding   string `mapstructure:"encoding"`
	Comma      string `mapstructure:"comma"`
	LazyQuotes bool   `mapstructure:"lazy_quotes"`
	TrimSpace  bool   `mapstructure:"trim_space"`
}

type Merge struct {
	OrphanPolicy       string `mapstructure:"orphan_policy"`
	DuplicateKeyPolicy string `mapstructure:"duplicate_key_policy"`
}

type Run struct {
	KeepGoing bool `mapstructure:"keep_going"`
}

type Metrics struct {
	Backend    string        `mapstructure:"backend"`
	JobName    string        `mapstructure:"job_name"`
	Tags       string        `mapstructure:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers every key with its default so environment
// overrides are honored on Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBaseDir, "")
	v.SetDefault(KeyCategories, []string{string(discovery.Quest), string(discovery.Cutscene)})
	v.SetDefault(KeyStorageKind, "postgres")
	v.SetDefault(KeyStorageDSN, "")
	v.SetDefault(KeyCSVEncoding, csvparser.EncodingUTF8)
	v.SetDefault(KeyCSVComma, ",")
	v.SetDefault(KeyCSVLazyQuotes, true)
	v.SetDefault(KeyCSVTrimSpace, false)
	v.SetDefault(KeyOrphanPolicy, "warn")
	v.SetDefault(KeyDuplicateKeyPolicy, "all")
	v.SetDefault(KeyKeepGoing, false)
	v.SetDefault(KeyMetricsBackend, "none")
	v.SetDefault(KeyMetricsJobName, "dialogdb")
	v.SetDefault(KeyMetricsTags, "")
	v.SetDefault(KeyMetricsFlushEvery, 60*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogDevelopment, false)
}

// LoadOptions selects the files Load reads.
type LoadOptions struct {
	// ConfigFile is an explicit config path. When empty, dialogdb.{yaml,json,toml}
	// is searched in the working directory and a missing file is not an error.
	ConfigFile string

	// EnvFile is loaded with godotenv before environment variables are read.
	// Variables already set in the process win. A missing file is ignored.
	EnvFile string

	// Flags maps config keys to command-line flags. A flag overrides every
	// other source once it is set on the command line.
	Flags map[string]*pflag.Flag
}

// newViper returns a viper instance with defaults, environment binding and
// the config file applied.
func newViper(opts LoadOptions) (*viper.Viper, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
		return v, nil
	}

	v.SetConfigName("dialogdb")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// decode unmarshals v into a Config, expands environment references in the
// DSN (e.g. "postgres://app:${PGPASSWORD}@db/dialog") and lower-cases the
// enumerated values.
func decode(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.Storage.DSN = os.ExpandEnv(c.Storage.DSN)
	c.Storage.Kind = normalize(c.Storage.Kind)
	c.Merge.OrphanPolicy = normalize(c.Merge.OrphanPolicy)
	c.Merge.DuplicateKeyPolicy = normalize(c.Merge.DuplicateKeyPolicy)
	c.Metrics.Backend = normalize(c.Metrics.Backend)
	return c, nil
}

// Load is newViper, flag binding and decode.
func Load(opts LoadOptions) (Config, error) {
	v, err := newViper(opts)
	if err != nil {
		return Config{}, err
	}
	for key, f := range opts.Flags {
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	}
	return decode(v)
}

// CSVOptions converts the csv section into parser options.
func (c Config) CSVOptions() csvparser.Options {
	opt := csvparser.DefaultOptions()
	if c.CSV.Encoding != "" {
		opt.Encoding = c.CSV.Encoding
	}
	if r, size := utf8.DecodeRuneInString(c.CSV.Comma); size > 0 && r != utf8.RuneError {
		opt.Comma = r
	}
	opt.LazyQuotes = c.CSV.LazyQuotes
	opt.TrimSpace = c.CSV.TrimSpace
	return opt
}

// Layout builds the discovery layout from base_dir and categories.
func (c Config) Layout() discovery.Layout {
	cats := make([]discovery.Category, 0, len(c.Categories))
	for _, s := range c.Categories {
		cats = append(cats, discovery.Category(strings.TrimSpace(s)))
	}
	return discovery.NewLayout(c.BaseDir, cats...)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

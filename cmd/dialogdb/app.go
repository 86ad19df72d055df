package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dialogdb/internal/config"
	"dialogdb/internal/ingest"
	"dialogdb/internal/pipeline"
	"dialogdb/internal/storage"
)

// app carries the state shared by the subcommands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer
	deps   appDeps

	configFile string
	envFile    string
	verbose    bool

	cfg config.Config
	log *zap.Logger
}

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"base-dir":      config.KeyBaseDir,
	"storage":       config.KeyStorageKind,
	"dsn":           config.KeyStorageDSN,
	"encoding":      config.KeyCSVEncoding,
	"keep-going":    config.KeyKeepGoing,
	"orphan-policy": config.KeyOrphanPolicy,
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dialogdb",
		Short: "Load game dialogue CSV files into a relational database",
		Long: `dialogdb loads the English dialogue CSV files under <base_dir>/eng as
baseline tables, one table per file, then merges the Japanese files under
<base_dir>/jp into _<column>_JP shadow columns of the same tables.

Configuration is read from dialogdb.yaml (or --config), DIALOGDB_* environment
variables and flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (default: ./dialogdb.{yaml,json,toml} if present)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	pf.String("base-dir", "", "root directory holding eng/ and jp/")
	pf.String("storage", "", "storage backend: mssql|postgres|sqlite")
	pf.String("dsn", "", "storage connection string")
	pf.String("encoding", "", "CSV encoding: utf-8|shift_jis|utf-16")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log every generated statement")

	root.AddCommand(
		a.runCmd(),
		a.baselineCmd(),
		a.mergeCmd(),
		a.scanCmd(),
		a.validateCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads and validates the configuration and builds the logger.
// Issues on the paths in ignore are not reported; single-file commands do
// not need base_dir and scan does not need a database.
func (a *app) setup(cmd *cobra.Command, ignore ...string) error {
	flags := make(map[string]*pflag.Flag, len(flagKeys))
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			flags[key] = f
		}
	}
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: a.configFile,
		EnvFile:    a.envFile,
		Flags:      flags,
	})
	if err != nil {
		return usageError{err}
	}

	var issues []config.Issue
	for _, iss := range config.Validate(cfg) {
		if !slices.Contains(ignore, iss.Path) {
			issues = append(issues, iss)
			fmt.Fprintln(a.stderr, iss.String())
		}
	}
	if config.HasErrors(issues) {
		return errInvalidConfig
	}

	log, err := newLogger(cfg.Log, a.verbose, a.stderr)
	if err != nil {
		return usageError{err}
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// newLogger builds a JSON production logger, or a console development
// logger when log.development is set. --verbose forces debug level.
func newLogger(c config.Log, verbose bool, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	sink := zapcore.AddSync(w)
	opts := []zap.Option{zap.ErrorOutput(sink)}
	var enc zapcore.Encoder
	if c.Development {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		opts = append(opts, zap.Development(), zap.AddCaller())
	} else {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	return zap.New(zapcore.NewCore(enc, sink, lvl), opts...), nil
}

// withDriver opens metrics and the repository, runs fn, and releases both.
func (a *app) withDriver(ctx context.Context, fn func(*pipeline.Driver) error) error {
	defer func() { _ = a.log.Sync() }()

	orphans, err := ingest.ParseOrphanPolicy(a.cfg.Merge.OrphanPolicy)
	if err != nil {
		return usageError{err}
	}
	dups, err := ingest.ParseDuplicatePolicy(a.cfg.Merge.DuplicateKeyPolicy)
	if err != nil {
		return usageError{err}
	}

	closeMetrics, err := a.deps.initMetrics(ctx, a.cfg.Metrics, a.log)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer closeMetrics()

	repo, err := a.deps.openRepo(ctx, storage.Config{
		Kind:   a.cfg.Storage.Kind,
		DSN:    a.cfg.Storage.DSN,
		Logger: a.log,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	d := &pipeline.Driver{
		Repo:   repo,
		Logger: a.log,
		Options: pipeline.Options{
			Layout: a.cfg.Layout(),
			CSV:    a.cfg.CSVOptions(),
			Ingest: ingest.Options{
				OrphanPolicy:    orphans,
				DuplicatePolicy: dups,
			},
			KeepGoing: a.cfg.Run.KeepGoing,
		},
	}
	d.RunID() // binds run_id to d.Logger
	d.Logger.Info("storage ready",
		zap.String("kind", repo.Kind()),
		zap.String("base_dir", a.cfg.BaseDir))
	return fn(d)
}

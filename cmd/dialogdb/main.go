// Command dialogdb loads English dialogue CSV files into baseline tables and
// merges the Japanese translations into shadow columns of the same tables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dialogdb/internal/config"
	"dialogdb/internal/ingest"
	"dialogdb/internal/storage"

	// register all backends with the storage factory.
	_ "dialogdb/internal/storage/all"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK     = 0
	exitConfig = 1
	exitSystem = 2
)

// errInvalidConfig is returned after validation issues have been printed.
var errInvalidConfig = errors.New("configuration is invalid")

// usageError marks command-line mistakes (unknown flag, wrong arguments).
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// appDeps are the side-effecting constructors runMain uses. Tests replace
// them; zero fields fall back to the real implementations.
type appDeps struct {
	openRepo    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	initMetrics func(ctx context.Context, m config.Metrics, log *zap.Logger) (func(), error)
}

func (d appDeps) withDefaults() appDeps {
	if d.openRepo == nil {
		d.openRepo = storage.New
	}
	if d.initMetrics == nil {
		d.initMetrics = initMetrics
	}
	return d
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{})
	stop()
	os.Exit(code)
}

// runMain executes one command line and returns the process exit code:
// 0 on success, 1 for usage and configuration errors, 2 for anything else
// (database, I/O, cancelled runs).
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	a := &app{stdout: stdout, stderr: stderr, deps: deps.withDefaults()}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	if !errors.Is(err, errInvalidConfig) {
		fmt.Fprintf(stderr, "dialogdb: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), errors.Is(err, errInvalidConfig), ingest.IsConfigError(err):
		return exitConfig
	default:
		return exitSystem
	}
}

// usageArgs wraps a cobra argument validator so its failures map to the
// configuration exit code.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

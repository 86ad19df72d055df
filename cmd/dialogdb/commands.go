package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dialogdb/internal/config"
	"dialogdb/internal/discovery"
	"dialogdb/internal/ident"
	"dialogdb/internal/pipeline"
	"dialogdb/internal/storage"
)

// Config paths that single-file and offline commands do not need.
var (
	fileCmdIgnores = []string{config.KeyBaseDir, config.KeyCategories}
	scanIgnores    = []string{config.KeyStorageKind, config.KeyStorageDSN}
)

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load every English baseline, then merge every Japanese file",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return a.withDriver(cmd.Context(), func(d *pipeline.Driver) error {
				rep, err := d.Run(cmd.Context())
				printReport(a.stdout, rep.Files)
				return err
			})
		},
	}
	cmd.Flags().Bool("keep-going", false, "continue after a failed file and report every failure")
	cmd.Flags().String("orphan-policy", "", "Japanese rows whose key is not in the baseline: ignore|warn|error")
	return cmd
}

func (a *app) baselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline FILE...",
		Short: "Recreate the baseline table of each English CSV file",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd, fileCmdIgnores...); err != nil {
				return err
			}
			return a.withDriver(cmd.Context(), func(d *pipeline.Driver) error {
				return a.eachFile(args, d.Options.KeepGoing, func(path string) (pipeline.FileResult, error) {
					return d.BaselineFile(cmd.Context(), path)
				})
			})
		},
	}
	cmd.Flags().Bool("keep-going", false, "continue after a failed file and report every failure")
	return cmd
}

func (a *app) mergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge FILE...",
		Short: "Merge each Japanese CSV file into its existing baseline table",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd, fileCmdIgnores...); err != nil {
				return err
			}
			return a.withDriver(cmd.Context(), func(d *pipeline.Driver) error {
				return a.eachFile(args, d.Options.KeepGoing, func(path string) (pipeline.FileResult, error) {
					return d.MergeFile(cmd.Context(), path)
				})
			})
		},
	}
	cmd.Flags().Bool("keep-going", false, "continue after a failed file and report every failure")
	cmd.Flags().String("orphan-policy", "", "Japanese rows whose key is not in the baseline: ignore|warn|error")
	return cmd
}

// eachFile runs fn over paths in order and prints one report line per file.
func (a *app) eachFile(paths []string, keepGoing bool, fn func(string) (pipeline.FileResult, error)) error {
	var (
		results []pipeline.FileResult
		errs    []error
	)
	for _, p := range paths {
		res, err := fn(p)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
			if !keepGoing {
				break
			}
		}
	}
	printReport(a.stdout, results)
	return errors.Join(errs...)
}

func (a *app) scanCmd() *cobra.Command {
	var langs []string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the CSV files a run would process",
		Long: `scan lists every CSV file under <base_dir>/<lang>/<category>, in the order
run processes them, and flags Japanese files that have no English baseline
file of the same name.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected := make([]discovery.Language, 0, len(langs))
			for _, tag := range langs {
				lang, err := discovery.ParseLanguage(tag)
				if err != nil {
					return fmt.Errorf("--lang: %w", err)
				}
				selected = append(selected, lang)
			}
			if len(selected) == 0 {
				selected = []discovery.Language{discovery.English, discovery.Japanese}
			}
			if err := a.setup(cmd, scanIgnores...); err != nil {
				return err
			}
			return scan(a.stdout, a.cfg.Layout(), selected)
		},
	}
	cmd.Flags().StringSliceVar(&langs, "lang", nil, "languages to list: eng, jp (default both)")
	return cmd
}

func scan(w io.Writer, layout discovery.Layout, langs []discovery.Language) error {
	files := make(map[discovery.Language]map[discovery.Category][]string, 2)
	for _, lang := range []discovery.Language{discovery.English, discovery.Japanese} {
		byCat, err := layout.LanguageFiles(lang)
		if err != nil {
			return err
		}
		files[lang] = byCat
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LANG\tCATEGORY\tTABLE\tFILE\tNOTE")
	total, unmatched := 0, 0
	for _, cat := range layout.Categories {
		baseline := make(map[string]bool)
		for _, p := range files[discovery.English][cat] {
			baseline[strings.ToLower(ident.Table(p))] = true
		}
		for _, lang := range langs {
			for _, p := range files[lang][cat] {
				note := ""
				if lang == discovery.Japanese && !baseline[strings.ToLower(ident.Table(p))] {
					note = "no baseline file"
					unmatched++
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", lang, cat, ident.Table(p), rel(layout.BaseDir, p), note)
				total++
			}
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d files, %d without baseline file\n", total, unmatched)
	return nil
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "configuration is valid")
			return nil
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "dialogdb %s\n", version)
			fmt.Fprintf(a.stdout, "storage: %s\n", strings.Join(storage.Kinds(), ", "))
		},
	}
}

// printReport writes one line per processed file.
func printReport(w io.Writer, files []pipeline.FileResult) {
	if len(files) == 0 {
		fmt.Fprintln(w, "no files processed")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tSTEP\tCATEGORY\tTABLE\tROWS\tINSERTED\tUPDATED\tSHADOW\tDURATION")
	for _, f := range files {
		status := "ok"
		if f.Err != nil {
			status = "FAILED"
		}
		cat := string(f.Category)
		if cat == "" {
			cat = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			status, f.Step, cat, f.Table,
			f.Stats.Rows, f.Stats.Inserted, f.Stats.Updated, f.Stats.ShadowColumnsAdded, f.Duration)
	}
	_ = tw.Flush()
}

func rel(base, p string) string {
	if r, err := filepath.Rel(base, p); err == nil {
		return filepath.ToSlash(r)
	}
	return p
}

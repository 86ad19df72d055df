// Package pipeline drives a full import: for each category, every English
// file is loaded as a baseline table, then every Japanese file of the same
// category is merged into the table of the same name.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dialogdb/internal/discovery"
	"dialogdb/internal/ident"
	"dialogdb/internal/ingest"
	"dialogdb/internal/metrics"
	csvparser "dialogdb/internal/parser/csv"
	"dialogdb/internal/storage"
	"dialogdb/internal/tabular"
)

// ErrBaselineMissing is returned for a Japanese file whose table was neither
// created in this run nor present in the database. It matches
// ingest.ErrTableMissing under errors.Is.
var ErrBaselineMissing = fmt.Errorf("baseline table missing: %w", ingest.ErrTableMissing)

// Step names used in logs and metrics.
const (
	StepBaseline = "baseline"
	StepMerge    = "merge"
)

// ReadFn loads one CSV file. It is a seam for tests.
type ReadFn func(path string) (*tabular.Source, error)

type Options struct {
	Layout discovery.Layout
	CSV    csvparser.Options
	Ingest ingest.Options

	// KeepGoing continues with the next file after a failure and reports
	// every failure at the end. By default the run stops at the first one.
	KeepGoing bool
}

// Driver runs the two passes over one Repository. One Session is opened
// per file and committed after that file; a failed file is rolled back.
type Driver struct {
	Repo    storage.Repository
	Logger  *zap.Logger
	Options Options

	// Read is optional; csvparser.ReadFile with Options.CSV is used when nil.
	Read ReadFn

	runID   string
	created map[string]bool
}

// FileResult is the outcome of one file.
type FileResult struct {
	Path     string
	Step     string
	Category discovery.Category
	Table    string
	Stats    ingest.Stats
	Duration time.Duration
	Err      error
}

// Report is the outcome of Run.
type Report struct {
	RunID string
	Files []FileResult
}

// Failed returns the results that carry an error.
func (r Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

func (d *Driver) log() *zap.Logger {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d.Logger
}

func (d *Driver) init() {
	if d.runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		d.runID = id.String()
		d.Logger = d.log().With(zap.String("run_id", d.runID))
	}
	if d.created == nil {
		d.created = map[string]bool{}
	}
}

// RunID identifies this driver's run in logs.
func (d *Driver) RunID() string {
	d.init()
	return d.runID
}

func (d *Driver) read(path string) (*tabular.Source, error) {
	if d.Read != nil {
		return d.Read(path)
	}
	return csvparser.ReadFile(path, d.Options.CSV)
}

// Run processes every configured category. With KeepGoing the returned error
// joins every file failure; otherwise it is the first failure.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	if d.Repo == nil {
		return Report{}, fmt.Errorf("pipeline: Repo is required")
	}
	d.init()
	log := d.log()
	rep := Report{RunID: d.runID}

	if err := d.Options.Layout.Validate(); err != nil {
		return rep, err
	}

	runStart := time.Now()
	var errs []error
	for _, cat := range d.Options.Layout.Categories {
		for _, pass := range []struct {
			step string
			lang discovery.Language
		}{
			{StepBaseline, discovery.English},
			{StepMerge, discovery.Japanese},
		} {
			files, err := d.Options.Layout.Files(pass.lang, cat)
			if err != nil {
				return rep, err
			}
			stageStart := time.Now()
			failed := 0
			for _, path := range files {
				if err := ctx.Err(); err != nil {
					return rep, err
				}
				res := d.processFile(ctx, pass.step, path)
				res.Category = cat
				rep.Files = append(rep.Files, res)
				if res.Err != nil {
					failed++
					if !d.Options.KeepGoing {
						return rep, res.Err
					}
					errs = append(errs, res.Err)
				}
			}
			log.Info("stage done",
				zap.String("stage", pass.step),
				zap.String("category", string(cat)),
				zap.Int("files", len(files)),
				zap.Int("failed", failed),
				zap.Duration("duration", durMS(stageStart)))
		}
	}

	log.Info("run done", zap.Int("files", len(rep.Files)), zap.Int("failed", len(errs)), zap.Duration("duration", durMS(runStart)))
	return rep, errors.Join(errs...)
}

// BaselineFile loads one English file.
func (d *Driver) BaselineFile(ctx context.Context, path string) (FileResult, error) {
	d.init()
	res := d.processFile(ctx, StepBaseline, path)
	return res, res.Err
}

// MergeFile merges one Japanese file into its existing baseline table.
func (d *Driver) MergeFile(ctx context.Context, path string) (FileResult, error) {
	d.init()
	res := d.processFile(ctx, StepMerge, path)
	return res, res.Err
}

func (d *Driver) processFile(ctx context.Context, step, path string) FileResult {
	start := time.Now()
	table := ident.Table(path)
	res := FileResult{Path: path, Step: step, Table: table}
	log := d.log().With(zap.String("stage", step), zap.String("file", path), zap.String("table", table))

	lang := string(discovery.English)
	if step == StepMerge {
		lang = string(discovery.Japanese)
	}

	finish := func(err error) FileResult {
		res.Duration = durMS(start)
		status := "ok"
		if err != nil {
			status = "error"
			res.Err = fmt.Errorf("%s %s: %w", step, path, err)
			log.Error("file failed", zap.Error(err), zap.Duration("duration", res.Duration))
		} else {
			log.Info("file done", append(res.Stats.Fields(), zap.Duration("duration", res.Duration))...)
		}
		metrics.RecordStep(step, status, time.Since(start))
		metrics.RecordFile(lang, status, res.Stats.Rows)
		recordStats(res.Stats)
		return res
	}

	if d.Repo == nil {
		return finish(fmt.Errorf("pipeline: Repo is required"))
	}

	log.Debug("file start")
	src, err := d.read(path)
	if err != nil {
		return finish(err)
	}

	sess, err := d.Repo.Begin(ctx)
	if err != nil {
		return finish(err)
	}

	opts := d.Options.Ingest
	opts.Logger = log

	var st ingest.Stats
	switch step {
	case StepBaseline:
		st, err = ingest.LoadBaseline(ctx, sess, table, src, opts)
	default:
		if err = d.checkBaseline(ctx, sess, table); err == nil {
			st, err = ingest.MergeImport(ctx, sess, table, src, opts)
		}
	}
	res.Stats = st
	if err != nil {
		if rbErr := sess.Rollback(ctx); rbErr != nil {
			log.Error("rollback failed", zap.Error(rbErr))
		}
		return finish(err)
	}
	if err := sess.Commit(ctx); err != nil {
		return finish(err)
	}
	if step == StepBaseline {
		d.created[strings.ToLower(table)] = true
	}
	return finish(nil)
}

// checkBaseline verifies that table was created in this run or exists in
// the catalog.
func (d *Driver) checkBaseline(ctx context.Context, sess storage.Session, table string) error {
	if d.created[strings.ToLower(table)] {
		return nil
	}
	cols, err := sess.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s: %w", table, ErrBaselineMissing)
	}
	return nil
}

func recordStats(st ingest.Stats) {
	metrics.RecordRecords("inserted", int(st.Inserted))
	metrics.RecordRecords("updated", int(st.Updated))
	metrics.RecordRecords("skipped_comment", st.Comments)
	metrics.RecordRecords("skipped_no_japanese", st.NoJapanese)
	metrics.RecordRecords("orphan", st.Orphans)
	metrics.RecordRecords("shadow_column", st.ShadowColumnsAdded)
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

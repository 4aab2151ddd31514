// Package ingest drives the source adapters over a data directory and
// persists the normalized records.
package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geo-catalog/internal/adapter"
	"github.com/sells-group/geo-catalog/internal/fetcher"
	"github.com/sells-group/geo-catalog/internal/model"
	"github.com/sells-group/geo-catalog/internal/store"
)

// Options configures one ingest run.
type Options struct {
	ClearCollection bool // delete all records before writing
	SkipLargeFiles  bool // skip the GOLD-derived sources
	DryRun          bool // parse and validate only
	Parallel        bool // parse sources concurrently; writes stay ordered

	// Sources restricts the run to these systems; empty means all.
	Sources []model.SystemName
	// Files overrides the file (or glob) looked up per system.
	Files map[model.SystemName]string
	// Encoding is the default charset of text sources; empty means UTF-8.
	Encoding string
}

// Observer is told about every finished run, successful or not.
type Observer interface {
	ObserveRun(ctx context.Context, run *model.IngestRun) error
}

// Publisher receives the records of each source after they are persisted.
type Publisher interface {
	Publish(ctx context.Context, records []model.Record) error
}

// Pipeline ingests source files into a store.
type Pipeline struct {
	store     store.Store
	reg       *adapter.Registry
	clock     clockwork.Clock
	stager    *fetcher.Stager
	observers []Observer
	publisher Publisher
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for run timestamps and timings.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithStager enables remote data directories.
func WithStager(s *fetcher.Stager) Option {
	return func(p *Pipeline) { p.stager = s }
}

// WithObserver adds a run observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithPublisher sets the change-feed publisher.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// New creates a Pipeline over st using the adapters in reg.
func New(st store.Store, reg *adapter.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		store: st,
		reg:   reg,
		clock: clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// parsed is the outcome of reading one source.
type parsed struct {
	adapter adapter.Adapter
	report  model.SourceReport
	records []model.Record
}

// Run ingests every selected source found in dataDir. Source-level problems
// are recorded in the returned run and do not fail it; store failures abort
// the run and are returned as the error, alongside the partial run. A local
// dataDir that is not a directory fails before the run starts, and a run that
// finds no source file at all fails before anything is cleared.
func (p *Pipeline) Run(ctx context.Context, dataDir string, opts Options) (*model.IngestRun, error) {
	log := zap.L().With(zap.String("component", "ingest.pipeline"))

	adapters, err := p.reg.Select(opts.Sources, false)
	if err != nil {
		return nil, err
	}
	if !fetcher.IsRemote(dataDir) {
		if err := checkDataDir(dataDir); err != nil {
			return nil, err
		}
	}

	run := &model.IngestRun{
		DataDir:   dataDir,
		Cleared:   opts.ClearCollection && !opts.DryRun,
		StartedAt: p.clock.Now().UTC(),
		Status:    model.RunStatusRunning,
	}
	if !opts.DryRun {
		if err := p.store.StartRun(ctx, run); err != nil {
			return nil, err
		}
		log = log.With(zap.String("run_id", run.ID))
	}

	err = p.run(ctx, log, run, dataDir, adapters, opts)
	return run, p.finish(ctx, log, run, opts, err)
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, run *model.IngestRun, dataDir string, adapters []adapter.Adapter, opts Options) error {
	dir, manifest, err := p.resolveDir(ctx, dataDir, adapters, opts)
	if err != nil {
		return err
	}

	var active []adapter.Adapter
	skipped := make(map[model.SystemName]bool)
	for _, a := range adapters {
		if opts.SkipLargeFiles && a.Large() {
			skipped[a.System()] = true
			continue
		}
		active = append(active, a)
	}

	// Sources are located before the clear; a run that finds none leaves
	// the collection untouched.
	located := make(map[model.SystemName]location, len(active))
	found := 0
	for _, a := range active {
		loc := p.locate(dir, manifest, a, opts)
		if loc.path != "" {
			found++
		}
		located[a.System()] = loc
	}
	if found == 0 {
		return eris.Errorf("ingest: no source files found in %s", dataDir)
	}

	if run.Cleared {
		n, err := p.store.Clear(ctx)
		if err != nil {
			return err
		}
		log.Info("collection cleared", zap.Int64("deleted", n))
	}

	parseOne := func(ctx context.Context, a adapter.Adapter) parsed {
		return p.parseSource(ctx, located[a.System()], manifest, a, opts)
	}

	var results []parsed
	if opts.Parallel {
		results = make([]parsed, len(active))
		g, gctx := errgroup.WithContext(ctx)
		for i, a := range active {
			g.Go(func() error {
				results[i] = parseOne(gctx, a)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "ingest: parse sources")
		}
	}

	// Reports follow registry order regardless of how parsing was scheduled.
	next := 0
	for _, a := range adapters {
		if skipped[a.System()] {
			log.Info("source skipped", zap.String("system", string(a.System())), zap.String("reason", "large file"))
			run.Sources = append(run.Sources, model.SourceReport{System: a.System(), Status: model.SourceSkipped})
			continue
		}

		var res parsed
		if opts.Parallel {
			res = results[next]
		} else {
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "ingest: cancelled")
			}
			res = parseOne(ctx, a)
		}
		next++

		if err := p.write(ctx, log, run, &res, opts); err != nil {
			run.Sources = append(run.Sources, res.report)
			return err
		}
		run.Sources = append(run.Sources, res.report)
	}

	if !opts.DryRun {
		if err := p.store.EnsureSpatialIndex(ctx); err != nil {
			return err
		}
	}
	return nil
}

// resolveDir stages a remote data directory and loads the manifest.
func (p *Pipeline) resolveDir(ctx context.Context, dataDir string, adapters []adapter.Adapter, opts Options) (string, *Manifest, error) {
	if !fetcher.IsRemote(dataDir) {
		m, err := ReadManifest(dataDir)
		return dataDir, m, err
	}
	if p.stager == nil {
		return "", nil, eris.Errorf("ingest: remote data dir %s needs a stager", dataDir)
	}

	// The manifest may name the files, so it is staged on its own first.
	local, err := p.stager.Stage(ctx, dataDir, []string{ManifestName})
	if err != nil {
		return "", nil, err
	}
	m, err := ReadManifest(local)
	if err != nil {
		return "", nil, err
	}

	var names []string
	for _, a := range adapters {
		if opts.SkipLargeFiles && a.Large() {
			continue
		}
		names = append(names, p.pattern(m, a, opts))
	}
	if _, err := p.stager.Stage(ctx, dataDir, names); err != nil {
		return "", nil, err
	}
	return local, m, nil
}

// pattern returns the file name or glob for a source: an explicit override,
// then the manifest, then the adapter default.
func (p *Pipeline) pattern(m *Manifest, a adapter.Adapter, opts Options) string {
	if f := opts.Files[a.System()]; f != "" {
		return f
	}
	if f := m.File(a.System()); f != "" {
		return f
	}
	return a.DefaultFile()
}

// location is the discovered file of one source.
type location struct {
	dir     string
	pattern string
	path    string // "" when nothing matched
	err     error
}

func (p *Pipeline) locate(dir string, m *Manifest, a adapter.Adapter, opts Options) location {
	loc := location{dir: dir, pattern: p.pattern(m, a, opts)}
	loc.path, loc.err = Discover(dir, loc.pattern, a.Format())
	return loc
}

// checkDataDir rejects a local data dir that is missing or not a directory.
func checkDataDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return eris.Wrapf(err, "ingest: data dir %s", dir)
	}
	if !fi.IsDir() {
		return eris.Errorf("ingest: data dir %s is not a directory", dir)
	}
	return nil
}

func (p *Pipeline) parseSource(ctx context.Context, loc location, m *Manifest, a adapter.Adapter, opts Options) (res parsed) {
	sys := a.System()
	log := zap.L().With(zap.String("component", "ingest.pipeline"), zap.String("system", string(sys)))
	start := p.clock.Now()
	res = parsed{adapter: a, report: model.SourceReport{System: sys}}
	defer func() { res.report.Elapsed = p.clock.Since(start) }()

	if loc.err != nil {
		res.report.Status = model.SourceFailed
		res.report.Error = loc.err.Error()
		return res
	}
	if loc.path == "" {
		log.Warn("source file not found", zap.String("pattern", loc.pattern), zap.String("dir", loc.dir))
		res.report.Status = model.SourceMissing
		res.report.Error = fmt.Sprintf("no file matching %q", loc.pattern)
		return res
	}
	path := loc.path
	res.report.File = path
	log = log.With(zap.String("file", path))

	encoding := opts.Encoding
	if e := m.EncodingFor(sys); e != "" {
		encoding = e
	}

	var d dedupe
	err := decodeFile(ctx, path, a.Format(), encoding, func(raw model.Metadata) error {
		res.report.Read++
		rec, err := a.Parse(raw)
		if err != nil {
			reason := "invalid_record"
			if rej, ok := adapter.AsRejection(err); ok {
				reason = rej.Reason
			}
			res.report.Reject(reason)
			log.Debug("record rejected", zap.Int("row", res.report.Read), zap.Error(err))
			return nil
		}
		res.report.Accepted++
		if d.add(rec) {
			res.report.Duplicates++
		}
		return nil
	})
	if err != nil {
		log.Error("source unreadable", zap.Error(err))
		res.report.Status = model.SourceFailed
		res.report.Error = err.Error()
		return res
	}

	res.records = d.records
	res.report.Unique = len(d.records)
	res.report.Status = model.SourceIngested
	if res.report.Rejected > 0 {
		log.Warn("records rejected", zap.Int("rejected", res.report.Rejected), zap.Any("reasons", res.report.Rejections))
	}
	return res
}

// write persists one parsed source as a single atomic batch. Only store
// failures are returned.
func (p *Pipeline) write(ctx context.Context, log *zap.Logger, run *model.IngestRun, res *parsed, opts Options) error {
	rep := &res.report
	log = log.With(zap.String("system", string(rep.System)))

	if rep.Status != model.SourceIngested || opts.DryRun || len(res.records) == 0 {
		if rep.Status == model.SourceIngested {
			log.Info("source parsed",
				zap.Int("read", rep.Read),
				zap.Int("accepted", rep.Accepted),
				zap.Int("rejected", rep.Rejected),
				zap.Int("duplicates", rep.Duplicates),
				zap.Bool("dry_run", opts.DryRun),
			)
		}
		return nil
	}

	var (
		n   int64
		err error
	)
	if run.Cleared {
		n, err = p.store.InsertRecords(ctx, res.records)
	} else {
		n, err = p.store.UpsertRecords(ctx, res.records)
	}
	if err != nil {
		rep.Status = model.SourceFailed
		rep.Error = err.Error()
		return eris.Wrapf(err, "ingest: write %s", rep.System)
	}
	rep.Written = n

	log.Info("source ingested",
		zap.Int("read", rep.Read),
		zap.Int("accepted", rep.Accepted),
		zap.Int("rejected", rep.Rejected),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int64("written", rep.Written),
		zap.Duration("elapsed", rep.Elapsed),
	)

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, res.records); err != nil {
			log.Warn("publish failed", zap.Error(err))
		}
	}
	return nil
}

// finish stamps the run outcome, persists it and notifies observers.
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, run *model.IngestRun, opts Options, runErr error) error {
	now := p.clock.Now().UTC()
	run.CompletedAt = &now
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = model.RunStatusComplete
		if n := run.FailedSources(); n > 0 {
			run.Error = fmt.Sprintf("%d source(s) not ingested: %s", n, failedNames(run))
		}
	}

	// The run log is written even when ctx was cancelled.
	if !opts.DryRun && run.ID != "" {
		if err := p.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.Error("failed to record run outcome", zap.Error(err))
			if runErr == nil {
				runErr = err
			}
		}
	}

	for _, o := range p.observers {
		if err := o.ObserveRun(ctx, run); err != nil {
			log.Warn("run observer failed", zap.Error(err))
		}
	}

	tot := run.Totals()
	log.Info("ingest run complete",
		zap.String("status", string(run.Status)),
		zap.Int("sources", len(run.Sources)),
		zap.Int("read", tot.Read),
		zap.Int("accepted", tot.Accepted),
		zap.Int("rejected", tot.Rejected),
		zap.Int("duplicates", tot.Duplicates),
		zap.Int64("written", tot.Written),
	)
	return runErr
}

func failedNames(run *model.IngestRun) string {
	var names []string
	for _, s := range run.Sources {
		if s.Status == model.SourceFailed || s.Status == model.SourceMissing {
			names = append(names, string(s.System))
		}
	}
	return strings.Join(names, ", ")
}

// dedupe keeps one record per (system, dataset id). A later occurrence
// replaces the earlier one in place, so output order is first-seen order.
type dedupe struct {
	index   map[model.Key]int
	records []model.Record
}

// add stores rec and reports whether it replaced an earlier record.
func (d *dedupe) add(rec model.Record) bool {
	if d.index == nil {
		d.index = make(map[model.Key]int)
	}
	k := rec.Key()
	if i, ok := d.index[k]; ok {
		d.records[i] = rec
		return true
	}
	d.index[k] = len(d.records)
	d.records = append(d.records, rec)
	return false
}

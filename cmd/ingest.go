package main

import (
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-catalog/internal/adapter"
	"github.com/sells-group/geo-catalog/internal/fetcher"
	"github.com/sells-group/geo-catalog/internal/ingest"
	"github.com/sells-group/geo-catalog/internal/metrics"
	"github.com/sells-group/geo-catalog/internal/model"
	"github.com/sells-group/geo-catalog/internal/publish"
	"github.com/sells-group/geo-catalog/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load source exports into the catalog",
	Long: "Discovers each source's export in the data directory (local, or staged from http(s)://, " +
		"ftp:// or s3://), parses it through the source adapter and writes the records to the store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dataDir, opts, err := ingestOptions(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "ingest")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, closeFn, err := buildPipeline(st, dataDir)
		if err != nil {
			return err
		}
		defer closeFn()

		out := cmd.OutOrStdout()
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			debounce := time.Duration(cfg.Ingest.WatchDebounceMs) * time.Millisecond
			return p.Watch(ctx, dataDir, opts, debounce, func(run *model.IngestRun, err error) {
				if run != nil {
					formatRunSummary(out, run)
				}
				if err != nil {
					zap.L().Error("ingest run failed", zap.Error(err))
				}
			})
		}

		run, err := p.Run(ctx, dataDir, opts)
		if run != nil {
			formatRunSummary(out, run)
		}
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		return nil
	},
}

// ingestOptions merges the ingest flags over the config.
func ingestOptions(cmd *cobra.Command) (string, ingest.Options, error) {
	flags := cmd.Flags()

	dataDir, _ := flags.GetString("data-dir")
	if dataDir == "" {
		dataDir = cfg.Ingest.DataDir
	}
	cfg.Ingest.DataDir = dataDir

	opts := ingest.Options{Encoding: cfg.Ingest.Encoding, Parallel: cfg.Ingest.Parallel}
	opts.ClearCollection, _ = flags.GetBool("clear-collection")
	opts.SkipLargeFiles, _ = flags.GetBool("skip-large-files")
	opts.DryRun, _ = flags.GetBool("dry-run")
	if flags.Changed("parallel") {
		opts.Parallel, _ = flags.GetBool("parallel")
	}

	sources, _ := flags.GetString("sources")
	systems, err := model.ParseSystemNames(sources)
	if err != nil {
		return "", opts, eris.Wrap(err, "--sources")
	}
	opts.Sources = systems

	fileFlags, _ := flags.GetStringArray("file")
	opts.Files, err = fileOverrides(cfg.Ingest.Files, fileFlags)
	if err != nil {
		return "", opts, err
	}
	return dataDir, opts, nil
}

// fileOverrides combines config file mappings with system=path flags; flags
// win.
func fileOverrides(fromConfig map[string]string, flags []string) (map[model.SystemName]string, error) {
	out := make(map[model.SystemName]string)
	add := func(name, path string) error {
		sys, err := model.ParseSystemName(name)
		if err != nil {
			return err
		}
		path = strings.TrimSpace(path)
		if path == "" {
			return eris.Errorf("empty file for %s", sys)
		}
		out[sys] = path
		return nil
	}
	for name, path := range fromConfig {
		if err := add(name, path); err != nil {
			return nil, eris.Wrap(err, "ingest.files")
		}
	}
	for _, f := range flags {
		name, path, ok := strings.Cut(f, "=")
		if !ok {
			return nil, eris.Errorf("--file %q: expected SYSTEM=path", f)
		}
		if err := add(name, path); err != nil {
			return nil, eris.Wrapf(err, "--file %q", f)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// buildPipeline wires the pipeline with remote staging, metrics and the
// optional change feed. The returned func releases the feed producer.
func buildPipeline(st store.Store, dataDir string) (*ingest.Pipeline, func(), error) {
	opts := []ingest.Option{
		ingest.WithObserver(metrics.New(cfg.Metrics.TextfilePath)),
	}
	closeFn := func() {}

	if fetcher.IsRemote(dataDir) {
		stager, err := newStager(dataDir)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, ingest.WithStager(stager))
	}

	if cfg.Publish.Enabled() {
		w := publish.NewWriter(cfg.Publish, cfg.Ingest.BatchSize)
		opts = append(opts, ingest.WithPublisher(w))
		closeFn = func() {
			if err := w.Close(); err != nil {
				zap.L().Warn("close publisher", zap.Error(err))
			}
		}
	}

	return ingest.New(st, adapter.NewRegistry(), opts...), closeFn, nil
}

// newStager builds a stager with a transport for the data dir's scheme.
func newStager(dataDir string) (*fetcher.Stager, error) {
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Remote.UserAgent,
		MaxRetries: cfg.Remote.MaxRetries,
	})
	fetchers := map[string]fetcher.Fetcher{
		"http":  httpFetcher,
		"https": httpFetcher,
		"ftp":   fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
	}
	if strings.HasPrefix(dataDir, "s3://") {
		s3, err := fetcher.NewS3Fetcher(fetcher.S3Options{
			Endpoint:  cfg.Remote.S3Endpoint,
			AccessKey: cfg.Remote.S3AccessKey,
			SecretKey: cfg.Remote.S3SecretKey,
			Secure:    cfg.Remote.S3Secure,
		})
		if err != nil {
			return nil, err
		}
		fetchers["s3"] = s3
	}
	return fetcher.NewStager(cfg.Remote.StagingDir, fetchers), nil
}

// formatRunSummary writes the per-source accounting of a run to w.
func formatRunSummary(out io.Writer, run *model.IngestRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SYSTEM\tSTATUS\tREAD\tACCEPTED\tREJECTED\tDUPLICATES\tWRITTEN\tELAPSED\tFILE")
	for _, s := range run.Sources {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.System, s.Status, s.Read, s.Accepted, s.Rejected, s.Duplicates, s.Written,
			s.Elapsed.Round(time.Millisecond), s.File)
	}
	t := run.Totals()
	_, _ = fmt.Fprintf(w, "TOTAL\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
		run.Status, t.Read, t.Accepted, t.Rejected, t.Duplicates, t.Written, t.Elapsed.Round(time.Millisecond))
	_ = w.Flush()

	for _, s := range run.Sources {
		if s.Error != "" {
			_, _ = fmt.Fprintf(out, "%s: %s\n", s.System, s.Error)
		}
		reasons := make([]string, 0, len(s.Rejections))
		for reason := range s.Rejections {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			_, _ = fmt.Fprintf(out, "%s: rejected %d (%s)\n", s.System, s.Rejections[reason], reason)
		}
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(out, "run %s: %s\n", truncateID(run.ID), run.Error)
	}
}

// addIngestFlags registers the ingest flags on cmd.
func addIngestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("data-dir", "", "directory or http(s)/ftp/s3 URL holding the source exports (default from config)")
	f.Bool("clear-collection", false, "delete every stored record before writing")
	f.Bool("skip-large-files", false, "skip sources flagged as large")
	f.String("sources", "", "comma-separated systems to ingest (default all)")
	f.StringArray("file", nil, "SYSTEM=path override of a source's file name or glob (repeatable)")
	f.Bool("parallel", false, "parse sources concurrently")
	f.Bool("dry-run", false, "parse and report without writing")
	f.Bool("watch", false, "re-run whenever files in the data directory change")
}

func init() {
	addIngestFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}

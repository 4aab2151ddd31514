package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-catalog/internal/fetcher"
	"github.com/sells-group/geo-catalog/internal/model"
)

// RunFunc receives the outcome of each run started by Watch.
type RunFunc func(run *model.IngestRun, err error)

// Watch runs the pipeline once and then again whenever files below dataDir
// change, until ctx is done. Events closer together than debounce collapse
// into one run. Run errors go to onRun and do not stop watching.
func (p *Pipeline) Watch(ctx context.Context, dataDir string, opts Options, debounce time.Duration, onRun RunFunc) error {
	if fetcher.IsRemote(dataDir) {
		return eris.Errorf("ingest: cannot watch remote data dir %s", dataDir)
	}
	log := zap.L().With(zap.String("component", "ingest.watch"), zap.String("dir", dataDir))

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "ingest: create watcher")
	}
	defer w.Close() //nolint:errcheck

	if err := addTree(w, dataDir); err != nil {
		return err
	}

	runOnce := func() {
		run, err := p.Run(ctx, dataDir, opts)
		if onRun != nil {
			onRun(run, err)
		}
	}
	runOnce()
	log.Info("watching for changes", zap.Duration("debounce", debounce))

	var (
		timer  clockwork.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						log.Warn("cannot watch new directory", zap.Error(err))
					}
				}
			}
			if !relevantEvent(ev) {
				continue
			}
			log.Debug("change detected", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = p.clock.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.Chan()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))
		case <-timerC:
			timerC = nil
			runOnce()
		}
	}
}

// relevantEvent drops permission changes and staging artifacts.
func relevantEvent(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".etag") {
		return false
	}
	return true
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return eris.Wrapf(err, "ingest: walk %s", p)
		}
		if !d.IsDir() {
			return nil
		}
		return eris.Wrapf(w.Add(p), "ingest: watch %s", p)
	})
}

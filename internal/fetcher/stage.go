package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// IsRemote reports whether dataDir names a remote location rather than a
// local directory.
func IsRemote(dataDir string) bool {
	u, err := url.Parse(dataDir)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp", "s3":
		return true
	}
	return false
}

// Stager mirrors the source files of a remote data directory into a local
// staging directory so the ingestion pipeline can read them like local files.
type Stager struct {
	dir      string
	fetchers map[string]Fetcher
	log      *zap.Logger
}

// NewStager creates a Stager writing below dir. fetchers maps URL schemes
// ("http", "https", "ftp", "s3") to their transport.
func NewStager(dir string, fetchers map[string]Fetcher) *Stager {
	return &Stager{
		dir:      dir,
		fetchers: fetchers,
		log:      zap.L().With(zap.String("component", "stager")),
	}
}

// Stage downloads each named file (or glob, when the transport can list)
// from dataDir and returns the local directory holding them. Files that
// cannot be fetched are logged and left out; the caller reports them as
// missing.
func (s *Stager) Stage(ctx context.Context, dataDir string, names []string) (string, error) {
	base, err := url.Parse(strings.TrimSuffix(dataDir, "/"))
	if err != nil {
		return "", eris.Wrapf(err, "stage: parse %q", dataDir)
	}
	f, ok := s.fetchers[base.Scheme]
	if !ok {
		return "", eris.Errorf("stage: no fetcher for scheme %q", base.Scheme)
	}

	sum := sha256.Sum256([]byte(base.String()))
	local := filepath.Join(s.dir, hex.EncodeToString(sum[:8]))
	if err := os.MkdirAll(local, 0o755); err != nil {
		return "", eris.Wrap(err, "stage: create staging dir")
	}

	urls, err := s.resolve(ctx, f, base, names)
	if err != nil {
		return "", err
	}

	for _, u := range urls {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "stage: cancelled")
		}
		dest := filepath.Join(local, path.Base(u))
		if err := s.fetch(ctx, f, u, dest); err != nil {
			s.log.Warn("source file not staged", zap.String("url", u), zap.Error(err))
		}
	}
	return local, nil
}

// resolve expands names against the remote directory. Literal names map to
// one URL each; globs need a Lister.
func (s *Stager) resolve(ctx context.Context, f Fetcher, base *url.URL, names []string) ([]string, error) {
	var (
		listing []string
		listed  bool
		out     []string
		seen    = make(map[string]bool)
	)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, name := range names {
		if !hasMeta(name) {
			u := *base
			u.Path = path.Join(base.Path, name)
			add(u.String())
			continue
		}

		lister, ok := f.(Lister)
		if !ok {
			s.log.Warn("glob ignored; transport cannot list", zap.String("pattern", name), zap.String("scheme", base.Scheme))
			continue
		}
		if !listed {
			var err error
			listing, err = lister.List(ctx, base.String())
			if err != nil {
				return nil, eris.Wrap(err, "stage: list remote dir")
			}
			listed = true
		}
		for _, u := range listing {
			if ok, _ := doublestar.Match(strings.ToLower(name), strings.ToLower(path.Base(u))); ok {
				add(u)
			}
		}
	}
	return out, nil
}

// fetch downloads u to dest, skipping the transfer when the transport can
// tell from the stored ETag that nothing changed.
func (s *Stager) fetch(ctx context.Context, f Fetcher, u, dest string) error {
	cf, ok := f.(ConditionalFetcher)
	if !ok {
		_, err := f.DownloadToFile(ctx, u, dest)
		return err
	}

	etagPath := dest + ".etag"
	etag := ""
	if _, err := os.Stat(dest); err == nil {
		if b, err := os.ReadFile(etagPath); err == nil {
			etag = strings.TrimSpace(string(b))
		}
	}

	body, newETag, changed, err := cf.DownloadIfChanged(ctx, u, etag)
	if err != nil {
		return err
	}
	if !changed {
		s.log.Debug("source file unchanged", zap.String("url", u))
		return nil
	}
	defer body.Close() //nolint:errcheck

	if err := writeAtomic(dest, body); err != nil {
		return err
	}
	if newETag == "" {
		_ = os.Remove(etagPath)
		return nil
	}
	return eris.Wrap(os.WriteFile(etagPath, []byte(newETag), 0o644), "stage: write etag")
}

// writeAtomic writes r to a temp file beside path and renames it into place.
func writeAtomic(path string, r io.Reader) error {
	tmp := path + ".part"
	if _, err := writeFile(tmp, r); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return eris.Wrap(os.Rename(tmp, path), "stage: rename")
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

package ingest

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geo-catalog/internal/adapter"
	"github.com/sells-group/geo-catalog/internal/model"
)

// ManifestName is the optional per-directory source manifest.
const ManifestName = "sources.yaml"

// Manifest lets a data directory describe its own layout:
//
//	files:
//	  NMDC: exports/nmdc_*.csv.gz
//	encoding:
//	  ESSDIVE: windows-1252
type Manifest struct {
	Files    map[string]string `yaml:"files"`
	Encoding map[string]string `yaml:"encoding"`
}

// ReadManifest loads dir/sources.yaml. A missing manifest is not an error.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "ingest: parse manifest")
	}
	return &m, nil
}

// File returns the manifest's file pattern for sys, matching the system
// name case-insensitively.
func (m *Manifest) File(sys model.SystemName) string {
	return lookupFold(m.Files, sys)
}

// EncodingFor returns the manifest's charset for sys, or "".
func (m *Manifest) EncodingFor(sys model.SystemName) string {
	return lookupFold(m.Encoding, sys)
}

func lookupFold(m map[string]string, sys model.SystemName) string {
	for k, v := range m {
		if strings.EqualFold(strings.TrimSpace(k), string(sys)) {
			return v
		}
	}
	return ""
}

// variantSuffixes are the compressed spellings accepted for a file name.
var variantSuffixes = []string{"", ".gz", ".zst", ".lz4", ".zip"}

// candidates lists the names a source may appear under, most preferred
// first: the pattern itself, its compressed variants and, for CSV sources,
// the same base name as an .xlsx workbook.
func candidates(pattern string, format adapter.Format) []string {
	out := make([]string, 0, len(variantSuffixes)+1)
	for _, suffix := range variantSuffixes {
		out = append(out, pattern+suffix)
	}
	if format == adapter.FormatCSV {
		if ext := path.Ext(pattern); strings.EqualFold(ext, ".csv") {
			out = append(out, strings.TrimSuffix(pattern, ext)+".xlsx")
		}
	}
	return out
}

// Discover locates the file for one source below dir. pattern is the file
// name or doublestar glob to look for, relative to dir; an absolute pattern
// is used as-is. Matching is case-insensitive. When a glob matches several
// files the lexically last one wins, which picks the newest of date-stamped
// exports. It returns "" when nothing matches.
func Discover(dir, pattern string, format adapter.Format) (string, error) {
	if filepath.IsAbs(pattern) {
		if _, err := os.Stat(pattern); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", nil
			}
			return "", eris.Wrapf(err, "ingest: stat %s", pattern)
		}
		return pattern, nil
	}

	files, err := listFiles(dir)
	if err != nil {
		return "", err
	}

	for _, cand := range candidates(filepath.ToSlash(pattern), format) {
		want := strings.ToLower(cand)
		var matches []string
		for _, rel := range files {
			ok, err := doublestar.Match(want, strings.ToLower(rel))
			if err != nil {
				return "", eris.Wrapf(err, "ingest: bad pattern %q", pattern)
			}
			if ok {
				matches = append(matches, rel)
			}
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return filepath.Join(dir, filepath.FromSlash(matches[len(matches)-1])), nil
		}
	}
	return "", nil
}

// listFiles returns every regular file below dir as a slash-separated
// relative path. Staging artifacts are ignored.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".etag") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: list %s", dir)
	}
	return files, nil
}

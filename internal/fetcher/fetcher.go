package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// ConditionalFetcher can skip downloads whose content has not changed.
type ConditionalFetcher interface {
	Fetcher

	// DownloadIfChanged fetches the URL only if the ETag has changed.
	// Returns (body, newETag, changed, error). If not changed, body is nil and changed is false.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}

// Lister enumerates the files below a remote directory URL.
type Lister interface {
	List(ctx context.Context, dirURL string) ([]string, error)
}

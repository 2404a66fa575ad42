// Package storage holds the I/O collaborators of a reconciliation run:
// input fetching, artifact upload, the run store and the statistics sink.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"

	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

const gcsScheme = "gs://"

// Fetcher opens run inputs from the local filesystem, http(s) URLs or
// gs:// objects
type Fetcher struct {
	fs     afero.Fs
	http   *http.Client
	gcs    *storage.Client
	logger logger.Logger
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithFs reads local paths from fs
func WithFs(fs afero.Fs) FetcherOption {
	return func(f *Fetcher) { f.fs = fs }
}

// WithHTTPClient sets the client used for http(s) inputs
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.http = c }
}

// WithGCSClient enables gs:// inputs
func WithGCSClient(c *storage.Client) FetcherOption {
	return func(f *Fetcher) { f.gcs = c }
}

// NewFetcher creates a fetcher. Without options it reads the OS filesystem
// and http(s) with a one minute timeout.
func NewFetcher(log logger.Logger, opts ...FetcherOption) *Fetcher {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	f := &Fetcher{
		fs:     afero.NewOsFs(),
		http:   &http.Client{Timeout: time.Minute},
		logger: log.WithComponent("fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open resolves uri to a readable stream
func (f *Fetcher) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	f.logger.WithField("uri", uri).Debug("Opening input")

	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return f.openHTTP(ctx, uri)
	case strings.HasPrefix(uri, gcsScheme):
		return f.openGCS(ctx, uri)
	default:
		return f.openLocal(uri)
	}
}

func (f *Fetcher) openLocal(path string) (io.ReadCloser, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.InputError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.InputError(errors.CodeUnreadableFile, path, err)
	}
	return file, nil
}

func (f *Fetcher) openHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.InputError(errors.CodeFileNotFound, url, err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, errors.StorageError(errors.CodeFetchFailed, url, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, errors.InputError(errors.CodeFileNotFound, url, fmt.Errorf("status %s", resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, errors.StorageError(errors.CodeFetchFailed, url, fmt.Errorf("status %s", resp.Status))
	}
	return resp.Body, nil
}

func (f *Fetcher) openGCS(ctx context.Context, uri string) (io.ReadCloser, error) {
	if f.gcs == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "storage.credentials_file", uri,
			fmt.Errorf("no storage client configured for gs:// inputs"))
	}

	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, errors.InputError(errors.CodeFileNotFound, uri, err)
	}

	r, err := f.gcs.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist || err == storage.ErrBucketNotExist {
			return nil, errors.InputError(errors.CodeFileNotFound, uri, err)
		}
		return nil, errors.StorageError(errors.CodeFetchFailed, uri, err)
	}
	return r, nil
}

// ParseGCSURI splits gs://bucket/object into its bucket and object names
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, gcsScheme) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

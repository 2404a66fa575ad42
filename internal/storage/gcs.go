package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"google.golang.org/api/option"

	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

const uploadTimeout = 2 * time.Minute

// NewGCSClient creates a storage client. An empty credentialsFile uses
// Application Default Credentials.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "storage.credentials_file", credentialsFile, err)
	}
	return client, nil
}

// GCSUploader copies exported workbooks to gs://<bucket>/<prefix>/<run id>/
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
	fs     afero.Fs
	logger logger.Logger
}

// NewGCSUploader creates an uploader reading the exported files from fs
func NewGCSUploader(client *storage.Client, bucket, prefix string, fs afero.Fs, log logger.Logger) (*GCSUploader, error) {
	if bucket == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "storage.bucket", bucket,
			fmt.Errorf("bucket name is required"))
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &GCSUploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		fs:     fs,
		logger: log.WithComponent("uploader"),
	}, nil
}

// ObjectName returns the object a local file is uploaded to
func (u *GCSUploader) ObjectName(runID, localPath string) string {
	return path.Join(u.prefix, runID, path.Base(localPath))
}

// Upload copies every path and returns the gs:// URIs in the same order
func (u *GCSUploader) Upload(ctx context.Context, runID string, paths []string) ([]string, error) {
	if u.client == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "storage.bucket", u.bucket,
			fmt.Errorf("no storage client configured"))
	}

	uris := make([]string, 0, len(paths))
	for _, p := range paths {
		object := u.ObjectName(runID, p)
		if err := u.uploadFile(ctx, p, object); err != nil {
			return nil, errors.StorageError(errors.CodeUploadFailed, p, err)
		}
		uri := gcsScheme + u.bucket + "/" + object
		u.logger.WithFields(logger.Fields{"file": p, "uri": uri}).Debug("Uploaded artifact")
		uris = append(uris, uri)
	}

	u.logger.WithFields(logger.Fields{
		"run_id": runID,
		"bucket": u.bucket,
		"files":  len(uris),
	}).Info("Artifacts uploaded")
	return uris, nil
}

func (u *GCSUploader) uploadFile(ctx context.Context, localPath, object string) error {
	f, err := u.fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

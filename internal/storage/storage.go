// Package storage provides temporary and persistent file storage capabilities.
// It defines the Storage interface (port) and implementations for local disk
// and S3 storage.
package storage

import (
	"context"
	"io"
)

// Object identifies an uploaded object.
type Object struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	// URL is the public HTTPS URL of the object.
	URL string `json:"url"`
}

// URI returns the s3://bucket/key form of the object.
func (o Object) URI() string {
	return "s3://" + o.Bucket + "/" + o.Key
}

// Storage defines the interface for temporary and persistent file storage.
// Implementations must handle scratch files and directories during processing
// and optionally support S3 for input folders and final video delivery.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// MakeTempDir creates a new, empty scratch directory and returns its path.
	MakeTempDir(ctx context.Context, prefix string) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files and directories.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 under key and returns the stored object.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (*Object, error)

	// DownloadFolder downloads every object under an s3://bucket/prefix URI
	// into dir and returns the local paths in listing order.
	// Returns ErrS3NotConfigured if S3 is not configured.
	DownloadFolder(ctx context.Context, folderURI, dir string) ([]string, error)
}

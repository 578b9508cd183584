package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidS3URI is returned when a folder link is not of the form s3://bucket[/prefix].
var ErrInvalidS3URI = errors.New("invalid S3 URI")

// ParseS3URI splits "s3://bucket/prefix" into bucket and prefix.
// The prefix may be empty.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q must start with s3://", ErrInvalidS3URI, uri)
	}

	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrInvalidS3URI, uri)
	}
	return bucket, prefix, nil
}

// ExpandKey substitutes {job_id} in an object key template.
func ExpandKey(template, jobID string) string {
	return strings.ReplaceAll(template, "{job_id}", jobID)
}

// Package gcsarchive keeps raw ADVBox pages in a Cloud Storage bucket so a
// sync run can be inspected after the fact.
package gcsarchive

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// DefaultPrefix is the object prefix used when none is configured.
const DefaultPrefix = "advbox/financial"

// Archiver writes one object per fetched page:
// <prefix>/<runID>/<offset>.json
type Archiver struct {
	storage StorageService
	bucket  string
	prefix  string
}

// New returns an Archiver writing to bucket under prefix.
func New(storage StorageService, bucket, prefix string) *Archiver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Archiver{storage: storage, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectName returns the object path of the page at offset in runID.
func (a *Archiver) ObjectName(runID string, offset int) string {
	return path.Join(a.prefix, runID, fmt.Sprintf("%06d.json", offset))
}

// URI returns the gs:// URI of the page at offset in runID.
func (a *Archiver) URI(runID string, offset int) string {
	return "gs://" + a.bucket + "/" + a.ObjectName(runID, offset)
}

// ArchivePage stores the raw body of one page.
func (a *Archiver) ArchivePage(ctx context.Context, runID string, offset int, body []byte) error {
	if runID == "" {
		return fmt.Errorf("ArchivePage: run id is required")
	}
	object := a.ObjectName(runID, offset)
	if err := a.storage.WriteObject(ctx, a.bucket, object, "application/json", body); err != nil {
		return fmt.Errorf("ArchivePage: %s: %w", object, err)
	}
	return nil
}

// Fetch downloads an archived page by its gs:// URI.
func (a *Archiver) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	data, err := a.storage.ReadObject(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/object into its bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

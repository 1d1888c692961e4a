package storage

import (
	"context"
	"io"
)

// Uploader copies a finished recording to remote object storage.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

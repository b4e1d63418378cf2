// Package archive stores full command output that is too large to surface
// inline, keeping only a preview in the job record.
package archive

import (
	"context"
	"io"
)

type Storage interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

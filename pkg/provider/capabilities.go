package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces.
//
// The core Provider interface only answers metadata questions. Staging needs
// ObjectGetter, artifact upload needs ObjectPutter and the preflight write
// probe needs ObjectDeleter; callers detect them with type assertions.

// ObjectGetter can download objects as a stream.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// ObjectPutter can create/overwrite objects.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectDeleter can remove objects. Deleting a missing object is not an error.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

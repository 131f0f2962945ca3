package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCS implements Store on top of Google Cloud Storage. Conditional creates
// use an if-generation-match-zero precondition, which the service rejects
// with HTTP 412 when the object already exists.
type GCS struct {
	client *storage.Client
}

// NewGCS wraps an existing storage client.
func NewGCS(client *storage.Client) *GCS {
	return &GCS{client: client}
}

func (g *GCS) Put(ctx context.Context, bucket, name string, data []byte) error {
	w := g.client.Bucket(bucket).Object(name).NewWriter(ctx)
	if err := writeAll(w, data); err != nil {
		return fmt.Errorf("unable to write blob %s/%s: %w", bucket, name, translate(err))
	}
	return nil
}

func (g *GCS) Create(ctx context.Context, bucket, name string, data []byte) error {
	obj := g.client.Bucket(bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	if err := writeAll(obj.NewWriter(ctx), data); err != nil {
		return fmt.Errorf("unable to create blob %s/%s: %w", bucket, name, translate(err))
	}
	return nil
}

func (g *GCS) Get(ctx context.Context, bucket, name string) ([]byte, error) {
	r, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to read blob %s/%s: %w", bucket, name, translate(err))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read blob %s/%s: %w", bucket, name, translate(err))
	}
	return data, nil
}

func (g *GCS) Delete(ctx context.Context, bucket, name string) error {
	if err := g.client.Bucket(bucket).Object(name).Delete(ctx); err != nil {
		return fmt.Errorf("unable to delete blob %s/%s: %w", bucket, name, translate(err))
	}
	return nil
}

// writeAll pushes data through the writer and closes it. Precondition
// failures on small objects surface at Close rather than Write, so both
// errors are funneled to the caller.
func writeAll(w *storage.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// translate maps storage client failures onto the package sentinels so
// callers can branch with errors.Is.
func translate(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return ErrNotFound
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusPreconditionFailed:
			return ErrPreconditionFailed
		case http.StatusNotFound:
			return ErrNotFound
		}
	}
	return err
}

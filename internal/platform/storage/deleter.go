package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ErrObjectNotFound is returned when the target object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Deleter removes objects from Cloud Storage.
type Deleter struct {
	client *gcs.Client
}

// NewDeleter constructs a Deleter backed by the provided Cloud Storage client.
func NewDeleter(client *gcs.Client) (*Deleter, error) {
	if client == nil {
		return nil, errors.New("storage deleter: client is required")
	}
	return &Deleter{client: client}, nil
}

// DeleteObject removes a single object. Deleting an absent object returns ErrObjectNotFound.
func (d *Deleter) DeleteObject(ctx context.Context, bucket, object string) error {
	if d == nil || d.client == nil {
		return errors.New("storage deleter: client is not initialised")
	}

	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	if bucket == "" || object == "" {
		return errors.New("storage deleter: bucket and object must be provided")
	}

	err := d.client.Bucket(bucket).Object(object).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("storage deleter: delete %s/%s: %w", bucket, object, err)
	}
	return nil
}

// DeletePrefix removes every object under the given prefix and reports how many were deleted.
func (d *Deleter) DeletePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	if d == nil || d.client == nil {
		return 0, errors.New("storage deleter: client is not initialised")
	}

	bucket = strings.TrimSpace(bucket)
	prefix = strings.TrimSpace(prefix)
	if bucket == "" || prefix == "" {
		return 0, errors.New("storage deleter: bucket and prefix must be provided")
	}

	handle := d.client.Bucket(bucket)
	it := handle.Objects(ctx, &gcs.Query{Prefix: prefix})

	deleted := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("storage deleter: list %s/%s: %w", bucket, prefix, err)
		}
		if err := handle.Object(attrs.Name).Delete(ctx); err != nil {
			if errors.Is(err, gcs.ErrObjectNotExist) {
				continue
			}
			return deleted, fmt.Errorf("storage deleter: delete %s/%s: %w", bucket, attrs.Name, err)
		}
		deleted++
	}
	return deleted, nil
}

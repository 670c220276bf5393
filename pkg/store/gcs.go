package store

import (
	"context"
	"errors"
	"io"
	"path"

	"cloud.google.com/go/storage"

	"github.com/TBD54566975/hubnode/pkg/errs"
)

// GCSDataStore keeps record payloads in a Google Cloud Storage bucket, same
// key layout as the S3 store.
type GCSDataStore struct {
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSDataStore(client *storage.Client, bucket, prefix string) *GCSDataStore {
	return &GCSDataStore{bucket: client.Bucket(bucket), prefix: prefix}
}

func (s *GCSDataStore) object(tenant, messageCID, dataCID string) *storage.ObjectHandle {
	return s.bucket.Object(path.Join(s.prefix, tenant, messageCID, dataCID))
}

func (s *GCSDataStore) Put(ctx context.Context, tenant, messageCID, dataCID string, data io.Reader) error {
	w := s.object(tenant, messageCID, dataCID).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return errs.Store(err, "uploading data %s", dataCID)
	}
	if err := w.Close(); err != nil {
		return errs.Store(err, "finalizing data %s", dataCID)
	}
	return nil
}

func (s *GCSDataStore) Get(ctx context.Context, tenant, messageCID, dataCID string) (io.ReadCloser, error) {
	r, err := s.object(tenant, messageCID, dataCID).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errs.NotFound("data %s not found", dataCID)
		}
		return nil, errs.Store(err, "downloading data %s", dataCID)
	}
	return r, nil
}

func (s *GCSDataStore) Delete(ctx context.Context, tenant, messageCID, dataCID string) error {
	if err := s.object(tenant, messageCID, dataCID).Delete(ctx); err != nil &&
		!errors.Is(err, storage.ErrObjectNotExist) {
		return errs.Store(err, "deleting data %s", dataCID)
	}
	return nil
}

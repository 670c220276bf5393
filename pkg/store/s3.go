package store

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/TBD54566975/hubnode/pkg/errs"
)

// S3DataStore keeps record payloads in an S3 bucket under
// <prefix>/<tenant>/<messageCid>/<dataCid>.
type S3DataStore struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3DataStore(client *s3.Client, bucket, prefix string) *S3DataStore {
	return &S3DataStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3DataStore) key(tenant, messageCID, dataCID string) string {
	return path.Join(s.prefix, tenant, messageCID, dataCID)
}

func (s *S3DataStore) Put(ctx context.Context, tenant, messageCID, dataCID string, data io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, messageCID, dataCID)),
		Body:   data,
	})
	if err != nil {
		return errs.Store(err, "uploading data %s", dataCID)
	}
	return nil
}

func (s *S3DataStore) Get(ctx context.Context, tenant, messageCID, dataCID string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, messageCID, dataCID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, errs.NotFound("data %s not found", dataCID)
		}
		return nil, errs.Store(err, "downloading data %s", dataCID)
	}
	return out.Body, nil
}

func (s *S3DataStore) Delete(ctx context.Context, tenant, messageCID, dataCID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, messageCID, dataCID)),
	})
	if err != nil {
		return errs.Store(err, "deleting data %s", dataCID)
	}
	return nil
}

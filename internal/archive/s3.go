package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the narrow subset of *s3.Client this package uses, so tests can
// substitute a fake without a real AWS endpoint.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store writes blobs to a bucket via the AWS SDK v2 S3 client.
type S3Store struct {
	Client s3API
	Bucket string
	Prefix string
}

// NewS3Store builds an S3Store for bucket, prefixing every key with prefix
// (if non-empty, joined with "/").
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{Client: client, Bucket: bucket, Prefix: prefix}
}

// Put uploads data to Bucket/Prefix/key.
func (s *S3Store) Put(ctx context.Context, key string, data io.Reader) error {
	fullKey := key
	if s.Prefix != "" {
		fullKey = s.Prefix + "/" + key
	}

	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.Bucket,
		Key:    &fullKey,
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", fullKey, err)
	}
	return nil
}

// Exists reports whether key's marker object (key/results.json) is already
// present in the bucket.
func (s *S3Store) Exists(ctx context.Context, key string) bool {
	fullKey := key + "/results.json"
	if s.Prefix != "" {
		fullKey = s.Prefix + "/" + fullKey
	}
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.Bucket, Key: &fullKey})
	return err == nil
}

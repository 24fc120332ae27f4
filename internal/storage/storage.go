// Package storage keeps SOS audio recordings outside the database.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/xid"
)

// AudioStore persists one recording and returns the key it was stored under.
// An empty key with a nil error means the recording was not kept.
type AudioStore interface {
	PutAudio(ctx context.Context, username string, data []byte) (string, error)
}

// NoopStore discards recordings. The audio still reaches contacts by email.
type NoopStore struct{}

func (NoopStore) PutAudio(context.Context, string, []byte) (string, error) { return "", nil }

// putObjectAPI is the part of *s3.Client we use.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes recordings to {prefix}/{username}/{xid}.webm.
type S3Store struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3Store loads credentials from the default AWS chain (environment,
// shared config, instance role). region overrides the chain's region when set.
func NewS3Store(ctx context.Context, bucket, region, prefix string) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: loading aws config: %w", err)
	}
	return newS3Store(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func newS3Store(client putObjectAPI, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a new recording by username.
func (s *S3Store) Key(username string) string {
	return path.Join(s.prefix, username, xid.New().String()+".webm")
}

func (s *S3Store) PutAudio(ctx context.Context, username string, data []byte) (string, error) {
	key := s.Key(username)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String("audio/webm"),
		ContentLength: aws.Int64(int64(len(data))),
		Body:          bytes.NewReader(data),
		Metadata:      map[string]string{"username": username},
	})
	if err != nil {
		return "", fmt.Errorf("storage: uploading %s: %w", key, err)
	}
	return key, nil
}

// Package blobstore stores file content in an S3-compatible object store.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/pindrop/internal/server/config"
	"github.com/google/uuid"
)

// Location identifies a stored object and a URL it can be fetched from.
type Location struct {
	Key string
	URL string
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store is the blob store backed by one S3 bucket.
type S3Store struct {
	objects    objectAPI
	presign    presignAPI
	bucket     string
	presignTTL time.Duration
	timeout    time.Duration
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// New builds an S3Store from the server configuration. Path-style addressing
// is used so MinIO and other self-hosted endpoints work without DNS setup.
func New(ctx context.Context, cfg *config.Config) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Store{
		objects:    client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.S3Bucket,
		presignTTL: cfg.PresignTTL,
		timeout:    cfg.BlobTimeout,
	}, nil
}

// NewStorageKey returns a fresh, unguessable object key under the bucket's prefix.
func NewStorageKey(bucketID string, now time.Time) string {
	return fmt.Sprintf("buckets/%s/%d/%02d/%02d/%s", bucketID, now.Year(), now.Month(), now.Day(), uuid.New())
}

func (s *S3Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Put uploads body under key. Non-seekable bodies are buffered first; the
// SDK needs to rewind for signing and retries.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Location, error) {
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return Location{}, fmt.Errorf("read upload body: %w", err)
		}
		rs = bytes.NewReader(data)
		size = int64(len(data))
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          rs,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	if _, err := s.objects.PutObject(callCtx, in); err != nil {
		return Location{}, fmt.Errorf("s3 put %s: %w", key, err)
	}

	url, err := s.PresignGet(ctx, key, "")
	if err != nil {
		return Location{}, err
	}
	return Location{Key: key, URL: url}, nil
}

// Delete removes the object under key. A missing object counts as deleted.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	_, err := s.objects.DeleteObject(callCtx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited download URL. When filename is set the
// response is served as an attachment with that name.
func (s *S3Store) PresignGet(ctx context.Context, key, filename string) (string, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		in.ResponseContentDisposition = aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}

	req, err := s.presign.PresignGetObject(ctx, in, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return req.URL, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

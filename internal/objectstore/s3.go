package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Config holds connection settings for an S3-compatible store.
type S3Config struct {
	Region          string
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// PublicBaseURL, when set, is used to build object URLs instead of
	// the endpoint (e.g. a CDN in front of the bucket).
	PublicBaseURL string
}

// S3Store implements Store against an S3-compatible object store.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     S3Config
}

// NewS3Store builds an S3 client from static credentials.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("objectstore: empty bucket")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if strings.TrimSpace(cfg.Endpoint) != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
	}, nil
}

// PresignPut issues a presigned PUT URL for the given key.
func (s *S3Store) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", classify("presign", err)
	}
	return req.URL, nil
}

// Stat heads the object and returns its authoritative attributes.
func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, classify("stat", err)
	}
	info := ObjectInfo{Key: key}
	if head.ContentLength != nil {
		info.SizeBytes = *head.ContentLength
	}
	if head.ContentType != nil {
		info.ContentType = *head.ContentType
	}
	if head.ETag != nil {
		info.ETag = strings.Trim(*head.ETag, `"`)
	}
	return info, nil
}

// Delete removes the object. A missing object maps to ErrObjectNotFound.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("delete", err)
	}
	return nil
}

// ObjectURL builds the canonical URL for a stored object.
func (s *S3Store) ObjectURL(key string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" {
		endpoint := strings.TrimRight(s.cfg.Endpoint, "/")
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.Bucket, s.cfg.Region)
			return endpoint + "/" + escapeKey(key)
		}
		base = endpoint + "/" + s.cfg.Bucket
	}
	return base + "/" + escapeKey(key)
}

// escapeKey escapes each path segment while keeping separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// classify maps SDK errors onto the transient/permanent taxonomy.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return ErrObjectNotFound
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return &BackendError{Op: op, Transient: true, Err: err}
		}
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) {
			status := respErr.HTTPStatusCode()
			if status == 404 {
				return ErrObjectNotFound
			}
			if status == 429 || status >= 500 {
				return &BackendError{Op: op, Transient: true, Err: err}
			}
		}
		return &BackendError{Op: op, Transient: false, Err: err}
	}
	// Anything below the protocol (dial, reset, timeout) is retryable.
	return &BackendError{Op: op, Transient: true, Err: err}
}

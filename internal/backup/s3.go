package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for the S3 backup target.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// Key joins the prefix and an object name.
func (c *S3Config) Key(name string) string {
	if c.Prefix == "" {
		return name
	}
	return path.Join(c.Prefix, name)
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
// An "s3://" scheme is accepted and ignored.
func ParseS3Path(p string) (bucket, prefix string) {
	p = strings.TrimPrefix(p, "s3://")
	parts := strings.SplitN(p, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix
}

// ObjectPutter is the part of *s3.Client used by S3Sink.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client creates an S3 client from the AWS default credential chain
// (env vars, shared config, IAM role).
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3Opts...), nil
}

// S3Sink spools the export to a temporary file and uploads it as a single
// object on Close. The upload needs a known length, and the body length of
// an export is not known until it ends.
type S3Sink struct {
	ctx    context.Context
	client ObjectPutter
	bucket string
	key    string

	spool  *os.File
	closed bool
}

// NewS3Sink creates a sink that uploads to bucket/key. ctx bounds the upload.
func NewS3Sink(ctx context.Context, client ObjectPutter, bucket, key string) (*S3Sink, error) {
	spool, err := os.CreateTemp("", "enexport-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &S3Sink{
		ctx:    ctx,
		client: client,
		bucket: bucket,
		key:    key,
		spool:  spool,
	}, nil
}

// Location returns the s3:// URI of the object.
func (s *S3Sink) Location() string {
	return "s3://" + s.bucket + "/" + s.key
}

// Write implements io.Writer.
func (s *S3Sink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	return s.spool.Write(p)
}

// Close uploads the spooled bytes and removes the spool file.
func (s *S3Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer os.Remove(s.spool.Name())
	defer s.spool.Close()

	size, err := s.spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("spool size: %w", err)
	}
	if _, err := s.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool: %w", err)
	}

	_, err = s.client.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          s.spool,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", s.Location(), err)
	}
	return nil
}

// S3Factory stores backups as objects under cfg.Prefix in cfg.Bucket.
func S3Factory(client ObjectPutter, cfg S3Config) Factory {
	return func(ctx context.Context, name string) (io.WriteCloser, string, error) {
		sink, err := NewS3Sink(ctx, client, cfg.Bucket, cfg.Key(name))
		if err != nil {
			return nil, "", err
		}
		return sink, sink.Location(), nil
	}
}

package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/portal/pkg/observability"
)

// S3Config locates the archive bucket
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// ObjectPutter is the slice of the S3 API the archiver needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client from cfg. Static keys are used when both
// are set, otherwise the default credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Archiver writes expiring entries as one JSON-lines object per sweep
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	newID  func() string
}

// NewS3Archiver creates an archiver writing under prefix in bucket
func NewS3Archiver(client ObjectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		newID:  func() string { return uuid.NewString() },
	}
}

// ObjectKey returns the key an archive for cutoff is written to
func (a *S3Archiver) ObjectKey(cutoff time.Time, id string) string {
	cutoff = cutoff.UTC()
	return path.Join(a.prefix, "login-activity", cutoff.Format("2006/01/02"),
		fmt.Sprintf("%s-%s.jsonl", cutoff.Format("20060102T150405Z"), id))
}

// Archive uploads entries
func (a *S3Archiver) Archive(ctx context.Context, cutoff time.Time, entries []Entry) error {
	key := a.ObjectKey(cutoff, a.newID())

	ctx, span := observability.Tracer().Start(ctx, "activity.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.Int("activity.entries", len(entries)),
		),
	)
	defer span.End()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to encode entries")
			return fmt.Errorf("failed to encode entry %d: %w", entries[i].ID, err)
		}
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
			"entries": fmt.Sprintf("%d", len(entries)),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload archive to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "archive uploaded")
	return nil
}

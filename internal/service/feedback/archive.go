package feedback

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archiver stores raw webhook payloads for audit. Failures are logged and
// do not affect ingestion.
type Archiver interface {
	Archive(ctx context.Context, payload []byte) (string, error)
}

// S3PutAPI is the subset of the S3 client used by S3Archiver.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes gzip-compressed payloads under
// <prefix>/YYYY/MM/DD/<uuid>.json.gz.
type S3Archiver struct {
	client S3PutAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver builds an archiver using the default AWS credential chain.
func NewS3Archiver(ctx context.Context, region, bucket string) (*S3Archiver, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3ArchiverWithClient(s3.NewFromConfig(cfg), bucket, "feedback"), nil
}

// NewS3ArchiverWithClient wraps an existing S3 client.
func NewS3ArchiverWithClient(client S3PutAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

func (a *S3Archiver) Archive(ctx context.Context, payload []byte) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}

	key := path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), uuid.New().String()+".json.gz")
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return key, nil
}

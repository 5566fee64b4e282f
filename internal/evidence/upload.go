package evidence

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader puts a finished evidence bundle into an S3-compatible bucket for
// durable off-box retention. Local zip writing never depends on this: a nil
// Uploader (no bucket configured) just means the caller skips the upload.
type Uploader struct {
	client *s3.Client
	bucket string
}

func NewUploader(client *s3.Client, bucket string) *Uploader {
	return &Uploader{client: client, bucket: bucket}
}

// Upload stores body under key, returning the bucket-relative location.
func (u *Uploader) Upload(ctx context.Context, key string, body []byte) (string, error) {
	if u == nil || u.client == nil {
		return "", fmt.Errorf("evidence uploader not configured")
	}
	up := manager.NewUploader(u.client)
	_, err := up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload evidence package %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the file-storage primitive consumed by the document and
// photo features. Out of scope for the reconciliation core; views reach it
// only through this port.
type Uploader interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
}

// S3Uploader stores objects in S3 (or LocalStack in local dev) and returns
// a public URL.
type S3Uploader struct {
	client    *s3.Client
	publicURL string // base URL objects are served from, e.g. the CDN origin
}

// NewS3Uploader wires an uploader. publicURL may be empty, in which case
// the standard S3 URL form is returned.
func NewS3Uploader(client *s3.Client, publicURL string) *S3Uploader {
	return &S3Uploader{client: client, publicURL: strings.TrimSuffix(publicURL, "/")}
}

// Upload writes the object and returns its public URL.
func (u *S3Uploader) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	key := strings.TrimPrefix(path, "/")

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}

	if u.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", u.publicURL, bucket, key), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key), nil
}

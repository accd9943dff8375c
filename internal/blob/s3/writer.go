package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/davonroy/oddsmesh/internal/domain"
)

// minPartSize is the S3 floor for multipart parts (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.ObjectWriter against the archive bucket. One
// upload manager is shared across calls; PutMultipart overrides its part
// size per upload.
type Writer struct {
	api      *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewWriter returns a Writer over the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		api:      c.API(),
		bucket:   c.Bucket(),
		uploader: manager.NewUploader(c.API()),
	}
}

// Put uploads body in a single request. Fine for anything that fits in
// memory; snapshot payloads past the multipart threshold go through
// PutMultipart instead.
func (w *Writer) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart uploads body in concurrent parts of partSize bytes, clamped
// up to the S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, key string, body io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   body,
	}, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", key, err)
	}
	return nil
}

// Delete removes the object at key. Deleting an absent key is not an error.
func (w *Writer) Delete(ctx context.Context, key string) error {
	_, err := w.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3blob: delete %s: %w", key, err)
	}
	return nil
}

var _ domain.ObjectWriter = (*Writer)(nil)

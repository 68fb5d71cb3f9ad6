package objectstore

import (
	"context"
	"time"
)

// MultipartUpload describes an in-progress multipart session as reported by
// the store.
type MultipartUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

// Client is the object store boundary: one multipart session per planner
// call, presigned per-part write capabilities, and the two release paths the
// deletion pipeline uses.
type Client interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	DeleteObject(ctx context.Context, key string) error
	ListMultipartUploads(ctx context.Context) ([]MultipartUpload, error)
}

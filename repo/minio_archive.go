package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oklog/ulid/v2"

	"github.com/lechuhuuha/event_relay/internal/domain"
	"github.com/lechuhuuha/event_relay/util"
)

type minioObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	WriteObject(ctx context.Context, bucket, object string, payload []byte) error
}

type minioObjectStoreClient struct {
	client *minio.Client
}

func newMinIOObjectStoreClient(endpoint, accessKey, secretKey string, useSSL bool) (minioObjectStore, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &minioObjectStoreClient{client: minioClient}, nil
}

func (c *minioObjectStoreClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return c.client.BucketExists(ctx, bucket)
}

func (c *minioObjectStoreClient) WriteObject(ctx context.Context, bucket, object string, payload []byte) error {
	_, err := c.client.PutObject(
		ctx,
		bucket,
		object,
		bytes.NewReader(payload),
		int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	return err
}

// MinIOArchiveOptions configures a MinIO-backed archive.
type MinIOArchiveOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string

	client minioObjectStore
	now    func() time.Time
}

// MinIOArchive stores each rejected event as one JSON object under
// <prefix>/<date>/<hour>/<ulid>.json.
type MinIOArchive struct {
	client minioObjectStore
	bucket string
	prefix string
	now    func() time.Time
}

type archivedEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Reason     string    `json:"reason"`
	Key        []byte    `json:"key,omitempty"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
	RejectedAt time.Time `json:"rejected_at"`
}

// NewMinIOArchive creates a MinIO-backed archive.
func NewMinIOArchive(opts MinIOArchiveOptions) (*MinIOArchive, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	prefix := strings.Trim(strings.TrimSpace(opts.Prefix), "/")
	if prefix == "" {
		prefix = util.DefaultArchivePrefix
	}

	storeClient := opts.client
	if storeClient == nil {
		endpoint := strings.TrimSpace(opts.Endpoint)
		accessKey := strings.TrimSpace(opts.AccessKey)
		secretKey := strings.TrimSpace(opts.SecretKey)
		if endpoint == "" {
			return nil, errors.New("minio endpoint is required")
		}
		if accessKey == "" {
			return nil, errors.New("minio access key is required")
		}
		if secretKey == "" {
			return nil, errors.New("minio secret key is required")
		}
		client, err := newMinIOObjectStoreClient(endpoint, accessKey, secretKey, opts.UseSSL)
		if err != nil {
			return nil, err
		}
		storeClient = client
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}

	return &MinIOArchive{
		client: storeClient,
		bucket: bucket,
		prefix: prefix,
		now:    now,
	}, nil
}

// CheckReady validates that the configured bucket is reachable.
func (r *MinIOArchive) CheckReady(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("check minio bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("minio bucket %q does not exist", r.bucket)
	}
	return nil
}

// Archive writes the event to a new object. Objects are never overwritten.
func (r *MinIOArchive) Archive(ctx context.Context, event domain.RejectedEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rejectedAt := event.RejectedAt.UTC()
	if rejectedAt.IsZero() {
		rejectedAt = r.now().UTC()
	}
	id := ulid.MustNew(ulid.Timestamp(rejectedAt), ulid.DefaultEntropy())

	data, err := sonic.Marshal(archivedEvent{
		ID:         id.String(),
		Kind:       event.Kind,
		Reason:     event.Reason,
		Key:        event.Request.Key,
		Payload:    event.Request.Payload,
		ReceivedAt: event.Request.ReceivedAt.UTC(),
		RejectedAt: rejectedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal rejected event: %w", err)
	}

	object := r.objectName(rejectedAt, id)
	if err := r.client.WriteObject(ctx, r.bucket, object, data); err != nil {
		return fmt.Errorf("write object %q: %w", object, err)
	}
	return nil
}

func (r *MinIOArchive) objectName(ts time.Time, id ulid.ULID) string {
	return path.Join(
		r.prefix,
		ts.Format(util.DateLayout),
		ts.Format(util.HourLayout),
		id.String()+".json",
	)
}

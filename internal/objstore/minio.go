package objstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures the S3 connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// MinioGateway implements Gateway against any S3-compatible endpoint
// (MinIO, AWS, localstack).
type MinioGateway struct {
	client *minio.Client
	logger *log.Logger
}

// NewMinioGateway builds the client. No network traffic happens here;
// call Connect to probe reachability.
func NewMinioGateway(opts Options) (*MinioGateway, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client for %s: %w", opts.Endpoint, err)
	}

	return &MinioGateway{
		client: client,
		logger: log.New(log.Writer(), "[ObjStore] ", log.LstdFlags),
	}, nil
}

// Connect probes the endpoint once by checking the bucket exists. Callers
// decide whether a failure here is fatal.
func (g *MinioGateway) Connect(ctx context.Context, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := g.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("object store unreachable (%s): %w", g.client.EndpointURL(), err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}

	g.logger.Printf("✅ Connected to object store %s (bucket=%s)", g.client.EndpointURL(), bucket)
	return nil
}

// List drains the bucket listing into a slice.
func (g *MinioGateway) List(ctx context.Context, bucket string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for info := range g.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", bucket, info.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
			ETag:         info.ETag,
		})
	}

	return objects, nil
}

// Fetch reads the whole object into memory.
func (g *MinioGateway) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, g.wrap(bucket, key, err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces NotFound before we read.
	if _, err := obj.Stat(); err != nil {
		return nil, g.wrap(bucket, key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, g.wrap(bucket, key, err)
	}
	return data, nil
}

// Open returns a streaming reader plus the object size.
func (g *MinioGateway) Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, g.wrap(bucket, key, err)
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, g.wrap(bucket, key, err)
	}

	return obj, stat.Size, nil
}

// wrap maps minio errors onto the package's error kinds.
func (g *MinioGateway) wrap(bucket, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	return fmt.Errorf("get %s/%s: %w", bucket, key, err)
}

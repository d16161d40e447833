package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures an S3-compatible bucket.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base uploaded objects are served from. Empty means
	// <scheme>://<endpoint>/<bucket>.
	PublicURL string
}

// MinioStore puts uploads and their thumbnails into a bucket, keyed by
// character name.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}
	return &MinioStore{client: client, bucket: opts.Bucket, publicURL: publicURL}, nil
}

func (s *MinioStore) Put(ctx context.Context, up Upload) (Stored, error) {
	if err := up.validate(); err != nil {
		return Stored{}, err
	}
	name, err := cleanName(up.FileName)
	if err != nil {
		return Stored{}, err
	}
	folder, err := cleanName(up.CharacterName)
	if err != nil {
		return Stored{}, err
	}

	key := path.Join(folder, name)
	if err := s.put(ctx, key, up.Data, contentType(name)); err != nil {
		return Stored{}, err
	}
	out := Stored{URL: s.publicURL + "/" + key}

	if thumb, err := Thumbnail(up.Data, ThumbnailWidth); err == nil {
		thumbKey := path.Join(folder, "thumbnails", name)
		if err := s.put(ctx, thumbKey, thumb, "image/jpeg"); err == nil {
			out.ThumbnailURL = s.publicURL + "/" + thumbKey
		}
	}
	return out, nil
}

func (s *MinioStore) Read(ctx context.Context, url string) ([]byte, error) {
	key, ok := strings.CutPrefix(url, s.publicURL+"/")
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (s *MinioStore) put(ctx context.Context, key string, data []byte, ctype string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ctype,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

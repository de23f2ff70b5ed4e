package store

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
)

// S3Config holds the settings for an S3-compatible FileStore.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseTLS    bool
}

// S3 is a FileStore on an S3-compatible object store.
type S3 struct {
	client *minio.Client
	cfg    S3Config
}

var _ FileStore = &S3{}

// OpenS3 opens the store and creates the bucket if it does not exist.
func OpenS3(ctx context.Context, cfg S3Config) (*S3, error) {
	debug.Log("open s3 store at %v/%v", cfg.Endpoint, cfg.Bucket)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio.New")
	}

	s := &S3{client: client, cfg: cfg}

	found, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "BucketExists")
	}
	if !found {
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, errors.Wrap(err, "MakeBucket")
		}
	}

	return s, nil
}

func (s *S3) objName(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + key
}

func isS3NotFound(err error) bool {
	var e minio.ErrorResponse
	return errors.As(err, &e) && (e.Code == "NoSuchKey" || e.Code == "NoSuchBucket")
}

func (s *S3) Put(ctx context.Context, key string, rd io.Reader) (int64, error) {
	debug.Log("Put %v", key)

	size := int64(-1)
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}

	info, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objName(key), rd, size, opts)
	if err != nil {
		return 0, errors.Wrap(err, "client.PutObject")
	}
	return info.Size, nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	debug.Log("Open %v", key)

	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "client.GetObject")
	}

	// GetObject is lazy, stat to surface missing keys here
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isS3NotFound(err) {
			return nil, errors.Wrapf(ErrNotExist, "open %v", key)
		}
		return nil, errors.Wrap(err, "Object.Stat")
	}

	return obj, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	debug.Log("Delete %v", key)
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.objName(key), minio.RemoveObjectOptions{})
	return errors.Wrap(err, "client.RemoveObject")
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.cfg.Bucket, s.objName(key), minio.StatObjectOptions{})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "client.StatObject")
	}
	return true, nil
}

func (s *S3) Stat(ctx context.Context, key string) (int64, error) {
	debug.Log("Stat %v", key)
	fi, err := s.client.StatObject(ctx, s.cfg.Bucket, s.objName(key), minio.StatObjectOptions{})
	if err != nil {
		if isS3NotFound(err) {
			return 0, errors.Wrapf(ErrNotExist, "stat %v", key)
		}
		return 0, errors.Wrap(err, "client.StatObject")
	}
	return fi.Size, nil
}

func (s *S3) List(ctx context.Context, prefix string, fn func(key string, size int64) error) error {
	debug.Log("List %v", prefix)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    s.objName(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return obj.Err
		}
		key := obj.Key
		if s.cfg.Prefix != "" {
			key = strings.TrimPrefix(key, strings.TrimSuffix(s.cfg.Prefix, "/")+"/")
		}
		if err := fn(key, obj.Size); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *S3) Close() error {
	return nil
}

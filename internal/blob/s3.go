package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

const (
	keyPrefix   = "photos/"
	hashMetaKey = "hash"
)

// S3Config holds the connection settings for an S3-compatible bucket.
type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string // e.g. http://localhost:9000 for MinIO; empty for AWS
	AccessKey    string
	SecretKey    string
}

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps blobs in a single bucket under photos/<hash>/<uuid>. The blob
// id is the object key, so the hash prefix doubles as the lookup index and
// the hash is also written as object metadata.
type S3Store struct {
	client s3API
	bucket string
	logger *slog.Logger
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket must not be empty")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg.Bucket, logger), nil
}

func newS3Store(client s3API, bucket string, logger *slog.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, logger: logger}
}

// FindByHash implements [Store].
func (s *S3Store) FindByHash(ctx context.Context, hash string) (string, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(keyPrefix + hash + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("listing blobs for hash %s: %w", hash, err)
	}
	if len(out.Contents) == 0 {
		return "", ErrNotFound
	}
	return aws.ToString(out.Contents[0].Key), nil
}

// Upload implements [Store].
func (s *S3Store) Upload(ctx context.Context, r io.ReadSeeker, hash string) (string, error) {
	key := keyPrefix + hash + "/" + uuid.NewString()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("image/jpeg"),
		Metadata:    map[string]string{hashMetaKey: hash},
	})
	if err != nil {
		return "", fmt.Errorf("uploading blob %s: %w", key, err)
	}
	s.logger.Debug("blob uploaded", "id", key)
	return key, nil
}

// Download implements [Store].
func (s *S3Store) Download(ctx context.Context, id string) (io.ReadCloser, Meta, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("downloading blob %s: %w", id, err)
	}
	meta := Meta{Hash: out.Metadata[hashMetaKey], Size: aws.ToInt64(out.ContentLength)}
	if meta.Hash == "" {
		meta.Hash = hashFromKey(id)
	}
	return out.Body, meta, nil
}

// List implements [Store].
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing blobs: %w", err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, aws.ToString(obj.Key))
		}
	}
	return ids, nil
}

// hashFromKey extracts <hash> from photos/<hash>/<uuid>.
func hashFromKey(key string) string {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return ""
	}
	hash, _, _ := strings.Cut(rest, "/")
	return hash
}

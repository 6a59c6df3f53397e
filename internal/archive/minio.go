package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/trendboard/opportunity-planner/internal/store/model"
	"go.uber.org/zap"
)

const defaultRegion = "us-east-1"

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	region          string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		region: defaultRegion,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioArchiver writes every terminal board as a JSON document to an
// S3-compatible bucket.
type MinioArchiver struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioArchiver(opts ...MinioOpts) (*MinioArchiver, error) {
	cfg := newConfig(opts...)
	if cfg.endpoint == "" {
		return nil, errors.New("archive endpoint is not set")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating minio client")
	}

	return &MinioArchiver{cfg: cfg, client: client}, nil
}

func (a *MinioArchiver) Archive(ctx context.Context, board *model.Board) error {
	data, err := json.Marshal(board)
	if err != nil {
		return errors.Wrapf(err, "encoding board %s", board.ID)
	}

	key := ObjectKey(board)
	_, err = a.client.PutObject(ctx, a.cfg.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"subject-id":  board.SubjectID,
			"board-state": string(board.State),
		},
	})
	if err != nil {
		return errors.Wrapf(err, "uploading board %s to %s/%s", board.ID, a.cfg.bucket, key)
	}

	zap.S().Named("archive").Debugw("board archived", "board_id", board.ID, "bucket", a.cfg.bucket, "key", key)
	return nil
}

// ObjectKey groups boards by subject and orders them by creation time.
func ObjectKey(board *model.Board) string {
	return fmt.Sprintf("boards/%s/%s-%s.json", board.SubjectID, board.CreatedAt.UTC().Format("20060102T150405Z"), board.ID)
}

func (a *MinioArchiver) Type() string {
	return "minio"
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithRegion(region string) MinioOpts {
	return func(c *minioConfig) {
		c.region = region
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}

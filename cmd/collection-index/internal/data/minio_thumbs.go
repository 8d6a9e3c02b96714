package data

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mediavault/cmd/collection-index/internal/domain"
)

const minioProbeTimeout = 5 * time.Second

// MinioConfig 对象存储配置
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// MinioThumbnailSource 从对象存储拉取缩略图（只读）
type MinioThumbnailSource struct {
	client *minio.Client
	bucket string
	log    *log.Helper
}

var _ domain.ThumbnailSource = (*MinioThumbnailSource)(nil)

// NewMinioThumbnailSource 创建对象存储缩略图源并验证bucket可达
func NewMinioThumbnailSource(cfg *MinioConfig, logger log.Logger) (*MinioThumbnailSource, error) {
	helper := log.NewHelper(log.With(logger, "module", "data/minio-thumbs"))

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), minioProbeTimeout)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("probe minio bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		// 采集侧负责建桶，这里只提醒
		helper.Warnf("minio bucket %s does not exist yet", cfg.Bucket)
	}

	helper.Infof("connected to minio at %s bucket=%s", cfg.Endpoint, cfg.Bucket)
	return &MinioThumbnailSource{client: client, bucket: cfg.Bucket, log: helper}, nil
}

// FetchThumbnail 按对象键拉取缩略图字节
func (s *MinioThumbnailSource) FetchThumbnail(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get thumbnail object %s: %w", ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: object %s", domain.ErrThumbnailNotCached, ref)
		}
		return nil, fmt.Errorf("read thumbnail object %s: %w", ref, err)
	}
	return data, nil
}

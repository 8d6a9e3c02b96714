package data

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sony/gobreaker"

	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/resilience"
)

// ResilientThumbnailSource 带熔断保护的缩略图源
// 重建批量暖缓存时对象存储故障不应拖垮整个重建，
// 熔断打开后快速失败，重建按跳过计数继续推进
type ResilientThumbnailSource struct {
	inner   domain.ThumbnailSource
	breaker *gobreaker.CircuitBreaker
	log     *log.Helper
}

var _ domain.ThumbnailSource = (*ResilientThumbnailSource)(nil)

// NewResilientThumbnailSource 包装缩略图源
func NewResilientThumbnailSource(inner domain.ThumbnailSource, cfg resilience.BreakerConfig, logger log.Logger) *ResilientThumbnailSource {
	return &ResilientThumbnailSource{
		inner:   inner,
		breaker: resilience.NewBreaker("thumbnail-source", cfg, logger),
		log:     log.NewHelper(log.With(logger, "module", "data/thumbnail-resilient")),
	}
}

// FetchThumbnail 经熔断器拉取缩略图
func (s *ResilientThumbnailSource) FetchThumbnail(ctx context.Context, ref string) ([]byte, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.inner.FetchThumbnail(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

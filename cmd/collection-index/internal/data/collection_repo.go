package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"

	"mediavault/cmd/collection-index/internal/domain"
)

const defaultStreamBatch = 500

// CollectionDO 集合数据对象（文档库collections表）
// 索引子系统只读该表，建表与写入归采集侧负责
type CollectionDO struct {
	ID              string    `gorm:"column:id;primaryKey;size:64"`
	Name            string    `gorm:"column:name;size:255;not null"`
	Description     string    `gorm:"column:description;type:text"`
	LibraryID       string    `gorm:"column:library_id;size:64;index"`
	Type            string    `gorm:"column:type;size:32;index"`
	Path            string    `gorm:"column:path;size:1024"`
	Tags            string    `gorm:"column:tags;type:jsonb"`
	FirstMediaID    string    `gorm:"column:first_media_id;size:64"`
	FirstMediaThumb string    `gorm:"column:first_media_thumb;size:512"`
	ImageCount      int64     `gorm:"column:image_count"`
	ThumbnailCount  int64     `gorm:"column:thumbnail_count"`
	CacheEntryCount int64     `gorm:"column:cache_entry_count"`
	TotalSizeBytes  int64     `gorm:"column:total_size_bytes"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;index"`
}

// TableName 表名
func (CollectionDO) TableName() string {
	return "collections"
}

// toDomain 转换为领域模型
func (do *CollectionDO) toDomain() *domain.Collection {
	var tags []string
	if do.Tags != "" {
		if err := json.Unmarshal([]byte(do.Tags), &tags); err != nil {
			tags = nil
		}
	}

	return &domain.Collection{
		ID:              do.ID,
		Name:            do.Name,
		Description:     do.Description,
		LibraryID:       do.LibraryID,
		Type:            do.Type,
		Path:            do.Path,
		Tags:            tags,
		FirstMediaID:    do.FirstMediaID,
		FirstMediaThumb: do.FirstMediaThumb,
		ImageCount:      do.ImageCount,
		ThumbnailCount:  do.ThumbnailCount,
		CacheEntryCount: do.CacheEntryCount,
		TotalSizeBytes:  do.TotalSizeBytes,
		CreatedAt:       do.CreatedAt,
		UpdatedAt:       do.UpdatedAt,
	}
}

// collectionMetaDO 轻量扫描行
type collectionMetaDO struct {
	ID        string    `gorm:"column:id"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

type collectionSource struct {
	db  *gorm.DB
	log *log.Helper
}

// NewCollectionSource 创建文档库集合源
func NewCollectionSource(db *gorm.DB, logger log.Logger) domain.CollectionSource {
	return &collectionSource{
		db:  db,
		log: log.NewHelper(log.With(logger, "module", "data/collection-source")),
	}
}

// GetByID 读取完整集合
func (r *collectionSource) GetByID(ctx context.Context, id string) (*domain.Collection, error) {
	var do CollectionDO
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&do).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, id)
	}
	if err != nil {
		return nil, storeErr("select collection", err)
	}
	return do.toDomain(), nil
}

// StreamAll 按主键游标批量扫描全部集合
// 游标写法避免深分页的OFFSET全表代价
func (r *collectionSource) StreamAll(ctx context.Context, batchSize int, fn func(batch []*domain.Collection) error) error {
	if batchSize <= 0 {
		batchSize = defaultStreamBatch
	}

	lastID := ""
	for {
		var dos []*CollectionDO
		q := r.db.WithContext(ctx).Order("id").Limit(batchSize)
		if lastID != "" {
			q = q.Where("id > ?", lastID)
		}
		if err := q.Find(&dos).Error; err != nil {
			return storeErr("scan collections", err)
		}
		if len(dos) == 0 {
			return nil
		}

		batch := make([]*domain.Collection, len(dos))
		for i, do := range dos {
			batch[i] = do.toDomain()
		}
		if err := fn(batch); err != nil {
			return err
		}

		if len(dos) < batchSize {
			return nil
		}
		lastID = dos[len(dos)-1].ID
	}
}

// StreamMeta 按主键游标批量扫描轻量元数据
func (r *collectionSource) StreamMeta(ctx context.Context, batchSize int, fn func(batch []domain.CollectionMeta) error) error {
	if batchSize <= 0 {
		batchSize = defaultStreamBatch
	}

	lastID := ""
	for {
		var rows []collectionMetaDO
		q := r.db.WithContext(ctx).
			Model(&CollectionDO{}).
			Select("id", "updated_at").
			Order("id").
			Limit(batchSize)
		if lastID != "" {
			q = q.Where("id > ?", lastID)
		}
		if err := q.Find(&rows).Error; err != nil {
			return storeErr("scan collection meta", err)
		}
		if len(rows) == 0 {
			return nil
		}

		batch := make([]domain.CollectionMeta, len(rows))
		for i, row := range rows {
			batch[i] = domain.CollectionMeta{ID: row.ID, UpdatedAt: row.UpdatedAt}
		}
		if err := fn(batch); err != nil {
			return err
		}

		if len(rows) < batchSize {
			return nil
		}
		lastID = rows[len(rows)-1].ID
	}
}

// Count 集合总数
func (r *collectionSource) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&CollectionDO{}).Count(&total).Error; err != nil {
		return 0, storeErr("count collections", err)
	}
	return total, nil
}

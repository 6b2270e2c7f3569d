package repository

import (
	"context"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScanRepository 扫描结果 Repository，只追加
type ScanRepository interface {
	Create(ctx context.Context, result *domain.ScanResult) error
	FindByID(ctx context.Context, id string) (*domain.ScanResult, error)
	FindLatestByHash(ctx context.Context, hash string) (*domain.ScanResult, error)
	// 按创建时间区间分页查询，区间为 [from, to)
	ListByTimeRange(ctx context.Context, from, to time.Time, page, pageSize int) ([]*domain.ScanResult, int64, error)
	// 按时间顺序遍历区间内所有结果，用于导出
	Each(ctx context.Context, from, to time.Time, fn func(*domain.ScanResult) error) error
	// 获取各判定数量统计
	CountByVerdict(ctx context.Context) (map[domain.Verdict]int64, int64, error)
	CreateFailure(ctx context.Context, failure *domain.ScanFailure) error
	CountFailures(ctx context.Context) (int64, error)
}

type scanRepo struct {
	db *gorm.DB
}

// NewScanRepository 创建扫描结果 Repository
func NewScanRepository(db *gorm.DB) ScanRepository {
	return &scanRepo{db: db}
}

// Create 写入扫描结果；相同 ID 重复写入时忽略，保证重试幂等
func (r *scanRepo) Create(ctx context.Context, result *domain.ScanResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(result).Error
	return wrapErr(err)
}

// FindByID 根据扫描 ID 查询
func (r *scanRepo) FindByID(ctx context.Context, id string) (*domain.ScanResult, error) {
	var result domain.ScanResult
	if err := r.db.WithContext(ctx).First(&result, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &result, nil
}

// FindLatestByHash 查询同一归档最近一次扫描
func (r *scanRepo) FindLatestByHash(ctx context.Context, hash string) (*domain.ScanResult, error) {
	var result domain.ScanResult
	err := r.db.WithContext(ctx).
		Where("archive_hash = ?", hash).
		Order("created_at DESC").
		First(&result).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &result, nil
}

func (r *scanRepo) ListByTimeRange(ctx context.Context, from, to time.Time, page, pageSize int) ([]*domain.ScanResult, int64, error) {
	var results []*domain.ScanResult
	var total int64

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&domain.ScanResult{}).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC())

	// 先统计总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapErr(err)
	}

	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&results).Error
	if err != nil {
		return nil, 0, wrapErr(err)
	}
	return results, total, nil
}

func (r *scanRepo) Each(ctx context.Context, from, to time.Time, fn func(*domain.ScanResult) error) error {
	const batchSize = 200
	for offset := 0; ; offset += batchSize {
		var batch []*domain.ScanResult
		err := r.db.WithContext(ctx).
			Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
			Order("created_at ASC").
			Order("id ASC").
			Offset(offset).
			Limit(batchSize).
			Find(&batch).Error
		if err != nil {
			return wrapErr(err)
		}
		for _, result := range batch {
			if err := fn(result); err != nil {
				return err
			}
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

// CountByVerdict 使用数据库聚合查询统计判定分布
func (r *scanRepo) CountByVerdict(ctx context.Context) (map[domain.Verdict]int64, int64, error) {
	type verdictCount struct {
		Verdict string
		Count   int64
	}

	var rows []verdictCount
	err := r.db.WithContext(ctx).
		Model(&domain.ScanResult{}).
		Select("verdict, COUNT(*) as count").
		Group("verdict").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, wrapErr(err)
	}

	counts := make(map[domain.Verdict]int64, len(rows))
	var total int64
	for _, row := range rows {
		counts[domain.Verdict(row.Verdict)] = row.Count
		total += row.Count
	}
	return counts, total, nil
}

func (r *scanRepo) CreateFailure(ctx context.Context, failure *domain.ScanFailure) error {
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(failure).Error
	return wrapErr(err)
}

func (r *scanRepo) CountFailures(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.ScanFailure{}).Count(&total).Error; err != nil {
		return 0, wrapErr(err)
	}
	return total, nil
}

package repository

import (
	"context"
	"errors"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ThreatRepository 已知样本 Repository
type ThreatRepository interface {
	FindByHash(ctx context.Context, hash string) (*domain.ThreatRecord, error)
	// Upsert 按 MergeThreatRecord 规则合并后写入，返回合并结果
	Upsert(ctx context.Context, incoming domain.ThreatRecord, override bool) (*domain.ThreatRecord, error)
	List(ctx context.Context, page, pageSize int) ([]*domain.ThreatRecord, int64, error)
	CountActive(ctx context.Context) (int64, error)
}

type threatRepo struct {
	db *gorm.DB
}

// NewThreatRepository 创建已知样本 Repository
func NewThreatRepository(db *gorm.DB) ThreatRepository {
	return &threatRepo{db: db}
}

// FindByHash 只返回有效记录，不存在时返回 ErrNotFound
func (r *threatRepo) FindByHash(ctx context.Context, hash string) (*domain.ThreatRecord, error) {
	var record domain.ThreatRecord
	err := r.db.WithContext(ctx).
		Where("file_hash = ? AND is_active = ?", hash, true).
		First(&record).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &record, nil
}

func (r *threatRepo) Upsert(ctx context.Context, incoming domain.ThreatRecord, override bool) (*domain.ThreatRecord, error) {
	var merged domain.ThreatRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.lockByHash(tx, incoming.FileHash)
		if err != nil {
			return err
		}

		if existing == nil {
			merged = domain.MergeThreatRecord(nil, incoming, override)
			active := merged.IsActive
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "file_hash"}},
				DoNothing: true,
			}).Create(&merged)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				if active {
					return nil
				}
				// is_active 的 default:true 会覆盖零值，插入后单独写回
				merged.IsActive = false
				return tx.Model(&domain.ThreatRecord{}).Where("id = ?", merged.ID).Update("is_active", false).Error
			}
			// 并发写入已插入同一 hash，改为合并
			if existing, err = r.lockByHash(tx, incoming.FileHash); err != nil {
				return err
			}
			if existing == nil {
				return errors.New("threat record vanished during upsert")
			}
		}

		merged = domain.MergeThreatRecord(existing, incoming, override)
		return tx.Save(&merged).Error
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return &merged, nil
}

// lockByHash 读取记录并加行锁；SQLite 不支持 FOR UPDATE，事务本身已串行
func (r *threatRepo) lockByHash(tx *gorm.DB, hash string) (*domain.ThreatRecord, error) {
	query := tx.Where("file_hash = ?", hash)
	if !isSQLite(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var record domain.ThreatRecord
	err := query.First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *threatRepo) List(ctx context.Context, page, pageSize int) ([]*domain.ThreatRecord, int64, error) {
	var records []*domain.ThreatRecord
	var total int64

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&domain.ThreatRecord{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapErr(err)
	}

	err := query.
		Order("last_seen DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, wrapErr(err)
	}
	return records, total, nil
}

func (r *threatRepo) CountActive(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&domain.ThreatRecord{}).
		Where("is_active = ?", true).
		Count(&total).Error
	if err != nil {
		return 0, wrapErr(err)
	}
	return total, nil
}

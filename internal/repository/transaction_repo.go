package repository

import (
	"context"
	"errors"

	"walletcore/internal/model"

	"gorm.io/gorm"
)

var ErrDuplicateTransaction = errors.New("流水已存在")

// TransactionRepository 交易流水仓储
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// FindByCorrelation 按幂等键 (aid, type, 关联号) 查已有流水，不存在返回 nil
func (r *TransactionRepository) FindByCorrelation(ctx context.Context, aid int64, typ int, correlation string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).
		Where("aid = ? AND type = ? AND (oid = ? OR maid = ? OR sn = ?)",
			aid, typ, correlation, correlation, correlation).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepository) Create(ctx context.Context, t *model.Transaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// ListByUID 按用户分页查流水，时间倒序
// Redis 时间索引缺失时的兜底查询
func (r *TransactionRepository) ListByUID(ctx context.Context, uid int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("uid = ?", uid)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("occurred_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

package repository

import (
	"context"
	"errors"
	"time"

	"walletcore/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound = errors.New("订单不存在")
	ErrOrderSettled  = errors.New("订单已结算")
)

// OrderRepository 充值订单仓储
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.RechargeOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.RechargeOrder, error) {
	var order model.RechargeOrder
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// MarkSettled 订单置为已结算，CREATED -> SETTLED
// 条件更新兜住并发重复结算：0 行说明已被别人结算过，返回 ErrOrderSettled
func (r *OrderRepository) MarkSettled(ctx context.Context, orderNo string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Where("order_no = ? AND status = ?", orderNo, model.OrderStatusCreated).
		Updates(map[string]interface{}{
			"status":     model.OrderStatusSettled,
			"settled_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderSettled
	}
	return nil
}

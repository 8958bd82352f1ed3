package model

import (
	"time"
)

const (
	OrderStatusCreated = "CREATED"
	OrderStatusSettled = "SETTLED"
)

// RechargeOrder 充值订单表
// summary 是应收总额，payment 是用户实付；两者差额为平台补贴。
// 订单由上游下单系统写入，这里只消费：结算一次后置为 SETTLED。
type RechargeOrder struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UID       int64      `gorm:"index;not null" json:"uid"`
	VID       int64      `gorm:"column:vid;index" json:"vid"`
	License   string     `gorm:"type:varchar(32)" json:"license"`
	Summary   int64      `gorm:"not null" json:"summary"` // 应收，分
	Payment   int64      `gorm:"not null" json:"payment"` // 实付，分
	Status    string     `gorm:"type:varchar(20);index;not null" json:"status"`
	SettledAt *time.Time `json:"settled_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RechargeOrder) TableName() string {
	return "recharge_order"
}

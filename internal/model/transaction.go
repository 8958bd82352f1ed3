package model

import (
	"time"
)

// ============================================================================
// 交易流水类型常量
// ============================================================================

const (
	TxnTypeRecharge      = 1 // 充值入账
	TxnTypeSubsidy       = 2 // 补贴入账
	TxnTypeFreeze        = 3 // 冻结
	TxnTypeUnfreeze      = 4 // 解冻
	TxnTypeDeduct        = 5 // 扣款
	TxnTypeManagementFee = 6 // 管理费
	TxnTypeProcessingFee = 7 // 支付通道手续费
)

// Transaction 交易流水表
// 账户事件的人类可读侧写，和账户事件共用关联号，各自独立落库。
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改 —— 补偿同样走删除 + 重建，不做原地更新
// 2. 幂等键 (aid, type, oid|maid|sn) —— 重复投递只记一次
// 3. 金额一律为分 —— 展示换算只发生在接口边界
type Transaction struct {
	ID         int64     `gorm:"primaryKey" json:"id"` // 雪花ID
	Type       int       `gorm:"index;not null" json:"type"`
	UID        int64     `gorm:"index;not null" json:"uid"`
	AID        int64     `gorm:"column:aid;index;not null" json:"aid"`
	VID        int64     `gorm:"column:vid;index" json:"vid"`
	OID        string    `gorm:"column:oid;type:varchar(64);index" json:"oid"`
	MAID       string    `gorm:"column:maid;type:varchar(64);index" json:"maid"`
	SN         string    `gorm:"column:sn;type:varchar(64)" json:"sn"`
	Title      string    `gorm:"type:varchar(128);not null" json:"title"`
	License    string    `gorm:"type:varchar(32)" json:"license"` // 车牌展示标签
	Amount     int64     `gorm:"not null" json:"amount"`
	OccurredAt int64     `gorm:"index;not null" json:"occurred_at"` // 毫秒
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// 仅随消息传输，不落库
	Token string `gorm:"-" json:"token,omitempty"`
}

func (Transaction) TableName() string {
	return "transaction"
}

// CorrelationID 流水的业务关联号，oid > maid > sn
func (t *Transaction) CorrelationID() string {
	if t.OID != "" {
		return t.OID
	}
	if t.MAID != "" {
		return t.MAID
	}
	return t.SN
}

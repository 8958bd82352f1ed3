package model

import (
	"time"
)

// ============================================================================
// 账户事件类型编码
// ============================================================================
//
// 账户快照不是直接改出来的，而是按事件历史折叠（replay）出来的。
// 每个编码对应一种余额变动，成对出现（加/减、冻结/解冻）。
const (
	EventTypeReplay      = 0 // 重放标记：不落库，只触发重新折叠
	EventTypeCashableAdd = 1 // cashable_balance 增加
	EventTypeCashableSub = 2 // cashable_balance 减少
	EventTypeBalance0Add = 3 // 小池 balance0 增加
	EventTypeBalance0Sub = 4 // 小池 balance0 减少
	EventTypeBalance1Add = 5 // 大池 balance1 增加
	EventTypeBalance1Sub = 6 // 大池 balance1 减少
	EventTypeBonusAdd    = 7 // 奖励金增加
	EventTypeBonusSub    = 8 // 奖励金减少
	EventTypeFreeze0     = 9 // 冻结小池：balance0 -> frozen_balance0
	EventTypeUnfreeze0   = 10
	EventTypeFreeze1     = 11 // 冻结大池：balance1 -> frozen_balance1
	EventTypeUnfreeze1   = 12
	EventTypePaidAdd     = 13 // 实缴增加
	EventTypePaidSub     = 14 // 实缴减少
)

// AccountEvent 账户事件表
// 事件一经落库不可修改；补偿只做删除标记，再靠 replay 重新推导快照。
//
// 幂等键：(aid, uid, type, oid|maid)，仅对未删除的行生效。
// 缩写字段显式指定列名，gorm 默认命名会拆成 a_id / o_id 这类列
type AccountEvent struct {
	ID         int64     `gorm:"primaryKey" json:"id"` // 雪花ID，业务侧生成
	Type       int       `gorm:"index;not null" json:"type"`
	OpID       int64     `gorm:"column:opid;not null" json:"opid"`              // 操作人
	UID        int64     `gorm:"index;not null" json:"uid"`                     // 所属用户
	AID        int64     `gorm:"column:aid;index;not null" json:"aid"`          // 账户
	VID        int64     `gorm:"column:vid;index" json:"vid"`                   // 关联车辆
	OID        string    `gorm:"column:oid;type:varchar(64);index" json:"oid"`  // 来源订单号
	MAID       string    `gorm:"column:maid;type:varchar(64);index" json:"maid"` // 互助案件号
	SN         string    `gorm:"column:sn;type:varchar(64)" json:"sn"`          // 扣款序列号
	License    string    `gorm:"type:varchar(32)" json:"license"`               // 车牌（展示用，随事件冗余）
	Amount     int64     `gorm:"not null" json:"amount"`                        // 金额，分，非负
	OccurredAt int64     `gorm:"index;not null" json:"occurred_at"`             // 逻辑时间戳（毫秒），replay 的排序依据
	Deleted    int       `gorm:"not null;default:0;index" json:"deleted"`       // 补偿删除标记
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// 以下仅随消息传输，不落库
	Undo  bool   `gorm:"-" json:"undo,omitempty"`  // true 表示请求删除同幂等键的历史事件
	Token string `gorm:"-" json:"token,omitempty"` // saga 批次关联令牌
}

func (AccountEvent) TableName() string {
	return "account_event"
}

// CorrelationID 返回该事件的业务关联号（oid 优先于 maid）
func (e *AccountEvent) CorrelationID() string {
	if e.OID != "" {
		return e.OID
	}
	return e.MAID
}

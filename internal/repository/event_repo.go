package repository

import (
	"context"
	"errors"

	"walletcore/internal/model"

	"gorm.io/gorm"
)

var (
	ErrDuplicateEvent  = errors.New("事件已存在")
	ErrAccountNotFound = errors.New("账户不存在")
)

// EventRepository 账户事件仓储
// 事件表只追加；补偿不做物理删除，打 deleted 标记后由 replay 重新推导快照
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// correlationScope 按事件携带的关联号拼幂等条件，oid > maid > sn
func correlationScope(q *gorm.DB, e *model.AccountEvent) *gorm.DB {
	switch {
	case e.OID != "":
		return q.Where("oid = ?", e.OID)
	case e.MAID != "":
		return q.Where("maid = ?", e.MAID)
	default:
		return q.Where("sn = ?", e.SN)
	}
}

// Insert 落库一条账户事件
// 幂等键 (aid, uid, type, oid|maid|sn)：已有未删除的同键事件时返回 ErrDuplicateEvent，
// 重复投递方按成功处理。重放标记（type=0）不该走到这里。
func (r *EventRepository) Insert(ctx context.Context, e *model.AccountEvent) error {
	if e.OID != "" || e.MAID != "" || e.SN != "" {
		var count int64
		q := r.db.WithContext(ctx).
			Model(&model.AccountEvent{}).
			Where("aid = ? AND uid = ? AND type = ? AND deleted = 0", e.AID, e.UID, e.Type)
		if err := correlationScope(q, e).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateEvent
		}
	}
	return r.db.WithContext(ctx).Create(e).Error
}

// GetByID 按ID查事件，不存在返回 nil
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*model.AccountEvent, error) {
	var e model.AccountEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// FindSince 查某账户在 since 之后的全部未删除事件，按逻辑时间升序
// 同一毫秒内按 ID 再排一次，保证折叠顺序确定
func (r *EventRepository) FindSince(ctx context.Context, aid int64, since int64) ([]*model.AccountEvent, error) {
	var events []*model.AccountEvent
	err := r.db.WithContext(ctx).
		Where("aid = ? AND occurred_at > ? AND deleted = 0", aid, since).
		Order("occurred_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

// MarkDeleted 补偿删除：把和 e 同幂等键的未删除事件打上删除标记
// 返回影响行数，0 行说明要撤的事件本来就没落库（或已被撤过），同样算成功
func (r *EventRepository) MarkDeleted(ctx context.Context, e *model.AccountEvent) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&model.AccountEvent{}).
		Where("aid = ? AND uid = ? AND type = ? AND deleted = 0", e.AID, e.UID, e.Type)
	result := correlationScope(q, e).Update("deleted", 1)
	return result.RowsAffected, result.Error
}

// HasEvents 账户是否有任何未删除事件
// 冻结/扣款前的存在性校验用：没有事件的 aid 视为账户不存在
func (r *EventRepository) HasEvents(ctx context.Context, aid int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AccountEvent{}).
		Where("aid = ? AND deleted = 0", aid).
		Count(&count).Error
	return count > 0, err
}

// FindAccountID 按 (uid, vid) 反查账户ID
// 流水事件缺 aid 时的兜底解析，找不到返回 ErrAccountNotFound
func (r *EventRepository) FindAccountID(ctx context.Context, uid, vid int64) (int64, error) {
	var e model.AccountEvent
	err := r.db.WithContext(ctx).
		Where("uid = ? AND vid = ? AND deleted = 0", uid, vid).
		Order("id ASC").
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return e.AID, nil
}

// DistinctAccountIDs 全量账户ID，replayAll 和导出用
func (r *EventRepository) DistinctAccountIDs(ctx context.Context) ([]int64, error) {
	var aids []int64
	err := r.db.WithContext(ctx).
		Model(&model.AccountEvent{}).
		Where("deleted = 0").
		Distinct("aid").
		Order("aid").
		Pluck("aid", &aids).Error
	return aids, err
}

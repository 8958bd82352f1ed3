package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"walletcore/internal/config"
	"walletcore/internal/infrastructure/lock"
	"walletcore/internal/model"
	"walletcore/internal/repository"
	"walletcore/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var ErrNothingToReplay = errors.New("没有可重放的事件")

// Play 把一条事件折叠到账户快照上，返回新快照
//
// 这是整个账本的状态转移函数：纯函数、全函数。同一起点折叠同一串事件，
// 结果必须逐字节一致，重放才能当修复手段用。未知编码一律恒等处理，
// 只记一条异常日志，不中断折叠。
func Play(acct *model.Account, e *model.AccountEvent) *model.Account {
	next := acct.Clone()
	switch e.Type {
	case model.EventTypeReplay:
		// 重放标记本身不动余额
	case model.EventTypeCashableAdd:
		next.CashableBalance += e.Amount
	case model.EventTypeCashableSub:
		next.CashableBalance -= e.Amount
	case model.EventTypeBalance0Add:
		next.Balance0 += e.Amount
	case model.EventTypeBalance0Sub:
		next.Balance0 -= e.Amount
	case model.EventTypeBalance1Add:
		next.Balance1 += e.Amount
	case model.EventTypeBalance1Sub:
		next.Balance1 -= e.Amount
	case model.EventTypeBonusAdd:
		next.Bonus += e.Amount
	case model.EventTypeBonusSub:
		next.Bonus -= e.Amount
	case model.EventTypeFreeze0:
		next.Balance0 -= e.Amount
		next.FrozenBalance0 += e.Amount
	case model.EventTypeUnfreeze0:
		next.Balance0 += e.Amount
		next.FrozenBalance0 -= e.Amount
	case model.EventTypeFreeze1:
		next.Balance1 -= e.Amount
		next.FrozenBalance1 += e.Amount
	case model.EventTypeUnfreeze1:
		next.Balance1 += e.Amount
		next.FrozenBalance1 -= e.Amount
	case model.EventTypePaidAdd:
		next.Paid += e.Amount
	case model.EventTypePaidSub:
		next.Paid -= e.Amount
	default:
		log.Printf("[Replay] 未知事件类型: id=%d, type=%d", e.ID, e.Type)
	}
	return next
}

// ReplayService 重放引擎
// 按事件历史重建账户快照，并把结果并入用户钱包投影
type ReplayService struct {
	rdb          *redis.Client
	eventRepo    *repository.EventRepository
	snapshotRepo *repository.SnapshotRepository
	lockTTL      time.Duration
}

func NewReplayService(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *ReplayService {
	lockTTL := time.Duration(cfg.Business.ReplayLockSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &ReplayService{
		rdb:          rdb,
		eventRepo:    repository.NewEventRepository(db),
		snapshotRepo: repository.NewSnapshotRepository(rdb),
		lockTTL:      lockTTL,
	}
}

// Replay 重放一个账户
//
// 同一账户的快照读改写不允许并发，先按 aid 拿 Redis 锁再折叠。
// 缓存没有新事件时返回 (当前快照, ErrNothingToReplay)，调用方自行决定是否当错误。
func (s *ReplayService) Replay(ctx context.Context, aid int64) (*model.Account, error) {
	replayLock := lock.NewReplayLock(s.rdb, aid, idgen.GenerateToken(), s.lockTTL)
	if err := replayLock.Lock(ctx, 50*time.Millisecond, 60); err != nil {
		return nil, fmt.Errorf("获取重放锁失败: %w", err)
	}
	defer replayLock.Unlock(ctx)

	return s.replayLocked(ctx, aid)
}

func (s *ReplayService) replayLocked(ctx context.Context, aid int64) (*model.Account, error) {
	acct, err := s.snapshotRepo.GetAccount(ctx, aid)
	if err != nil {
		return nil, fmt.Errorf("读账户快照失败: %w", err)
	}
	if acct == nil {
		// 缓存缺失不是错误：从零值账户开始全量折叠
		acct = &model.Account{ID: aid}
	}

	// 起点取快照里最后折叠事件的逻辑时间，快照为空从纪元零开始。
	// 下界是严格大于：后落库但逻辑时间和起点同毫秒的事件会被增量重放漏掉
	// （批内 now+seq 递增只保证批内不撞），这类账户靠 Rebuild / ReplayAll 修复
	var since int64
	if acct.EvtID != 0 {
		last, err := s.eventRepo.GetByID(ctx, acct.EvtID)
		if err != nil {
			return nil, fmt.Errorf("查起点事件失败: %w", err)
		}
		if last != nil {
			since = last.OccurredAt
		}
	}

	events, err := s.eventRepo.FindSince(ctx, aid, since)
	if err != nil {
		return nil, fmt.Errorf("查增量事件失败: %w", err)
	}
	if len(events) == 0 {
		return acct, ErrNothingToReplay
	}

	next := fold(acct, events)
	if err := s.persist(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// fold 把一串事件按序折叠到快照上，并懒解析身份字段
func fold(acct *model.Account, events []*model.AccountEvent) *model.Account {
	next := acct.Clone()
	for _, e := range events {
		next = Play(next, e)
		// 身份字段懒解析：首次出现时从事件补齐
		if next.UID == 0 {
			next.UID = e.UID
		}
		if next.VID == 0 {
			next.VID = e.VID
		}
		if next.Vehicle == nil && e.VID != 0 {
			next.Vehicle = &model.VehicleRef{ID: e.VID, License: e.License, BoundAt: e.OccurredAt}
		}
		if next.CreatedAt == 0 {
			next.CreatedAt = e.OccurredAt
		}
	}
	last := events[len(events)-1]
	next.EvtID = last.ID
	next.UpdatedAt = last.OccurredAt
	return next
}

// persist 落账户快照，并把账户并入用户钱包的全量/精简投影
// 聚合字段在 Merge 里重算，这里不单独改
func (s *ReplayService) persist(ctx context.Context, acct *model.Account) error {
	if err := s.snapshotRepo.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("写账户快照失败: %w", err)
	}

	wallet, err := s.snapshotRepo.GetWallet(ctx, acct.UID)
	if err != nil {
		return fmt.Errorf("读钱包失败: %w", err)
	}
	wallet.Merge(acct)
	if err := s.snapshotRepo.SaveWallet(ctx, wallet); err != nil {
		return fmt.Errorf("写钱包失败: %w", err)
	}
	return nil
}

// Rebuild 丢弃缓存快照，从纪元零全量重建一个账户
//
// 补偿删除过事件之后必须走这里：被删的事件可能已经折叠进旧快照，
// 增量重放退不掉它们，只有整体重推才能回到未被污染的状态。
// 事件被删光的账户直接从缓存和钱包里摘除。
func (s *ReplayService) Rebuild(ctx context.Context, aid int64) (*model.Account, error) {
	replayLock := lock.NewReplayLock(s.rdb, aid, idgen.GenerateToken(), s.lockTTL)
	if err := replayLock.Lock(ctx, 50*time.Millisecond, 60); err != nil {
		return nil, fmt.Errorf("获取重放锁失败: %w", err)
	}
	defer replayLock.Unlock(ctx)

	stale, err := s.snapshotRepo.GetAccount(ctx, aid)
	if err != nil {
		return nil, fmt.Errorf("读账户快照失败: %w", err)
	}

	events, err := s.eventRepo.FindSince(ctx, aid, 0)
	if err != nil {
		return nil, fmt.Errorf("查事件历史失败: %w", err)
	}
	if len(events) == 0 {
		if stale != nil {
			if err := s.snapshotRepo.RemoveAccount(ctx, aid, stale.UID); err != nil {
				return nil, err
			}
		}
		return &model.Account{ID: aid}, nil
	}

	next := fold(&model.Account{ID: aid}, events)
	if err := s.persist(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// ReplayAll 全量重放，修复工具
// 逐账户执行，单个账户失败不中断其余账户
func (s *ReplayService) ReplayAll(ctx context.Context) (replayed int, failed int, err error) {
	aids, err := s.eventRepo.DistinctAccountIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("查账户列表失败: %w", err)
	}

	for _, aid := range aids {
		_, err := s.Replay(ctx, aid)
		switch {
		case err == nil:
			replayed++
		case errors.Is(err, ErrNothingToReplay):
			// 已是最新，跳过
		default:
			failed++
			log.Printf("[Replay] 账户重放失败: aid=%d, err=%v", aid, err)
		}
	}
	return replayed, failed, nil
}

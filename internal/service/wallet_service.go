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
	"walletcore/internal/saga"
	"walletcore/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// WalletService 业务操作入口
// 一次资金操作 = 规划器出事件批次 + saga 协调器推批次等确认。
// 这里不直接改任何余额：余额只会被 replay 折叠出来。
type WalletService struct {
	rdb          *redis.Client
	orderRepo    *repository.OrderRepository
	eventRepo    *repository.EventRepository
	snapshotRepo *repository.SnapshotRepository
	movement     *MovementService
	replay       *ReplayService
	coordinator  *saga.Coordinator
	lockTTL      time.Duration
}

func NewWalletService(db *gorm.DB, rdb *redis.Client, coordinator *saga.Coordinator, cfg *config.Config) *WalletService {
	lockTTL := time.Duration(cfg.Business.SagaTimeoutSeconds+cfg.Business.ReplayLockSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &WalletService{
		rdb:          rdb,
		orderRepo:    repository.NewOrderRepository(db),
		eventRepo:    repository.NewEventRepository(db),
		snapshotRepo: repository.NewSnapshotRepository(rdb),
		movement:     NewMovementService(cfg),
		replay:       NewReplayService(db, rdb, cfg),
		coordinator:  coordinator,
		lockTTL:      lockTTL,
	}
}

// Replayer 暴露重放引擎给需要它的旁路（导出、消费侧）
func (s *WalletService) Replayer() *ReplayService {
	return s.replay
}

// Recharge 按订单充值
// 已结算的订单返回 ErrOrderSettled，调用方按重复请求处理
//
// 同一订单的并发请求必须串行：首充没有事件可反查，两个并发请求会各铸一个
// 账户ID，幂等键 (aid, uid, type, oid) 在不同 aid 之间拦不住重复入账。
// 读订单前按订单号加锁，后到的请求读到 SETTLED 自然被挡下。
func (s *WalletService) Recharge(ctx context.Context, orderNo string, opid int64) (*saga.Plan, error) {
	orderLock := lock.NewDistributedLock(s.rdb,
		fmt.Sprintf("wallet:lock:order:%s", orderNo), idgen.GenerateToken(), s.lockTTL)
	if err := orderLock.Lock(ctx, 50*time.Millisecond, 200); err != nil {
		return nil, fmt.Errorf("获取订单锁失败: %w", err)
	}
	defer orderLock.Unlock(ctx)

	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status == model.OrderStatusSettled {
		return nil, repository.ErrOrderSettled
	}

	// 首充没有账户事件可反查，现场铸一个账户ID
	aid, err := s.eventRepo.FindAccountID(ctx, order.UID, order.VID)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return nil, err
		}
		aid = idgen.NextID()
	}

	plan, err := s.movement.PlanRecharge(ctx, order, aid, opid)
	if err != nil {
		return nil, err
	}
	if err := s.coordinator.Execute(ctx, plan); err != nil {
		return nil, err
	}

	if err := s.orderRepo.MarkSettled(ctx, orderNo); err != nil {
		if errors.Is(err, repository.ErrOrderSettled) {
			// 并发结算撞了线，账已经记过，算成功
			return plan, nil
		}
		// 账记了但订单状态没扭过去，留给重试或人工，不回滚账
		log.Printf("[Wallet] 【告警】订单结算状态更新失败: orderNo=%s, err=%v", orderNo, err)
		return nil, fmt.Errorf("更新订单状态失败: %w", err)
	}
	return plan, nil
}

// Freeze 冻结账户资金
func (s *WalletService) Freeze(ctx context.Context, aid int64, pool Pool, amount int64, oid, maid string, opid int64) (*saga.Plan, error) {
	acct, err := s.currentSnapshot(ctx, aid)
	if err != nil {
		return nil, err
	}
	plan, err := s.movement.PlanFreeze(ctx, acct, pool, amount, oid, maid, opid)
	if err != nil {
		return nil, err
	}
	if err := s.coordinator.Execute(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Deduct 扣减账户资金
func (s *WalletService) Deduct(ctx context.Context, aid, amount int64, pool Pool, oid, sn string, opid int64) (*saga.Plan, error) {
	acct, err := s.currentSnapshot(ctx, aid)
	if err != nil {
		return nil, err
	}
	plan, err := s.movement.PlanDeduct(ctx, acct, amount, pool, oid, sn, opid)
	if err != nil {
		return nil, err
	}
	if err := s.coordinator.Execute(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// currentSnapshot 取规划用的最新快照
// 没有任何事件的账户视为不存在；重放返回"无新事件"说明缓存已是最新
func (s *WalletService) currentSnapshot(ctx context.Context, aid int64) (*model.Account, error) {
	exists, err := s.eventRepo.HasEvents(ctx, aid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrAccountNotFound
	}
	acct, err := s.replay.Replay(ctx, aid)
	if err != nil && !errors.Is(err, ErrNothingToReplay) {
		return nil, err
	}
	return acct, nil
}

// GetWallet 查用户钱包投影
func (s *WalletService) GetWallet(ctx context.Context, uid int64, slim bool) (*model.Wallet, error) {
	if slim {
		return s.snapshotRepo.GetSlimWallet(ctx, uid)
	}
	return s.snapshotRepo.GetWallet(ctx, uid)
}

// CreateOrder 录入充值订单
func (s *WalletService) CreateOrder(ctx context.Context, order *model.RechargeOrder) error {
	if order.OrderNo == "" {
		order.OrderNo = idgen.GenerateOrderNo()
	}
	order.Status = model.OrderStatusCreated
	return s.orderRepo.Create(ctx, order)
}

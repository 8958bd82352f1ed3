package service_test

import (
	"context"
	"errors"
	"testing"

	"walletcore/internal/model"
	"walletcore/internal/repository"
	"walletcore/internal/saga"
	"walletcore/internal/service"
	"walletcore/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackPublisher 进程内发布器：跳过 Kafka，按消费侧同样的语义同步应用事件。
// 撤销打删除标记、重放标记全量重建、普通事件幂等插入后增量重放。
type loopbackPublisher struct {
	coordinator *saga.Coordinator
	events      *repository.EventRepository
	txns        *service.TransactionService
	replay      *service.ReplayService
	failTxns    bool // 模拟流水侧故障，触发补偿
}

func (p *loopbackPublisher) PublishAccountEvent(e *model.AccountEvent) error {
	ctx := context.Background()
	code := response.CodeSuccess
	switch {
	case e.Type == model.EventTypeReplay:
		if _, err := p.replay.Rebuild(ctx, e.AID); err != nil {
			code = response.CodeServerError
		}
	case e.Undo:
		rows, err := p.events.MarkDeleted(ctx, e)
		if err != nil {
			code = response.CodeServerError
		} else if rows == 0 {
			code = response.CodeDuplicate
		}
	default:
		if err := p.events.Insert(ctx, e); err != nil {
			if errors.Is(err, repository.ErrDuplicateEvent) {
				code = response.CodeDuplicate
			} else {
				code = response.CodeServerError
			}
		} else if _, err := p.replay.Replay(ctx, e.AID); err != nil && !errors.Is(err, service.ErrNothingToReplay) {
			code = response.CodeServerError
		}
	}
	p.coordinator.Resolve(e.Token, saga.Result{EventID: e.ID, Code: code})
	return nil
}

func (p *loopbackPublisher) PublishTransaction(t *model.Transaction) error {
	ctx := context.Background()
	code := response.CodeSuccess
	if p.failTxns {
		code = response.CodeServerError
	} else if err := p.txns.Record(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) {
			code = response.CodeDuplicate
		} else {
			code = response.CodeServerError
		}
	}
	p.coordinator.Resolve(t.Token, saga.Result{EventID: t.ID, Code: code})
	return nil
}

func newWalletFixture(t *testing.T) (*service.WalletService, *loopbackPublisher, *repository.SnapshotRepository) {
	t.Helper()
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := testConfig()

	pub := &loopbackPublisher{
		events: repository.NewEventRepository(db),
		txns:   service.NewTransactionService(db, rdb),
		replay: service.NewReplayService(db, rdb, cfg),
	}
	coordinator := saga.NewCoordinator(pub, &cfg.Business)
	pub.coordinator = coordinator

	return service.NewWalletService(db, rdb, coordinator, cfg),
		pub,
		repository.NewSnapshotRepository(rdb)
}

func TestRecharge_EndToEnd(t *testing.T) {
	svc, _, snapshots := newWalletFixture(t)
	ctx := context.Background()

	order := &model.RechargeOrder{UID: 10, VID: 3, License: "沪A12345", Summary: 10000, Payment: 9500}
	require.NoError(t, svc.CreateOrder(ctx, order))
	require.NotEmpty(t, order.OrderNo)

	plan, err := svc.Recharge(ctx, order.OrderNo, 77)
	require.NoError(t, err)
	require.NotEmpty(t, plan.AccountEvents)

	// 事件折叠出的快照：小池 1600、大池 6400、补贴 500、实缴 9443
	aid := plan.AccountEvents[0].AID
	acct, err := snapshots.GetAccount(ctx, aid)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, int64(1600), acct.Balance0)
	assert.Equal(t, int64(6400), acct.Balance1)
	assert.Equal(t, int64(500), acct.Bonus)
	assert.Equal(t, int64(9443), acct.Paid)

	wallet, err := svc.GetWallet(ctx, 10, false)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), wallet.Balance)

	// 订单已结算：重复充值按重复请求拦下
	_, err = svc.Recharge(ctx, order.OrderNo, 77)
	assert.ErrorIs(t, err, repository.ErrOrderSettled)

	// 流水也都进了时间索引
	txns, err := snapshots.ListTransactions(ctx, 10, 0, 10)
	require.NoError(t, err)
	assert.Len(t, txns, 4) // 充值 + 管理费 + 手续费 + 补贴
}

func TestFreezeThenDeduct_EndToEnd(t *testing.T) {
	svc, _, snapshots := newWalletFixture(t)
	ctx := context.Background()

	order := &model.RechargeOrder{UID: 10, VID: 3, Summary: 10000, Payment: 9500}
	require.NoError(t, svc.CreateOrder(ctx, order))
	plan, err := svc.Recharge(ctx, order.OrderNo, 0)
	require.NoError(t, err)
	aid := plan.AccountEvents[0].AID

	// 冻结 2000：小池 1600 先冻满，余量 400 落大池
	_, err = svc.Freeze(ctx, aid, service.PoolBoth, 2000, "", "MA1", 0)
	require.NoError(t, err)

	acct, err := snapshots.GetAccount(ctx, aid)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance0)
	assert.Equal(t, int64(1600), acct.FrozenBalance0)
	assert.Equal(t, int64(6000), acct.Balance1)
	assert.Equal(t, int64(400), acct.FrozenBalance1)

	wallet, err := svc.GetWallet(ctx, 10, false)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), wallet.Balance) // 冻结不改总额
	assert.Equal(t, int64(2000), wallet.Frozen)

	// 扣 1000：大池现余扣，奖励金 500 先耗尽，实缴补 500
	_, err = svc.Deduct(ctx, aid, 1000, service.PoolBoth, "O-D1", "", 0)
	require.NoError(t, err)

	acct, err = snapshots.GetAccount(ctx, aid)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), acct.Balance1)
	assert.Equal(t, int64(0), acct.Bonus)
	assert.Equal(t, int64(8943), acct.Paid)
}

// 首充没有事件可反查，同一订单的并发请求如果不串行，
// 各自铸出的新 aid 会让幂等键失效、订单被入两次账
func TestRecharge_ConcurrentSameOrder(t *testing.T) {
	svc, _, _ := newWalletFixture(t)
	ctx := context.Background()

	order := &model.RechargeOrder{UID: 10, VID: 3, Summary: 10000, Payment: 9500}
	require.NoError(t, svc.CreateOrder(ctx, order))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Recharge(ctx, order.OrderNo, 0)
			errs <- err
		}()
	}

	var settled, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			settled++
		case errors.Is(err, repository.ErrOrderSettled):
			rejected++
		default:
			t.Fatalf("意料外的错误: %v", err)
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, rejected)

	// 只铸了一个账户，只入了一份账
	wallet, err := svc.GetWallet(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, wallet.Accounts, 1)
	assert.Equal(t, int64(8000), wallet.Balance)
}

func TestDeduct_UnknownAccount(t *testing.T) {
	svc, _, _ := newWalletFixture(t)

	_, err := svc.Deduct(context.Background(), 404, 100, service.PoolBoth, "O1", "", 0)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}

// 流水阶段失败：账户事件已生效，补偿撤销 + 全量重建必须把快照还原
func TestDeduct_CompensationRestoresLedger(t *testing.T) {
	svc, pub, snapshots := newWalletFixture(t)
	ctx := context.Background()

	order := &model.RechargeOrder{UID: 10, VID: 3, Summary: 10000, Payment: 9500}
	require.NoError(t, svc.CreateOrder(ctx, order))
	plan, err := svc.Recharge(ctx, order.OrderNo, 0)
	require.NoError(t, err)
	aid := plan.AccountEvents[0].AID

	before, err := snapshots.GetAccount(ctx, aid)
	require.NoError(t, err)

	pub.failTxns = true
	_, err = svc.Deduct(ctx, aid, 1000, service.PoolBoth, "O-D1", "", 0)

	var stageErr *saga.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "transactions", stageErr.Stage)

	// 扣款的痕迹被整体抹掉
	after, err := snapshots.GetAccount(ctx, aid)
	require.NoError(t, err)
	assert.Equal(t, before.Balance0, after.Balance0)
	assert.Equal(t, before.Balance1, after.Balance1)
	assert.Equal(t, before.Bonus, after.Bonus)
	assert.Equal(t, before.Paid, after.Paid)
	assert.Equal(t, before.Total(), after.Total())

	// 补偿后系统恢复可用：同一笔扣款换新关联号可以重来
	pub.failTxns = false
	_, err = svc.Deduct(ctx, aid, 1000, service.PoolBoth, "O-D2", "", 0)
	require.NoError(t, err)
}

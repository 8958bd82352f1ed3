package saga_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"walletcore/internal/config"
	"walletcore/internal/model"
	"walletcore/internal/saga"
	"walletcore/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher 内存发布器：记录推送内容，按配置同步回推应答
type fakePublisher struct {
	mu          sync.Mutex
	coordinator *saga.Coordinator

	accountCode func(e *model.AccountEvent) int // nil 表示不回推（模拟消费侧失联）
	txnCode     func(t *model.Transaction) int
	txnHook     func(t *model.Transaction) // 推流水时的额外动作，回推应答之前执行

	accountEvents []*model.AccountEvent
	transactions  []*model.Transaction
	publishErr    error
}

func (p *fakePublisher) PublishAccountEvent(e *model.AccountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.accountEvents = append(p.accountEvents, e)
	if p.accountCode != nil {
		p.coordinator.Resolve(e.Token, saga.Result{EventID: e.ID, Code: p.accountCode(e)})
	}
	return nil
}

func (p *fakePublisher) PublishTransaction(t *model.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transactions = append(p.transactions, t)
	if p.txnHook != nil {
		p.txnHook(t)
	}
	if p.txnCode != nil {
		p.coordinator.Resolve(t.Token, saga.Result{EventID: t.ID, Code: p.txnCode(t)})
	}
	return nil
}

func newFixture(t *testing.T) (*saga.Coordinator, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	c := saga.NewCoordinator(pub, &config.BusinessConfig{SagaTimeoutSeconds: 1})
	pub.coordinator = c
	return c, pub
}

func testPlan() *saga.Plan {
	return &saga.Plan{
		Token: "SAGA-TEST-001",
		AccountEvents: []*model.AccountEvent{
			{ID: 101, Type: model.EventTypeBalance0Add, AID: 1, UID: 10, Amount: 300, OID: "O1"},
			{ID: 102, Type: model.EventTypeBalance1Add, AID: 1, UID: 10, Amount: 700, OID: "O1"},
		},
		Transactions: []*model.Transaction{
			{ID: 201, Type: model.TxnTypeRecharge, AID: 1, UID: 10, Amount: 1000, OID: "O1"},
		},
	}
}

func TestExecute_HappyPath(t *testing.T) {
	c, pub := newFixture(t)
	pub.accountCode = func(*model.AccountEvent) int { return response.CodeSuccess }
	pub.txnCode = func(*model.Transaction) int { return response.CodeSuccess }

	err := c.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	assert.Len(t, pub.accountEvents, 2)
	assert.Len(t, pub.transactions, 1)

	// 批次令牌透传到每条事件
	for _, e := range pub.accountEvents {
		assert.Equal(t, "SAGA-TEST-001", e.Token)
	}
}

func TestExecute_DuplicateCountsAsSuccess(t *testing.T) {
	c, pub := newFixture(t)
	// 重复投递（208）等价成功，不触发补偿
	pub.accountCode = func(*model.AccountEvent) int { return response.CodeDuplicate }
	pub.txnCode = func(*model.Transaction) int { return response.CodeDuplicate }

	err := c.Execute(context.Background(), testPlan())
	require.NoError(t, err)
	assert.Len(t, pub.accountEvents, 2)
}

func TestExecute_AccountStageFailsFast(t *testing.T) {
	c, pub := newFixture(t)
	pub.accountCode = func(*model.AccountEvent) int { return response.CodeServerError }

	err := c.Execute(context.Background(), testPlan())

	var stageErr *saga.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "accounts", stageErr.Stage)

	// 账户阶段失败什么都没提交：不推流水，也不推补偿
	assert.Empty(t, pub.transactions)
	assert.Len(t, pub.accountEvents, 2)
}

func TestExecute_TransactionFailureTriggersCompensation(t *testing.T) {
	c, pub := newFixture(t)
	pub.accountCode = func(*model.AccountEvent) int { return response.CodeSuccess }
	pub.txnCode = func(*model.Transaction) int { return response.CodeServerError }

	err := c.Execute(context.Background(), testPlan())

	var stageErr *saga.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "transactions", stageErr.Stage)

	// 原批 2 条 + 补偿撤销 2 条 + 每个账户 1 条重放标记
	require.Len(t, pub.accountEvents, 5)

	var undoCount, replayCount int
	for _, e := range pub.accountEvents[2:] {
		if e.Undo {
			undoCount++
			// 撤销沿用原幂等键，消费侧按键定位落库行
			assert.Equal(t, "O1", e.OID)
			assert.NotEqual(t, "SAGA-TEST-001", e.Token)
		}
		if e.Type == model.EventTypeReplay {
			replayCount++
			assert.Equal(t, int64(1), e.AID)
		}
	}
	assert.Equal(t, 2, undoCount)
	assert.Equal(t, 1, replayCount)
}

func TestExecute_CompensationFailureEscalates(t *testing.T) {
	c, pub := newFixture(t)
	pub.txnCode = func(*model.Transaction) int { return response.CodeServerError }
	pub.accountCode = func(e *model.AccountEvent) int {
		if e.Undo {
			return response.CodeServerError // 撤销也失败：账本未对齐
		}
		return response.CodeSuccess
	}

	err := c.Execute(context.Background(), testPlan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "补偿失败")
}

// 至少一次投递下，账户应答可能在流水阶段重复到达；
// 它不能被错算成流水确认，没有流水应答的批次必须超时失败
func TestExecute_LateAccountAckNotCountedAsTransactionAck(t *testing.T) {
	c, pub := newFixture(t)
	pub.accountCode = func(*model.AccountEvent) int { return response.CodeSuccess }
	// 流水侧失联，但重复的账户应答在流水阶段补到
	pub.txnHook = func(tx *model.Transaction) {
		c.Resolve("SAGA-TEST-001", saga.Result{EventID: 101, Code: response.CodeDuplicate})
	}

	err := c.Execute(context.Background(), testPlan())

	var stageErr *saga.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "transactions", stageErr.Stage)

	// 流水批次用自己的令牌，不复用账户批次的
	require.Len(t, pub.transactions, 1)
	assert.NotEqual(t, "SAGA-TEST-001", pub.transactions[0].Token)
	assert.NotEmpty(t, pub.transactions[0].Token)
}

func TestExecute_TimeoutIsFailure(t *testing.T) {
	c, pub := newFixture(t)
	// 消费侧失联：不回推任何应答
	pub.accountCode = nil

	err := c.Execute(context.Background(), testPlan())

	var stageErr *saga.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "accounts", stageErr.Stage)
	assert.Equal(t, response.CodeServerError, stageErr.Code)
	assert.Empty(t, pub.transactions)
}

func TestExecute_PublishErrorFailsStage(t *testing.T) {
	c, pub := newFixture(t)
	pub.publishErr = errors.New("broker 不可达")

	err := c.Execute(context.Background(), testPlan())

	var stageErr *saga.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "accounts", stageErr.Stage)
}

func TestResolve_UnknownTokenDropped(t *testing.T) {
	c, _ := newFixture(t)
	// 令牌未登记的迟到应答不 panic、不阻塞
	c.Resolve("GONE", saga.Result{EventID: 1, Code: response.CodeSuccess})
}

func TestExecute_NoTransactionsSkipsSecondStage(t *testing.T) {
	c, pub := newFixture(t)
	pub.accountCode = func(*model.AccountEvent) int { return response.CodeSuccess }

	plan := testPlan()
	plan.Transactions = nil
	err := c.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, pub.transactions)
}

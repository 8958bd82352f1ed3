package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"walletcore/internal/config"
	"walletcore/internal/infrastructure/mq"
	"walletcore/internal/model"
	"walletcore/pkg/idgen"
	"walletcore/pkg/response"
)

// ============================================================================
// saga 协调器
// ============================================================================
//
// 一次资金操作要动两条流：账户事件流和交易流水流。两边各自独立落库，
// 没有跨库事务，一致性靠"先推账户、确认后再推流水、失败则补偿"的顺序保证：
//
//   Planned -> AccountsPushed -> AccountsConfirmed -> TransactionsPushed -> Committed
//                                      |                      |
//                                      v                      v
//                                  直接失败            Compensating -> CompensatedReplay
//
// 账户批次失败时什么都没提交，直接把错误还给调用方；
// 流水批次失败时账户侧已经生效，要把本批账户事件逐条撤销（undo 删除落库行），
// 再推一个 type=0 重放标记，让快照从未被污染的历史重新推导出来。
// 补偿是删除加重建，不是回滚：绝不原地改快照。
// ============================================================================

// Plan 一次资金操作的事件批次
// 两个批次共用同一个关联令牌
type Plan struct {
	Token         string
	AccountEvents []*model.AccountEvent
	Transactions  []*model.Transaction
}

// Result 单条事件的应用结果，消费侧按令牌回推
type Result struct {
	EventID int64
	Code    int
	Msg     string
}

// StageError 某个阶段的聚合失败
type StageError struct {
	Stage string
	Code  int
	Msg   string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("saga %s 阶段失败: code=%d, msg=%s", e.Stage, e.Code, e.Msg)
}

// Publisher 事件发布接口，测试里换成内存假实现
type Publisher interface {
	PublishAccountEvent(e *model.AccountEvent) error
	PublishTransaction(t *model.Transaction) error
}

// KafkaPublisher 生产实现：按 aid/uid 做分区 key，
// 同一账户的事件落同一分区，消费侧天然串行
type KafkaPublisher struct {
	producer *mq.Producer
	topics   config.KafkaTopicConfig
}

func NewKafkaPublisher(producer *mq.Producer, topics config.KafkaTopicConfig) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topics: topics}
}

func (p *KafkaPublisher) PublishAccountEvent(e *model.AccountEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.producer.Send(p.topics.AccountEvents, strconv.FormatInt(e.AID, 10), data)
}

func (p *KafkaPublisher) PublishTransaction(t *model.Transaction) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return p.producer.Send(p.topics.TransactionEvents, strconv.FormatInt(t.UID, 10), data)
}

type waiter struct {
	ch chan Result
}

// Coordinator saga 协调器
// 每个在途批次对应一个按令牌登记的应答通道；推完批次后阻塞收齐应答，
// 超时一律按失败处理 —— 收不到确认绝不能当成功
type Coordinator struct {
	publisher Publisher
	timeout   time.Duration

	mu      sync.Mutex
	waiters map[string]*waiter
}

func NewCoordinator(publisher Publisher, cfg *config.BusinessConfig) *Coordinator {
	timeout := time.Duration(cfg.SagaTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Coordinator{
		publisher: publisher,
		timeout:   timeout,
		waiters:   make(map[string]*waiter),
	}
}

// Resolve 消费侧回推单条事件的应用结果
// 令牌已注销（批次超时或已完结）的迟到应答直接丢弃
func (c *Coordinator) Resolve(token string, r Result) {
	c.mu.Lock()
	w, ok := c.waiters[token]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.ch <- r:
	default:
	}
}

func (c *Coordinator) register(token string, n int) {
	c.mu.Lock()
	c.waiters[token] = &waiter{ch: make(chan Result, n)}
	c.mu.Unlock()
}

func (c *Coordinator) unregister(token string) {
	c.mu.Lock()
	delete(c.waiters, token)
	c.mu.Unlock()
}

// await 收齐 n 条应答；任何一条失败、超时或 ctx 取消都判整批失败
// 200 和 208（重复投递）都算成功
func (c *Coordinator) await(ctx context.Context, token string, n int, stage string) error {
	c.mu.Lock()
	w := c.waiters[token]
	c.mu.Unlock()

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()

	for i := 0; i < n; i++ {
		select {
		case r := <-w.ch:
			if r.Code != response.CodeSuccess && r.Code != response.CodeDuplicate {
				return &StageError{Stage: stage, Code: r.Code, Msg: r.Msg}
			}
		case <-deadline.C:
			return &StageError{Stage: stage, Code: response.CodeServerError, Msg: "等待确认超时"}
		case <-ctx.Done():
			return &StageError{Stage: stage, Code: response.CodeServerError, Msg: ctx.Err().Error()}
		}
	}
	return nil
}

// Execute 执行一个事件批次计划
//
// 账户阶段失败：还没有任何提交，直接失败返回，不需要补偿。
// 流水阶段失败：账户侧已确认，走补偿；补偿本身失败属于严重故障，
// 账本处于未对齐状态，需要人工 replay，错误必须往上抛并告警。
func (c *Coordinator) Execute(ctx context.Context, plan *Plan) error {
	// 阶段一：账户事件
	c.register(plan.Token, len(plan.AccountEvents))
	defer c.unregister(plan.Token)

	for _, e := range plan.AccountEvents {
		e.Token = plan.Token
		if err := c.publisher.PublishAccountEvent(e); err != nil {
			return &StageError{Stage: "accounts", Code: response.CodeServerError, Msg: err.Error()}
		}
	}
	if err := c.await(ctx, plan.Token, len(plan.AccountEvents), "accounts"); err != nil {
		return err
	}

	if len(plan.Transactions) == 0 {
		return nil
	}

	// 阶段二：交易流水换新令牌。至少一次投递下账户应答可能重复或迟到，
	// 沿用同一令牌会把它们错算成流水确认，所以先注销旧令牌再开新批次
	c.unregister(plan.Token)
	txnToken := idgen.GenerateToken()
	c.register(txnToken, len(plan.Transactions))
	defer c.unregister(txnToken)

	pushErr := func() error {
		for _, t := range plan.Transactions {
			t.Token = txnToken
			if err := c.publisher.PublishTransaction(t); err != nil {
				return &StageError{Stage: "transactions", Code: response.CodeServerError, Msg: err.Error()}
			}
		}
		return c.await(ctx, txnToken, len(plan.Transactions), "transactions")
	}()
	if pushErr == nil {
		return nil
	}

	log.Printf("[Saga] 流水阶段失败，开始补偿: token=%s, err=%v", plan.Token, pushErr)
	if err := c.compensate(ctx, plan); err != nil {
		// 补偿失败：账本未对齐，只能人工 replay 修复
		log.Printf("[Saga] 【告警】补偿失败，账本待人工修复: token=%s, err=%v", plan.Token, err)
		return fmt.Errorf("补偿失败，需人工重放修复: %w", err)
	}
	return pushErr
}

// compensate 撤销已确认的账户事件并强制重放
// 每条账户事件按原幂等键推一条 undo（消费侧做删除标记），
// 然后对每个涉及的账户推一条零额重放标记，快照从剩余历史重建
func (c *Coordinator) compensate(ctx context.Context, plan *Plan) error {
	token := idgen.GenerateToken()

	aids := make(map[int64]*model.AccountEvent)
	undos := make([]*model.AccountEvent, 0, len(plan.AccountEvents))
	for _, e := range plan.AccountEvents {
		undo := *e
		undo.Undo = true
		undo.Token = token
		undos = append(undos, &undo)
		if _, ok := aids[e.AID]; !ok {
			aids[e.AID] = e
		}
	}
	for _, origin := range aids {
		undos = append(undos, &model.AccountEvent{
			ID:         idgen.NextID(),
			Type:       model.EventTypeReplay,
			OpID:       origin.OpID,
			UID:        origin.UID,
			AID:        origin.AID,
			OccurredAt: time.Now().UnixMilli(),
			Token:      token,
		})
	}

	c.register(token, len(undos))
	defer c.unregister(token)

	for _, e := range undos {
		if err := c.publisher.PublishAccountEvent(e); err != nil {
			return err
		}
	}
	return c.await(ctx, token, len(undos), "compensate")
}

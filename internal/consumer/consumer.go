package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"walletcore/internal/config"
	"walletcore/internal/model"
	"walletcore/internal/repository"
	"walletcore/internal/saga"
	"walletcore/internal/service"
	"walletcore/pkg/response"

	"github.com/IBM/sarama"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Resolver saga 应答回推接口，生产实现是协调器本体
type Resolver interface {
	Resolve(token string, r saga.Result)
}

// Handler 事件摄入边界
// 消费账户事件流和流水事件流，投递语义是至少一次：
// 每条消息的应用结果编码为 {code, msg}，200 生效、208 重复（幂等空操作）、
// 404 关联实体缺失、409 余额不足、500 内部错误。
// 带令牌的消息在应用后把结果回推给 saga 协调器。
type Handler struct {
	topics    config.KafkaTopicConfig
	eventRepo *repository.EventRepository
	replay    *service.ReplayService
	txns      *service.TransactionService
	resolver  Resolver
}

func NewHandler(db *gorm.DB, rdb *redis.Client, replay *service.ReplayService, txns *service.TransactionService, resolver Resolver, topics config.KafkaTopicConfig) *Handler {
	return &Handler{
		topics:    topics,
		eventRepo: repository.NewEventRepository(db),
		replay:    replay,
		txns:      txns,
		resolver:  resolver,
	}
}

func (h *Handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *Handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 逐条应用，无论结果如何都标记消费
// 失败不靠重投递兜底，靠 saga 侧的失败路径和人工重放兜底
func (h *Handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx := session.Context()
		switch msg.Topic {
		case h.topics.AccountEvents:
			h.handleAccountEvent(ctx, msg.Value)
		case h.topics.TransactionEvents:
			h.handleTransaction(ctx, msg.Value)
		default:
			log.Printf("[Consumer] 未知主题: %s", msg.Topic)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *Handler) handleAccountEvent(ctx context.Context, data []byte) {
	var e model.AccountEvent
	if err := json.Unmarshal(data, &e); err != nil {
		log.Printf("[Consumer] 账户事件解析失败: %v", err)
		return
	}

	code, msg := h.applyAccountEvent(ctx, &e)
	if code == response.CodeServerError {
		log.Printf("[Consumer] 账户事件应用失败: id=%d, type=%d, msg=%s", e.ID, e.Type, msg)
	}
	if e.Token != "" {
		h.resolver.Resolve(e.Token, saga.Result{EventID: e.ID, Code: code, Msg: msg})
	}
}

// applyAccountEvent 应用一条账户事件
//
// 三条路径：
//   - 重放标记（type=0）：不落库，丢弃缓存快照全量重建
//   - undo：按幂等键给已落库事件打删除标记，重建交给同批随后的重放标记
//   - 普通事件：幂等插入，成功后增量重放受影响账户
func (h *Handler) applyAccountEvent(ctx context.Context, e *model.AccountEvent) (int, string) {
	switch {
	case e.Type == model.EventTypeReplay:
		if _, err := h.replay.Rebuild(ctx, e.AID); err != nil {
			return response.CodeServerError, err.Error()
		}
		return response.CodeSuccess, ""

	case e.Undo:
		rows, err := h.eventRepo.MarkDeleted(ctx, e)
		if err != nil {
			return response.CodeServerError, err.Error()
		}
		if rows == 0 {
			// 要撤的事件没落过库（或已撤过），幂等成功
			return response.CodeDuplicate, "事件已撤销"
		}
		return response.CodeSuccess, ""

	default:
		if err := h.eventRepo.Insert(ctx, e); err != nil {
			if errors.Is(err, repository.ErrDuplicateEvent) {
				// 重复投递：不再重放，快照保持不变
				return response.CodeDuplicate, "事件已应用"
			}
			return response.CodeServerError, err.Error()
		}
		if _, err := h.replay.Replay(ctx, e.AID); err != nil && !errors.Is(err, service.ErrNothingToReplay) {
			return response.CodeServerError, err.Error()
		}
		return response.CodeSuccess, ""
	}
}

func (h *Handler) handleTransaction(ctx context.Context, data []byte) {
	var t model.Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		log.Printf("[Consumer] 流水事件解析失败: %v", err)
		return
	}

	code, msg := response.CodeSuccess, ""
	switch err := h.txns.Record(ctx, &t); {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicateTransaction):
		code, msg = response.CodeDuplicate, "流水已记录"
	case errors.Is(err, repository.ErrAccountNotFound):
		code, msg = response.CodeNotFound, "账户不存在"
	default:
		code, msg = response.CodeServerError, err.Error()
		log.Printf("[Consumer] 流水记录失败: id=%d, msg=%s", t.ID, msg)
	}
	if t.Token != "" {
		h.resolver.Resolve(t.Token, saga.Result{EventID: t.ID, Code: code, Msg: msg})
	}
}

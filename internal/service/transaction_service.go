package service

import (
	"context"
	"errors"
	"fmt"

	"walletcore/internal/model"
	"walletcore/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// TransactionService 交易流水记录器
// 消费流水事件：补齐账户ID、查重、落库、进用户时间索引
type TransactionService struct {
	eventRepo    *repository.EventRepository
	txnRepo      *repository.TransactionRepository
	snapshotRepo *repository.SnapshotRepository
}

func NewTransactionService(db *gorm.DB, rdb *redis.Client) *TransactionService {
	return &TransactionService{
		eventRepo:    repository.NewEventRepository(db),
		txnRepo:      repository.NewTransactionRepository(db),
		snapshotRepo: repository.NewSnapshotRepository(rdb),
	}
}

// Record 记录一条流水
//
// aid 缺失时按 (uid, vid) 从事件表反查；查不到返回 ErrAccountNotFound。
// 幂等键 (aid, type, oid|maid|sn)：重复投递返回 ErrDuplicateTransaction，
// 调用方按成功处理。
func (s *TransactionService) Record(ctx context.Context, t *model.Transaction) error {
	if t.AID == 0 {
		aid, err := s.eventRepo.FindAccountID(ctx, t.UID, t.VID)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return repository.ErrAccountNotFound
			}
			return fmt.Errorf("反查账户失败: %w", err)
		}
		t.AID = aid
	}

	existing, err := s.txnRepo.FindByCorrelation(ctx, t.AID, t.Type, t.CorrelationID())
	if err != nil {
		return fmt.Errorf("流水查重失败: %w", err)
	}
	if existing != nil {
		return repository.ErrDuplicateTransaction
	}

	if err := s.txnRepo.Create(ctx, t); err != nil {
		return fmt.Errorf("落流水失败: %w", err)
	}
	if err := s.snapshotRepo.AppendTransaction(ctx, t); err != nil {
		// 索引是缓存，丢了可从库里重建，不影响落库结果
		return fmt.Errorf("写流水索引失败: %w", err)
	}
	return nil
}

// ListByUID 读用户流水，优先走 Redis 时间索引，索引为空回源数据库
func (s *TransactionService) ListByUID(ctx context.Context, uid int64, page, pageSize int) ([]*model.Transaction, error) {
	offset := int64((page - 1) * pageSize)
	transactions, err := s.snapshotRepo.ListTransactions(ctx, uid, offset, int64(pageSize))
	if err == nil && len(transactions) > 0 {
		return transactions, nil
	}
	dbTxns, _, err := s.txnRepo.ListByUID(ctx, uid, page, pageSize)
	return dbTxns, err
}

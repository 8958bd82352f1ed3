package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"walletcore/internal/model"

	"github.com/go-redis/redis/v8"
)

// SnapshotRepository 快照仓储
// 账户快照、钱包全量/精简投影、按时间排序的流水索引都放 Redis。
// 缓存只是物化视图，事件表才是事实来源：缓存丢了重放即可恢复，
// 所以这里不设过期时间也不做一致性校验。
type SnapshotRepository struct {
	rdb *redis.Client
}

func NewSnapshotRepository(rdb *redis.Client) *SnapshotRepository {
	return &SnapshotRepository{rdb: rdb}
}

func accountKey(aid int64) string {
	return fmt.Sprintf("wallet:account:%d", aid)
}

func walletKey(uid int64) string {
	return fmt.Sprintf("wallet:full:%d", uid)
}

func slimWalletKey(uid int64) string {
	return fmt.Sprintf("wallet:slim:%d", uid)
}

func txnIndexKey(uid int64) string {
	return fmt.Sprintf("wallet:txns:%d", uid)
}

// GetAccount 读账户快照，缓存缺失返回 nil
func (r *SnapshotRepository) GetAccount(ctx context.Context, aid int64) (*model.Account, error) {
	data, err := r.rdb.Get(ctx, accountKey(aid)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var acct model.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *SnapshotRepository) SaveAccount(ctx context.Context, acct *model.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, accountKey(acct.ID), data, 0).Err()
}

// RemoveAccount 把账户从缓存和所属钱包里摘除
// 补偿把账户的事件删光之后用：快照失去了事实依据，不能留
func (r *SnapshotRepository) RemoveAccount(ctx context.Context, aid, uid int64) error {
	if err := r.rdb.Del(ctx, accountKey(aid)).Err(); err != nil {
		return err
	}
	if uid == 0 {
		return nil
	}
	w, err := r.GetWallet(ctx, uid)
	if err != nil {
		return err
	}
	if w.Remove(aid) {
		return r.SaveWallet(ctx, w)
	}
	return nil
}

// GetWallet 读用户钱包全量投影
// 缓存缺失按"空钱包"处理，不算错误
func (r *SnapshotRepository) GetWallet(ctx context.Context, uid int64) (*model.Wallet, error) {
	data, err := r.rdb.Get(ctx, walletKey(uid)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return &model.Wallet{UID: uid}, nil
		}
		return nil, err
	}
	var w model.Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// SaveWallet 同时落全量和精简两个投影
func (r *SnapshotRepository) SaveWallet(ctx context.Context, w *model.Wallet) error {
	full, err := json.Marshal(w)
	if err != nil {
		return err
	}
	slim, err := json.Marshal(w.Slim())
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, walletKey(w.UID), full, 0).Err(); err != nil {
		return err
	}
	return r.rdb.Set(ctx, slimWalletKey(w.UID), slim, 0).Err()
}

// GetSlimWallet 读精简投影，缺失同样按空钱包处理
func (r *SnapshotRepository) GetSlimWallet(ctx context.Context, uid int64) (*model.Wallet, error) {
	data, err := r.rdb.Get(ctx, slimWalletKey(uid)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return &model.Wallet{UID: uid}, nil
		}
		return nil, err
	}
	var w model.Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// AppendTransaction 流水进用户时间索引，score 取 occurred_at（毫秒）
func (r *SnapshotRepository) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.rdb.ZAdd(ctx, txnIndexKey(t.UID), &redis.Z{
		Score:  float64(t.OccurredAt),
		Member: string(data),
	}).Err()
}

// ListTransactions 按时间倒序读用户流水索引
func (r *SnapshotRepository) ListTransactions(ctx context.Context, uid int64, offset, count int64) ([]*model.Transaction, error) {
	members, err := r.rdb.ZRevRange(ctx, txnIndexKey(uid), offset, offset+count-1).Result()
	if err != nil {
		return nil, err
	}
	transactions := make([]*model.Transaction, 0, len(members))
	for _, m := range members {
		var t model.Transaction
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			return nil, err
		}
		transactions = append(transactions, &t)
	}
	return transactions, nil
}

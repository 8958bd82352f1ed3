package repository_test

import (
	"context"
	"testing"

	"walletcore/internal/model"
	"walletcore/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindByCorrelation(t *testing.T) {
	repo := repository.NewTransactionRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Transaction{
		ID: 1, Type: model.TxnTypeRecharge, UID: 10, AID: 1, OID: "O1", Title: "充值", Amount: 8000, OccurredAt: 1000,
	}))
	require.NoError(t, repo.Create(ctx, &model.Transaction{
		ID: 2, Type: model.TxnTypeDeduct, UID: 10, AID: 1, SN: "SN1", Title: "扣款", Amount: 150, OccurredAt: 2000,
	}))

	// 关联号可能落在 oid、maid 或 sn 任意一列
	got, err := repo.FindByCorrelation(ctx, 1, model.TxnTypeRecharge, "O1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)

	got, err = repo.FindByCorrelation(ctx, 1, model.TxnTypeDeduct, "SN1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)

	// 同关联号不同类型不算重复
	got, err = repo.FindByCorrelation(ctx, 1, model.TxnTypeManagementFee, "O1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListByUID_Paged(t *testing.T) {
	repo := repository.NewTransactionRepository(newTestDB(t))
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, repo.Create(ctx, &model.Transaction{
			ID: i, Type: model.TxnTypeRecharge, UID: 10, AID: 1, OID: "O" + string(rune('0'+i)),
			Amount: i * 100, OccurredAt: i * 1000,
		}))
	}

	txns, total, err := repo.ListByUID(ctx, 10, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, txns, 2)
	// 时间倒序
	assert.Equal(t, int64(5), txns[0].ID)
	assert.Equal(t, int64(4), txns[1].ID)

	txns, _, err = repo.ListByUID(ctx, 10, 3, 2)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(1), txns[0].ID)
}

func TestOrderSettlement(t *testing.T) {
	repo := repository.NewOrderRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.GetByOrderNo(ctx, "NOPE")
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)

	require.NoError(t, repo.Create(ctx, &model.RechargeOrder{
		OrderNo: "RCH001", UID: 10, Summary: 10000, Payment: 9500, Status: model.OrderStatusCreated,
	}))

	require.NoError(t, repo.MarkSettled(ctx, "RCH001"))

	order, err := repo.GetByOrderNo(ctx, "RCH001")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusSettled, order.Status)
	assert.NotNil(t, order.SettledAt)

	// 重复结算被条件更新拦下
	assert.ErrorIs(t, repo.MarkSettled(ctx, "RCH001"), repository.ErrOrderSettled)
}

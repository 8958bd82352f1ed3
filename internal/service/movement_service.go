package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletcore/internal/config"
	"walletcore/internal/model"
	"walletcore/internal/saga"
	"walletcore/pkg/idgen"
	"walletcore/pkg/money"
)

var (
	ErrInsufficientFunds = errors.New("余额不足")
	ErrInvalidArgument   = errors.New("参数不合法")
)

// Pool 资金池选择
type Pool int

const (
	PoolSmall Pool = 0  // 小池 balance0
	PoolLarge Pool = 1  // 大池 balance1
	PoolBoth  Pool = -1 // 不指定：小池优先，余量进大池
)

// ParsePool 解析接口入参的池选择
func ParsePool(s string) (Pool, error) {
	switch s {
	case "0":
		return PoolSmall, nil
	case "1":
		return PoolLarge, nil
	case "", "both":
		return PoolBoth, nil
	default:
		return PoolBoth, ErrInvalidArgument
	}
}

// MovementService 资金变动规划器
// 只负责把一次业务操作翻译成事件批次，落库、确认、补偿都交给 saga 协调器。
// 规划基于当前快照做校验，真正的安全性来自事件幂等插入和补偿重放，
// 不依赖规划时刻的快照绝对新鲜。
type MovementService struct {
	biz *config.BusinessConfig
}

func NewMovementService(cfg *config.Config) *MovementService {
	return &MovementService{biz: &cfg.Business}
}

// PlanRecharge 充值规划
//
// 订单应收 summary、实付 payment，费用拆三笔：
//   - 通道手续费：按实付乘费率
//   - 管理费：max(1, round(summary * 管理费比例))
//   - 补贴：summary - payment 为正时计入奖励金
//
// 入池净额 = summary - 管理费，按比例小池两成、大池八成（小池取整，余数全进大池）；
// 实缴计 payment - 通道手续费。账户事件和流水事件一一对应，共用订单号做幂等键。
func (s *MovementService) PlanRecharge(ctx context.Context, order *model.RechargeOrder, aid, opid int64) (*saga.Plan, error) {
	if order.Summary <= 0 || order.Payment <= 0 {
		return nil, fmt.Errorf("%w: 订单金额必须为正", ErrInvalidArgument)
	}

	procFee, err := money.Ratio(order.Payment, s.biz.CommissionRatio)
	if err != nil {
		return nil, fmt.Errorf("%w: 通道费率配置错误", ErrInvalidArgument)
	}
	mgmtFee, err := money.Ratio(order.Summary, s.biz.ManagementFeeRatio)
	if err != nil {
		return nil, fmt.Errorf("%w: 管理费比例配置错误", ErrInvalidArgument)
	}
	if mgmtFee < 1 {
		mgmtFee = 1
	}

	var subsidy int64
	if order.Summary > order.Payment {
		subsidy = order.Summary - order.Payment
	}

	net := order.Summary - mgmtFee
	if net <= 0 {
		return nil, fmt.Errorf("%w: 应收不足以覆盖管理费", ErrInvalidArgument)
	}
	small, err := money.Ratio(net, s.biz.SmallPoolRatio)
	if err != nil {
		return nil, fmt.Errorf("%w: 分账比例配置错误", ErrInvalidArgument)
	}
	large := net - small

	netPaid := order.Payment - procFee
	if netPaid < 0 {
		netPaid = 0
	}

	now := time.Now().UnixMilli()
	plan := &saga.Plan{Token: idgen.GenerateToken()}
	seq := int64(0)
	appendEvent := func(typ int, amount int64) {
		plan.AccountEvents = append(plan.AccountEvents, &model.AccountEvent{
			ID:         idgen.NextID(),
			Type:       typ,
			OpID:       opid,
			UID:        order.UID,
			AID:        aid,
			VID:        order.VID,
			OID:        order.OrderNo,
			License:    order.License,
			Amount:     amount,
			OccurredAt: now + seq, // 批内逐条递增，折叠顺序确定
		})
		seq++
	}
	appendTxn := func(typ int, title string, amount int64) {
		plan.Transactions = append(plan.Transactions, &model.Transaction{
			ID:         idgen.NextID(),
			Type:       typ,
			UID:        order.UID,
			AID:        aid,
			VID:        order.VID,
			OID:        order.OrderNo,
			Title:      title,
			License:    order.License,
			Amount:     amount,
			OccurredAt: now,
		})
	}

	appendEvent(model.EventTypeBalance0Add, small)
	appendEvent(model.EventTypeBalance1Add, large)
	appendEvent(model.EventTypePaidAdd, netPaid)
	appendTxn(model.TxnTypeRecharge, "充值", net)
	appendTxn(model.TxnTypeManagementFee, "管理费", mgmtFee)
	if procFee > 0 {
		appendTxn(model.TxnTypeProcessingFee, "支付手续费", procFee)
	}
	if subsidy > 0 {
		appendEvent(model.EventTypeBonusAdd, subsidy)
		appendTxn(model.TxnTypeSubsidy, "充值补贴", subsidy)
	}
	return plan, nil
}

// unfrozenCapacity 单池剩余可冻结额
// 口径沿用原查询逻辑：balanceN - frozen_balanceN，负数按零算
func unfrozenCapacity(balance, frozen int64) int64 {
	capacity := balance - frozen
	if capacity < 0 {
		return 0
	}
	return capacity
}

// PlanFreeze 冻结规划
//
// 指定单池时冻 min(amount, 该池可冻额)；不指定时小池优先，
// 余量在大池可冻额内续冻。产出一到两条冻结事件加一条汇总流水。
func (s *MovementService) PlanFreeze(ctx context.Context, acct *model.Account, pool Pool, amount int64, oid, maid string, opid int64) (*saga.Plan, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: 冻结金额必须为正", ErrInvalidArgument)
	}
	if oid == "" && maid == "" {
		return nil, fmt.Errorf("%w: 缺少关联号", ErrInvalidArgument)
	}

	cap0 := unfrozenCapacity(acct.Balance0, acct.FrozenBalance0)
	cap1 := unfrozenCapacity(acct.Balance1, acct.FrozenBalance1)

	var freeze0, freeze1 int64
	switch pool {
	case PoolSmall:
		freeze0 = min64(amount, cap0)
	case PoolLarge:
		freeze1 = min64(amount, cap1)
	default:
		freeze0 = min64(amount, cap0)
		freeze1 = min64(amount-freeze0, cap1)
	}
	if freeze0+freeze1 == 0 {
		return nil, fmt.Errorf("%w: 无可冻结余额", ErrInsufficientFunds)
	}

	now := time.Now().UnixMilli()
	plan := &saga.Plan{Token: idgen.GenerateToken()}
	seq := int64(0)
	appendEvent := func(typ int, amount int64) {
		plan.AccountEvents = append(plan.AccountEvents, &model.AccountEvent{
			ID:         idgen.NextID(),
			Type:       typ,
			OpID:       opid,
			UID:        acct.UID,
			AID:        acct.ID,
			VID:        acct.VID,
			OID:        oid,
			MAID:       maid,
			Amount:     amount,
			OccurredAt: now + seq,
		})
		seq++
	}
	if freeze0 > 0 {
		appendEvent(model.EventTypeFreeze0, freeze0)
	}
	if freeze1 > 0 {
		appendEvent(model.EventTypeFreeze1, freeze1)
	}
	plan.Transactions = append(plan.Transactions, &model.Transaction{
		ID:         idgen.NextID(),
		Type:       model.TxnTypeFreeze,
		UID:        acct.UID,
		AID:        acct.ID,
		VID:        acct.VID,
		OID:        oid,
		MAID:       maid,
		Title:      "资金冻结",
		License:    vehicleLicense(acct),
		Amount:     freeze0 + freeze1,
		OccurredAt: now,
	})
	return plan, nil
}

// PlanDeduct 扣款规划
//
// 两道校验：
//   1. 池余额：both 口径为 balance0+balance1，单池口径为该池余额。
//      TODO(业务确认): 原实现的查询口径含冻结部分，这里按不含冻结收紧，
//      否则折叠后会出现负余额；放宽前需产品确认冻结资金可否参与扣款。
//   2. 资金来源：奖励金先扣、实缴兜底，bonus + paid 必须盖住全额。
//
// 校验不过产出零事件，直接返回 ErrInsufficientFunds。
func (s *MovementService) PlanDeduct(ctx context.Context, acct *model.Account, amount int64, pool Pool, oid, sn string, opid int64) (*saga.Plan, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: 扣款金额必须为正", ErrInvalidArgument)
	}
	if sn == "" {
		sn = idgen.GenerateSN()
	}

	var debit0, debit1 int64
	switch pool {
	case PoolSmall:
		if acct.Balance0 < amount {
			return nil, fmt.Errorf("%w: 小池余额不足", ErrInsufficientFunds)
		}
		debit0 = amount
	case PoolLarge:
		if acct.Balance1 < amount {
			return nil, fmt.Errorf("%w: 大池余额不足", ErrInsufficientFunds)
		}
		debit1 = amount
	default:
		if acct.Balance0+acct.Balance1 < amount {
			return nil, fmt.Errorf("%w: 两池合计余额不足", ErrInsufficientFunds)
		}
		debit0 = min64(amount, acct.Balance0)
		debit1 = amount - debit0
	}

	// 资金来源：奖励金优先耗尽，剩余从实缴扣
	if acct.Bonus+acct.Paid < amount {
		return nil, fmt.Errorf("%w: 奖励金与实缴合计不足", ErrInsufficientFunds)
	}
	bonusUsed := min64(amount, acct.Bonus)
	paidUsed := amount - bonusUsed

	now := time.Now().UnixMilli()
	plan := &saga.Plan{Token: idgen.GenerateToken()}
	seq := int64(0)
	appendEvent := func(typ int, amount int64) {
		if amount <= 0 {
			return
		}
		plan.AccountEvents = append(plan.AccountEvents, &model.AccountEvent{
			ID:         idgen.NextID(),
			Type:       typ,
			OpID:       opid,
			UID:        acct.UID,
			AID:        acct.ID,
			VID:        acct.VID,
			OID:        oid,
			SN:         sn,
			Amount:     amount,
			OccurredAt: now + seq,
		})
		seq++
	}
	appendEvent(model.EventTypeBalance0Sub, debit0)
	appendEvent(model.EventTypeBalance1Sub, debit1)
	appendEvent(model.EventTypeBonusSub, bonusUsed)
	appendEvent(model.EventTypePaidSub, paidUsed)

	plan.Transactions = append(plan.Transactions, &model.Transaction{
		ID:         idgen.NextID(),
		Type:       model.TxnTypeDeduct,
		UID:        acct.UID,
		AID:        acct.ID,
		VID:        acct.VID,
		OID:        oid,
		SN:         sn,
		Title:      "扣款",
		License:    vehicleLicense(acct),
		Amount:     amount,
		OccurredAt: now,
	})
	return plan, nil
}

func vehicleLicense(acct *model.Account) string {
	if acct.Vehicle != nil {
		return acct.Vehicle.License
	}
	return ""
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

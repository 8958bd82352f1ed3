package handler

import (
	"errors"
	"strconv"

	"walletcore/internal/config"
	"walletcore/internal/model"
	"walletcore/internal/repository"
	"walletcore/internal/saga"
	"walletcore/internal/service"
	"walletcore/pkg/money"
	"walletcore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
// 金额在这一层完成分/元换算：请求里的金额是元（字符串，最多两位小数），
// 返回里的金额同样是元；往里走全是分
type Handler struct {
	wallet *service.WalletService
	txns   *service.TransactionService
	export *service.ExportService
}

// NewHandler 创建处理器实例
// saga 协调器由 main 构造后共享给 HTTP 侧和消费侧
func NewHandler(db *gorm.DB, rdb *redis.Client, coordinator *saga.Coordinator, cfg *config.Config) *Handler {
	wallet := service.NewWalletService(db, rdb, coordinator, cfg)
	return &Handler{
		wallet: wallet,
		txns:   service.NewTransactionService(db, rdb),
		export: service.NewExportService(db, rdb, wallet.Replayer()),
	}
}

// writeError 服务层错误到返回码的统一映射
func writeError(c *gin.Context, err error) {
	var stageErr *saga.StageError
	switch {
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrAccountNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, repository.ErrOrderSettled):
		response.Duplicate(c, "订单已结算，请勿重复操作")
	case errors.Is(err, service.ErrInsufficientFunds):
		response.Insufficient(c, err.Error())
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, money.ErrInvalidAmount):
		response.ParamError(c, err.Error())
	case errors.As(err, &stageErr):
		response.Error(c, stageErr.Code, stageErr.Msg)
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateOrderRequest 录入充值订单请求，金额为元
type CreateOrderRequest struct {
	UID     int64  `json:"uid" binding:"required"`
	VID     int64  `json:"vid"`
	License string `json:"license"`
	Summary string `json:"summary" binding:"required"` // 应收
	Payment string `json:"payment" binding:"required"` // 实付
}

// CreateOrder 录入充值订单
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	summary, err := money.ToCents(req.Summary)
	if err != nil {
		response.ParamError(c, "summary 金额不合法")
		return
	}
	payment, err := money.ToCents(req.Payment)
	if err != nil {
		response.ParamError(c, "payment 金额不合法")
		return
	}

	order := &model.RechargeOrder{
		UID:     req.UID,
		VID:     req.VID,
		License: req.License,
		Summary: summary,
		Payment: payment,
	}
	if err := h.wallet.CreateOrder(c.Request.Context(), order); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order_no": order.OrderNo,
		"status":   order.Status,
	})
}

// ============================================================
// 资金操作接口
// ============================================================

// RechargeRequest 充值请求
type RechargeRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
	OpID    int64  `json:"opid"`
}

// Recharge 按订单充值
// POST /api/v1/wallet/recharge
//
// 【关键点】充值是典型的双流 saga：
// 1. 幂等性：同一订单只结算一次，重复请求返回 208
// 2. 先推账户事件批次，确认后再推流水批次
// 3. 流水批次失败时撤销账户事件并强制重放
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	plan, err := h.wallet.Recharge(c.Request.Context(), req.OrderNo, req.OpID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order_no": req.OrderNo,
		"token":    plan.Token,
		"events":   len(plan.AccountEvents),
	})
}

// FreezeRequest 冻结请求，金额为元
type FreezeRequest struct {
	AID    int64  `json:"aid" binding:"required"`
	Pool   string `json:"pool"` // "0" / "1" / "both"（默认）
	Amount string `json:"amount" binding:"required"`
	OID    string `json:"oid"`
	MAID   string `json:"maid"`
	OpID   int64  `json:"opid"`
}

// Freeze 冻结资金
// POST /api/v1/wallet/freeze
func (h *Handler) Freeze(c *gin.Context) {
	var req FreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	pool, err := service.ParsePool(req.Pool)
	if err != nil {
		response.ParamError(c, "pool 取值不合法")
		return
	}
	amount, err := money.ToCents(req.Amount)
	if err != nil {
		response.ParamError(c, "amount 金额不合法")
		return
	}

	plan, err := h.wallet.Freeze(c.Request.Context(), req.AID, pool, amount, req.OID, req.MAID, req.OpID)
	if err != nil {
		writeError(c, err)
		return
	}

	var frozen int64
	for _, e := range plan.AccountEvents {
		frozen += e.Amount
	}
	response.Success(c, gin.H{
		"aid":    req.AID,
		"token":  plan.Token,
		"frozen": money.ToDisplay(frozen),
	})
}

// DeductRequest 扣款请求，金额为元
type DeductRequest struct {
	AID    int64  `json:"aid" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	Pool   string `json:"pool"`
	OID    string `json:"oid"`
	SN     string `json:"sn"` // 扣款序列号，不传则生成
	OpID   int64  `json:"opid"`
}

// Deduct 扣款
// POST /api/v1/wallet/deduct
func (h *Handler) Deduct(c *gin.Context) {
	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	pool, err := service.ParsePool(req.Pool)
	if err != nil {
		response.ParamError(c, "pool 取值不合法")
		return
	}
	amount, err := money.ToCents(req.Amount)
	if err != nil {
		response.ParamError(c, "amount 金额不合法")
		return
	}

	plan, err := h.wallet.Deduct(c.Request.Context(), req.AID, amount, pool, req.OID, req.SN, req.OpID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"aid":      req.AID,
		"token":    plan.Token,
		"deducted": money.ToDisplay(amount),
	})
}

// ============================================================
// 重放与导出接口
// ============================================================

// Replay 手动重放单个账户
// POST /api/v1/wallet/replay
// 万能修复入口：缓存和事件表不一致时重推快照
func (h *Handler) Replay(c *gin.Context) {
	var req struct {
		AID int64 `json:"aid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	acct, err := h.wallet.Replayer().Rebuild(c.Request.Context(), req.AID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, accountView(acct))
}

// ReplayAll 全量重放
// POST /api/v1/wallet/replay_all
func (h *Handler) ReplayAll(c *gin.Context) {
	replayed, failed, err := h.wallet.Replayer().ReplayAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"replayed": replayed,
		"failed":   failed,
	})
}

// Export 导出全量账户快照
// POST /api/v1/wallet/export
func (h *Handler) Export(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	count, err := h.export.ExportAccounts(c.Request.Context(), req.Path)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"path":  req.Path,
		"count": count,
	})
}

// ============================================================
// 查询接口：只做缓存快照的格式化输出
// ============================================================

func parseUID(c *gin.Context) (int64, bool) {
	uid, err := strconv.ParseInt(c.Query("uid"), 10, 64)
	if err != nil || uid <= 0 {
		response.ParamError(c, "uid 参数错误")
		return 0, false
	}
	return uid, true
}

// GetWallet 查用户钱包
// GET /api/v1/wallet?uid=xxx
func (h *Handler) GetWallet(c *gin.Context) {
	uid, ok := parseUID(c)
	if !ok {
		return
	}
	h.writeWallet(c, uid, false)
}

// GetSlimWallet 查精简钱包（低带宽客户端）
// GET /api/v1/wallet/slim?uid=xxx
func (h *Handler) GetSlimWallet(c *gin.Context) {
	uid, ok := parseUID(c)
	if !ok {
		return
	}
	h.writeWallet(c, uid, true)
}

func (h *Handler) writeWallet(c *gin.Context, uid int64, slim bool) {
	w, err := h.wallet.GetWallet(c.Request.Context(), uid, slim)
	if err != nil {
		writeError(c, err)
		return
	}

	accounts := make([]gin.H, 0, len(w.Accounts))
	for _, a := range w.Accounts {
		accounts = append(accounts, accountView(a))
	}
	response.Success(c, gin.H{
		"uid":      w.UID,
		"balance":  money.ToDisplay(w.Balance),
		"frozen":   money.ToDisplay(w.Frozen),
		"cashable": money.ToDisplay(w.Cashable),
		"accounts": accounts,
	})
}

func accountView(a *model.Account) gin.H {
	v := gin.H{
		"id":               a.ID,
		"uid":              a.UID,
		"vid":              a.VID,
		"balance0":         money.ToDisplay(a.Balance0),
		"balance1":         money.ToDisplay(a.Balance1),
		"frozen_balance0":  money.ToDisplay(a.FrozenBalance0),
		"frozen_balance1":  money.ToDisplay(a.FrozenBalance1),
		"cashable_balance": money.ToDisplay(a.CashableBalance),
		"bonus":            money.ToDisplay(a.Bonus),
		"paid":             money.ToDisplay(a.Paid),
		"total":            money.ToDisplay(a.Total()),
	}
	if a.Vehicle != nil {
		v["vehicle"] = a.Vehicle
	}
	return v
}

// ListTransactions 查用户流水，时间倒序
// GET /api/v1/wallet/transactions?uid=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	uid, ok := parseUID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}

	transactions, err := h.txns.ListByUID(c.Request.Context(), uid, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	list := make([]gin.H, 0, len(transactions))
	for _, t := range transactions {
		list = append(list, gin.H{
			"id":          t.ID,
			"type":        t.Type,
			"title":       t.Title,
			"license":     t.License,
			"amount":      money.ToDisplay(t.Amount),
			"oid":         t.OID,
			"maid":        t.MAID,
			"sn":          t.SN,
			"occurred_at": t.OccurredAt,
		})
	}
	response.Success(c, gin.H{
		"list":      list,
		"page":      page,
		"page_size": pageSize,
	})
}

package model

// VehicleRef 账户关联车辆的引用快照
// 精简版钱包里只保留 ID 和车牌两个字段
type VehicleRef struct {
	ID      int64  `json:"id"`
	License string `json:"license"`
	Model   string `json:"model,omitempty"`
	BoundAt int64  `json:"bound_at,omitempty"`
}

// Slim 返回低带宽客户端用的精简引用
func (v *VehicleRef) Slim() *VehicleRef {
	if v == nil {
		return nil
	}
	return &VehicleRef{ID: v.ID, License: v.License}
}

// Account 账户快照
// 快照是事件历史的物化结果，随时可以从事件表整体重建，
// 所以不落 MySQL，只以 JSON 存 Redis。
type Account struct {
	ID              int64       `json:"id"`
	UID             int64       `json:"uid"`
	VID             int64       `json:"vid"`
	Balance0        int64       `json:"balance0"`         // 小池可用
	Balance1        int64       `json:"balance1"`         // 大池可用
	FrozenBalance0  int64       `json:"frozen_balance0"`  // 小池冻结
	FrozenBalance1  int64       `json:"frozen_balance1"`  // 大池冻结
	CashableBalance int64       `json:"cashable_balance"` // 可提现
	Bonus           int64       `json:"bonus"`            // 奖励金
	Paid            int64       `json:"paid"`             // 实缴
	EvtID           int64       `json:"evtid"`            // 最后折叠进来的事件ID
	CreatedAt       int64       `json:"created_at"`       // 毫秒
	UpdatedAt       int64       `json:"updated_at"`
	Vehicle         *VehicleRef `json:"vehicle,omitempty"`
}

// Total 账户总额 = 两池可用 + 两池冻结 + 可提现
func (a *Account) Total() int64 {
	return a.Balance0 + a.Balance1 + a.FrozenBalance0 + a.FrozenBalance1 + a.CashableBalance
}

// Frozen 账户冻结总额
func (a *Account) Frozen() int64 {
	return a.FrozenBalance0 + a.FrozenBalance1
}

// Clone 深拷贝，折叠前复制一份，保证 Play 不碰原快照
func (a *Account) Clone() *Account {
	c := *a
	if a.Vehicle != nil {
		v := *a.Vehicle
		c.Vehicle = &v
	}
	return &c
}

// Wallet 用户钱包聚合
// 聚合字段永远由成员账户重算得出，不允许单独改动。
type Wallet struct {
	UID      int64      `json:"uid"`
	Balance  int64      `json:"balance"`
	Frozen   int64      `json:"frozen"`
	Cashable int64      `json:"cashable"`
	Accounts []*Account `json:"accounts"`
}

// Recompute 按当前成员账户重算聚合字段
func (w *Wallet) Recompute() {
	w.Balance, w.Frozen, w.Cashable = 0, 0, 0
	for _, a := range w.Accounts {
		w.Balance += a.Total()
		w.Frozen += a.Frozen()
		w.Cashable += a.CashableBalance
	}
}

// Merge 用新快照替换同一账户（按 id 或 vid 匹配），其余成员保持不变
func (w *Wallet) Merge(acct *Account) {
	for i, a := range w.Accounts {
		if a.ID == acct.ID || (acct.VID != 0 && a.VID == acct.VID) {
			w.Accounts[i] = acct
			w.Recompute()
			return
		}
	}
	w.Accounts = append(w.Accounts, acct)
	w.Recompute()
}

// Remove 摘掉一个账户，返回是否真的摘到了
func (w *Wallet) Remove(aid int64) bool {
	for i, a := range w.Accounts {
		if a.ID == aid {
			w.Accounts = append(w.Accounts[:i], w.Accounts[i+1:]...)
			w.Recompute()
			return true
		}
	}
	return false
}

// Slim 精简投影：车辆引用只保留 ID + 车牌
func (w *Wallet) Slim() *Wallet {
	s := &Wallet{
		UID:      w.UID,
		Balance:  w.Balance,
		Frozen:   w.Frozen,
		Cashable: w.Cashable,
		Accounts: make([]*Account, 0, len(w.Accounts)),
	}
	for _, a := range w.Accounts {
		c := a.Clone()
		c.Vehicle = c.Vehicle.Slim()
		s.Accounts = append(s.Accounts, c)
	}
	return s
}

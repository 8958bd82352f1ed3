// Package money 负责接口边界上的金额换算。
//
// 账本内部一律用 int64 的分做算术，避免重复 replay 时的浮点漂移；
// 只有进出客户端的那一下才在分和元之间换算。
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("金额不合法")

var hundred = decimal.NewFromInt(100)

// ToCents 展示金额（元，最多两位小数）换算为分
func ToCents(display string) (int64, error) {
	d, err := decimal.NewFromString(display)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.IsNegative() {
		return 0, ErrInvalidAmount
	}
	cents := d.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		// 分以下的尾数直接拒绝，不做四舍五入
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// ToDisplay 分换算为展示金额字符串
func ToDisplay(cents int64) string {
	return decimal.NewFromInt(cents).Div(hundred).StringFixed(2)
}

// Ratio 按十进制比例取整数份额，四舍五入
// 费率、分账比例等配置以字符串形式传入，解析失败返回错误
func Ratio(cents int64, ratio string) (int64, error) {
	r, err := decimal.NewFromString(ratio)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return decimal.NewFromInt(cents).Mul(r).Round(0).IntPart(), nil
}

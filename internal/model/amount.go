package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount 金额格式非法
var ErrInvalidAmount = errors.New("invalid amount")

// FormatUnits 将原始整数单位格式化为带小数位的显示串
//
// 例: FormatUnits(1500000, 6) = "1.5"。全程使用 decimal，无浮点误差。
func FormatUnits(raw decimal.Decimal, decimals int32) string {
	return raw.Shift(-decimals).String()
}

// ParseUnits 将显示串解析回原始整数单位
//
// 小数位多于 decimals 或结果非整数时返回 ErrInvalidAmount。
func ParseUnits(display string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(display)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	raw := d.Shift(decimals)
	if !raw.IsInteger() {
		return decimal.Zero, ErrInvalidAmount
	}
	return raw, nil
}

// ParseRawAmount 解析原始整数金额串 (必须为非负整数)
func ParseRawAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsInteger() || d.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

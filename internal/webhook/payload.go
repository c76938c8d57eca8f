package webhook

import (
	"encoding/json"
	"strconv"
	"time"
)

// DepositNotice 充值确认通知参数
type DepositNotice struct {
	Amount      string // 展示单位
	Currency    string
	FromAddress string
	TxHash      string
	ToAddress   string
	UserID      string
}

// WithdrawalNotice 提现状态通知参数
type WithdrawalNotice struct {
	Address        string
	Amount         string // 展示单位
	TxHash         string
	TransID        string
	TransferStatus string // "0" 受理 / "1" 完成 / "2" 失败
}

// BuildDepositPayload 构建签名后的充值通知 JSON
func BuildDepositPayload(n *DepositNotice, secret string) (string, error) {
	params := map[string]string{
		"amount":      n.Amount,
		"currency":    n.Currency,
		"fromAddress": n.FromAddress,
		"hash":        n.TxHash,
		"timestamp":   strconv.FormatInt(time.Now().UnixMilli(), 10),
		"toAddress":   n.ToAddress,
		"userId":      n.UserID,
		"walletType":  "1",
	}
	params["sign"] = Sign(params, secret)

	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BuildWithdrawalPayload 构建签名后的提现通知 JSON
func BuildWithdrawalPayload(n *WithdrawalNotice, secret string) (string, error) {
	params := map[string]string{
		"address":        n.Address,
		"amount":         n.Amount,
		"hash":           n.TxHash,
		"timestamp":      strconv.FormatInt(time.Now().UnixMilli(), 10),
		"transId":        n.TransID,
		"transferStatus": n.TransferStatus,
	}
	params["sign"] = Sign(params, secret)

	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

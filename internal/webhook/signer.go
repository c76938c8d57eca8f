package webhook

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign 计算回调签名
//
// 参数按键名升序拼接为 k1=v1&k2=v2 形式，追加 &key=<secret> 后取 MD5
// 并转大写。空值参数不参与签名。
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString("&key=")
	sb.WriteString(secret)

	sum := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Verify 校验签名
func Verify(params map[string]string, secret, sign string) bool {
	return Sign(params, secret) == sign
}

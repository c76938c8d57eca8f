package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 已知向量: MD5("a=1&b=2&key=secret") 大写
func TestSign_KnownVector(t *testing.T) {
	params := map[string]string{"a": "1", "b": "2"}
	assert.Equal(t, "9F565CCD686CFA5DC3B06B3A89E4E3AD", Sign(params, "secret"))
}

// 键按升序参与签名，传入顺序无关
func TestSign_OrderIndependent(t *testing.T) {
	params := map[string]string{"currency": "USDT", "amount": "1.5"}
	// MD5("amount=1.5&currency=USDT&key=testkey")
	assert.Equal(t, "626479CC9988C5041C713969B038C6B3", Sign(params, "testkey"))
}

// 空值与 sign 字段本身不参与签名
func TestSign_SkipsEmptyAndSignField(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2"}
	withNoise := map[string]string{"a": "1", "b": "2", "hash": "", "sign": "GARBAGE"}
	assert.Equal(t, Sign(base, "secret"), Sign(withNoise, "secret"))
}

func TestVerify(t *testing.T) {
	params := map[string]string{"a": "1", "b": "2"}
	sign := Sign(params, "secret")

	assert.True(t, Verify(params, "secret", sign))
	assert.False(t, Verify(params, "wrong", sign))

	params["a"] = "tampered"
	assert.False(t, Verify(params, "secret", sign))
}

// Package signature builds the canonical strings both payment gateways sign
// and computes or verifies their HMAC signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

type Algorithm int

const (
	SHA256 Algorithm = iota
	SHA512
)

func (a Algorithm) newHash() func() hash.Hash {
	if a == SHA512 {
		return sha512.New
	}
	return sha256.New
}

// Sign returns the lowercase hex HMAC of data under secret.
func Sign(alg Algorithm, secret, data string) string {
	mac := hmac.New(alg.newHash(), []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the HMAC and compares it in constant time. Hex case in
// the presented signature is ignored.
func Verify(alg Algorithm, secret, data, presented string) bool {
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(presented)))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(alg.newHash(), []byte(secret))
	mac.Write([]byte(data))
	return hmac.Equal(mac.Sum(nil), got)
}

// Wallet canonical key orders.
var (
	WalletCreateKeys = []string{
		"accessKey", "amount", "extraData", "ipnUrl", "orderId", "orderInfo",
		"partnerCode", "redirectUrl", "requestId", "requestType",
	}
	WalletNotifyKeys = []string{
		"accessKey", "amount", "extraData", "message", "orderId", "orderInfo",
		"orderType", "partnerCode", "payType", "requestId", "responseTime",
		"resultCode", "transId",
	}
	WalletQueryKeys  = []string{"accessKey", "orderId", "partnerCode", "requestId"}
	WalletRefundKeys = []string{
		"accessKey", "amount", "description", "orderId", "partnerCode", "requestId", "transId",
	}
)

// Ordered joins params as key=value pairs in exactly the given key order.
// Missing keys contribute an empty value. Values are not escaped.
func Ordered(keys []string, params map[string]string) string {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Bank parameters that never take part in the signed string.
const (
	BankHashKey     = "vnp_SecureHash"
	BankHashTypeKey = "vnp_SecureHashType"
)

// componentUnescaper undoes the QueryEscape escapes that encodeURIComponent
// leaves as literals.
var componentUnescaper = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// Sorted builds the bank canonical string: every non-empty parameter except
// the hash fields, sorted by key. Values are encoded as encodeURIComponent
// does, with space as '+'.
func Sorted(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == BankHashKey || k == BankHashTypeKey {
			continue
		}
		if params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(componentUnescaper.Replace(url.QueryEscape(params.Get(k))))
	}
	return b.String()
}

// Pipe joins fields with '|', the format of the bank's query and refund APIs.
func Pipe(fields ...string) string {
	return strings.Join(fields, "|")
}

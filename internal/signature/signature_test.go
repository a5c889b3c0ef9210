package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testSecret = "whsec_test_0123456789"

func sign(p Payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(p)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCanonicalString(t *testing.T) {
	p := Payload{
		Amount:        "4999",
		Currency:      "INR",
		CorrelationID: "order_123",
		ProviderTxnID: "pay_abc",
	}
	assert.Equal(t, "4999|INR|order_123|pay_abc", CanonicalString(p))

	// Stable across calls.
	assert.Equal(t, CanonicalString(p), CanonicalString(p))
}

func TestVerify(t *testing.T) {
	base := Payload{
		Amount:        "4999",
		Currency:      "INR",
		CorrelationID: "order_123",
		ProviderTxnID: "pay_abc",
	}

	t.Run("valid signature passes", func(t *testing.T) {
		p := base
		p.Signature = sign(p, testSecret)
		assert.True(t, Verify(p, testSecret))
	})

	t.Run("uppercase hex signature passes", func(t *testing.T) {
		p := base
		p.Signature = strings.ToUpper(sign(p, testSecret))
		assert.True(t, Verify(p, testSecret))
	})

	t.Run("single character flip fails", func(t *testing.T) {
		p := base
		sig := sign(p, testSecret)
		flipped := []byte(sig)
		if flipped[0] == 'a' {
			flipped[0] = 'b'
		} else {
			flipped[0] = 'a'
		}
		p.Signature = string(flipped)
		assert.False(t, Verify(p, testSecret))
	})

	t.Run("tampered field fails", func(t *testing.T) {
		p := base
		p.Signature = sign(p, testSecret)
		p.Amount = "1"
		assert.False(t, Verify(p, testSecret))
	})

	t.Run("missing signature is invalid", func(t *testing.T) {
		assert.False(t, Verify(base, testSecret))
	})

	t.Run("empty secret never verifies", func(t *testing.T) {
		p := base
		p.Signature = sign(p, "")
		assert.False(t, Verify(p, ""))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		p := base
		p.Signature = sign(p, testSecret)
		assert.False(t, Verify(p, "other_secret"))
	})
}

package otp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	t.Run("respects requested length", func(t *testing.T) {
		for _, length := range []int{4, 6, 8} {
			code, err := GenerateCode(length, DefaultAlphabet)
			require.NoError(t, err)
			assert.Len(t, code, length)
		}
	})

	t.Run("only draws from the alphabet", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			code, err := GenerateCode(DefaultLength, DefaultAlphabet)
			require.NoError(t, err)
			for _, r := range code {
				assert.True(t, strings.ContainsRune(DefaultAlphabet, r),
					"unexpected character %q in code %q", r, code)
			}
		}
	})

	t.Run("rejects invalid length", func(t *testing.T) {
		_, err := GenerateCode(0, DefaultAlphabet)
		assert.Error(t, err)

		_, err = GenerateCode(-1, DefaultAlphabet)
		assert.Error(t, err)
	})

	t.Run("rejects empty alphabet", func(t *testing.T) {
		_, err := GenerateCode(6, "")
		assert.Error(t, err)
	})

	t.Run("digests are not trivially repeating", func(t *testing.T) {
		seen := make(map[string]struct{})
		for i := 0; i < 1000; i++ {
			code, err := GenerateCode(DefaultLength, DefaultAlphabet)
			require.NoError(t, err)
			seen[HashCode(code)] = struct{}{}
		}
		// 1000 draws from a space of 10^6, and distinct codes must never
		// share a digest. A handful of code collisions is plausible, large
		// clusters are not.
		assert.Greater(t, len(seen), 950)
	})
}

func TestHashCode(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, HashCode("123456"), HashCode("123456"))
	})

	t.Run("distinct inputs give distinct digests", func(t *testing.T) {
		assert.NotEqual(t, HashCode("123456"), HashCode("123457"))
	})

	t.Run("lowercase hex of 32 bytes", func(t *testing.T) {
		h := HashCode("000000")
		assert.Len(t, h, 64)
		assert.Equal(t, strings.ToLower(h), h)
	})
}

func TestDigestsEqual(t *testing.T) {
	h := HashCode("445566")
	assert.True(t, DigestsEqual(h, HashCode("445566")))
	assert.False(t, DigestsEqual(h, HashCode("445567")))
	assert.False(t, DigestsEqual(h, ""))
}

package fetcher

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpires(t *testing.T) {
	c, err := NewTTLCache[string, int](4, time.Minute)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set("LOND", 42, now)

	v, ok := c.Get("LOND", now.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = c.Get("LOND", now.Add(2*time.Minute))
	assert.False(t, ok, "entry past its TTL must be treated as a miss")
}

func TestTTLCacheMissOnUnknownKey(t *testing.T) {
	c, err := NewTTLCache[string, int](4, time.Minute)
	require.NoError(t, err)
	_, ok := c.Get("nope", time.Now())
	assert.False(t, ok)
}

func TestDecodeHexDifficulty(t *testing.T) {
	n, err := DecodeHexDifficulty("0x2540be400")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10000000000), n)

	_, err = DecodeHexDifficulty("")
	assert.Error(t, err)
}

func TestSharesBlock(t *testing.T) {
	network := big.NewInt(1000)
	assert.True(t, SharesBlock(1500, network))
	assert.True(t, SharesBlock(1000, network))
	assert.False(t, SharesBlock(999, network))
	assert.False(t, SharesBlock(1500, nil))
}

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDifficulty(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"1000", 1000},
		{"12.5k", 12500},
		{"3M", 3e6},
		{"2.1G", 2.1e9},
		{"1T", 1e12},
	}
	for _, c := range cases {
		got, err := ParseDifficulty(c.in)
		assert.NoError(t, err)
		assert.InDelta(t, c.want, got, c.want*1e-9+1e-9)
	}
}

func TestParseDifficultyInvalid(t *testing.T) {
	_, err := ParseDifficulty("")
	assert.Error(t, err)
	_, err = ParseDifficulty("abc")
	assert.Error(t, err)
}

func TestParseNMMinerHashrate(t *testing.T) {
	v, unit, err := ParseNMMinerHashrate("123.4KH/s")
	assert.NoError(t, err)
	assert.Equal(t, "KH/s", unit)
	assert.InDelta(t, 123.4, v, 1e-9)
}

func TestParseNMMinerShares(t *testing.T) {
	rejected, accepted, err := ParseNMMinerShares("2/198/1.0%")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), rejected)
	assert.Equal(t, int64(198), accepted)
}

func TestNormalizePoolURL(t *testing.T) {
	assert.Equal(t, "pool.example.com:3333", NormalizePoolURL("stratum+tcp://pool.example.com:3333/"))
	assert.Equal(t, "pool.example.com:3333", NormalizePoolURL("POOL.EXAMPLE.COM:3333"))
}

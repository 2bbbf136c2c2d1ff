package redeem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"canonical", "AAAAA-BBBBB-CCCCC", true},
		{"lowercase accepted", "a1b2c-d3e4f-g5h6i", true},
		{"digits and letters", "AB1DE-FG2IJ-KL3NO", true},
		{"empty", "", false},
		{"too short group", "AAAA-BBBBB-CCCCC", false},
		{"too long", "AAAAA-BBBBB-CCCCCC", false},
		{"missing hyphen", "AAAAABBBBB-CCCCC", false},
		{"four groups", "AAAAA-BBBBB-CCCCC-DDDDD", false},
		{"non-alphanumeric", "AAAA!-BBBBB-CCCCC", false},
		{"whitespace", " AAAAA-BBBBB-CCCCC", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidKey(tc.key))
		})
	}
}

func TestValidKeyLength(t *testing.T) {
	// The canonical shape is exactly 17 characters
	assert.Len(t, "AAAAA-BBBBB-CCCCC", 17)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want Disposition
	}{
		{0, Redeemed},
		{1, Invalid},
		{9, AlreadyOwned},
		{15, AlreadyOwned},
		{53, RateLimited},
		{13, Errored},
		{14, Errored},
		{24, Errored},
		{36, Errored},
		{50, Errored},
		{999, Errored},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, Classify(tc.code), "code %d", tc.code)
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "already owned", Label(9))
	assert.Equal(t, "region locked", Label(13))
	assert.Equal(t, "invalid key", Label(14))
	assert.Equal(t, "used elsewhere", Label(15))
	assert.Equal(t, "requires base game", Label(24))
	assert.Equal(t, "requires PS3", Label(36))
	assert.Equal(t, "wallet code", Label(50))
	assert.Equal(t, "rate limited", Label(53))
	assert.Equal(t, "error 999", Label(999))
}

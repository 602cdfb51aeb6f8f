package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpaqueToken(t *testing.T) {
	codec := NewCodec()

	first, err := codec.NewOpaqueToken()
	require.NoError(t, err)
	second, err := codec.NewOpaqueToken()
	require.NoError(t, err)

	assert.NotEqual(t, first.Raw, second.Raw)
	assert.GreaterOrEqual(t, len(first.Raw), 32)
	assert.Len(t, first.Hash, 64) // sha256 hex

	// Hash must be derivable from the raw token alone
	assert.Equal(t, first.Hash, codec.Hash(first.Raw))
	assert.NotEqual(t, first.Hash, codec.Hash(second.Raw))
}

func TestNewAPIKey(t *testing.T) {
	codec := NewCodec()

	key, err := codec.NewAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key.PlainKey, key.Prefix+"."))
	assert.Len(t, key.Prefix, PrefixLen)

	secret, ok := SplitAPIKey(key.PlainKey)
	require.True(t, ok)
	assert.Equal(t, key.Hash, codec.Hash(secret))
}

func TestSplitAPIKey(t *testing.T) {
	tests := []struct {
		name      string
		presented string
		want      string
		wantOK    bool
	}{
		{
			name:      "prefixed key",
			presented: "abcd1234.secretpart",
			want:      "secretpart",
			wantOK:    true,
		},
		{
			name:      "bare key",
			presented: "secretonly",
			want:      "secretonly",
			wantOK:    true,
		},
		{
			name:      "too many separators",
			presented: "a.b.c",
			wantOK:    false,
		},
		{
			name:      "empty secret",
			presented: "prefix.",
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SplitAPIKey(tt.presented)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNewBackupCodes(t *testing.T) {
	codec := NewCodec()

	codes, err := codec.NewBackupCodes(8)
	require.NoError(t, err)
	require.Len(t, codes, 8)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Regexp(t, `^[0-9A-F]{5}-[0-9A-F]{5}$`, code)
		assert.False(t, seen[code], "duplicate backup code")
		seen[code] = true
	}
}

package transaction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKV(t *testing.T) {
	tests := []struct {
		payload string
		key     string
		value   string
		wantErr bool
	}{
		{payload: "a=b", key: "a", value: "b"},
		{payload: "a=", key: "a", value: ""},
		{payload: "a=b=c", key: "a", value: "b=c"},
		{payload: "=b", wantErr: true},
		{payload: "ab", wantErr: true},
		{payload: strings.Repeat("k", 65) + "=v", wantErr: true},
		{payload: "k=" + strings.Repeat("v", 257), wantErr: true},
	}
	for _, tt := range tests {
		key, value, err := parseKV([]byte(tt.payload))
		if tt.wantErr {
			assert.Error(t, err, tt.payload)
			continue
		}
		require.NoError(t, err, tt.payload)
		assert.Equal(t, tt.key, key)
		assert.Equal(t, tt.value, value)
	}
}

func TestParseEscrow(t *testing.T) {
	to, err := parseEscrow([]byte("deposit"))
	require.NoError(t, err)
	assert.Empty(t, to)

	addr := strings.Repeat("a", 64)
	to, err = parseEscrow([]byte("release:" + addr))
	require.NoError(t, err)
	assert.Equal(t, addr, to)

	_, err = parseEscrow([]byte("release:nope"))
	assert.Error(t, err)
	_, err = parseEscrow([]byte("withdraw"))
	assert.Error(t, err)
}

func TestContracts_Registry(t *testing.T) {
	c := NewContracts()
	assert.Equal(t, []string{"escrow", "kv"}, c.Names())

	_, ok := c.Lookup("kv")
	assert.True(t, ok)
	_, ok = c.Lookup("missing")
	assert.False(t, ok)

	assert.Error(t, c.Register("kv", kvContract{}))
	require.NoError(t, c.Register("kv2", kvContract{}))
	assert.Equal(t, []string{"escrow", "kv", "kv2"}, c.Names())
}

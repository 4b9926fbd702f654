package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"aa:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff"},
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{"AA-BB-CC-DD-EE-FF", "aa:bb:cc:dd:ee:ff"},
		{"aabb.ccdd.eeff", "aa:bb:cc:dd:ee:ff"},
		{"aabbccddeeff", "aa:bb:cc:dd:ee:ff"},
		{"  aa:bb:cc:dd:ee:ff  ", "aa:bb:cc:dd:ee:ff"},
	}
	for _, tt := range tests {
		got, err := NormalizeMAC(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestNormalizeMACIdempotent(t *testing.T) {
	once, err := NormalizeMAC("AA-BB-CC-DD-EE-FF")
	require.NoError(t, err)
	twice, err := NormalizeMAC(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizeMACInvalid(t *testing.T) {
	for _, in := range []string{"", "aa:bb:cc", "aa:bb:cc:dd:ee:ff:00", "zz:bb:cc:dd:ee:ff", "not a mac"} {
		_, err := NormalizeMAC(in)
		require.Error(t, err, "input %q", in)
		assert.ErrorIs(t, err, ErrInvalidMAC)
	}
}

func TestNodeStateValid(t *testing.T) {
	for _, s := range AllNodeStates {
		assert.True(t, s.Valid(), "state %s", s)
	}
	assert.False(t, NodeState("bogus").Valid())
	assert.False(t, NodeState("").Valid())
}

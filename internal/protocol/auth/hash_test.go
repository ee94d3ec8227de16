package auth

import (
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUseEmailAuth(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"explorer", false},
		{"explorer@example.com", true},
		{"explorer@gametap.com", false},
		{"explorer@GameTap.com", false},
		{"explorer@mail.example.org", true},
		{"explorer@sub.gametap.net", false},
		{"not-an-email@", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, useEmailAuth(tc.name), tc.name)
	}
}

func TestCreatePassHashPlainSha1(t *testing.T) {
	got := CreatePassHash("explorer", "hunter2")
	want := sha1.Sum([]byte("hunter2"))
	require.Equal(t, want, got)
}

func TestCreatePassHashEmailTruncates(t *testing.T) {
	// The legacy path drops the final UTF-16 unit of both password and
	// name, so two passwords differing only in their last character hash
	// identically. That bug is load-bearing: the client computes the same.
	a := CreatePassHash("explorer@example.com", "hunter2")
	b := CreatePassHash("explorer@example.com", "hunter3")
	require.Equal(t, a, b)

	c := CreatePassHash("explorer@example.com", "huntex2")
	require.NotEqual(t, a, c)
}

func TestHashPasswordChallengeIsDeterministic(t *testing.T) {
	pass := CreatePassHash("explorer@example.com", "hunter2")
	d1 := hashPasswordChallenge(0x11223344, 0x55667788, pass)
	d2 := hashPasswordChallenge(0x11223344, 0x55667788, pass)
	require.Equal(t, d1, d2)

	d3 := hashPasswordChallenge(0x11223345, 0x55667788, pass)
	require.NotEqual(t, d1, d3)
}

func TestEndianSwap(t *testing.T) {
	var d [20]byte
	raw, err := hex.DecodeString("a9993e364706816aba3e25717850c26c9cd0d89d")
	require.NoError(t, err)
	copy(d[:], raw)

	swapped := endianSwap(d)
	require.Equal(t, "363e99a96a81064771253eba6cc250789dd8d09c", hex.EncodeToString(swapped[:]))
	require.Equal(t, d, endianSwap(swapped))
}

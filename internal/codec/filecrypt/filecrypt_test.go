package filecrypt

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstants(t *testing.T) {
	require.Equal(t, uint32(0x9E3779B9), uint32(delta))
}

func TestTEARoundTrip(t *testing.T) {
	key := DefaultKey
	for _, n := range []int{0, 1, 7, 8, 9, 63, 64, 65, 4096} {
		plain := make([]byte, n)
		_, _ = rand.Read(plain)

		enc := EncryptTEA(plain, key)
		require.Equal(t, MagicSize+4+len(padTo8(plain)), len(enc))

		payload := enc[MagicSize+4:]
		dec := DecryptTEA(payload, n, key)
		require.Equal(t, plain, dec)
	}
}

func TestXXTEARoundTrip(t *testing.T) {
	key := DefaultKey
	for _, n := range []int{0, 1, 7, 8, 9, 63, 64, 65, 4096} {
		plain := make([]byte, n)
		_, _ = rand.Read(plain)

		enc := EncryptXXTEA(plain, key)
		payload := enc[MagicSize+4:]
		dec := DecryptXXTEA(payload, n, key)
		require.Equal(t, plain, dec)
	}
}

func TestDetectMode(t *testing.T) {
	require.Equal(t, TEA, DetectMode([]byte("whatdoyousee")))
	require.Equal(t, TEA, DetectMode([]byte("BryceIsSmart")))
	require.Equal(t, XXTEA, DetectMode([]byte("notthedroids")))
	require.Equal(t, Unencrypted, DetectMode([]byte("plainoldtext")))
}

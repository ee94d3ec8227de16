package sha0

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectors(t *testing.T) {
	empty := Sum0(nil)
	require.Equal(t, "f96cea198ad1dd5617ac084a3d92c6107708c0ef", hex.EncodeToString(empty[:]))

	abc := Sum0([]byte("abc"))
	require.Equal(t, "0164b8a914cd2a5e74c4f7ff082c4d97f1edf880", hex.EncodeToString(abc[:]))
}

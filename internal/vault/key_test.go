package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeLocation(t *testing.T) {
	// Yes, there are multiple ways of encoding the same sequence...
	require.Equal(t, uint32(0x00000021), MakeLocation(0, 0, 0).Sequence)
	require.Equal(t, uint32(0x00010021), MakeLocation(1, 0, 0).Sequence)
	require.Equal(t, uint32(0x00640022), MakeLocation(100, 1, 0).Sequence)
	require.Equal(t, uint32(0xFFFFFFFF), MakeLocation(65535, 65502, 0).Sequence)

	require.Equal(t, uint32(0x00020020), MakeLocation(1, -1, 0).Sequence)
	require.Equal(t, uint32(0x00650000), MakeLocation(100, -33, 0).Sequence)
	require.Equal(t, uint32(0xFFFF0000), MakeLocation(65534, -33, 0).Sequence)

	require.Equal(t, uint32(0xFF010001), MakeLocation(-1, 0, 0).Sequence)
	require.Equal(t, uint32(0xFF640002), MakeLocation(-100, 1, 0).Sequence)
	require.Equal(t, uint32(0xFFFFFFFF), MakeLocation(-255, 65534, 0).Sequence)

	require.Equal(t, uint32(0xFF020000), MakeLocation(-1, -1, 0).Sequence)
	require.Equal(t, uint32(0xFFFF0000), MakeLocation(-254, -1, 0).Sequence)

	// Wrap around -- not actually valid...
	require.Equal(t, uint32(0x00010021), MakeLocation(65537, 0, 0).Sequence)
	require.Equal(t, uint32(0x00010020), MakeLocation(65536, -1, 0).Sequence)
	require.Equal(t, uint32(0x00010000), MakeLocation(65536, -33, 0).Sequence)

	require.Equal(t, uint32(0x00020000), MakeLocation(1, 65503, 0).Sequence)
	require.Equal(t, uint32(0x0001FFFF), MakeLocation(1, -34, 0).Sequence)
	require.Equal(t, uint32(0xFFFFFFFF), MakeLocation(-255, -2, 0).Sequence)
}

func TestLocationRoundTrip(t *testing.T) {
	loc := Location{Sequence: 0x12345678, Flags: 0xABCD}
	var buf bytes.Buffer
	require.NoError(t, WriteLocation(&buf, loc))
	got, err := ReadLocation(&buf)
	require.NoError(t, err)
	require.Equal(t, loc, got)
}

func TestUoidRoundTrip(t *testing.T) {
	u := Uoid{
		Location: MakeLocation(1, 2, 3),
		LoadMask: 0xFF,
		ObjType:  7,
		ObjName:  "clothRoot",
		ObjID:    42,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteUoid(&buf, u))
	got, err := ReadUoid(&buf)
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestUoidRoundTripWithCloneIDs(t *testing.T) {
	u := Uoid{
		Location:      MakeLocation(-1, 5, 0),
		LoadMask:      0x0F,
		ObjType:       3,
		ObjName:       "avatar",
		ObjID:         99,
		CloneID:       1,
		ClonePlayerID: 2,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteUoid(&buf, u))
	got, err := ReadUoid(&buf)
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestKeyRoundTripNil(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteKey(&buf, Key{}))
	got, err := ReadKey(&buf)
	require.NoError(t, err)
	require.Nil(t, got.Uoid)
}

func TestKeyRoundTripPresent(t *testing.T) {
	u := InvalidUoid
	var buf bytes.Buffer
	require.NoError(t, WriteKey(&buf, Key{Uoid: &u}))
	got, err := ReadKey(&buf)
	require.NoError(t, err)
	require.NotNil(t, got.Uoid)
	require.Equal(t, u, *got.Uoid)
}

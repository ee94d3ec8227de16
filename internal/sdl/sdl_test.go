package sdl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testV1Source = `
STATEDESC TestAge
{
	VERSION 1
	VAR INT NumClicks[1] DEFAULT=0
	VAR STRING32 OwnerName[1]
}
`

const testV2Source = `
STATEDESC TestAge
{
	VERSION 2
	VAR INT NumClicks[1] DEFAULT=0
	VAR STRING32 OwnerName[1]
	VAR BOOL Locked[1] DEFAULT=false
}
`

func TestParseDescriptorsBasic(t *testing.T) {
	descs, err := ParseDescriptors(testV1Source)
	require.NoError(t, err)
	require.Len(t, descs, 1)

	d := descs[0]
	require.Equal(t, "TestAge", d.Name)
	require.Equal(t, 1, d.Version)
	require.Len(t, d.Vars, 2)
	require.Equal(t, "NumClicks", d.Vars[0].Name)
	require.Equal(t, VarInt, d.Vars[0].Type)
	require.Equal(t, "OwnerName", d.Vars[1].Name)
	require.Equal(t, VarString32, d.Vars[1].Type)
}

func TestParseDescriptorsNested(t *testing.T) {
	src := `
STATEDESC Inner
{
	VERSION 1
	VAR BYTE Flag[1]
}
STATEDESC Outer
{
	VERSION 1
	VAR $Inner Child[1]
}
`
	descs, err := ParseDescriptors(src)
	require.NoError(t, err)
	require.Len(t, descs, 2)

	outer := descs[1]
	require.Equal(t, "Outer", outer.Name)
	require.Len(t, outer.NestedVars, 1)
	require.Equal(t, "Inner", outer.NestedVars[0].NestedDesc)
}

func TestStateRoundTrip(t *testing.T) {
	db := NewDB()
	require.NoError(t, db.LoadSource(testV1Source))

	desc, ok := db.Latest("TestAge")
	require.True(t, ok)

	s := New(desc)
	s.SetValue(0, int32(42))
	s.SetValue(1, "Korman")

	data, err := s.EncodeBytes()
	require.NoError(t, err)

	decoded, err := DecodeBytes(data, "TestAge", db)
	require.NoError(t, err)
	require.Equal(t, int32(42), decoded.Vars[0].Value)
	require.Equal(t, "Korman", decoded.Vars[1].Value)
}

func TestStateUpgradeByName(t *testing.T) {
	db := NewDB()
	require.NoError(t, db.LoadSource(testV1Source))

	v1, ok := db.Get("TestAge", 1)
	require.True(t, ok)

	s := New(v1)
	s.SetValue(0, int32(7))
	s.SetValue(1, "Zandi")

	data, err := s.EncodeBytes()
	require.NoError(t, err)

	// Now the db learns about v2, which adds a field and keeps the first two.
	require.NoError(t, db.LoadSource(testV2Source))

	upgraded, err := DecodeBytes(data, "TestAge", db)
	require.NoError(t, err)

	v2, ok := db.Latest("TestAge")
	require.True(t, ok)
	require.Equal(t, 2, upgraded.Descriptor.Version)
	require.Same(t, v2, upgraded.Descriptor)

	require.Equal(t, int32(7), upgraded.Vars[0].Value)
	require.Equal(t, "Zandi", upgraded.Vars[1].Value)
	require.Equal(t, false, upgraded.Vars[2].Value) // new var takes its default
}

func TestStateUpgradeTypeChangeRevertsToDefault(t *testing.T) {
	db := NewDB()
	require.NoError(t, db.LoadSource(`
STATEDESC Morph
{
	VERSION 1
	VAR INT Speed[1] DEFAULT=0
	VAR INT Slots[2]
}
`))

	v1, ok := db.Get("Morph", 1)
	require.True(t, ok)
	s := New(v1)
	s.SetValue(0, int32(11))
	s.SetValue(1, int32(5))

	data, err := s.EncodeBytes()
	require.NoError(t, err)

	// v2 retypes Speed and resizes Slots; both must come back as the new
	// defaults instead of carrying incompatible old values.
	require.NoError(t, db.LoadSource(`
STATEDESC Morph
{
	VERSION 2
	VAR FLOAT Speed[1] DEFAULT=1.5
	VAR INT Slots[3]
}
`))

	upgraded, err := DecodeBytes(data, "Morph", db)
	require.NoError(t, err)
	require.Equal(t, 2, upgraded.Descriptor.Version)
	require.Equal(t, float32(1.5), upgraded.Vars[0].Value)
	require.False(t, upgraded.Vars[0].Dirty)
	require.False(t, upgraded.Vars[1].Dirty)

	// The reverted state still encodes cleanly under the new descriptor.
	_, err = upgraded.EncodeBytes()
	require.NoError(t, err)
}

func TestStateEncodeSparseVars(t *testing.T) {
	src := `
STATEDESC Wide
{
	VERSION 1
	VAR INT A[1] DEFAULT=1
	VAR INT B[1] DEFAULT=2
	VAR INT C[1] DEFAULT=3
	VAR INT D[1] DEFAULT=4
}
`
	db := NewDB()
	require.NoError(t, db.LoadSource(src))
	desc, _ := db.Latest("Wide")

	s := New(desc)
	s.SetValue(2, int32(99)) // only C touched

	data, err := s.EncodeBytes()
	require.NoError(t, err)

	decoded, err := DecodeBytes(data, "Wide", db)
	require.NoError(t, err)
	require.Equal(t, int32(1), decoded.Vars[0].Value)
	require.Equal(t, int32(2), decoded.Vars[1].Value)
	require.Equal(t, int32(99), decoded.Vars[2].Value)
	require.Equal(t, int32(4), decoded.Vars[3].Value)
}

package vault

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNodeRoundTripEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteNode(&buf, Node{}))
	got, err := ReadNode(&buf)
	require.NoError(t, err)
	require.Equal(t, Node{}, got)
}

func TestNodeRoundTripFull(t *testing.T) {
	n := Node{
		Fields:        FieldNodeID | FieldCreateTime | FieldCreateAgeName | FieldCreatorUUID | FieldNodeType | FieldInt32_1 | FieldUUID_1 | FieldString64_1 | FieldIString64_1 | FieldText_1 | FieldBlob_1,
		NodeID:        42,
		CreateTime:    1700000000,
		CreateAgeName: "Kirel",
		CreatorUUID:   uuid.New(),
		NodeType:      int32(NodeTypeFolder),
		Int32_1:       -7,
		UUID_1:        uuid.New(),
		String64_1:    "general store",
		IString64_1:   "AvatarOutfitFolder",
		Text_1:        "A note about the age.",
		Blob_1:        []byte{1, 2, 3, 4, 5},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteNode(&buf, n))
	got, err := ReadNode(&buf)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestNodeMatchesTemplate(t *testing.T) {
	n := Node{
		Fields:    FieldNodeType | FieldCreatorID,
		NodeType:  int32(NodeTypeFolder),
		CreatorID: 5,
	}
	template := Node{Fields: FieldNodeType, NodeType: int32(NodeTypeFolder)}
	require.True(t, n.Matches(template))

	mismatch := Node{Fields: FieldNodeType, NodeType: int32(NodeTypePlayer)}
	require.False(t, n.Matches(mismatch))

	wildcard := Node{}
	require.True(t, n.Matches(wildcard))
}

package vault_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nimue-net/uruserver/internal/db/memory"
	"github.com/nimue-net/uruserver/internal/sdl"
	"github.com/nimue-net/uruserver/internal/vault"
)

func newTestEngine(t *testing.T) *vault.Engine {
	t.Helper()
	e := vault.NewEngine(memory.New())
	ctx := context.Background()
	require.NoError(t, e.Init(ctx))

	ctx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go e.Run(ctx)

	return e
}

func TestEngineInitIsIdempotent(t *testing.T) {
	store := memory.New()
	e := vault.NewEngine(store)
	ctx := context.Background()
	require.NoError(t, e.Init(ctx))
	systemID := e.SystemNodeID()
	allPlayersID := e.AllPlayersNodeID()

	// Re-running Init against the same store must find, not recreate.
	e2 := vault.NewEngine(store)
	require.NoError(t, e2.Init(ctx))
	require.Equal(t, systemID, e2.SystemNodeID())
	require.Equal(t, allPlayersID, e2.AllPlayersNodeID())
}

func TestEngineCreateFetchUpdateFindNode(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.CreateNode(ctx, vault.Node{
		Fields: vault.FieldNodeType | vault.FieldIString64_1, NodeType: int32(vault.NodeTypeTextNote), IString64_1: "Hello",
	})
	require.NoError(t, err)

	n, err := e.FetchNode(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Hello", n.IString64_1)

	_, err = e.UpdateNode(ctx, id, vault.Node{Fields: vault.FieldIString64_1, IString64_1: "World"})
	require.NoError(t, err)

	n, err = e.FetchNode(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "World", n.IString64_1)

	ids, err := e.FindNodes(ctx, vault.Node{Fields: vault.FieldNodeType | vault.FieldIString64_1, NodeType: int32(vault.NodeTypeTextNote), IString64_1: "world"})
	require.NoError(t, err)
	require.Contains(t, ids, id)
}

func TestEngineRefAndFetchRefs(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	child, err := e.CreateNode(ctx, vault.Node{Fields: vault.FieldNodeType, NodeType: int32(vault.NodeTypeFolder)})
	require.NoError(t, err)

	sub := e.Subscribe()
	defer sub.Close()

	require.NoError(t, e.RefNode(ctx, vault.NodeRef{Parent: e.SystemNodeID(), Child: child, Owner: e.SystemNodeID()}, true))

	refs, err := e.FetchRefs(ctx, e.SystemNodeID(), false)
	require.NoError(t, err)
	found := false
	for _, r := range refs {
		if r.Child == child {
			found = true
		}
	}
	require.True(t, found)

	select {
	case ev := <-sub.Events():
		added, ok := ev.(vault.NodeAdded)
		require.True(t, ok)
		require.Equal(t, child, added.Child)
	default:
		t.Fatal("expected a vault.NodeAdded broadcast")
	}
}

func TestEngineRemoveRef(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	child, err := e.CreateNode(ctx, vault.Node{Fields: vault.FieldNodeType, NodeType: int32(vault.NodeTypeFolder)})
	require.NoError(t, err)
	require.NoError(t, e.RefNode(ctx, vault.NodeRef{Parent: e.SystemNodeID(), Child: child, Owner: e.SystemNodeID()}, false))
	require.NoError(t, e.RemoveRef(ctx, e.SystemNodeID(), child))

	refs, err := e.FetchRefs(ctx, e.SystemNodeID(), false)
	require.NoError(t, err)
	for _, r := range refs {
		require.NotEqual(t, child, r.Child)
	}

	require.ErrorIs(t, e.RemoveRef(ctx, e.SystemNodeID(), child), vault.ErrNotFound)
}

func TestEngineAccountAndPlayerLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	acct := vault.Account{AccountID: uuid.New(), Name: "zandi", PassHash: [20]byte{1, 2, 3}}
	require.NoError(t, e.CreateAccount(ctx, acct))

	got, err := e.GetAccount(ctx, "zandi")
	require.NoError(t, err)
	require.Equal(t, acct.AccountID, got.AccountID)

	p1, err := e.CreatePlayer(ctx, acct.AccountID, "Korman", "male")
	require.NoError(t, err)
	require.NotZero(t, p1.PlayerID)

	_, err = e.CreatePlayer(ctx, acct.AccountID, "korman", "male")
	require.ErrorIs(t, err, vault.ErrPlayerExists)

	players, err := e.GetPlayers(ctx, acct.AccountID)
	require.NoError(t, err)
	require.Len(t, players, 1)
}

func TestEngineInitPlayerBuildsSubtree(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sdlDB := sdl.NewDB()

	acct := vault.Account{AccountID: uuid.New(), Name: "yeesha", PassHash: [20]byte{9}}
	require.NoError(t, e.CreateAccount(ctx, acct))
	p, err := e.CreatePlayer(ctx, acct.AccountID, "Yeesha", "female")
	require.NoError(t, err)

	result, err := e.InitPlayer(ctx, sdlDB, p)
	require.NoError(t, err)
	require.NotZero(t, result.PlayerNodeID)
	require.NotZero(t, result.PlayerInfoNodeID)
	require.NotZero(t, result.ReltoAgeNodeID)
	require.NotZero(t, result.ReltoInfoNodeID)

	info, err := e.GetPlayerInfoNode(ctx, p.PlayerID)
	require.NoError(t, err)
	require.Equal(t, result.PlayerInfoNodeID, info.NodeID)
	require.Equal(t, "Yeesha", info.IString64_1)

	allPlayersRefs, err := e.FetchRefs(ctx, e.AllPlayersNodeID(), false)
	require.NoError(t, err)
	linked := false
	for _, r := range allPlayersRefs {
		if r.Child == result.PlayerInfoNodeID {
			linked = true
		}
	}
	require.True(t, linked)

	playerRefs, err := e.FetchRefs(ctx, result.PlayerNodeID, false)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(playerRefs), 13) // system + playerinfo + 11 folders
}

func TestEngineCreateAgeInstanceIsIdempotentByUUID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sdlDB := sdl.NewDB()
	ageUUID := uuid.New()

	req := vault.AgeInstanceRequest{AgeUUID: ageUUID, Filename: "Garden", InstanceName: "Eder Kemo", Language: "English"}

	r1, err := e.CreateAgeInstance(ctx, sdlDB, req)
	require.NoError(t, err)

	r2, err := e.CreateAgeInstance(ctx, sdlDB, req)
	require.NoError(t, err)
	require.Equal(t, r1.AgeNodeID, r2.AgeNodeID)
	require.Equal(t, r1.AgeInfoNodeID, r2.AgeInfoNodeID)
}

package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	dbpostgres "github.com/nimue-net/uruserver/internal/db/postgres"
	"github.com/nimue-net/uruserver/internal/testutil"
	"github.com/nimue-net/uruserver/internal/vault"
)

func newTestStore(t *testing.T) *dbpostgres.Store {
	t.Helper()
	pool := testutil.SetupTestDB(t)
	return dbpostgres.New(pool)
}

func TestStoreNodeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateNode(ctx, vault.Node{
		Fields:        vault.FieldNodeType | vault.FieldCreateAgeName,
		NodeType:      int32(vault.NodeTypeFolder),
		CreateAgeName: "Relto",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.FetchNode(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int32(vault.NodeTypeFolder), got.NodeType)
	require.Equal(t, "Relto", got.CreateAgeName)
	require.NotZero(t, got.CreateTime)

	updated, err := s.UpdateNode(ctx, id, vault.Node{
		Fields:     vault.FieldString64_1,
		String64_1: "updated",
	})
	require.NoError(t, err)
	require.Equal(t, "updated", updated.String64_1)
	require.Equal(t, "Relto", updated.CreateAgeName, "update must not clobber unset fields")

	_, err = s.FetchNode(ctx, id+1000)
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestStoreFindNodes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, err := s.CreateNode(ctx, vault.Node{
		Fields:   vault.FieldNodeType | vault.FieldInt32_1,
		NodeType: int32(vault.NodeTypeFolder),
		Int32_1:  int32(vault.StandardNodeChronicle),
	})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, vault.Node{
		Fields:   vault.FieldNodeType | vault.FieldInt32_1,
		NodeType: int32(vault.NodeTypeFolder),
		Int32_1:  int32(vault.StandardNodeInbox),
	})
	require.NoError(t, err)

	ids, err := s.FindNodes(ctx, vault.Node{
		Fields:   vault.FieldNodeType | vault.FieldInt32_1,
		NodeType: int32(vault.NodeTypeFolder),
		Int32_1:  int32(vault.StandardNodeChronicle),
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{id1}, ids)
}

func TestStoreNodeRefs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent, err := s.CreateNode(ctx, vault.Node{Fields: vault.FieldNodeType, NodeType: int32(vault.NodeTypeFolder)})
	require.NoError(t, err)
	child, err := s.CreateNode(ctx, vault.Node{Fields: vault.FieldNodeType, NodeType: int32(vault.NodeTypePlayerInfo)})
	require.NoError(t, err)

	require.NoError(t, s.RefNode(ctx, vault.NodeRef{Parent: parent, Child: child, Owner: parent}))

	refs, err := s.FetchRefs(ctx, parent, false)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.False(t, refs[0].Seen)

	require.NoError(t, s.SetSeen(ctx, parent, child, true))
	refs, err = s.FetchRefs(ctx, parent, false)
	require.NoError(t, err)
	require.True(t, refs[0].Seen)
}

func TestStoreAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := vault.Account{
		AccountID: uuid.New(),
		Name:      "zandi",
		Flags:     vault.AccountFlagBeta,
	}
	copy(a.PassHash[:], []byte("01234567890123456789"))

	require.NoError(t, s.CreateAccount(ctx, a))
	require.ErrorIs(t, s.CreateAccount(ctx, a), vault.ErrAccountExists)

	got, err := s.GetAccount(ctx, "ZANDI")
	require.NoError(t, err)
	require.Equal(t, a.AccountID, got.AccountID)
	require.True(t, got.IsBeta())

	got.Flags |= vault.AccountFlagBanned
	require.NoError(t, s.UpdateAccount(ctx, *got))

	got, err = s.GetAccountByID(ctx, a.AccountID)
	require.NoError(t, err)
	require.True(t, got.IsBanned())

	_, err = s.GetAccount(ctx, "nobody")
	require.ErrorIs(t, err, vault.ErrAccountNotFound)
}

func TestStorePlayers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	acct := vault.Account{AccountID: uuid.New(), Name: "kemo"}
	require.NoError(t, s.CreateAccount(ctx, acct))

	p, err := s.CreatePlayer(ctx, acct.AccountID, "Yeesha", "female")
	require.NoError(t, err)
	require.NotZero(t, p.PlayerID)

	_, err = s.CreatePlayer(ctx, acct.AccountID, "Yeesha", "female")
	require.ErrorIs(t, err, vault.ErrPlayerExists)

	for i := 0; i < vault.MaxPlayersPerAccount-1; i++ {
		_, err := s.CreatePlayer(ctx, acct.AccountID, uuid.NewString(), "male")
		require.NoError(t, err)
	}
	_, err = s.CreatePlayer(ctx, acct.AccountID, uuid.NewString(), "male")
	require.ErrorIs(t, err, vault.ErrMaxPlayersOnAcct)

	players, err := s.GetPlayers(ctx, acct.AccountID)
	require.NoError(t, err)
	require.Len(t, players, vault.MaxPlayersPerAccount)

	require.NoError(t, s.DeletePlayer(ctx, p.PlayerID))
	_, err = s.GetPlayer(ctx, p.PlayerID)
	require.ErrorIs(t, err, vault.ErrPlayerNotFound)
}

func TestStoreGameServers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	gs := vault.GameServer{
		InstanceID:  uuid.New(),
		Filename:    "Personal",
		DisplayName: "Yeesha's Relto",
		AgeID:       42,
	}
	require.NoError(t, s.AddGameServer(ctx, gs))

	got, err := s.GetGameServerByAgeID(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, gs.InstanceID, got.InstanceID)

	got, err = s.GetGameServerByInstanceID(ctx, gs.InstanceID)
	require.NoError(t, err)
	require.Equal(t, "Personal", got.Filename)
}

func TestStoreScores(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sc, err := s.CreateScore(ctx, vault.Score{OwnerID: 7, Name: "heek", Value: 10})
	require.NoError(t, err)
	require.NotZero(t, sc.ScoreID)

	sc, err = s.AddPoints(ctx, sc.ScoreID, 5)
	require.NoError(t, err)
	require.EqualValues(t, 15, sc.Value)

	sc, err = s.SetPoints(ctx, sc.ScoreID, 100)
	require.NoError(t, err)
	require.EqualValues(t, 100, sc.Value)

	scores, err := s.GetScores(ctx, 7, "heek")
	require.NoError(t, err)
	require.Len(t, scores, 1)

	ranks, err := s.GetRanks(ctx, 7, "heek")
	require.NoError(t, err)
	require.Len(t, ranks, 1)

	high, err := s.GetHighScores(ctx, "heek", 10)
	require.NoError(t, err)
	require.Len(t, high, 1)

	require.NoError(t, s.DeleteScore(ctx, sc.ScoreID))
	_, err = s.GetScores(ctx, 7, "heek")
	require.NoError(t, err)
}

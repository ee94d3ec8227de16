package vault

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Errors a Store implementation returns; the auth handlers map these to
// netresult.Code values, so they never have to know the backend.
var (
	ErrNotFound           = errors.New("vault: not found")
	ErrAccountNotFound    = errors.New("vault: account not found")
	ErrAccountExists      = errors.New("vault: account already exists")
	ErrPlayerNotFound     = errors.New("vault: player not found")
	ErrPlayerExists       = errors.New("vault: player name already in use")
	ErrMaxPlayersOnAcct   = errors.New("vault: account already has the maximum number of players")
)

// MaxPlayersPerAccount is the per-account player cap enforced by
// CreatePlayer.
const MaxPlayersPerAccount = 5

// Store is the contract the vault engine depends on for all persistent
// state: the node graph, accounts, players, game servers and scores. It is
// satisfied by an in-memory backend (internal/db/memory, the default, used
// by tests) and a Postgres backend (internal/db/postgres). The engine is
// the only caller; Store implementations don't need to be safe for
// unsynchronized concurrent use beyond what their own locking provides,
// since the engine serializes all access through a single goroutine.
type Store interface {
	// Nodes
	CreateNode(ctx context.Context, n Node) (uint32, error)
	FetchNode(ctx context.Context, id uint32) (*Node, error)
	UpdateNode(ctx context.Context, id uint32, patch Node) (*Node, error)
	FindNodes(ctx context.Context, template Node) ([]uint32, error)

	// References
	RefNode(ctx context.Context, ref NodeRef) error
	RemoveRef(ctx context.Context, parent, child uint32) error
	FetchRefs(ctx context.Context, parent uint32, recursive bool) ([]NodeRef, error)
	SetSeen(ctx context.Context, parent, child uint32, seen bool) error

	// Accounts
	GetAccount(ctx context.Context, name string) (*Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAccountForToken(ctx context.Context, token string) (*Account, error)
	CreateAccount(ctx context.Context, a Account) error
	UpdateAccount(ctx context.Context, a Account) error

	// Players
	GetPlayers(ctx context.Context, accountID uuid.UUID) ([]PlayerInfo, error)
	GetPlayer(ctx context.Context, playerID uint32) (*PlayerInfo, error)
	CreatePlayer(ctx context.Context, accountID uuid.UUID, name, avatarShape string) (PlayerInfo, error)
	DeletePlayer(ctx context.Context, playerID uint32) error

	// Game servers (age instances)
	AddGameServer(ctx context.Context, gs GameServer) error
	GetGameServerByAgeID(ctx context.Context, ageID uint32) (*GameServer, error)
	GetGameServerByInstanceID(ctx context.Context, instanceID uuid.UUID) (*GameServer, error)

	// Scores
	CreateScore(ctx context.Context, s Score) (Score, error)
	DeleteScore(ctx context.Context, scoreID uint32) error
	GetScores(ctx context.Context, ownerID uint32, name string) ([]Score, error)
	AddPoints(ctx context.Context, scoreID uint32, points int32) (Score, error)
	SetPoints(ctx context.Context, scoreID uint32, points int32) (Score, error)
	GetRanks(ctx context.Context, ownerID uint32, name string) ([]Score, error)
	GetHighScores(ctx context.Context, name string, limit int) ([]Score, error)
}

package vault

import "github.com/google/uuid"

// AccountFlag bits carried on Account.Flags.
type AccountFlag uint32

const (
	AccountFlagAdmin  AccountFlag = 1 << 0
	AccountFlagBeta   AccountFlag = 1 << 1
	AccountFlagBanned AccountFlag = 1 << 16
)

// BillingType mirrors the client's account billing-type enum; only the
// free/paid distinction matters to this server.
type BillingType uint32

const (
	BillingTypeFree BillingType = 0
	BillingTypePaid BillingType = 1
)

// Account is a login credential plus the flags the auth handlers and
// client need: admin/beta/ban status and billing type.
type Account struct {
	AccountID   uuid.UUID
	Name        string
	PassHash    [20]byte // SHA-1 over UTF-8 password bytes
	Flags       AccountFlag
	BillingType BillingType
}

// IsBanned reports whether the account's ban flag is set.
func (a Account) IsBanned() bool { return a.Flags&AccountFlagBanned != 0 }

// IsAdmin reports whether the account has admin privileges.
func (a Account) IsAdmin() bool { return a.Flags&AccountFlagAdmin != 0 }

// IsBeta reports whether the account has beta access.
func (a Account) IsBeta() bool { return a.Flags&AccountFlagBeta != 0 }

// APIToken is a bearer token minted for an account, used by
// AcctCreateFromKey-style activation flows.
type APIToken struct {
	AccountID uuid.UUID
	Token     string
	Comment   string
}

// PlayerInfo is the thin per-player record the DB exports alongside the
// fuller PlayerInfo vault node: it's what CreatePlayer returns and what
// account-player lookups enumerate.
type PlayerInfo struct {
	PlayerID    uint32
	PlayerInfoID uint32 // node id of the PlayerInfo node
	AccountID   uuid.UUID
	Name        string
	AvatarShape string
	Disabled    bool
}

// GameServer is a registered age-instance server row: one per running (or
// ever-run) age instance, keyed by InstanceID.
type GameServer struct {
	InstanceID  uuid.UUID
	Filename    string
	DisplayName string
	AgeID       uint32
	SdlID       uint32
	Temporary   bool
}

// ScoreType mirrors the client's score-game-type enum (fixed vs.
// increasing leaderboards); only the value matters to storage, the
// semantics live in the auth handler.
type ScoreType uint32

// Score is a single named counter owned by a player, used by the
// ScoreCreate/AddPoints/GetRanks family of auth messages. There is no
// vault-node analog for scores in the material reviewed (see DESIGN.md);
// this is backed directly by the DB abstraction.
type Score struct {
	ScoreID  uint32
	OwnerID  uint32
	Name     string
	Type     ScoreType
	Value    int32
}

// NodeRef is a directed edge in the vault graph: child hangs off parent,
// owner records which node requested the link (often equal to parent).
// Seen is reserved wire state the source never sets except through the
// dedicated SetSeen call (see DESIGN.md Open Question).
type NodeRef struct {
	Parent uint32
	Child  uint32
	Owner  uint32
	Seen   bool
}

// StandardNode values are the well-known folder sub-tags carried in a
// folder-like node's Int32_1 field.
type StandardNode int32

const (
	StandardNodeAllPlayers        StandardNode = 1
	StandardNodeGlobalInbox       StandardNode = 2
	StandardNodeBuddyList         StandardNode = 3
	StandardNodeIgnoreList        StandardNode = 4
	StandardNodePlayerInvite      StandardNode = 5
	StandardNodeAgesIOwn          StandardNode = 6
	StandardNodeAgesICanVisit     StandardNode = 7
	StandardNodeChildAges         StandardNode = 8
	StandardNodeSubAges           StandardNode = 9
	StandardNodeChronicle         StandardNode = 10
	StandardNodeAgeJournals       StandardNode = 11
	StandardNodeAvatarOutfit      StandardNode = 12
	StandardNodeAvatarCloset      StandardNode = 13
	StandardNodeInbox             StandardNode = 14
	StandardNodePeopleIKnowAbout  StandardNode = 15
	StandardNodeAgeDevices        StandardNode = 16
	StandardNodeCanVisit          StandardNode = 17
	StandardNodeAgeOwners         StandardNode = 18
	StandardNodeAgePeopleIKnow    StandardNode = 19
)

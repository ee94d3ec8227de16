// Package memory implements vault.Store entirely in process memory. It is
// the zero-configuration default backend and backs every unit test in this
// module; internal/db/postgres provides the persistent equivalent.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimue-net/uruserver/internal/vault"
)

// Store is an in-memory, mutex-guarded implementation of vault.Store. Node
// values are held as copies, matching the "updates publish a new immutable
// value" model described for the real backend: FetchNode never returns a
// pointer callers could use to mutate stored state.
type Store struct {
	mu sync.Mutex

	nextNodeID uint32
	nodes      map[uint32]vault.Node
	refs       []vault.NodeRef

	accountsByName map[string]uuid.UUID
	accounts       map[uuid.UUID]vault.Account
	tokens         map[string]uuid.UUID

	nextPlayerID uint32
	players      map[uint32]vault.PlayerInfo
	playersByAcct map[uuid.UUID][]uint32

	gameServersByAge      map[uint32]vault.GameServer
	gameServersByInstance map[uuid.UUID]vault.GameServer

	nextScoreID uint32
	scores      map[uint32]vault.Score
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		nodes:                 make(map[uint32]vault.Node),
		accountsByName:        make(map[string]uuid.UUID),
		accounts:              make(map[uuid.UUID]vault.Account),
		tokens:                make(map[string]uuid.UUID),
		players:               make(map[uint32]vault.PlayerInfo),
		playersByAcct:         make(map[uuid.UUID][]uint32),
		gameServersByAge:      make(map[uint32]vault.GameServer),
		gameServersByInstance: make(map[uuid.UUID]vault.GameServer),
		scores:                make(map[uint32]vault.Score),
	}
}

func now() uint32 { return uint32(time.Now().Unix()) }

// CreateNode assigns n a fresh monotonic id and stores it.
func (s *Store) CreateNode(_ context.Context, n vault.Node) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNodeID++
	id := s.nextNodeID

	n.NodeID = id
	n.Fields |= vault.FieldNodeID
	t := now()
	if n.Fields&vault.FieldCreateTime == 0 {
		n.CreateTime = t
		n.Fields |= vault.FieldCreateTime
	}
	if n.Fields&vault.FieldModifyTime == 0 {
		n.ModifyTime = t
		n.Fields |= vault.FieldModifyTime
	}

	s.nodes[id] = n
	return id, nil
}

// FetchNode returns a copy of the stored node, or vault.ErrNotFound.
func (s *Store) FetchNode(_ context.Context, id uint32) (*vault.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, vault.ErrNotFound
	}
	out := n
	return &out, nil
}

// UpdateNode merges the set fields of patch over the stored node,
// refreshing ModifyTime and leaving CreateTime untouched.
func (s *Store) UpdateNode(_ context.Context, id uint32, patch vault.Node) (*vault.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, vault.ErrNotFound
	}
	mergeFields(&n, patch)
	n.ModifyTime = now()
	n.Fields |= vault.FieldModifyTime
	s.nodes[id] = n
	out := n
	return &out, nil
}

// mergeFields overwrites, field by field, every slot patch.Fields marks as
// present, leaving everything else in dst untouched. CreateTime is never
// overwritten through this path even if the patch sets it; callers that
// need to seed CreateTime do so through CreateNode.
func mergeFields(dst *vault.Node, patch vault.Node) {
	f := patch.Fields
	if f&vault.FieldCreateAgeName != 0 {
		dst.CreateAgeName = patch.CreateAgeName
		dst.Fields |= vault.FieldCreateAgeName
	}
	if f&vault.FieldCreateAgeUUID != 0 {
		dst.CreateAgeUUID = patch.CreateAgeUUID
		dst.Fields |= vault.FieldCreateAgeUUID
	}
	if f&vault.FieldCreatorUUID != 0 {
		dst.CreatorUUID = patch.CreatorUUID
		dst.Fields |= vault.FieldCreatorUUID
	}
	if f&vault.FieldCreatorID != 0 {
		dst.CreatorID = patch.CreatorID
		dst.Fields |= vault.FieldCreatorID
	}
	if f&vault.FieldNodeType != 0 {
		dst.NodeType = patch.NodeType
		dst.Fields |= vault.FieldNodeType
	}
	if f&vault.FieldInt32_1 != 0 {
		dst.Int32_1 = patch.Int32_1
		dst.Fields |= vault.FieldInt32_1
	}
	if f&vault.FieldInt32_2 != 0 {
		dst.Int32_2 = patch.Int32_2
		dst.Fields |= vault.FieldInt32_2
	}
	if f&vault.FieldInt32_3 != 0 {
		dst.Int32_3 = patch.Int32_3
		dst.Fields |= vault.FieldInt32_3
	}
	if f&vault.FieldInt32_4 != 0 {
		dst.Int32_4 = patch.Int32_4
		dst.Fields |= vault.FieldInt32_4
	}
	if f&vault.FieldUint32_1 != 0 {
		dst.Uint32_1 = patch.Uint32_1
		dst.Fields |= vault.FieldUint32_1
	}
	if f&vault.FieldUint32_2 != 0 {
		dst.Uint32_2 = patch.Uint32_2
		dst.Fields |= vault.FieldUint32_2
	}
	if f&vault.FieldUint32_3 != 0 {
		dst.Uint32_3 = patch.Uint32_3
		dst.Fields |= vault.FieldUint32_3
	}
	if f&vault.FieldUint32_4 != 0 {
		dst.Uint32_4 = patch.Uint32_4
		dst.Fields |= vault.FieldUint32_4
	}
	if f&vault.FieldUUID_1 != 0 {
		dst.UUID_1 = patch.UUID_1
		dst.Fields |= vault.FieldUUID_1
	}
	if f&vault.FieldUUID_2 != 0 {
		dst.UUID_2 = patch.UUID_2
		dst.Fields |= vault.FieldUUID_2
	}
	if f&vault.FieldUUID_3 != 0 {
		dst.UUID_3 = patch.UUID_3
		dst.Fields |= vault.FieldUUID_3
	}
	if f&vault.FieldUUID_4 != 0 {
		dst.UUID_4 = patch.UUID_4
		dst.Fields |= vault.FieldUUID_4
	}
	if f&vault.FieldString64_1 != 0 {
		dst.String64_1 = patch.String64_1
		dst.Fields |= vault.FieldString64_1
	}
	if f&vault.FieldString64_2 != 0 {
		dst.String64_2 = patch.String64_2
		dst.Fields |= vault.FieldString64_2
	}
	if f&vault.FieldString64_3 != 0 {
		dst.String64_3 = patch.String64_3
		dst.Fields |= vault.FieldString64_3
	}
	if f&vault.FieldString64_4 != 0 {
		dst.String64_4 = patch.String64_4
		dst.Fields |= vault.FieldString64_4
	}
	if f&vault.FieldString64_5 != 0 {
		dst.String64_5 = patch.String64_5
		dst.Fields |= vault.FieldString64_5
	}
	if f&vault.FieldString64_6 != 0 {
		dst.String64_6 = patch.String64_6
		dst.Fields |= vault.FieldString64_6
	}
	if f&vault.FieldIString64_1 != 0 {
		dst.IString64_1 = patch.IString64_1
		dst.Fields |= vault.FieldIString64_1
	}
	if f&vault.FieldIString64_2 != 0 {
		dst.IString64_2 = patch.IString64_2
		dst.Fields |= vault.FieldIString64_2
	}
	if f&vault.FieldText_1 != 0 {
		dst.Text_1 = patch.Text_1
		dst.Fields |= vault.FieldText_1
	}
	if f&vault.FieldText_2 != 0 {
		dst.Text_2 = patch.Text_2
		dst.Fields |= vault.FieldText_2
	}
	if f&vault.FieldBlob_1 != 0 {
		dst.Blob_1 = patch.Blob_1
		dst.Fields |= vault.FieldBlob_1
	}
	if f&vault.FieldBlob_2 != 0 {
		dst.Blob_2 = patch.Blob_2
		dst.Fields |= vault.FieldBlob_2
	}
}

// FindNodes returns the ids of every stored node matching template.
func (s *Store) FindNodes(_ context.Context, template vault.Node) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint32
	for id, n := range s.nodes {
		if n.Matches(template) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RefNode inserts ref idempotently: a (parent, child, owner) triple is
// only ever stored once.
func (s *Store) RefNode(_ context.Context, ref vault.NodeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.refs {
		if existing.Parent == ref.Parent && existing.Child == ref.Child && existing.Owner == ref.Owner {
			return nil
		}
	}
	s.refs = append(s.refs, ref)
	return nil
}

// RemoveRef drops every parent->child edge regardless of owner; a missing
// edge is reported so the handler can answer VaultNodeNotFound.
func (s *Store) RemoveRef(_ context.Context, parent, child uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.refs[:0]
	removed := false
	for _, r := range s.refs {
		if r.Parent == parent && r.Child == child {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	s.refs = kept
	if !removed {
		return vault.ErrNotFound
	}
	return nil
}

// FetchRefs returns the direct children of parent, or every descendant
// reachable by following child edges transitively when recursive is true.
func (s *Store) FetchRefs(_ context.Context, parent uint32, recursive bool) ([]vault.NodeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !recursive {
		return directRefs(s.refs, parent), nil
	}

	var out []vault.NodeRef
	seen := map[uint32]bool{parent: true}
	frontier := []uint32{parent}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, r := range directRefs(s.refs, next) {
			out = append(out, r)
			if !seen[r.Child] {
				seen[r.Child] = true
				frontier = append(frontier, r.Child)
			}
		}
	}
	return out, nil
}

func directRefs(refs []vault.NodeRef, parent uint32) []vault.NodeRef {
	var out []vault.NodeRef
	for _, r := range refs {
		if r.Parent == parent {
			out = append(out, r)
		}
	}
	return out
}

// SetSeen flips the Seen flag on the (parent, child) ref, if it exists.
func (s *Store) SetSeen(_ context.Context, parent, child uint32, seen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.refs {
		if r.Parent == parent && r.Child == child {
			s.refs[i].Seen = seen
			return nil
		}
	}
	return vault.ErrNotFound
}

func (s *Store) GetAccount(_ context.Context, name string) (*vault.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.accountsByName[strings.ToLower(name)]
	if !ok {
		return nil, vault.ErrAccountNotFound
	}
	a := s.accounts[id]
	return &a, nil
}

func (s *Store) GetAccountByID(_ context.Context, id uuid.UUID) (*vault.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, vault.ErrAccountNotFound
	}
	return &a, nil
}

func (s *Store) GetAccountForToken(_ context.Context, token string) (*vault.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tokens[token]
	if !ok {
		return nil, vault.ErrAccountNotFound
	}
	a := s.accounts[id]
	return &a, nil
}

func (s *Store) CreateAccount(_ context.Context, a vault.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(a.Name)
	if _, exists := s.accountsByName[key]; exists {
		return vault.ErrAccountExists
	}
	if a.AccountID == uuid.Nil {
		a.AccountID = uuid.New()
	}
	s.accountsByName[key] = a.AccountID
	s.accounts[a.AccountID] = a
	return nil
}

func (s *Store) UpdateAccount(_ context.Context, a vault.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.AccountID]; !ok {
		return vault.ErrAccountNotFound
	}
	s.accounts[a.AccountID] = a
	return nil
}

func (s *Store) GetPlayers(_ context.Context, accountID uuid.UUID) ([]vault.PlayerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []vault.PlayerInfo
	for _, id := range s.playersByAcct[accountID] {
		out = append(out, s.players[id])
	}
	return out, nil
}

func (s *Store) GetPlayer(_ context.Context, playerID uint32) (*vault.PlayerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return nil, vault.ErrPlayerNotFound
	}
	return &p, nil
}

// CreatePlayer enforces the two invariants the engine depends on:
// case-insensitive name uniqueness across all accounts, and a per-account
// cap of MaxPlayersPerAccount.
func (s *Store) CreatePlayer(_ context.Context, accountID uuid.UUID, name, avatarShape string) (vault.PlayerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(name)
	for _, p := range s.players {
		if strings.ToLower(p.Name) == lower {
			return vault.PlayerInfo{}, vault.ErrPlayerExists
		}
	}
	if len(s.playersByAcct[accountID]) >= vault.MaxPlayersPerAccount {
		return vault.PlayerInfo{}, vault.ErrMaxPlayersOnAcct
	}

	s.nextPlayerID++
	p := vault.PlayerInfo{
		PlayerID:    s.nextPlayerID,
		AccountID:   accountID,
		Name:        name,
		AvatarShape: avatarShape,
	}
	s.players[p.PlayerID] = p
	s.playersByAcct[accountID] = append(s.playersByAcct[accountID], p.PlayerID)
	return p, nil
}

func (s *Store) DeletePlayer(_ context.Context, playerID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return vault.ErrPlayerNotFound
	}
	delete(s.players, playerID)
	ids := s.playersByAcct[p.AccountID]
	for i, id := range ids {
		if id == playerID {
			s.playersByAcct[p.AccountID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) AddGameServer(_ context.Context, gs vault.GameServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gameServersByAge[gs.AgeID] = gs
	s.gameServersByInstance[gs.InstanceID] = gs
	return nil
}

func (s *Store) GetGameServerByAgeID(_ context.Context, ageID uint32) (*vault.GameServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, ok := s.gameServersByAge[ageID]
	if !ok {
		return nil, vault.ErrNotFound
	}
	return &gs, nil
}

func (s *Store) GetGameServerByInstanceID(_ context.Context, instanceID uuid.UUID) (*vault.GameServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, ok := s.gameServersByInstance[instanceID]
	if !ok {
		return nil, vault.ErrNotFound
	}
	return &gs, nil
}

func (s *Store) CreateScore(_ context.Context, sc vault.Score) (vault.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextScoreID++
	sc.ScoreID = s.nextScoreID
	s.scores[sc.ScoreID] = sc
	return sc, nil
}

func (s *Store) DeleteScore(_ context.Context, scoreID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scores[scoreID]; !ok {
		return vault.ErrNotFound
	}
	delete(s.scores, scoreID)
	return nil
}

func (s *Store) GetScores(_ context.Context, ownerID uint32, name string) ([]vault.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []vault.Score
	for _, sc := range s.scores {
		if sc.OwnerID == ownerID && (name == "" || sc.Name == name) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *Store) AddPoints(_ context.Context, scoreID uint32, points int32) (vault.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scores[scoreID]
	if !ok {
		return vault.Score{}, vault.ErrNotFound
	}
	sc.Value += points
	s.scores[scoreID] = sc
	return sc, nil
}

func (s *Store) SetPoints(_ context.Context, scoreID uint32, points int32) (vault.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scores[scoreID]
	if !ok {
		return vault.Score{}, vault.ErrNotFound
	}
	sc.Value = points
	s.scores[scoreID] = sc
	return sc, nil
}

// GetRanks returns every score sharing name, owned by any player, sorted
// descending by value (the rank is the caller's position in this slice).
func (s *Store) GetRanks(_ context.Context, _ uint32, name string) ([]vault.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []vault.Score
	for _, sc := range s.scores {
		if sc.Name == name {
			out = append(out, sc)
		}
	}
	sortScoresDesc(out)
	return out, nil
}

func (s *Store) GetHighScores(_ context.Context, name string, limit int) ([]vault.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []vault.Score
	for _, sc := range s.scores {
		if sc.Name == name {
			out = append(out, sc)
		}
	}
	sortScoresDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortScoresDesc(scores []vault.Score) {
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && scores[j-1].Value < scores[j].Value; j-- {
			scores[j-1], scores[j] = scores[j], scores[j-1]
		}
	}
}

var _ vault.Store = (*Store)(nil)

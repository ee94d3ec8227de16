package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimue-net/uruserver/internal/vault"
)

// Store implements vault.Store against a pgxpool.Pool. Node template
// search (FindNodes) is done by loading candidate rows and applying
// vault.Node.Matches in Go rather than compiling the 32-field presence
// bitmap into dynamic SQL: the vault's node count per world is small
// (thousands, not millions) and this keeps the predicate logic identical
// to internal/db/memory instead of duplicated as SQL.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool in a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func now() uint32 { return uint32(time.Now().Unix()) }

const nodeColumns = `node_id, fields, create_time, modify_time, create_age_name, create_age_uuid,
	creator_uuid, creator_id, node_type, int32_1, int32_2, int32_3, int32_4,
	uint32_1, uint32_2, uint32_3, uint32_4, uuid_1, uuid_2, uuid_3, uuid_4,
	string64_1, string64_2, string64_3, string64_4, string64_5, string64_6,
	istring64_1, istring64_2, text_1, text_2, blob_1, blob_2`

func scanNode(row pgx.Row) (vault.Node, error) {
	var n vault.Node
	var fields uint64
	var blob1, blob2 []byte
	err := row.Scan(
		&n.NodeID, &fields, &n.CreateTime, &n.ModifyTime, &n.CreateAgeName, &n.CreateAgeUUID,
		&n.CreatorUUID, &n.CreatorID, &n.NodeType, &n.Int32_1, &n.Int32_2, &n.Int32_3, &n.Int32_4,
		&n.Uint32_1, &n.Uint32_2, &n.Uint32_3, &n.Uint32_4, &n.UUID_1, &n.UUID_2, &n.UUID_3, &n.UUID_4,
		&n.String64_1, &n.String64_2, &n.String64_3, &n.String64_4, &n.String64_5, &n.String64_6,
		&n.IString64_1, &n.IString64_2, &n.Text_1, &n.Text_2, &blob1, &blob2,
	)
	if err != nil {
		return vault.Node{}, err
	}
	n.Fields = vault.Field(fields)
	n.Blob_1, n.Blob_2 = blob1, blob2
	return n, nil
}

// CreateNode inserts n and assigns it a fresh node id.
func (s *Store) CreateNode(ctx context.Context, n vault.Node) (uint32, error) {
	t := now()
	if n.Fields&vault.FieldCreateTime == 0 {
		n.CreateTime = t
		n.Fields |= vault.FieldCreateTime
	}
	if n.Fields&vault.FieldModifyTime == 0 {
		n.ModifyTime = t
		n.Fields |= vault.FieldModifyTime
	}

	var id uint32
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vault_nodes (
			fields, create_time, modify_time, create_age_name, create_age_uuid,
			creator_uuid, creator_id, node_type, int32_1, int32_2, int32_3, int32_4,
			uint32_1, uint32_2, uint32_3, uint32_4, uuid_1, uuid_2, uuid_3, uuid_4,
			string64_1, string64_2, string64_3, string64_4, string64_5, string64_6,
			istring64_1, istring64_2, text_1, text_2, blob_1, blob_2
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
		RETURNING node_id`,
		uint64(n.Fields), n.CreateTime, n.ModifyTime, n.CreateAgeName, n.CreateAgeUUID,
		n.CreatorUUID, n.CreatorID, n.NodeType, n.Int32_1, n.Int32_2, n.Int32_3, n.Int32_4,
		n.Uint32_1, n.Uint32_2, n.Uint32_3, n.Uint32_4, n.UUID_1, n.UUID_2, n.UUID_3, n.UUID_4,
		n.String64_1, n.String64_2, n.String64_3, n.String64_4, n.String64_5, n.String64_6,
		n.IString64_1, n.IString64_2, n.Text_1, n.Text_2, nullBytes(n.Blob_1), nullBytes(n.Blob_2),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting vault node: %w", err)
	}
	return id, nil
}

func nullBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// FetchNode loads a node by id.
func (s *Store) FetchNode(ctx context.Context, id uint32) (*vault.Node, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM vault_nodes WHERE node_id = $1`, id)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vault.ErrNotFound
		}
		return nil, fmt.Errorf("fetching vault node %d: %w", id, err)
	}
	n.Fields |= vault.FieldNodeID
	return &n, nil
}

// UpdateNode merges patch's set fields over the stored row and refreshes
// modify_time, mirroring internal/db/memory's semantics.
func (s *Store) UpdateNode(ctx context.Context, id uint32, patch vault.Node) (*vault.Node, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM vault_nodes WHERE node_id = $1`, id)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vault.ErrNotFound
		}
		return nil, fmt.Errorf("fetching vault node %d for update: %w", id, err)
	}
	mergeNodeFields(&n, patch)
	n.ModifyTime = now()
	n.Fields |= vault.FieldModifyTime

	_, err = s.pool.Exec(ctx, `
		UPDATE vault_nodes SET
			fields=$2, modify_time=$3, create_age_name=$4, create_age_uuid=$5,
			creator_uuid=$6, creator_id=$7, node_type=$8, int32_1=$9, int32_2=$10, int32_3=$11, int32_4=$12,
			uint32_1=$13, uint32_2=$14, uint32_3=$15, uint32_4=$16, uuid_1=$17, uuid_2=$18, uuid_3=$19, uuid_4=$20,
			string64_1=$21, string64_2=$22, string64_3=$23, string64_4=$24, string64_5=$25, string64_6=$26,
			istring64_1=$27, istring64_2=$28, text_1=$29, text_2=$30, blob_1=$31, blob_2=$32
		WHERE node_id = $1`,
		id, uint64(n.Fields), n.ModifyTime, n.CreateAgeName, n.CreateAgeUUID,
		n.CreatorUUID, n.CreatorID, n.NodeType, n.Int32_1, n.Int32_2, n.Int32_3, n.Int32_4,
		n.Uint32_1, n.Uint32_2, n.Uint32_3, n.Uint32_4, n.UUID_1, n.UUID_2, n.UUID_3, n.UUID_4,
		n.String64_1, n.String64_2, n.String64_3, n.String64_4, n.String64_5, n.String64_6,
		n.IString64_1, n.IString64_2, n.Text_1, n.Text_2, nullBytes(n.Blob_1), nullBytes(n.Blob_2),
	)
	if err != nil {
		return nil, fmt.Errorf("updating vault node %d: %w", id, err)
	}
	n.NodeID = id
	n.Fields |= vault.FieldNodeID
	out := n
	return &out, nil
}

// mergeNodeFields overwrites, field by field, every slot patch.Fields
// marks present, leaving the rest of dst untouched; create_time is never
// moved through this path.
func mergeNodeFields(dst *vault.Node, patch vault.Node) {
	f := patch.Fields
	if f&vault.FieldCreateAgeName != 0 {
		dst.CreateAgeName, dst.Fields = patch.CreateAgeName, dst.Fields|vault.FieldCreateAgeName
	}
	if f&vault.FieldCreateAgeUUID != 0 {
		dst.CreateAgeUUID, dst.Fields = patch.CreateAgeUUID, dst.Fields|vault.FieldCreateAgeUUID
	}
	if f&vault.FieldCreatorUUID != 0 {
		dst.CreatorUUID, dst.Fields = patch.CreatorUUID, dst.Fields|vault.FieldCreatorUUID
	}
	if f&vault.FieldCreatorID != 0 {
		dst.CreatorID, dst.Fields = patch.CreatorID, dst.Fields|vault.FieldCreatorID
	}
	if f&vault.FieldNodeType != 0 {
		dst.NodeType, dst.Fields = patch.NodeType, dst.Fields|vault.FieldNodeType
	}
	if f&vault.FieldInt32_1 != 0 {
		dst.Int32_1, dst.Fields = patch.Int32_1, dst.Fields|vault.FieldInt32_1
	}
	if f&vault.FieldInt32_2 != 0 {
		dst.Int32_2, dst.Fields = patch.Int32_2, dst.Fields|vault.FieldInt32_2
	}
	if f&vault.FieldInt32_3 != 0 {
		dst.Int32_3, dst.Fields = patch.Int32_3, dst.Fields|vault.FieldInt32_3
	}
	if f&vault.FieldInt32_4 != 0 {
		dst.Int32_4, dst.Fields = patch.Int32_4, dst.Fields|vault.FieldInt32_4
	}
	if f&vault.FieldUint32_1 != 0 {
		dst.Uint32_1, dst.Fields = patch.Uint32_1, dst.Fields|vault.FieldUint32_1
	}
	if f&vault.FieldUint32_2 != 0 {
		dst.Uint32_2, dst.Fields = patch.Uint32_2, dst.Fields|vault.FieldUint32_2
	}
	if f&vault.FieldUint32_3 != 0 {
		dst.Uint32_3, dst.Fields = patch.Uint32_3, dst.Fields|vault.FieldUint32_3
	}
	if f&vault.FieldUint32_4 != 0 {
		dst.Uint32_4, dst.Fields = patch.Uint32_4, dst.Fields|vault.FieldUint32_4
	}
	if f&vault.FieldUUID_1 != 0 {
		dst.UUID_1, dst.Fields = patch.UUID_1, dst.Fields|vault.FieldUUID_1
	}
	if f&vault.FieldUUID_2 != 0 {
		dst.UUID_2, dst.Fields = patch.UUID_2, dst.Fields|vault.FieldUUID_2
	}
	if f&vault.FieldUUID_3 != 0 {
		dst.UUID_3, dst.Fields = patch.UUID_3, dst.Fields|vault.FieldUUID_3
	}
	if f&vault.FieldUUID_4 != 0 {
		dst.UUID_4, dst.Fields = patch.UUID_4, dst.Fields|vault.FieldUUID_4
	}
	if f&vault.FieldString64_1 != 0 {
		dst.String64_1, dst.Fields = patch.String64_1, dst.Fields|vault.FieldString64_1
	}
	if f&vault.FieldString64_2 != 0 {
		dst.String64_2, dst.Fields = patch.String64_2, dst.Fields|vault.FieldString64_2
	}
	if f&vault.FieldString64_3 != 0 {
		dst.String64_3, dst.Fields = patch.String64_3, dst.Fields|vault.FieldString64_3
	}
	if f&vault.FieldString64_4 != 0 {
		dst.String64_4, dst.Fields = patch.String64_4, dst.Fields|vault.FieldString64_4
	}
	if f&vault.FieldString64_5 != 0 {
		dst.String64_5, dst.Fields = patch.String64_5, dst.Fields|vault.FieldString64_5
	}
	if f&vault.FieldString64_6 != 0 {
		dst.String64_6, dst.Fields = patch.String64_6, dst.Fields|vault.FieldString64_6
	}
	if f&vault.FieldIString64_1 != 0 {
		dst.IString64_1, dst.Fields = patch.IString64_1, dst.Fields|vault.FieldIString64_1
	}
	if f&vault.FieldIString64_2 != 0 {
		dst.IString64_2, dst.Fields = patch.IString64_2, dst.Fields|vault.FieldIString64_2
	}
	if f&vault.FieldText_1 != 0 {
		dst.Text_1, dst.Fields = patch.Text_1, dst.Fields|vault.FieldText_1
	}
	if f&vault.FieldText_2 != 0 {
		dst.Text_2, dst.Fields = patch.Text_2, dst.Fields|vault.FieldText_2
	}
	if f&vault.FieldBlob_1 != 0 {
		dst.Blob_1, dst.Fields = patch.Blob_1, dst.Fields|vault.FieldBlob_1
	}
	if f&vault.FieldBlob_2 != 0 {
		dst.Blob_2, dst.Fields = patch.Blob_2, dst.Fields|vault.FieldBlob_2
	}
}

// FindNodes narrows by node_type server-side when the template sets it
// (the overwhelmingly common case and the one index worth having), then
// applies the full Matches predicate in Go over the narrowed set.
func (s *Store) FindNodes(ctx context.Context, template vault.Node) ([]uint32, error) {
	var rows pgx.Rows
	var err error
	if template.Fields&vault.FieldNodeType != 0 {
		rows, err = s.pool.Query(ctx, `SELECT `+nodeColumns+` FROM vault_nodes WHERE node_type = $1`, template.NodeType)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+nodeColumns+` FROM vault_nodes`)
	}
	if err != nil {
		return nil, fmt.Errorf("querying vault nodes: %w", err)
	}
	defer rows.Close()

	var ids []uint32
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vault node: %w", err)
		}
		n.Fields |= vault.FieldNodeID
		if n.Matches(template) {
			ids = append(ids, n.NodeID)
		}
	}
	return ids, rows.Err()
}

func (s *Store) RefNode(ctx context.Context, ref vault.NodeRef) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vault_node_refs (parent_id, child_id, owner_id, seen)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (parent_id, child_id, owner_id) DO NOTHING`,
		ref.Parent, ref.Child, ref.Owner)
	if err != nil {
		return fmt.Errorf("linking vault nodes %d->%d: %w", ref.Parent, ref.Child, err)
	}
	return nil
}

func (s *Store) RemoveRef(ctx context.Context, parent, child uint32) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM vault_node_refs WHERE parent_id = $1 AND child_id = $2`, parent, child)
	if err != nil {
		return fmt.Errorf("unlinking vault nodes %d->%d: %w", parent, child, err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrNotFound
	}
	return nil
}

func (s *Store) FetchRefs(ctx context.Context, parent uint32, recursive bool) ([]vault.NodeRef, error) {
	if !recursive {
		return s.directRefs(ctx, parent)
	}

	var out []vault.NodeRef
	seen := map[uint32]bool{parent: true}
	frontier := []uint32{parent}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		refs, err := s.directRefs(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			out = append(out, r)
			if !seen[r.Child] {
				seen[r.Child] = true
				frontier = append(frontier, r.Child)
			}
		}
	}
	return out, nil
}

func (s *Store) directRefs(ctx context.Context, parent uint32) ([]vault.NodeRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT parent_id, child_id, owner_id, seen FROM vault_node_refs WHERE parent_id = $1`, parent)
	if err != nil {
		return nil, fmt.Errorf("querying refs of %d: %w", parent, err)
	}
	defer rows.Close()

	var out []vault.NodeRef
	for rows.Next() {
		var r vault.NodeRef
		if err := rows.Scan(&r.Parent, &r.Child, &r.Owner, &r.Seen); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SetSeen(ctx context.Context, parent, child uint32, seen bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE vault_node_refs SET seen = $3 WHERE parent_id = $1 AND child_id = $2`, parent, child, seen)
	if err != nil {
		return fmt.Errorf("setting seen on %d->%d: %w", parent, child, err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrNotFound
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, name string) (*vault.Account, error) {
	return s.scanAccount(ctx, `SELECT account_id, name, pass_hash, flags, billing_type FROM accounts WHERE lower(name) = lower($1)`, name)
}

func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (*vault.Account, error) {
	return s.scanAccount(ctx, `SELECT account_id, name, pass_hash, flags, billing_type FROM accounts WHERE account_id = $1`, id)
}

func (s *Store) GetAccountForToken(ctx context.Context, token string) (*vault.Account, error) {
	return s.scanAccount(ctx, `
		SELECT a.account_id, a.name, a.pass_hash, a.flags, a.billing_type
		FROM accounts a JOIN api_tokens t ON t.account_id = a.account_id
		WHERE t.token = $1`, token)
}

func (s *Store) scanAccount(ctx context.Context, query string, arg any) (*vault.Account, error) {
	var a vault.Account
	var passHash []byte
	var flags uint32
	err := s.pool.QueryRow(ctx, query, arg).Scan(&a.AccountID, &a.Name, &passHash, &flags, &a.BillingType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vault.ErrAccountNotFound
		}
		return nil, fmt.Errorf("querying account: %w", err)
	}
	copy(a.PassHash[:], passHash)
	a.Flags = vault.AccountFlag(flags)
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a vault.Account) error {
	if a.AccountID == uuid.Nil {
		a.AccountID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (account_id, name, pass_hash, flags, billing_type)
		VALUES ($1, $2, $3, $4, $5)`,
		a.AccountID, a.Name, a.PassHash[:], uint32(a.Flags), a.BillingType)
	if err != nil {
		if isUniqueViolation(err) {
			return vault.ErrAccountExists
		}
		return fmt.Errorf("creating account %q: %w", a.Name, err)
	}
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, a vault.Account) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET name=$2, pass_hash=$3, flags=$4, billing_type=$5 WHERE account_id=$1`,
		a.AccountID, a.Name, a.PassHash[:], uint32(a.Flags), a.BillingType)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", a.AccountID, err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrAccountNotFound
	}
	return nil
}

func (s *Store) GetPlayers(ctx context.Context, accountID uuid.UUID) ([]vault.PlayerInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, player_info_id, account_id, name, avatar_shape, disabled
		FROM players WHERE account_id = $1 ORDER BY player_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying players for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []vault.PlayerInfo
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlayer(row pgx.Row) (vault.PlayerInfo, error) {
	var p vault.PlayerInfo
	err := row.Scan(&p.PlayerID, &p.PlayerInfoID, &p.AccountID, &p.Name, &p.AvatarShape, &p.Disabled)
	return p, err
}

func (s *Store) GetPlayer(ctx context.Context, playerID uint32) (*vault.PlayerInfo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT player_id, player_info_id, account_id, name, avatar_shape, disabled
		FROM players WHERE player_id = $1`, playerID)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vault.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("fetching player %d: %w", playerID, err)
	}
	return &p, nil
}

// CreatePlayer enforces the same two invariants as internal/db/memory,
// with the name-uniqueness check expressed as a unique index and the
// per-account cap checked first inside the same transaction to keep both
// enforced atomically under concurrent callers.
func (s *Store) CreatePlayer(ctx context.Context, accountID uuid.UUID, name, avatarShape string) (vault.PlayerInfo, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return vault.PlayerInfo{}, fmt.Errorf("beginning create-player tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT 1 FROM accounts WHERE account_id = $1 FOR UPDATE`, accountID); err != nil {
		return vault.PlayerInfo{}, fmt.Errorf("locking account %s: %w", accountID, err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM players WHERE account_id = $1`, accountID).Scan(&count); err != nil {
		return vault.PlayerInfo{}, fmt.Errorf("counting players for %s: %w", accountID, err)
	}
	if count >= vault.MaxPlayersPerAccount {
		return vault.PlayerInfo{}, vault.ErrMaxPlayersOnAcct
	}

	var p vault.PlayerInfo
	err = tx.QueryRow(ctx, `
		INSERT INTO players (account_id, name, avatar_shape)
		VALUES ($1, $2, $3)
		RETURNING player_id, player_info_id, account_id, name, avatar_shape, disabled`,
		accountID, name, avatarShape,
	).Scan(&p.PlayerID, &p.PlayerInfoID, &p.AccountID, &p.Name, &p.AvatarShape, &p.Disabled)
	if err != nil {
		if isUniqueViolation(err) {
			return vault.PlayerInfo{}, vault.ErrPlayerExists
		}
		return vault.PlayerInfo{}, fmt.Errorf("creating player %q: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return vault.PlayerInfo{}, fmt.Errorf("committing create-player tx: %w", err)
	}
	return p, nil
}

func (s *Store) DeletePlayer(ctx context.Context, playerID uint32) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM players WHERE player_id = $1`, playerID)
	if err != nil {
		return fmt.Errorf("deleting player %d: %w", playerID, err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrPlayerNotFound
	}
	return nil
}

func (s *Store) AddGameServer(ctx context.Context, gs vault.GameServer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_servers (instance_id, filename, display_name, age_id, sdl_id, temporary)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (instance_id) DO UPDATE SET
			filename=$2, display_name=$3, age_id=$4, sdl_id=$5, temporary=$6`,
		gs.InstanceID, gs.Filename, gs.DisplayName, gs.AgeID, gs.SdlID, gs.Temporary)
	if err != nil {
		return fmt.Errorf("adding game server %s: %w", gs.InstanceID, err)
	}
	return nil
}

func (s *Store) GetGameServerByAgeID(ctx context.Context, ageID uint32) (*vault.GameServer, error) {
	return s.scanGameServer(ctx, `
		SELECT instance_id, filename, display_name, age_id, sdl_id, temporary
		FROM game_servers WHERE age_id = $1`, ageID)
}

func (s *Store) GetGameServerByInstanceID(ctx context.Context, instanceID uuid.UUID) (*vault.GameServer, error) {
	return s.scanGameServer(ctx, `
		SELECT instance_id, filename, display_name, age_id, sdl_id, temporary
		FROM game_servers WHERE instance_id = $1`, instanceID)
}

func (s *Store) scanGameServer(ctx context.Context, query string, arg any) (*vault.GameServer, error) {
	var gs vault.GameServer
	err := s.pool.QueryRow(ctx, query, arg).Scan(&gs.InstanceID, &gs.Filename, &gs.DisplayName, &gs.AgeID, &gs.SdlID, &gs.Temporary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vault.ErrNotFound
		}
		return nil, fmt.Errorf("querying game server: %w", err)
	}
	return &gs, nil
}

func (s *Store) CreateScore(ctx context.Context, sc vault.Score) (vault.Score, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scores (owner_id, name, type, value)
		VALUES ($1, $2, $3, $4) RETURNING score_id`,
		sc.OwnerID, sc.Name, sc.Type, sc.Value,
	).Scan(&sc.ScoreID)
	if err != nil {
		return vault.Score{}, fmt.Errorf("creating score %q: %w", sc.Name, err)
	}
	return sc, nil
}

func (s *Store) DeleteScore(ctx context.Context, scoreID uint32) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scores WHERE score_id = $1`, scoreID)
	if err != nil {
		return fmt.Errorf("deleting score %d: %w", scoreID, err)
	}
	if tag.RowsAffected() == 0 {
		return vault.ErrNotFound
	}
	return nil
}

func (s *Store) GetScores(ctx context.Context, ownerID uint32, name string) ([]vault.Score, error) {
	query := `SELECT score_id, owner_id, name, type, value FROM scores WHERE owner_id = $1`
	args := []any{ownerID}
	if name != "" {
		query += ` AND name = $2`
		args = append(args, name)
	}
	return s.queryScores(ctx, query, args...)
}

func (s *Store) AddPoints(ctx context.Context, scoreID uint32, points int32) (vault.Score, error) {
	return s.updateScoreValue(ctx, scoreID, `UPDATE scores SET value = value + $2 WHERE score_id = $1`, points)
}

func (s *Store) SetPoints(ctx context.Context, scoreID uint32, points int32) (vault.Score, error) {
	return s.updateScoreValue(ctx, scoreID, `UPDATE scores SET value = $2 WHERE score_id = $1`, points)
}

func (s *Store) updateScoreValue(ctx context.Context, scoreID uint32, query string, points int32) (vault.Score, error) {
	tag, err := s.pool.Exec(ctx, query, scoreID, points)
	if err != nil {
		return vault.Score{}, fmt.Errorf("updating score %d: %w", scoreID, err)
	}
	if tag.RowsAffected() == 0 {
		return vault.Score{}, vault.ErrNotFound
	}
	var sc vault.Score
	err = s.pool.QueryRow(ctx, `SELECT score_id, owner_id, name, type, value FROM scores WHERE score_id = $1`, scoreID).
		Scan(&sc.ScoreID, &sc.OwnerID, &sc.Name, &sc.Type, &sc.Value)
	return sc, err
}

func (s *Store) GetRanks(ctx context.Context, _ uint32, name string) ([]vault.Score, error) {
	return s.queryScores(ctx, `SELECT score_id, owner_id, name, type, value FROM scores WHERE name = $1 ORDER BY value DESC`, name)
}

func (s *Store) GetHighScores(ctx context.Context, name string, limit int) ([]vault.Score, error) {
	query := `SELECT score_id, owner_id, name, type, value FROM scores WHERE name = $1 ORDER BY value DESC`
	args := []any{name}
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	return s.queryScores(ctx, query, args...)
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]vault.Score, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scores: %w", err)
	}
	defer rows.Close()

	var out []vault.Score
	for rows.Next() {
		var sc vault.Score
		if err := rows.Scan(&sc.ScoreID, &sc.OwnerID, &sc.Name, &sc.Type, &sc.Value); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}

var _ vault.Store = (*Store)(nil)

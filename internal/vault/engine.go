package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// engineQueueSize bounds the inbound message channel. The engine is the
// sole writer for every vault mutation; callers block on send only if a
// burst outruns this buffer, never on the engine's own work.
const engineQueueSize = 256

// Engine is the single-goroutine owner of all vault state. Every exported
// method sends a message on an internal channel and blocks on a
// one-shot reply channel; Run must be driven by exactly one goroutine for
// the FIFO ordering guarantee to hold.
type Engine struct {
	store   Store
	bcast   *Broadcaster
	inbox   chan message
	systemID, allPlayersID uint32
}

// NewEngine wires an Engine to store. Callers must call Init once, then
// Run in its own goroutine before issuing any request.
func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		bcast: NewBroadcaster(),
		inbox: make(chan message, engineQueueSize),
	}
}

// Run processes inbox strictly FIFO until ctx is cancelled. It must be
// called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.inbox:
			msg.apply(ctx, e.store, e.bcast)
		}
	}
}

// Subscribe registers for change broadcasts (node changed/added). Callers
// must Close the subscription on disconnect.
func (e *Engine) Subscribe() *Subscription { return e.bcast.Subscribe() }

// Init ensures the System node, GlobalInbox folder and AllPlayers folder
// exist, creating them on first run. It is idempotent and safe to call
// from main before Run's goroutine starts, since it talks to the store
// directly rather than through the message channel.
func (e *Engine) Init(ctx context.Context) error {
	ids, err := e.store.FindNodes(ctx, Node{Fields: FieldNodeType, NodeType: int32(NodeTypeSystem)})
	if err != nil {
		return fmt.Errorf("looking up system node: %w", err)
	}
	if len(ids) > 0 {
		e.systemID = ids[0]
		allPlayers, err := e.store.FindNodes(ctx, Node{
			Fields: FieldNodeType | FieldInt32_1,
			NodeType: int32(NodeTypeFolder), Int32_1: int32(StandardNodeAllPlayers),
		})
		if err != nil {
			return fmt.Errorf("looking up all-players folder: %w", err)
		}
		if len(allPlayers) > 0 {
			e.allPlayersID = allPlayers[0]
		}
		return nil
	}

	systemID, err := e.store.CreateNode(ctx, Node{
		Fields: FieldNodeType, NodeType: int32(NodeTypeSystem),
	})
	if err != nil {
		return fmt.Errorf("creating system node: %w", err)
	}
	e.systemID = systemID
	slog.Info("vault: created system node", "node_id", systemID)

	globalInboxID, err := e.store.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldInt32_1, NodeType: int32(NodeTypeFolder),
		Int32_1: int32(StandardNodeGlobalInbox),
	})
	if err != nil {
		return fmt.Errorf("creating global inbox folder: %w", err)
	}
	if err := e.store.RefNode(ctx, NodeRef{Parent: systemID, Child: globalInboxID, Owner: systemID}); err != nil {
		return fmt.Errorf("linking global inbox to system: %w", err)
	}

	allPlayersID, err := e.store.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldInt32_1, NodeType: int32(NodeTypeFolder),
		Int32_1: int32(StandardNodeAllPlayers),
	})
	if err != nil {
		return fmt.Errorf("creating all-players folder: %w", err)
	}
	if err := e.store.RefNode(ctx, NodeRef{Parent: systemID, Child: allPlayersID, Owner: systemID}); err != nil {
		return fmt.Errorf("linking all-players to system: %w", err)
	}
	e.allPlayersID = allPlayersID

	slog.Info("vault: initialized", "system_id", systemID, "all_players_id", allPlayersID)
	return nil
}

// SystemNodeID returns the id of the singleton System node. Valid only
// after Init.
func (e *Engine) SystemNodeID() uint32 { return e.systemID }

// AllPlayersNodeID returns the id of the AllPlayers folder. Valid only
// after Init.
func (e *Engine) AllPlayersNodeID() uint32 { return e.allPlayersID }

func (e *Engine) CreateNode(ctx context.Context, n Node) (uint32, error) {
	reply := make(chan createNodeResult, 1)
	e.inbox <- createNodeMsg{node: n, reply: reply}
	r := <-reply
	return r.id, r.err
}

func (e *Engine) FetchNode(ctx context.Context, id uint32) (*Node, error) {
	reply := make(chan fetchNodeResult, 1)
	e.inbox <- fetchNodeMsg{id: id, reply: reply}
	r := <-reply
	return r.node, r.err
}

func (e *Engine) UpdateNode(ctx context.Context, id uint32, patch Node) (*Node, error) {
	reply := make(chan updateNodeResult, 1)
	e.inbox <- updateNodeMsg{id: id, patch: patch, reply: reply}
	r := <-reply
	return r.node, r.err
}

func (e *Engine) FindNodes(ctx context.Context, template Node) ([]uint32, error) {
	reply := make(chan findNodesResult, 1)
	e.inbox <- findNodesMsg{template: template, reply: reply}
	r := <-reply
	return r.ids, r.err
}

// RefNode links parent->child. When broadcast is true a NodeAdded event is
// published to every subscriber once the link is stored.
func (e *Engine) RefNode(ctx context.Context, ref NodeRef, broadcast bool) error {
	reply := make(chan error, 1)
	e.inbox <- refNodeMsg{ref: ref, broadcast: broadcast, reply: reply}
	return <-reply
}

// RemoveRef unlinks parent->child. The edge's owner is not part of the
// wire request, so every matching edge goes.
func (e *Engine) RemoveRef(ctx context.Context, parent, child uint32) error {
	reply := make(chan error, 1)
	e.inbox <- removeRefMsg{parent: parent, child: child, reply: reply}
	return <-reply
}

// PropagateBuffer mirrors an opaque client game-message buffer to every
// subscribed session except from (its origin). Nothing is stored; this is
// pure fan-out over the broadcast bus.
func (e *Engine) PropagateBuffer(typeID uint32, buf []byte, from *Subscription) {
	e.bcast.PublishExcept(BufferPropagated{TypeID: typeID, Buffer: buf}, from)
}

func (e *Engine) FetchRefs(ctx context.Context, parent uint32, recursive bool) ([]NodeRef, error) {
	reply := make(chan fetchRefsResult, 1)
	e.inbox <- fetchRefsMsg{parent: parent, recursive: recursive, reply: reply}
	r := <-reply
	return r.refs, r.err
}

func (e *Engine) SetSeen(ctx context.Context, parent, child uint32, seen bool) error {
	reply := make(chan error, 1)
	e.inbox <- setSeenMsg{parent: parent, child: child, seen: seen, reply: reply}
	return <-reply
}

func (e *Engine) GetAccount(ctx context.Context, name string) (*Account, error) {
	reply := make(chan getAccountResult, 1)
	e.inbox <- getAccountMsg{name: name, reply: reply}
	r := <-reply
	return r.account, r.err
}

func (e *Engine) GetAccountForToken(ctx context.Context, token string) (*Account, error) {
	reply := make(chan getAccountResult, 1)
	e.inbox <- getAccountForTokenMsg{token: token, reply: reply}
	r := <-reply
	return r.account, r.err
}

func (e *Engine) CreateAccount(ctx context.Context, a Account) error {
	reply := make(chan error, 1)
	e.inbox <- createAccountMsg{account: a, reply: reply}
	return <-reply
}

func (e *Engine) UpdateAccount(ctx context.Context, a Account) error {
	reply := make(chan error, 1)
	e.inbox <- updateAccountMsg{account: a, reply: reply}
	return <-reply
}

func (e *Engine) GetPlayers(ctx context.Context, accountID uuid.UUID) ([]PlayerInfo, error) {
	reply := make(chan getPlayersResult, 1)
	e.inbox <- getPlayersMsg{accountID: accountID, reply: reply}
	r := <-reply
	return r.players, r.err
}

func (e *Engine) CreatePlayer(ctx context.Context, accountID uuid.UUID, name, avatarShape string) (PlayerInfo, error) {
	reply := make(chan createPlayerResult, 1)
	e.inbox <- createPlayerMsg{accountID: accountID, name: name, avatarShape: avatarShape, reply: reply}
	r := <-reply
	return r.player, r.err
}

func (e *Engine) AddGameServer(ctx context.Context, gs GameServer) error {
	reply := make(chan error, 1)
	e.inbox <- addGameServerMsg{gs: gs, reply: reply}
	return <-reply
}

func (e *Engine) GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	reply := make(chan getAccountResult, 1)
	e.inbox <- getAccountByIDMsg{id: id, reply: reply}
	r := <-reply
	return r.account, r.err
}

func (e *Engine) GetPlayer(ctx context.Context, playerID uint32) (*PlayerInfo, error) {
	reply := make(chan getPlayerResult, 1)
	e.inbox <- getPlayerMsg{playerID: playerID, reply: reply}
	r := <-reply
	return r.player, r.err
}

func (e *Engine) DeletePlayer(ctx context.Context, playerID uint32) error {
	reply := make(chan error, 1)
	e.inbox <- deletePlayerMsg{playerID: playerID, reply: reply}
	return <-reply
}

func (e *Engine) GetGameServerByAgeID(ctx context.Context, ageID uint32) (*GameServer, error) {
	reply := make(chan getGameServerResult, 1)
	e.inbox <- getGameServerByAgeIDMsg{ageID: ageID, reply: reply}
	r := <-reply
	return r.gs, r.err
}

func (e *Engine) GetGameServerByInstanceID(ctx context.Context, instanceID uuid.UUID) (*GameServer, error) {
	reply := make(chan getGameServerResult, 1)
	e.inbox <- getGameServerByInstanceIDMsg{instanceID: instanceID, reply: reply}
	r := <-reply
	return r.gs, r.err
}

func (e *Engine) CreateScore(ctx context.Context, s Score) (Score, error) {
	reply := make(chan scoreResult, 1)
	e.inbox <- createScoreMsg{score: s, reply: reply}
	r := <-reply
	return r.score, r.err
}

func (e *Engine) DeleteScore(ctx context.Context, scoreID uint32) error {
	reply := make(chan error, 1)
	e.inbox <- deleteScoreMsg{scoreID: scoreID, reply: reply}
	return <-reply
}

func (e *Engine) GetScores(ctx context.Context, ownerID uint32, name string) ([]Score, error) {
	reply := make(chan scoreListResult, 1)
	e.inbox <- getScoresMsg{ownerID: ownerID, name: name, reply: reply}
	r := <-reply
	return r.scores, r.err
}

func (e *Engine) AddPoints(ctx context.Context, scoreID uint32, points int32) (Score, error) {
	reply := make(chan scoreResult, 1)
	e.inbox <- addPointsMsg{scoreID: scoreID, points: points, reply: reply}
	r := <-reply
	return r.score, r.err
}

func (e *Engine) SetPoints(ctx context.Context, scoreID uint32, points int32) (Score, error) {
	reply := make(chan scoreResult, 1)
	e.inbox <- setPointsMsg{scoreID: scoreID, points: points, reply: reply}
	r := <-reply
	return r.score, r.err
}

func (e *Engine) GetRanks(ctx context.Context, ownerID uint32, name string) ([]Score, error) {
	reply := make(chan scoreListResult, 1)
	e.inbox <- getRanksMsg{ownerID: ownerID, name: name, reply: reply}
	r := <-reply
	return r.scores, r.err
}

func (e *Engine) GetHighScores(ctx context.Context, name string, limit int) ([]Score, error) {
	reply := make(chan scoreListResult, 1)
	e.inbox <- getHighScoresMsg{name: name, limit: limit, reply: reply}
	r := <-reply
	return r.scores, r.err
}

// TransferPoints moves points from srcScoreID to destScoreID as two engine
// calls serialized by the single-writer goroutine: debit first, and only
// credit the destination if the debit succeeds. If the credit fails (e.g.
// destination score missing) the debit is rolled back so a failed transfer
// never leaves the source short; callers get that failure back unchanged.
func (e *Engine) TransferPoints(ctx context.Context, srcScoreID, destScoreID uint32, points int32) error {
	if _, err := e.AddPoints(ctx, srcScoreID, -points); err != nil {
		return err
	}
	if _, err := e.AddPoints(ctx, destScoreID, points); err != nil {
		if _, rollbackErr := e.AddPoints(ctx, srcScoreID, points); rollbackErr != nil {
			slog.Error("vault: transfer rollback failed, source score left short", "score_id", srcScoreID, "error", rollbackErr)
		}
		return err
	}
	return nil
}

// GetSystemNode fetches the singleton System node.
func (e *Engine) GetSystemNode(ctx context.Context) (*Node, error) {
	return e.FetchNode(ctx, e.systemID)
}

// GetAllPlayersNode fetches the AllPlayers folder node.
func (e *Engine) GetAllPlayersNode(ctx context.Context) (*Node, error) {
	return e.FetchNode(ctx, e.allPlayersID)
}

// GetPlayerInfoNode finds the PlayerInfo node for playerID, searching the
// PlayerInfo node type filtered by the owning player's Uint32_1 slot
// (this server stores the player's PlayerID there; see playerinit.go).
func (e *Engine) GetPlayerInfoNode(ctx context.Context, playerID uint32) (*Node, error) {
	ids, err := e.FindNodes(ctx, Node{
		Fields: FieldNodeType | FieldUint32_1, NodeType: int32(NodeTypePlayerInfo), Uint32_1: playerID,
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return e.FetchNode(ctx, ids[0])
}

package vault

import (
	"context"

	"github.com/google/uuid"
)

// message is the common shape every request the engine accepts satisfies:
// apply does the work against the store/broadcaster and sends its own
// typed result down whatever reply channel it closed over. Keeping this
// as an interface (rather than a generic "any" reply channel) lets
// Engine.Run dispatch every request with a single apply call, one message
// type per request kind.
type message interface {
	apply(ctx context.Context, s Store, b *Broadcaster)
}

type createNodeMsg struct {
	node  Node
	reply chan<- createNodeResult
}
type createNodeResult struct {
	id  uint32
	err error
}

func (m createNodeMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	id, err := s.CreateNode(ctx, m.node)
	m.reply <- createNodeResult{id, err}
}

type fetchNodeMsg struct {
	id    uint32
	reply chan<- fetchNodeResult
}
type fetchNodeResult struct {
	node *Node
	err  error
}

func (m fetchNodeMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	n, err := s.FetchNode(ctx, m.id)
	m.reply <- fetchNodeResult{n, err}
}

type updateNodeMsg struct {
	id    uint32
	patch Node
	reply chan<- updateNodeResult
}
type updateNodeResult struct {
	node *Node
	err  error
}

func (m updateNodeMsg) apply(ctx context.Context, s Store, b *Broadcaster) {
	n, err := s.UpdateNode(ctx, m.id, m.patch)
	if err == nil {
		b.Publish(NodeChanged{NodeID: m.id, RevisionID: newRevisionID()})
	}
	m.reply <- updateNodeResult{n, err}
}

type findNodesMsg struct {
	template Node
	reply    chan<- findNodesResult
}
type findNodesResult struct {
	ids []uint32
	err error
}

func (m findNodesMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	ids, err := s.FindNodes(ctx, m.template)
	m.reply <- findNodesResult{ids, err}
}

type refNodeMsg struct {
	ref       NodeRef
	broadcast bool
	reply     chan<- error
}

func (m refNodeMsg) apply(ctx context.Context, s Store, b *Broadcaster) {
	err := s.RefNode(ctx, m.ref)
	if err == nil && m.broadcast {
		b.Publish(NodeAdded{Parent: m.ref.Parent, Child: m.ref.Child, Owner: m.ref.Owner})
	}
	m.reply <- err
}

type removeRefMsg struct {
	parent, child uint32
	reply         chan<- error
}

func (m removeRefMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	m.reply <- s.RemoveRef(ctx, m.parent, m.child)
}

type fetchRefsMsg struct {
	parent    uint32
	recursive bool
	reply     chan<- fetchRefsResult
}
type fetchRefsResult struct {
	refs []NodeRef
	err  error
}

func (m fetchRefsMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	refs, err := s.FetchRefs(ctx, m.parent, m.recursive)
	m.reply <- fetchRefsResult{refs, err}
}

type setSeenMsg struct {
	parent, child uint32
	seen          bool
	reply         chan<- error
}

func (m setSeenMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	m.reply <- s.SetSeen(ctx, m.parent, m.child, m.seen)
}

type getAccountMsg struct {
	name  string
	reply chan<- getAccountResult
}
type getAccountResult struct {
	account *Account
	err     error
}

func (m getAccountMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	a, err := s.GetAccount(ctx, m.name)
	m.reply <- getAccountResult{a, err}
}

type getAccountForTokenMsg struct {
	token string
	reply chan<- getAccountResult
}

func (m getAccountForTokenMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	a, err := s.GetAccountForToken(ctx, m.token)
	m.reply <- getAccountResult{a, err}
}

type createAccountMsg struct {
	account Account
	reply   chan<- error
}

func (m createAccountMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	m.reply <- s.CreateAccount(ctx, m.account)
}

type updateAccountMsg struct {
	account Account
	reply   chan<- error
}

func (m updateAccountMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	m.reply <- s.UpdateAccount(ctx, m.account)
}

type getPlayersMsg struct {
	accountID uuid.UUID
	reply     chan<- getPlayersResult
}
type getPlayersResult struct {
	players []PlayerInfo
	err     error
}

func (m getPlayersMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	p, err := s.GetPlayers(ctx, m.accountID)
	m.reply <- getPlayersResult{p, err}
}

type createPlayerMsg struct {
	accountID   uuid.UUID
	name        string
	avatarShape string
	reply       chan<- createPlayerResult
}
type createPlayerResult struct {
	player PlayerInfo
	err    error
}

func (m createPlayerMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	p, err := s.CreatePlayer(ctx, m.accountID, m.name, m.avatarShape)
	m.reply <- createPlayerResult{p, err}
}

type addGameServerMsg struct {
	gs    GameServer
	reply chan<- error
}

func (m addGameServerMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	m.reply <- s.AddGameServer(ctx, m.gs)
}

type getAccountByIDMsg struct {
	id    uuid.UUID
	reply chan<- getAccountResult
}

func (m getAccountByIDMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	a, err := s.GetAccountByID(ctx, m.id)
	m.reply <- getAccountResult{a, err}
}

type getPlayerMsg struct {
	playerID uint32
	reply    chan<- getPlayerResult
}
type getPlayerResult struct {
	player *PlayerInfo
	err    error
}

func (m getPlayerMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	p, err := s.GetPlayer(ctx, m.playerID)
	m.reply <- getPlayerResult{p, err}
}

type deletePlayerMsg struct {
	playerID uint32
	reply    chan<- error
}

func (m deletePlayerMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	m.reply <- s.DeletePlayer(ctx, m.playerID)
}

type getGameServerByAgeIDMsg struct {
	ageID uint32
	reply chan<- getGameServerResult
}
type getGameServerResult struct {
	gs  *GameServer
	err error
}

func (m getGameServerByAgeIDMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	gs, err := s.GetGameServerByAgeID(ctx, m.ageID)
	m.reply <- getGameServerResult{gs, err}
}

type getGameServerByInstanceIDMsg struct {
	instanceID uuid.UUID
	reply      chan<- getGameServerResult
}

func (m getGameServerByInstanceIDMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	gs, err := s.GetGameServerByInstanceID(ctx, m.instanceID)
	m.reply <- getGameServerResult{gs, err}
}

type createScoreMsg struct {
	score Score
	reply chan<- scoreResult
}
type scoreResult struct {
	score Score
	err   error
}

func (m createScoreMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	sc, err := s.CreateScore(ctx, m.score)
	m.reply <- scoreResult{sc, err}
}

type deleteScoreMsg struct {
	scoreID uint32
	reply   chan<- error
}

func (m deleteScoreMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	m.reply <- s.DeleteScore(ctx, m.scoreID)
}

type getScoresMsg struct {
	ownerID uint32
	name    string
	reply   chan<- scoreListResult
}
type scoreListResult struct {
	scores []Score
	err    error
}

func (m getScoresMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	sc, err := s.GetScores(ctx, m.ownerID, m.name)
	m.reply <- scoreListResult{sc, err}
}

type addPointsMsg struct {
	scoreID uint32
	points  int32
	reply   chan<- scoreResult
}

func (m addPointsMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	sc, err := s.AddPoints(ctx, m.scoreID, m.points)
	m.reply <- scoreResult{sc, err}
}

type setPointsMsg struct {
	scoreID uint32
	points  int32
	reply   chan<- scoreResult
}

func (m setPointsMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	sc, err := s.SetPoints(ctx, m.scoreID, m.points)
	m.reply <- scoreResult{sc, err}
}

type getRanksMsg struct {
	ownerID uint32
	name    string
	reply   chan<- scoreListResult
}

func (m getRanksMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	sc, err := s.GetRanks(ctx, m.ownerID, m.name)
	m.reply <- scoreListResult{sc, err}
}

type getHighScoresMsg struct {
	name  string
	limit int
	reply chan<- scoreListResult
}

func (m getHighScoresMsg) apply(ctx context.Context, s Store, _ *Broadcaster) {
	sc, err := s.GetHighScores(ctx, m.name, m.limit)
	m.reply <- scoreListResult{sc, err}
}

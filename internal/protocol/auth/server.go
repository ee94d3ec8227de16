// Package auth implements the authentication + vault sub-protocol: login,
// player management, the vault message set, secure file downloads, scores,
// and the change-broadcast mirror. It is the largest of the sub-servers
// and the only one that subscribes to vault broadcasts.
package auth

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nimue-net/uruserver/internal/codec/handshake"
	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/netresult"
	"github.com/nimue-net/uruserver/internal/protocol"
	"github.com/nimue-net/uruserver/internal/sdl"
	"github.com/nimue-net/uruserver/internal/vault"
)

// serviceHeaderSize is the Auth service header: u32 size=20 then a nil
// UUID, all discarded.
const serviceHeaderSize = 20

// fileChunkSize is how much of a secure file each FileDownloadChunk
// carries.
const fileChunkSize = 64 * 1024

// Capability bits advertised in the ServerCaps message.
const capScoreLeaderBoards = 0

// chunkPool recycles download chunk buffers across connections.
var chunkPool = netio.NewBytePool(fileChunkSize)

// Server handles Auth connections: each one becomes a worker goroutine
// owning the cipher-wrapped stream, a vault broadcast subscription, and
// the per-session login state.
type Server struct {
	KeyPair        handshake.KeyPair
	Vault          *vault.Engine
	SDL            *sdl.DB
	DataRoot       string
	BuildID        uint32
	RestrictLogins bool
	NTDKey         [4]uint32
}

// HandleConn runs the Auth protocol over conn until the client
// disconnects or ctx is cancelled.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn, _ protocol.Header) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := skipServiceHeader(conn); err != nil {
		slog.Debug("auth: bad service header", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	key, err := handshake.ServerExchange(conn, s.KeyPair)
	if err != nil {
		slog.Debug("auth: handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	cc, err := handshake.NewCipherConn(conn, key[:])
	if err != nil {
		slog.Error("auth: wrapping cipher conn", "error", err)
		return
	}

	var challenge [4]byte
	_, _ = rand.Read(challenge[:])

	w := &worker{
		srv:             s,
		conn:            cc,
		remote:          conn.RemoteAddr(),
		sub:             s.Vault.Subscribe(),
		serverChallenge: binary.LittleEndian.Uint32(challenge[:]),
	}
	defer w.sub.Close()

	w.run(ctx)
	w.handleDisconnect(ctx)
}

func skipServiceHeader(r io.Reader) error {
	var buf [serviceHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("reading service header: %w", err)
	}
	size := binary.LittleEndian.Uint32(buf[:4])
	if size != serviceHeaderSize {
		return fmt.Errorf("service header size %d, want %d", size, serviceHeaderSize)
	}
	return nil
}

// worker is the per-connection state machine.
type worker struct {
	srv    *Server
	conn   io.ReadWriter
	remote net.Addr
	sub    *vault.Subscription

	serverChallenge uint32
	accountID       *uuid.UUID
	playerID        uint32 // 0 = no player set
}

type inboundMsg struct {
	msg any
	err error
}

// run drives the worker loop: a reader goroutine parses client messages
// into a channel while the loop itself prefers draining vault broadcasts
// over client traffic on every iteration, so a slow client can't overflow
// its own broadcast buffer.
func (w *worker) run(ctx context.Context) {
	if err := w.sendCaps(); err != nil {
		slog.Warn("auth: failed to send server caps", "remote", w.remote, "error", err)
		return
	}

	// The reader goroutine exits on its own: a parse error ends its loop,
	// and once run returns, cancel unblocks any pending send while the
	// caller's conn.Close unblocks a read in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan inboundMsg, 1)
	go func() {
		br := bufio.NewReader(w.conn)
		for {
			m, err := ReadRequest(br)
			select {
			case msgs <- inboundMsg{msg: m, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		// Biased pre-pass: empty the broadcast queue first.
		for {
			select {
			case ev, ok := <-w.sub.Events():
				if !ok {
					return
				}
				if !w.handleBroadcast(ev) {
					return
				}
				continue
			default:
			}
			break
		}

		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.sub.Events():
			if !ok {
				return
			}
			if !w.handleBroadcast(ev) {
				return
			}
		case in := <-msgs:
			if in.err != nil {
				if errors.Is(in.err, io.EOF) || errors.Is(in.err, io.ErrUnexpectedEOF) || errors.Is(in.err, net.ErrClosed) {
					slog.Debug("auth: client disconnected", "remote", w.remote)
				} else {
					slog.Warn("auth: error reading client message", "remote", w.remote, "error", in.err)
				}
				return
			}
			if !w.handleMessage(ctx, in.msg) {
				return
			}
		}
	}
}

func (w *worker) sendCaps() error {
	caps := netio.NewBitVector()
	caps.Set(capScoreLeaderBoards, true)
	return writeServerCaps(w.conn, caps)
}

func (w *worker) handleBroadcast(ev vault.Event) bool {
	var err error
	switch e := ev.(type) {
	case vault.NodeChanged:
		err = writeVaultNodeChanged(w.conn, e.NodeID, e.RevisionID)
	case vault.NodeAdded:
		err = writeVaultNodeAdded(w.conn, e.Parent, e.Child, e.Owner)
	case vault.BufferPropagated:
		err = writePropagateBuffer(w.conn, e.TypeID, e.Buffer)
	}
	if err != nil {
		slog.Debug("auth: failed to mirror broadcast", "remote", w.remote, "error", err)
		return false
	}
	return true
}

// handleMessage dispatches one parsed client message; returning false
// drops the connection.
func (w *worker) handleMessage(ctx context.Context, msg any) bool {
	switch m := msg.(type) {
	case PingRequest:
		return w.send(writePingReply(w.conn, m.TransID, m.PingTime, m.Payload))

	case ClientRegisterRequest:
		if m.BuildID != 0 && m.BuildID != w.srv.BuildID {
			// The client only listens for a ClientRegisterReply here, which
			// has no result field, so a bad build can only be dropped.
			slog.Warn("auth: client has unexpected build id", "remote", w.remote, "build_id", m.BuildID)
			return false
		}
		return w.send(writeClientRegisterReply(w.conn, w.serverChallenge))

	case ClientSetCCRLevel:
		slog.Warn("auth: ignoring CCR level change", "remote", w.remote, "level", m.Level)
		return true

	case AcctLoginRequest:
		return w.doLogin(ctx, m)

	case AcctSetPlayerRequest:
		if m.PlayerID == 0 {
			// Clearing the active player always succeeds.
			w.playerID = 0
			return w.send(writeResultReply(w.conn, auth2CliAcctSetPlayerReply, m.TransID, netresult.Success))
		}
		return w.doSetPlayer(ctx, m.TransID, m.PlayerID)

	case AcctCreateRequest:
		return w.send(writeAcctCreateReply(w.conn, m.TransID, netresult.NotSupported, uuid.Nil))
	case AcctChangePasswordRequest:
		return w.send(writeResultReply(w.conn, auth2CliAcctChangePasswordReply, m.TransID, netresult.NotSupported))
	case AcctSetRolesRequest:
		return w.send(writeResultReply(w.conn, auth2CliAcctSetRolesReply, m.TransID, netresult.NotSupported))
	case AcctSetBillingTypeRequest:
		return w.send(writeResultReply(w.conn, auth2CliAcctSetBillingTypeReply, m.TransID, netresult.NotSupported))
	case AcctActivateRequest:
		return w.send(writeResultReply(w.conn, auth2CliAcctActivateReply, m.TransID, netresult.NotSupported))
	case AcctCreateFromKeyRequest:
		return w.send(writeAcctCreateFromKeyReply(w.conn, m.TransID, netresult.NotSupported, uuid.Nil, uuid.Nil))

	case PlayerDeleteRequest:
		return w.doPlayerDelete(ctx, m)
	case PlayerCreateRequest:
		return w.doPlayerCreate(ctx, m)

	case UpgradeVisitorRequest:
		return w.send(writeResultReply(w.conn, auth2CliUpgradeVisitorReply, m.TransID, netresult.NotSupported))

	case SetPlayerBanStatusRequest:
		slog.Warn("auth: rejecting ban request", "remote", w.remote, "player_id", m.PlayerID)
		return w.send(writeResultReply(w.conn, auth2CliSetPlayerBanStatusReply, m.TransID, netresult.ServiceForbidden))

	case KickPlayer:
		slog.Warn("auth: ignoring kick request", "remote", w.remote, "player_id", m.PlayerID)
		return true

	case ChangePlayerNameRequest:
		return w.send(writeResultReply(w.conn, auth2CliChangePlayerNameReply, m.TransID, netresult.NotSupported))
	case SendFriendInviteRequest:
		return w.send(writeResultReply(w.conn, auth2CliSendFriendInviteReply, m.TransID, netresult.NotSupported))

	case VaultNodeCreate:
		return w.doVaultNodeCreate(ctx, m)
	case VaultNodeFetch:
		return w.doVaultNodeFetch(ctx, m)
	case VaultNodeSave:
		return w.doVaultNodeSave(ctx, m)
	case VaultNodeDelete:
		// Node deletion is not destructive in this server; acknowledge so
		// the client's local vault mirror stays consistent.
		return w.send(writeVaultNodeDeleted(w.conn, m.NodeID))
	case VaultNodeAdd:
		return w.doVaultNodeAdd(ctx, m)
	case VaultNodeRemove:
		return w.doVaultNodeRemove(ctx, m)
	case VaultFetchNodeRefs:
		return w.doVaultFetchNodeRefs(ctx, m)
	case VaultInitAgeRequest:
		return w.doVaultInitAge(ctx, m)
	case VaultNodeFind:
		return w.doVaultNodeFind(ctx, m)
	case VaultSetSeen:
		if err := w.srv.Vault.SetSeen(ctx, m.ParentID, m.ChildID, m.Seen != 0); err != nil {
			slog.Debug("auth: set-seen failed", "remote", w.remote, "parent", m.ParentID, "child", m.ChildID, "error", err)
		}
		return true
	case VaultSendNode:
		w.doVaultSendNode(ctx, m)
		return true

	case AgeRequest:
		return w.doAgeRequest(ctx, m)

	case FileListRequest:
		return w.doFileList(m)
	case FileDownloadRequest:
		return w.doFileDownload(m)
	case FileDownloadChunkAck:
		return true

	case PropagateBuffer:
		w.srv.Vault.PropagateBuffer(m.TypeID, m.Buffer, w.sub)
		return true

	case GetPublicAgeList:
		return w.doGetPublicAgeList(ctx, m)
	case SetAgePublic:
		w.doSetAgePublic(ctx, m)
		return true

	case LogPythonTraceback:
		slog.Warn("auth: python traceback from client", "remote", w.remote, "traceback", m.Traceback)
		return true
	case LogStackDump:
		slog.Warn("auth: stack dump from client", "remote", w.remote, "stackdump", m.StackDump)
		return true
	case LogClientDebuggerConnect:
		return true

	case ScoreCreate:
		return w.doScoreCreate(ctx, m)
	case ScoreDelete:
		err := w.srv.Vault.DeleteScore(ctx, m.ScoreID)
		return w.send(writeResultReply(w.conn, auth2CliScoreDeleteReply, m.TransID, resultFor(err)))
	case ScoreGetScores:
		scores, err := w.srv.Vault.GetScores(ctx, m.OwnerID, m.GameName)
		return w.send(writeScoreListReply(w.conn, auth2CliScoreGetScoresReply, m.TransID, resultFor(err), scores))
	case ScoreAddPoints:
		_, err := w.srv.Vault.AddPoints(ctx, m.ScoreID, int32(m.Points))
		return w.send(writeResultReply(w.conn, auth2CliScoreAddPointsReply, m.TransID, resultFor(err)))
	case ScoreTransferPoints:
		err := w.srv.Vault.TransferPoints(ctx, m.SrcScoreID, m.DestScoreID, int32(m.Points))
		return w.send(writeResultReply(w.conn, auth2CliScoreTransferPointsReply, m.TransID, resultFor(err)))
	case ScoreSetPoints:
		_, err := w.srv.Vault.SetPoints(ctx, m.ScoreID, int32(m.Points))
		return w.send(writeResultReply(w.conn, auth2CliScoreSetPointsReply, m.TransID, resultFor(err)))
	case ScoreGetRanks:
		scores, err := w.srv.Vault.GetRanks(ctx, m.OwnerID, m.GameName)
		return w.send(writeScoreRanksReply(w.conn, m.TransID, resultFor(err), scores))
	case ScoreGetHighScores:
		scores, err := w.srv.Vault.GetHighScores(ctx, m.GameName, int(m.MaxScores))
		return w.send(writeScoreListReply(w.conn, auth2CliScoreGetHighScoresReply, m.TransID, resultFor(err), scores))

	case AccountExistsRequest:
		return w.doAccountExists(ctx, m)

	default:
		slog.Warn("auth: unhandled message", "remote", w.remote, "type", fmt.Sprintf("%T", msg))
		return true
	}
}

func (w *worker) send(err error) bool {
	if err != nil {
		slog.Debug("auth: failed to send reply", "remote", w.remote, "error", err)
		return false
	}
	return true
}

// resultFor maps vault/store errors onto the wire result namespace.
func resultFor(err error) netresult.Code {
	switch {
	case err == nil:
		return netresult.Success
	case errors.Is(err, vault.ErrAccountNotFound):
		return netresult.AccountNotFound
	case errors.Is(err, vault.ErrAccountExists):
		return netresult.AccountAlreadyExists
	case errors.Is(err, vault.ErrPlayerNotFound):
		return netresult.PlayerNotFound
	case errors.Is(err, vault.ErrPlayerExists):
		return netresult.PlayerAlreadyExists
	case errors.Is(err, vault.ErrMaxPlayersOnAcct):
		return netresult.MaxPlayersOnAcct
	case errors.Is(err, vault.ErrNotFound):
		return netresult.VaultNodeNotFound
	default:
		return netresult.InternalError
	}
}

func (w *worker) loginError(transID uint32, result netresult.Code) bool {
	return w.send(writeAcctLoginReply(w.conn, transID, result, uuid.Nil, 0, 0, [4]uint32{}))
}

func (w *worker) doLogin(ctx context.Context, m AcctLoginRequest) bool {
	account, err := w.srv.Vault.GetAccount(ctx, m.AccountName)
	if err != nil {
		if errors.Is(err, vault.ErrAccountNotFound) {
			slog.Info("auth: login for unknown account", "remote", w.remote, "account", m.AccountName)
			// Don't leak whether the account exists.
			return w.loginError(m.TransID, netresult.AuthenticationFailed)
		}
		return w.loginError(m.TransID, resultFor(err))
	}

	// Neither comparison is good or secure, but both are exactly what the
	// client computes; changing them breaks compatibility.
	if useEmailAuth(m.AccountName) {
		expect := hashPasswordChallenge(m.ClientChallenge, w.serverChallenge, account.PassHash)
		if subtle.ConstantTimeCompare(expect[:], m.PassHash[:]) != 1 {
			slog.Info("auth: login failure", "remote", w.remote, "account", m.AccountName)
			return w.loginError(m.TransID, netresult.AuthenticationFailed)
		}
	} else {
		swapped := endianSwap(m.PassHash)
		if subtle.ConstantTimeCompare(account.PassHash[:], swapped[:]) != 1 {
			slog.Info("auth: login failure", "remote", w.remote, "account", m.AccountName)
			return w.loginError(m.TransID, netresult.AuthenticationFailed)
		}
	}

	if account.IsBanned() {
		slog.Info("auth: banned account rejected", "remote", w.remote, "account", m.AccountName)
		return w.loginError(m.TransID, netresult.AccountBanned)
	}
	if w.srv.RestrictLogins && !account.IsAdmin() && !account.IsBeta() {
		slog.Info("auth: login restricted", "remote", w.remote, "account", m.AccountName)
		return w.loginError(m.TransID, netresult.LoginDenied)
	}

	slog.Info("auth: logged in", "remote", w.remote, "account", m.AccountName, "account_id", account.AccountID)
	id := account.AccountID
	w.accountID = &id

	players, err := w.srv.Vault.GetPlayers(ctx, account.AccountID)
	if err != nil {
		return w.loginError(m.TransID, resultFor(err))
	}
	for _, p := range players {
		explorer := uint32(1)
		if p.Disabled {
			explorer = 0
		}
		if !w.send(writeAcctPlayerInfo(w.conn, m.TransID, p.PlayerID, p.Name, p.AvatarShape, explorer)) {
			return false
		}
	}

	return w.send(writeAcctLoginReply(w.conn, m.TransID, netresult.Success,
		account.AccountID, uint32(account.Flags), uint32(account.BillingType), w.srv.NTDKey))
}

func (w *worker) doSetPlayer(ctx context.Context, transID, playerID uint32) bool {
	reply := func(result netresult.Code) bool {
		return w.send(writeResultReply(w.conn, auth2CliAcctSetPlayerReply, transID, result))
	}

	if w.accountID == nil {
		slog.Warn("auth: set-player without login", "remote", w.remote)
		return reply(netresult.AuthenticationFailed)
	}

	player, err := w.srv.Vault.GetPlayer(ctx, playerID)
	if err != nil {
		slog.Warn("auth: set-player for unknown player", "remote", w.remote, "player_id", playerID)
		return reply(resultFor(err))
	}
	if player.AccountID != *w.accountID {
		slog.Warn("auth: set-player across accounts", "remote", w.remote, "player_id", playerID)
		return reply(netresult.PlayerNotFound)
	}

	info, err := w.srv.Vault.GetPlayerInfoNode(ctx, playerID)
	if err != nil {
		slog.Warn("auth: missing player-info node", "remote", w.remote, "player_id", playerID, "error", err)
		return reply(resultFor(err))
	}
	if info.Int32_1 != 0 {
		slog.Warn("auth: player already online", "remote", w.remote, "player_id", playerID)
		return reply(netresult.LoggedInElsewhere)
	}

	if _, err := w.srv.Vault.UpdateNode(ctx, info.NodeID, vault.Node{
		Fields:  vault.FieldInt32_1 | vault.FieldString64_1 | vault.FieldUUID_1,
		Int32_1: 1, String64_1: "Lobby", UUID_1: uuid.Nil,
	}); err != nil {
		slog.Warn("auth: failed to mark player online", "player_id", playerID, "error", err)
		return reply(resultFor(err))
	}

	slog.Info("auth: player signed in", "remote", w.remote, "player", player.Name, "player_id", playerID)
	w.playerID = playerID
	return reply(netresult.Success)
}

func (w *worker) doPlayerCreate(ctx context.Context, m PlayerCreateRequest) bool {
	fail := func(result netresult.Code) bool {
		return w.send(writePlayerCreateReply(w.conn, m.TransID, result, 0, 0, "", ""))
	}

	if w.accountID == nil {
		slog.Warn("auth: create-player without login", "remote", w.remote)
		return fail(netresult.AuthenticationFailed)
	}
	// Special avatar models are set by admins when appropriate, never by
	// the client.
	if m.AvatarShape != "male" && m.AvatarShape != "female" {
		slog.Warn("auth: rejected avatar shape", "remote", w.remote, "shape", m.AvatarShape)
		return fail(netresult.InvalidParameter)
	}

	player, err := w.srv.Vault.CreatePlayer(ctx, *w.accountID, m.PlayerName, m.AvatarShape)
	if err != nil {
		return fail(resultFor(err))
	}
	if _, err := w.srv.Vault.InitPlayer(ctx, w.srv.SDL, player); err != nil {
		slog.Error("auth: failed to build player vault tree", "player", m.PlayerName, "error", err)
		return fail(resultFor(err))
	}

	slog.Info("auth: created player", "remote", w.remote, "player", player.Name, "player_id", player.PlayerID)
	return w.send(writePlayerCreateReply(w.conn, m.TransID, netresult.Success,
		player.PlayerID, 1, player.Name, player.AvatarShape))
}

func (w *worker) doPlayerDelete(ctx context.Context, m PlayerDeleteRequest) bool {
	reply := func(result netresult.Code) bool {
		return w.send(writeResultReply(w.conn, auth2CliPlayerDeleteReply, m.TransID, result))
	}
	if w.accountID == nil {
		return reply(netresult.AuthenticationFailed)
	}
	player, err := w.srv.Vault.GetPlayer(ctx, m.PlayerID)
	if err != nil {
		return reply(resultFor(err))
	}
	if player.AccountID != *w.accountID {
		return reply(netresult.PlayerNotFound)
	}
	if err := w.srv.Vault.DeletePlayer(ctx, m.PlayerID); err != nil {
		return reply(resultFor(err))
	}
	slog.Info("auth: deleted player", "remote", w.remote, "player_id", m.PlayerID)
	return reply(netresult.Success)
}

func (w *worker) doVaultNodeCreate(ctx context.Context, m VaultNodeCreate) bool {
	node, err := vault.ReadNode(bytes.NewReader(m.NodeBuffer))
	if err != nil {
		slog.Warn("auth: bad node blob", "remote", w.remote, "error", err)
		return w.send(writeVaultNodeCreated(w.conn, m.TransID, netresult.InternalError, 0))
	}
	id, err := w.srv.Vault.CreateNode(ctx, node)
	if err != nil {
		return w.send(writeVaultNodeCreated(w.conn, m.TransID, resultFor(err), 0))
	}
	return w.send(writeVaultNodeCreated(w.conn, m.TransID, netresult.Success, id))
}

func (w *worker) doVaultNodeFetch(ctx context.Context, m VaultNodeFetch) bool {
	node, err := w.srv.Vault.FetchNode(ctx, m.NodeID)
	if err != nil {
		return w.send(writeVaultNodeFetched(w.conn, m.TransID, resultFor(err), nil))
	}
	var buf bytes.Buffer
	if err := vault.WriteNode(&buf, *node); err != nil {
		slog.Warn("auth: failed to encode node", "node_id", m.NodeID, "error", err)
		return w.send(writeVaultNodeFetched(w.conn, m.TransID, netresult.InternalError, nil))
	}
	return w.send(writeVaultNodeFetched(w.conn, m.TransID, netresult.Success, buf.Bytes()))
}

func (w *worker) doVaultNodeSave(ctx context.Context, m VaultNodeSave) bool {
	patch, err := vault.ReadNode(bytes.NewReader(m.NodeBuffer))
	if err != nil {
		slog.Warn("auth: bad node blob", "remote", w.remote, "error", err)
		return w.send(writeResultReply(w.conn, auth2CliVaultSaveNodeReply, m.TransID, netresult.InternalError))
	}
	_, err = w.srv.Vault.UpdateNode(ctx, m.NodeID, patch)
	return w.send(writeResultReply(w.conn, auth2CliVaultSaveNodeReply, m.TransID, resultFor(err)))
}

func (w *worker) doVaultNodeAdd(ctx context.Context, m VaultNodeAdd) bool {
	err := w.srv.Vault.RefNode(ctx, vault.NodeRef{Parent: m.ParentID, Child: m.ChildID, Owner: m.OwnerID}, true)
	return w.send(writeResultReply(w.conn, auth2CliVaultAddNodeReply, m.TransID, resultFor(err)))
}

func (w *worker) doVaultNodeRemove(ctx context.Context, m VaultNodeRemove) bool {
	err := w.srv.Vault.RemoveRef(ctx, m.ParentID, m.ChildID)
	return w.send(writeResultReply(w.conn, auth2CliVaultRemoveNodeReply, m.TransID, resultFor(err)))
}

func (w *worker) doVaultFetchNodeRefs(ctx context.Context, m VaultFetchNodeRefs) bool {
	refs, err := w.srv.Vault.FetchRefs(ctx, m.NodeID, true)
	if err != nil {
		return w.send(writeVaultNodeRefsFetched(w.conn, m.TransID, resultFor(err), nil))
	}
	return w.send(writeVaultNodeRefsFetched(w.conn, m.TransID, netresult.Success, refs))
}

func (w *worker) doVaultInitAge(ctx context.Context, m VaultInitAgeRequest) bool {
	result, err := w.srv.Vault.CreateAgeInstance(ctx, w.srv.SDL, vault.AgeInstanceRequest{
		AgeUUID:        m.AgeInstanceID,
		ParentUUID:     m.ParentAgeInstanceID,
		Filename:       m.Filename,
		InstanceName:   m.InstanceName,
		UserName:       m.UserName,
		Description:    m.Description,
		SequenceNumber: int32(m.Sequence),
		Language:       fmt.Sprintf("%d", m.Language),
	})
	if err != nil {
		slog.Warn("auth: init-age failed", "remote", w.remote, "filename", m.Filename, "error", err)
		return w.send(writeVaultInitAgeReply(w.conn, m.TransID, resultFor(err), 0, 0))
	}
	return w.send(writeVaultInitAgeReply(w.conn, m.TransID, netresult.Success, result.AgeNodeID, result.AgeInfoNodeID))
}

func (w *worker) doVaultNodeFind(ctx context.Context, m VaultNodeFind) bool {
	template, err := vault.ReadNode(bytes.NewReader(m.NodeBuffer))
	if err != nil {
		slog.Warn("auth: bad find template", "remote", w.remote, "error", err)
		return w.send(writeVaultNodeFindReply(w.conn, m.TransID, netresult.InternalError, nil))
	}
	ids, err := w.srv.Vault.FindNodes(ctx, template)
	if err != nil {
		return w.send(writeVaultNodeFindReply(w.conn, m.TransID, resultFor(err), nil))
	}
	return w.send(writeVaultNodeFindReply(w.conn, m.TransID, netresult.Success, ids))
}

// doVaultSendNode links the source node itself (no copy is made) into the
// destination player's Inbox folder; the resulting ref broadcast tells the
// recipient.
func (w *worker) doVaultSendNode(ctx context.Context, m VaultSendNode) {
	playerNodes, err := w.srv.Vault.FindNodes(ctx, vault.Node{
		Fields:   vault.FieldNodeType | vault.FieldUint32_1,
		NodeType: int32(vault.NodeTypePlayer), Uint32_1: m.DestPlayerID,
	})
	if err != nil || len(playerNodes) == 0 {
		slog.Warn("auth: send-node to unknown player", "remote", w.remote, "dest_player", m.DestPlayerID)
		return
	}
	refs, err := w.srv.Vault.FetchRefs(ctx, playerNodes[0], false)
	if err != nil {
		slog.Warn("auth: send-node ref fetch failed", "dest_player", m.DestPlayerID, "error", err)
		return
	}
	for _, ref := range refs {
		child, err := w.srv.Vault.FetchNode(ctx, ref.Child)
		if err != nil {
			continue
		}
		if child.NodeType == int32(vault.NodeTypeFolder) && child.Int32_1 == int32(vault.StandardNodeInbox) {
			if err := w.srv.Vault.RefNode(ctx, vault.NodeRef{
				Parent: child.NodeID, Child: m.SrcNodeID, Owner: playerNodes[0],
			}, true); err != nil {
				slog.Warn("auth: send-node link failed", "dest_player", m.DestPlayerID, "error", err)
			}
			return
		}
	}
	slog.Warn("auth: send-node target has no inbox", "dest_player", m.DestPlayerID)
}

// doAgeRequest resolves (or lazily creates) the requested age instance.
// There is no live game server to hand out, so the address field is
// always zero; the stub game sub-server accepts and idles.
func (w *worker) doAgeRequest(ctx context.Context, m AgeRequest) bool {
	result, err := w.srv.Vault.CreateAgeInstance(ctx, w.srv.SDL, vault.AgeInstanceRequest{
		AgeUUID:      m.AgeInstanceID,
		Filename:     m.AgeName,
		InstanceName: m.AgeName,
	})
	if err != nil {
		slog.Warn("auth: age request failed", "remote", w.remote, "age", m.AgeName, "error", err)
		return w.send(writeAgeReply(w.conn, m.TransID, resultFor(err), 0, uuid.Nil, 0, 0))
	}
	return w.send(writeAgeReply(w.conn, m.TransID, netresult.Success,
		result.AgeNodeID, m.AgeInstanceID, result.AgeNodeID, 0))
}

func (w *worker) doFileList(m FileListRequest) bool {
	files, ok := listServerFiles(w.srv.DataRoot, m.Directory, m.Ext)
	if !ok {
		slog.Warn("auth: rejected file list request", "remote", w.remote, "dir", m.Directory, "ext", m.Ext)
		return w.send(writeFileListReply(w.conn, m.TransID, netresult.FileNotFound, nil))
	}
	slog.Debug("auth: served file list", "remote", w.remote, "dir", m.Directory, "ext", m.Ext, "count", len(files))
	return w.send(writeFileListReply(w.conn, m.TransID, netresult.Success, files))
}

func (w *worker) doFileDownload(m FileDownloadRequest) bool {
	path, ok := resolveServerFile(w.srv.DataRoot, m.Filename)
	if !ok {
		slog.Warn("auth: rejected download path", "remote", w.remote, "filename", m.Filename)
		return w.send(writeFileDownloadChunk(w.conn, m.TransID, netresult.FileNotFound, 0, 0, nil))
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Warn("auth: could not open requested file", "remote", w.remote, "path", path, "error", err)
		return w.send(writeFileDownloadChunk(w.conn, m.TransID, netresult.FileNotFound, 0, 0, nil))
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.Size() > int64(^uint32(0)) {
		return w.send(writeFileDownloadChunk(w.conn, m.TransID, netresult.InternalError, 0, 0, nil))
	}
	totalSize := uint32(fi.Size())

	buf := chunkPool.Get(fileChunkSize)
	defer chunkPool.Put(buf)

	var offset uint32
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if !w.send(writeFileDownloadChunk(w.conn, m.TransID, netresult.Success, totalSize, offset, buf[:n])) {
				return false
			}
			offset += uint32(n)
		}
		if err == io.EOF {
			if totalSize == 0 {
				// Zero-length files still need one terminating chunk.
				return w.send(writeFileDownloadChunk(w.conn, m.TransID, netresult.Success, 0, 0, nil))
			}
			return true
		}
		if err != nil {
			slog.Warn("auth: read failed during download", "path", path, "error", err)
			return w.send(writeFileDownloadChunk(w.conn, m.TransID, netresult.InternalError, 0, 0, nil))
		}
	}
}

func (w *worker) doGetPublicAgeList(ctx context.Context, m GetPublicAgeList) bool {
	ids, err := w.srv.Vault.FindNodes(ctx, vault.Node{
		Fields:   vault.FieldNodeType | vault.FieldString64_1 | vault.FieldInt32_2,
		NodeType: int32(vault.NodeTypeAgeInfo), String64_1: m.AgeFilename, Int32_2: 1,
	})
	if err != nil {
		return w.send(writePublicAgeList(w.conn, m.TransID, resultFor(err), nil))
	}

	var ages []NetAgeInfo
	for _, id := range ids {
		node, err := w.srv.Vault.FetchNode(ctx, id)
		if err != nil {
			continue
		}
		ages = append(ages, NetAgeInfo{
			InstanceID:   node.UUID_1,
			Filename:     node.String64_1,
			InstanceName: node.String64_2,
			UserName:     node.String64_3,
			Description:  node.Text_1,
			Sequence:     uint32(node.Int32_1),
		})
	}
	return w.send(writePublicAgeList(w.conn, m.TransID, netresult.Success, ages))
}

func (w *worker) doSetAgePublic(ctx context.Context, m SetAgePublic) {
	if _, err := w.srv.Vault.UpdateNode(ctx, m.AgeInfoID, vault.Node{
		Fields: vault.FieldInt32_2, Int32_2: int32(m.Public),
	}); err != nil {
		slog.Warn("auth: set-age-public failed", "remote", w.remote, "age_info_id", m.AgeInfoID, "error", err)
	}
}

func (w *worker) doScoreCreate(ctx context.Context, m ScoreCreate) bool {
	score, err := w.srv.Vault.CreateScore(ctx, vault.Score{
		OwnerID: m.OwnerID, Name: m.GameName,
		Type: vault.ScoreType(m.GameType), Value: int32(m.Value),
	})
	if err != nil {
		return w.send(writeScoreCreateReply(w.conn, m.TransID, resultFor(err), 0, 0))
	}
	return w.send(writeScoreCreateReply(w.conn, m.TransID, netresult.Success, score.ScoreID, uint32(time.Now().Unix())))
}

func (w *worker) doAccountExists(ctx context.Context, m AccountExistsRequest) bool {
	_, err := w.srv.Vault.GetAccount(ctx, m.AccountName)
	if err != nil {
		if errors.Is(err, vault.ErrAccountNotFound) {
			return w.send(writeAccountExistsReply(w.conn, m.TransID, netresult.AccountNotFound, false))
		}
		return w.send(writeAccountExistsReply(w.conn, m.TransID, resultFor(err), false))
	}
	return w.send(writeAccountExistsReply(w.conn, m.TransID, netresult.Success, true))
}

// handleDisconnect marks the active player offline once the connection is
// gone. During full-server shutdown the vault engine is stopping too, so
// the cleanup is skipped rather than left blocking on a dead engine.
func (w *worker) handleDisconnect(ctx context.Context) {
	if w.playerID == 0 {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}
	info, err := w.srv.Vault.GetPlayerInfoNode(ctx, w.playerID)
	if err != nil {
		slog.Warn("auth: could not find player-info at disconnect", "player_id", w.playerID, "error", err)
		return
	}
	if _, err := w.srv.Vault.UpdateNode(ctx, info.NodeID, vault.Node{
		Fields:  vault.FieldInt32_1 | vault.FieldString64_1 | vault.FieldUUID_1,
		Int32_1: 0, String64_1: "", UUID_1: uuid.Nil,
	}); err != nil {
		slog.Warn("auth: failed to mark player offline", "player_id", w.playerID, "error", err)
		return
	}
	slog.Info("auth: player signed off", "player_id", w.playerID)
}

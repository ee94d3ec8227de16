package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/db/memory"
	"github.com/nimue-net/uruserver/internal/netresult"
	"github.com/nimue-net/uruserver/internal/sdl"
	"github.com/nimue-net/uruserver/internal/vault"
)

// testSession is one post-handshake client view of a worker: the cipher
// layer is exercised separately (handshake tests, the gatekeeper tests,
// and the full-stack test in internal/server), so these workers run over
// a bare pipe.
type testSession struct {
	t      *testing.T
	conn   net.Conn
	br     *bufio.Reader
	engine *vault.Engine
}

func newTestServer(t *testing.T) (*Server, *vault.Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.New()
	engine := vault.NewEngine(store)
	require.NoError(t, engine.Init(ctx))
	go engine.Run(ctx)

	srv := &Server{
		Vault:    engine,
		SDL:      sdl.NewDB(),
		DataRoot: t.TempDir(),
		BuildID:  918,
		NTDKey:   [4]uint32{0x11, 0x22, 0x33, 0x44},
	}
	return srv, engine
}

func dialWorker(t *testing.T, srv *Server, engine *vault.Engine) *testSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client, serverSide := net.Pipe()
	t.Cleanup(func() {
		cancel()
		client.Close()
		serverSide.Close()
	})

	w := &worker{
		srv:             srv,
		conn:            serverSide,
		remote:          serverSide.RemoteAddr(),
		sub:             engine.Subscribe(),
		serverChallenge: 0x5EED,
	}
	go func() {
		defer serverSide.Close()
		defer w.sub.Close()
		w.run(ctx)
		w.handleDisconnect(ctx)
	}()

	s := &testSession{t: t, conn: client, br: bufio.NewReader(client), engine: engine}
	s.conn.SetDeadline(time.Now().Add(5 * time.Second))

	// Every session starts with ServerCaps.
	id := s.readMsgID()
	require.Equal(t, auth2CliServerCaps, id)
	caps, err := netio.ReadSizedBuffer(s.br, 1024)
	require.NoError(t, err)
	require.NotEmpty(t, caps)
	return s
}

func (s *testSession) readMsgID() uint16 {
	var id uint16
	require.NoError(s.t, binary.Read(s.br, binary.LittleEndian, &id))
	return id
}

func (s *testSession) readU32() uint32 {
	var v uint32
	require.NoError(s.t, binary.Read(s.br, binary.LittleEndian, &v))
	return v
}

func (s *testSession) readI32() int32 { return int32(s.readU32()) }

func (s *testSession) readBytes(n int) []byte {
	buf := make([]byte, n)
	_, err := io.ReadFull(s.br, buf)
	require.NoError(s.t, err)
	return buf
}

func (s *testSession) readUTF16() string {
	v, err := netio.ReadUTF16String(s.br)
	require.NoError(s.t, err)
	return v
}

func (s *testSession) write(raw []byte) {
	_, err := s.conn.Write(raw)
	require.NoError(s.t, err)
}

// skipTo discards server messages until one with the wanted id arrives.
// Broadcast mirrors (VaultNodeChanged/Added) interleave with replies, so
// tests that only care about one reply skip past them.
func (s *testSession) skipTo(want uint16) {
	for {
		id := s.readMsgID()
		if id == want {
			return
		}
		switch id {
		case auth2CliVaultNodeChanged:
			s.readBytes(4 + 16)
		case auth2CliVaultNodeAdded:
			s.readBytes(12)
		case auth2CliAcctPlayerInfo:
			s.readU32()
			s.readU32()
			s.readUTF16()
			s.readUTF16()
			s.readU32()
		default:
			s.t.Fatalf("unexpected message id %d while waiting for %d", id, want)
		}
	}
}

func loginRequest(transID uint32, name string, passHash [20]byte) []byte {
	var raw []byte
	raw = appendU16(raw, cli2AuthAcctLoginRequest)
	raw = appendU32(raw, transID)
	raw = appendU32(raw, 0xC4A11E46) // client challenge
	raw = appendUTF16Str(raw, name)
	raw = append(raw, passHash[:]...)
	raw = appendUTF16Str(raw, "")
	raw = appendUTF16Str(raw, "win")
	return raw
}

func TestLoginUnknownAccountFailsClosed(t *testing.T) {
	srv, engine := newTestServer(t)
	s := dialWorker(t, srv, engine)

	s.write(loginRequest(7, "nobody", [20]byte{}))

	require.Equal(t, auth2CliAcctLoginReply, s.readMsgID())
	require.Equal(t, uint32(7), s.readU32())
	require.Equal(t, int32(netresult.AuthenticationFailed), s.readI32())
	for _, b := range s.readBytes(16 + 4 + 4 + 16) {
		require.Zero(t, b)
	}
}

func createAccount(t *testing.T, engine *vault.Engine, name, password string) vault.Account {
	t.Helper()
	acct := vault.Account{
		AccountID: uuid.New(),
		Name:      name,
		PassHash:  CreatePassHash(name, password),
	}
	require.NoError(t, engine.CreateAccount(context.Background(), acct))
	return acct
}

func (s *testSession) login(name, password string) {
	// The plain SHA-1 path: the client transmits its digest with each
	// 32-bit word byte-swapped.
	clientHash := endianSwap(sha1.Sum([]byte(password)))
	s.write(loginRequest(1, name, clientHash))
	s.skipTo(auth2CliAcctLoginReply)
	require.Equal(s.t, uint32(1), s.readU32())
	require.Equal(s.t, int32(netresult.Success), s.readI32())
	s.readBytes(16 + 4 + 4 + 16)
}

func TestLoginStreamsPlayersAndKey(t *testing.T) {
	srv, engine := newTestServer(t)
	acct := createAccount(t, engine, "explorer", "hunter2")
	ctx := context.Background()
	player, err := engine.CreatePlayer(ctx, acct.AccountID, "Atrus", "male")
	require.NoError(t, err)

	s := dialWorker(t, srv, engine)
	clientHash := endianSwap(sha1.Sum([]byte("hunter2")))
	s.write(loginRequest(3, "explorer", clientHash))

	require.Equal(t, auth2CliAcctPlayerInfo, s.readMsgID())
	require.Equal(t, uint32(3), s.readU32())
	require.Equal(t, player.PlayerID, s.readU32())
	require.Equal(t, "Atrus", s.readUTF16())
	require.Equal(t, "male", s.readUTF16())
	require.Equal(t, uint32(1), s.readU32())

	require.Equal(t, auth2CliAcctLoginReply, s.readMsgID())
	require.Equal(t, uint32(3), s.readU32())
	require.Equal(t, int32(netresult.Success), s.readI32())
	gotID, err := netio.ReadUUID(s.br)
	require.NoError(t, err)
	require.Equal(t, acct.AccountID, gotID)
	s.readU32() // flags
	s.readU32() // billing
	require.Equal(t, uint32(0x11), s.readU32())
	require.Equal(t, uint32(0x22), s.readU32())
	require.Equal(t, uint32(0x33), s.readU32())
	require.Equal(t, uint32(0x44), s.readU32())
}

func TestLoginWrongPasswordFailsClosed(t *testing.T) {
	srv, engine := newTestServer(t)
	createAccount(t, engine, "explorer", "hunter2")
	s := dialWorker(t, srv, engine)

	wrong := endianSwap(sha1.Sum([]byte("wrong")))
	s.write(loginRequest(5, "explorer", wrong))
	require.Equal(t, auth2CliAcctLoginReply, s.readMsgID())
	require.Equal(t, uint32(5), s.readU32())
	require.Equal(t, int32(netresult.AuthenticationFailed), s.readI32())
	s.readBytes(16 + 4 + 4 + 16)
}

func TestLoginBannedAndRestricted(t *testing.T) {
	srv, engine := newTestServer(t)
	banned := vault.Account{
		AccountID: uuid.New(), Name: "banned",
		PassHash: CreatePassHash("banned", "pw"),
		Flags:    vault.AccountFlagBanned,
	}
	require.NoError(t, engine.CreateAccount(context.Background(), banned))
	createAccount(t, engine, "plain", "pw")

	s := dialWorker(t, srv, engine)
	s.write(loginRequest(2, "banned", endianSwap(sha1.Sum([]byte("pw")))))
	require.Equal(t, auth2CliAcctLoginReply, s.readMsgID())
	require.Equal(t, uint32(2), s.readU32())
	require.Equal(t, int32(netresult.AccountBanned), s.readI32())
	s.readBytes(16 + 4 + 4 + 16)

	srv.RestrictLogins = true
	s2 := dialWorker(t, srv, engine)
	s2.write(loginRequest(4, "plain", endianSwap(sha1.Sum([]byte("pw")))))
	require.Equal(t, auth2CliAcctLoginReply, s2.readMsgID())
	require.Equal(t, uint32(4), s2.readU32())
	require.Equal(t, int32(netresult.LoginDenied), s2.readI32())
	s2.readBytes(16 + 4 + 4 + 16)
}

func playerCreateRequest(transID uint32, name, shape string) []byte {
	var raw []byte
	raw = appendU16(raw, cli2AuthPlayerCreateRequest)
	raw = appendU32(raw, transID)
	raw = appendUTF16Str(raw, name)
	raw = appendUTF16Str(raw, shape)
	raw = appendUTF16Str(raw, "")
	return raw
}

func setPlayerRequest(transID, playerID uint32) []byte {
	var raw []byte
	raw = appendU16(raw, cli2AuthAcctSetPlayerRequest)
	raw = appendU32(raw, transID)
	raw = appendU32(raw, playerID)
	return raw
}

func TestPlayerCreateRequiresLoginAndValidShape(t *testing.T) {
	srv, engine := newTestServer(t)
	s := dialWorker(t, srv, engine)

	s.write(playerCreateRequest(1, "Atrus", "male"))
	require.Equal(t, auth2CliPlayerCreateReply, s.readMsgID())
	require.Equal(t, uint32(1), s.readU32())
	require.Equal(t, int32(netresult.AuthenticationFailed), s.readI32())
	s.readU32()
	s.readU32()
	s.readUTF16()
	s.readUTF16()

	createAccount(t, engine, "explorer", "pw")
	s.login("explorer", "pw")

	s.write(playerCreateRequest(2, "Atrus", "quab"))
	s.skipTo(auth2CliPlayerCreateReply)
	require.Equal(t, uint32(2), s.readU32())
	require.Equal(t, int32(netresult.InvalidParameter), s.readI32())
	s.readU32()
	s.readU32()
	s.readUTF16()
	s.readUTF16()
}

func TestPlayerCreateAndSetPlayerFlow(t *testing.T) {
	srv, engine := newTestServer(t)
	createAccount(t, engine, "explorer", "pw")

	s := dialWorker(t, srv, engine)
	s.login("explorer", "pw")

	s.write(playerCreateRequest(10, "Atrus", "male"))
	s.skipTo(auth2CliPlayerCreateReply)
	require.Equal(t, uint32(10), s.readU32())
	require.Equal(t, int32(netresult.Success), s.readI32())
	playerID := s.readU32()
	require.NotZero(t, playerID)
	require.Equal(t, uint32(1), s.readU32()) // explorer
	require.Equal(t, "Atrus", s.readUTF16())
	require.Equal(t, "male", s.readUTF16())

	s.write(setPlayerRequest(11, playerID))
	s.skipTo(auth2CliAcctSetPlayerReply)
	require.Equal(t, uint32(11), s.readU32())
	require.Equal(t, int32(netresult.Success), s.readI32())

	// A second session choosing the same player is turned away.
	s2 := dialWorker(t, srv, engine)
	s2.login("explorer", "pw")
	s2.write(setPlayerRequest(12, playerID))
	s2.skipTo(auth2CliAcctSetPlayerReply)
	require.Equal(t, uint32(12), s2.readU32())
	require.Equal(t, int32(netresult.LoggedInElsewhere), s2.readI32())

	// The player's info node was marked online in the vault.
	info, err := engine.GetPlayerInfoNode(context.Background(), playerID)
	require.NoError(t, err)
	require.Equal(t, int32(1), info.Int32_1)
	require.Equal(t, "Lobby", info.String64_1)
}

func TestVaultFetchUnknownNodeReplies(t *testing.T) {
	srv, engine := newTestServer(t)
	s := dialWorker(t, srv, engine)

	var raw []byte
	raw = appendU16(raw, cli2AuthVaultNodeFetch)
	raw = appendU32(raw, 21)
	raw = appendU32(raw, 999999)
	s.write(raw)

	require.Equal(t, auth2CliVaultNodeFetched, s.readMsgID())
	require.Equal(t, uint32(21), s.readU32())
	require.Equal(t, int32(netresult.VaultNodeNotFound), s.readI32())
	require.Equal(t, uint32(0), s.readU32()) // empty buffer
}

func TestUnsupportedRequestGetsNotSupported(t *testing.T) {
	srv, engine := newTestServer(t)
	s := dialWorker(t, srv, engine)

	var raw []byte
	raw = appendU16(raw, cli2AuthAcctCreateRequest)
	raw = appendU32(raw, 31)
	raw = appendUTF16Str(raw, "newacct")
	raw = append(raw, make([]byte, 20)...)
	raw = appendU32(raw, 0)
	raw = appendU32(raw, 0)
	s.write(raw)

	require.Equal(t, auth2CliAcctCreateReply, s.readMsgID())
	require.Equal(t, uint32(31), s.readU32())
	require.Equal(t, int32(netresult.NotSupported), s.readI32())
	s.readBytes(16)
}

func writeDataFile(t *testing.T, root, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, dir, name), content, 0o644))
}

func TestFileDownloadWhitelistAndChunks(t *testing.T) {
	srv, engine := newTestServer(t)
	s := dialWorker(t, srv, engine)

	content := make([]byte, fileChunkSize+100)
	for i := range content {
		content[i] = byte(i)
	}
	writeDataFile(t, srv.DataRoot, "Python", "system.pak", content)

	var raw []byte
	raw = appendU16(raw, cli2AuthFileDownloadRequest)
	raw = appendU32(raw, 9)
	raw = appendUTF16Str(raw, `Python\system.pak`)
	s.write(raw)

	var got []byte
	for {
		require.Equal(t, auth2CliFileDownloadChunk, s.readMsgID())
		require.Equal(t, uint32(9), s.readU32())
		require.Equal(t, int32(netresult.Success), s.readI32())
		total := s.readU32()
		offset := s.readU32()
		require.Equal(t, uint32(len(content)), total)
		require.Equal(t, uint32(len(got)), offset)
		chunk, err := netio.ReadSizedBuffer(s.br, netio.MaxNodeBufferSize)
		require.NoError(t, err)
		got = append(got, chunk...)
		if offset+uint32(len(chunk)) == total {
			break
		}
	}
	require.Equal(t, content, got)

	// Traversal is cut off before the filesystem is consulted.
	raw = nil
	raw = appendU16(raw, cli2AuthFileDownloadRequest)
	raw = appendU32(raw, 13)
	raw = appendUTF16Str(raw, `Python\..\etc`)
	s.write(raw)
	require.Equal(t, auth2CliFileDownloadChunk, s.readMsgID())
	require.Equal(t, uint32(13), s.readU32())
	require.Equal(t, int32(netresult.FileNotFound), s.readI32())
	require.Equal(t, uint32(0), s.readU32()) // total_size
	require.Equal(t, uint32(0), s.readU32()) // offset
	require.Equal(t, uint32(0), s.readU32()) // empty payload
}

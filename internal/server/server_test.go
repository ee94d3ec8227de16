package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rc4"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nimue-net/uruserver/internal/codec/handshake"
	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/config"
	"github.com/nimue-net/uruserver/internal/db/memory"
	"github.com/nimue-net/uruserver/internal/netresult"
	"github.com/nimue-net/uruserver/internal/protocol"
)

func startServer(t *testing.T) (*Server, config.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 0
	cfg.DataRoot = t.TempDir()
	cfg.FileServIP = "127.0.0.1"
	cfg.AuthServIP = "127.0.0.1"

	srv, err := New(ctx, cfg, memory.New())
	require.NoError(t, err)

	go func() {
		if err := srv.Run(ctx); err != nil {
			t.Errorf("server run: %v", err)
		}
	}()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	return srv, cfg
}

// dialLobby opens a TCP connection and sends the 31-byte lobby header for
// connType.
func dialLobby(t *testing.T, srv *Server, connType uint8) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	header := make([]byte, 0, 31)
	header = append(header, connType)
	header = binary.LittleEndian.AppendUint16(header, 31)
	header = binary.LittleEndian.AppendUint32(header, 918) // build id
	header = binary.LittleEndian.AppendUint32(header, 50)  // build type
	header = binary.LittleEndian.AppendUint32(header, 1)   // branch id
	header = append(header, make([]byte, 16)...)           // product uuid
	_, err = conn.Write(header)
	require.NoError(t, err)
	return conn
}

type cryptClient struct {
	conn  net.Conn
	read  *rc4.Cipher
	write *rc4.Cipher
}

func (c *cryptClient) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	c.write.XORKeyStream(buf, p)
	return c.conn.Write(buf)
}

func (c *cryptClient) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if n > 0 {
		c.read.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

// clientHandshake performs the crypt exchange using the configured (N, K)
// pair, which the test client knows just like a real client knows its
// compiled-in keys.
func clientHandshake(t *testing.T, conn net.Conn, keys config.KeyPair) *cryptClient {
	t.Helper()
	pair, err := keys.Decode()
	require.NoError(t, err)

	clientY := make([]byte, handshake.ClientKeySize)
	_, _ = rand.Read(clientY)
	_, err = conn.Write(handshake.ClientHello(clientY))
	require.NoError(t, err)

	var reply [2 + handshake.ServerSeedSize]byte
	_, err = io.ReadFull(conn, reply[:])
	require.NoError(t, err)
	require.Equal(t, byte(handshake.MsgEncrypt), reply[0])

	be := make([]byte, len(clientY))
	for i, b := range clientY {
		be[len(clientY)-1-i] = b
	}
	y := new(big.Int).SetBytes(be)
	sec := new(big.Int).Exp(y, pair.K, pair.N)
	sBytes := sec.Bytes()
	var key [handshake.ServerSeedSize]byte
	for i := 0; i < handshake.ServerSeedSize; i++ {
		var lowByte byte
		if i < len(sBytes) {
			lowByte = sBytes[len(sBytes)-1-i]
		}
		key[i] = lowByte ^ reply[2+i]
	}

	rc, err := rc4.NewCipher(key[:])
	require.NoError(t, err)
	wc, err := rc4.NewCipher(key[:])
	require.NoError(t, err)
	return &cryptClient{conn: conn, read: rc, write: wc}
}

func TestGateKeeperFileServAddressEndToEnd(t *testing.T) {
	srv, cfg := startServer(t)

	conn := dialLobby(t, srv, protocol.ConnTypeGateKeeper)

	// GateKeeper service header: u32 size=20 + nil uuid.
	svcHeader := binary.LittleEndian.AppendUint32(nil, 20)
	svcHeader = append(svcHeader, make([]byte, 16)...)
	_, err := conn.Write(svcHeader)
	require.NoError(t, err)

	cc := clientHandshake(t, conn, cfg.GateKeys)

	var req []byte
	req = binary.LittleEndian.AppendUint16(req, 1) // FileServIpAddressRequest
	req = binary.LittleEndian.AppendUint32(req, 1) // trans_id
	req = append(req, 0)                           // from_patcher
	_, err = cc.Write(req)
	require.NoError(t, err)

	var head [6]byte
	_, err = io.ReadFull(cc, head[:])
	require.NoError(t, err)
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(head[0:2]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(head[2:6]))
	addr, err := netio.ReadUTF16String(cc)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", addr)
}

func TestAuthLoginUnknownAccountEndToEnd(t *testing.T) {
	srv, cfg := startServer(t)

	conn := dialLobby(t, srv, protocol.ConnTypeAuth)

	svcHeader := binary.LittleEndian.AppendUint32(nil, 20)
	svcHeader = append(svcHeader, make([]byte, 16)...)
	_, err := conn.Write(svcHeader)
	require.NoError(t, err)

	cc := clientHandshake(t, conn, cfg.AuthKeys)

	// ServerCaps arrives unprompted.
	var capsID uint16
	require.NoError(t, binary.Read(cc, binary.LittleEndian, &capsID))
	require.Equal(t, uint16(0x1002), capsID)
	caps, err := netio.ReadSizedBuffer(cc, 1024)
	require.NoError(t, err)
	require.NotEmpty(t, caps)

	var req []byte
	req = binary.LittleEndian.AppendUint16(req, 3) // AcctLoginRequest
	req = binary.LittleEndian.AppendUint32(req, 7) // trans_id
	req = binary.LittleEndian.AppendUint32(req, 0xC4A11E46)
	req = appendUTF16(req, "nobody")
	req = append(req, make([]byte, 20)...) // pass hash
	req = appendUTF16(req, "")
	req = appendUTF16(req, "win")
	_, err = cc.Write(req)
	require.NoError(t, err)

	var msgID uint16
	require.NoError(t, binary.Read(cc, binary.LittleEndian, &msgID))
	require.Equal(t, uint16(4), msgID) // AcctLoginReply

	body := make([]byte, 4+4+16+4+4+16)
	_, err = io.ReadFull(cc, body)
	require.NoError(t, err)
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(body[0:4]))
	require.Equal(t, int32(netresult.AuthenticationFailed), int32(binary.LittleEndian.Uint32(body[4:8])))
	require.Equal(t, uuid.Nil, mustUUID(t, body[8:24]))
	for _, b := range body[24:] {
		require.Zero(t, b)
	}
}

func TestGameStubCompletesHandshake(t *testing.T) {
	srv, cfg := startServer(t)

	conn := dialLobby(t, srv, protocol.ConnTypeGame)

	svcHeader := binary.LittleEndian.AppendUint32(nil, 36)
	svcHeader = append(svcHeader, make([]byte, 32)...)
	_, err := conn.Write(svcHeader)
	require.NoError(t, err)

	cc := clientHandshake(t, conn, cfg.GameKeys)
	_ = cc // the stub parks the connection; a completed handshake is the contract
}

func TestUnknownConnTypeIsClosed(t *testing.T) {
	srv, _ := startServer(t)

	conn := dialLobby(t, srv, 99)
	var one [1]byte
	_, err := conn.Read(one[:])
	require.Error(t, err, "the lobby closes unknown connection types")
}

func appendUTF16(buf []byte, s string) []byte {
	units := netio.StringToUTF16(s)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(units)))
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	return buf
}

func mustUUID(t *testing.T, raw []byte) uuid.UUID {
	t.Helper()
	var buf [16]byte
	copy(buf[:], raw)
	id, err := netio.ReadUUID(bytes.NewReader(buf[:]))
	require.NoError(t, err)
	return id
}

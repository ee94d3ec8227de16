package gatekeeper

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

	"github.com/stretchr/testify/require"

	"github.com/nimue-net/uruserver/internal/codec/handshake"
	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/protocol"
)

func testKeyPair(t *testing.T) handshake.KeyPair {
	t.Helper()
	n, ok := new(big.Int).SetString("D7FAC9C1A8D6B1C0F1D9D1A7F3C2B9E1A6D4C3B2F1E0D9C8B7A6958473625140"+
		"D7FAC9C1A8D6B1C0F1D9D1A7F3C2B9E1A6D4C3B2F1E0D9C8B7A6958473625143", 16)
	require.True(t, ok)
	return handshake.KeyPair{N: n, K: big.NewInt(65537)}
}

// cryptClient is the test's client half of an RC4-wrapped connection.
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

// dialGateKeeper runs a full service header + crypt handshake against s and
// returns a cipher-wrapped client connection.
func dialGateKeeper(t *testing.T, s *Server, pair handshake.KeyPair) *cryptClient {
	t.Helper()
	client, serverSide := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.HandleConn(ctx, serverSide, protocol.Header{})

	var header [serviceHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], serviceHeaderSize)
	_, err := client.Write(header[:])
	require.NoError(t, err)

	clientY := make([]byte, handshake.ClientKeySize)
	_, _ = rand.Read(clientY)
	_, err = client.Write(handshake.ClientHello(clientY))
	require.NoError(t, err)

	var reply [2 + handshake.ServerSeedSize]byte
	_, err = io.ReadFull(client, reply[:])
	require.NoError(t, err)
	require.Equal(t, byte(handshake.MsgEncrypt), reply[0])

	// Recompute the shared key the way the client would, using its own
	// knowledge of y and the server's (N, K).
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
	return &cryptClient{conn: client, read: rc, write: wc}
}

func TestGateKeeperAddrRequests(t *testing.T) {
	pair := testKeyPair(t)
	s := &Server{KeyPair: pair, FileServIP: "10.0.0.1", AuthServIP: "10.0.0.2"}
	cc := dialGateKeeper(t, s, pair)

	var req bytes.Buffer
	binary.Write(&req, binary.LittleEndian, uint16(msgFileServIPAddressRequest))
	binary.Write(&req, binary.LittleEndian, uint32(7)) // trans_id
	req.WriteByte(0)                                   // from_patcher
	_, err := cc.Write(req.Bytes())
	require.NoError(t, err)

	var head [6]byte
	_, err = io.ReadFull(cc, head[:])
	require.NoError(t, err)
	require.Equal(t, uint16(replyFileServIPAddressReply), binary.LittleEndian.Uint16(head[:2]))
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(head[2:6]))
	addr, err := netio.ReadUTF16String(cc)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", addr)

	req.Reset()
	binary.Write(&req, binary.LittleEndian, uint16(msgAuthServIPAddressRequest))
	binary.Write(&req, binary.LittleEndian, uint32(8))
	_, err = cc.Write(req.Bytes())
	require.NoError(t, err)

	_, err = io.ReadFull(cc, head[:])
	require.NoError(t, err)
	require.Equal(t, uint16(replyAuthServIPAddressReply), binary.LittleEndian.Uint16(head[:2]))
	require.Equal(t, uint32(8), binary.LittleEndian.Uint32(head[2:6]))
	addr, err = netio.ReadUTF16String(cc)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2", addr)
}

func TestGateKeeperPingEchoesPayload(t *testing.T) {
	pair := testKeyPair(t)
	s := &Server{KeyPair: pair, FileServIP: "10.0.0.1", AuthServIP: "10.0.0.2"}
	cc := dialGateKeeper(t, s, pair)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	var req bytes.Buffer
	binary.Write(&req, binary.LittleEndian, uint16(msgPing))
	binary.Write(&req, binary.LittleEndian, uint32(3))  // trans_id
	binary.Write(&req, binary.LittleEndian, uint32(99)) // ping_time
	binary.Write(&req, binary.LittleEndian, uint32(len(payload)))
	req.Write(payload)
	_, err := cc.Write(req.Bytes())
	require.NoError(t, err)

	var head [10]byte
	_, err = io.ReadFull(cc, head[:])
	require.NoError(t, err)
	require.Equal(t, uint16(replyPingReply), binary.LittleEndian.Uint16(head[:2]))
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(head[2:6]))
	require.Equal(t, uint32(99), binary.LittleEndian.Uint32(head[6:10]))
	echoed, err := netio.ReadSizedBuffer(cc, netio.MaxPingPayload)
	require.NoError(t, err)
	require.Equal(t, payload, echoed)
}

package handshake

import (
	"crypto/rand"
	"math/big"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// a small, fixed (N, K) pair for deterministic tests: N prime enough for
// Exp to behave, K small.
func testKeyPair(t *testing.T) KeyPair {
	t.Helper()
	n, ok := new(big.Int).SetString("D7FAC9C1A8D6B1C0F1D9D1A7F3C2B9E1A6D4C3B2F1E0D9C8B7A6958473625140"+
		"D7FAC9C1A8D6B1C0F1D9D1A7F3C2B9E1A6D4C3B2F1E0D9C8B7A6958473625143", 16)
	require.True(t, ok)
	k := big.NewInt(65537)
	return KeyPair{N: n, K: k}
}

func TestServerExchangeAndCipherRoundTrip(t *testing.T) {
	pair := testKeyPair(t)

	clientY := make([]byte, ClientKeySize)
	_, _ = rand.Read(clientY)
	// y is used as drawn, possibly >= N: the handshake doesn't require
	// y < N, and Exp reduces modulo N either way.
	hello := ClientHello(clientY)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	keyCh := make(chan [ServerSeedSize]byte, 1)
	go func() {
		key, err := ServerExchange(serverConn, pair)
		errCh <- err
		keyCh <- key
	}()

	_, err := clientConn.Write(hello)
	require.NoError(t, err)

	var reply [2 + ServerSeedSize]byte
	_, err = clientConn.Read(reply[:])
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, byte(MsgEncrypt), reply[0])

	serverKey := <-keyCh

	y := le512ToInt(clientY)
	s := new(big.Int).Exp(y, pair.K, pair.N)
	sBytes := s.Bytes()
	var clientKey [ServerSeedSize]byte
	for i := 0; i < ServerSeedSize; i++ {
		var lowByte byte
		if i < len(sBytes) {
			lowByte = sBytes[len(sBytes)-1-i]
		}
		clientKey[i] = lowByte ^ reply[2+i]
	}
	require.Equal(t, serverKey, clientKey)
}

func TestBadHandshakeMessageIDWritesError(t *testing.T) {
	pair := testKeyPair(t)
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ServerExchange(serverConn, pair)
		errCh <- err
	}()

	bad := []byte{MsgEncrypt, 2}
	_, err := clientConn.Write(bad)
	require.NoError(t, err)

	var reply [2]byte
	_, err = clientConn.Read(reply[:])
	require.NoError(t, err)
	require.Equal(t, byte(MsgError), reply[0])
	require.Error(t, <-errCh)
}

// Package handshake implements the Diffie-Hellman-like key exchange that
// establishes the per-connection RC4 key for the game, auth, and gate
// protocols. The modular exponentiation uses math/big, the same primitive
// the teacher project reaches for in its own asymmetric handshake
// (internal/crypto/rsa.go); RC4 itself is the standard library's
// crypto/rc4, since it is a single well-defined primitive with no
// meaningful third-party alternative.
package handshake

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// ServerSeedSize is the number of random bytes the server contributes to
// the shared key.
const ServerSeedSize = 7

// ClientKeySize is the maximum size, in bytes, of the client's key
// material (a 512-bit integer).
const ClientKeySize = 64

// ServerSeedBits is the minimum bit length the computed shared secret must
// have for the handshake to be accepted (the seed's own width in bits).
const ServerSeedBits = ServerSeedSize * 8

// Message ids used during the handshake.
const (
	MsgConnect = 0 // client -> server
	MsgEncrypt = 1 // server -> client, success
	MsgError   = 2 // server -> client, failure
)

// KeyPair is a service's (N, K) modular-exponentiation key pair: clients
// send y, the server computes s = y^K mod N.
type KeyPair struct {
	N *big.Int
	K *big.Int
}

// NewKeyPair builds a KeyPair from big-endian byte slices (as they'd be
// loaded from configuration).
func NewKeyPair(n, k []byte) KeyPair {
	return KeyPair{N: new(big.Int).SetBytes(n), K: new(big.Int).SetBytes(k)}
}

// le512ToInt interprets raw as a little-endian unsigned integer.
func le512ToInt(raw []byte) *big.Int {
	be := make([]byte, len(raw))
	for i, b := range raw {
		be[len(raw)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}

// DeriveKey computes the 7-byte shared RC4 key from the client's key
// material, a fresh random server seed, and the service key pair. It
// returns the key and the server seed that must be sent back to the
// client.
func DeriveKey(clientKeyMaterial []byte, pair KeyPair) (key [ServerSeedSize]byte, serverSeed [ServerSeedSize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, serverSeed[:]); err != nil {
		return key, serverSeed, fmt.Errorf("generating server seed: %w", err)
	}

	y := le512ToInt(clientKeyMaterial)
	s := new(big.Int).Exp(y, pair.K, pair.N)

	if s.BitLen() < ServerSeedBits || s.BitLen() > 512 {
		return key, serverSeed, fmt.Errorf("shared secret out of range: %d bits", s.BitLen())
	}

	sBytes := s.Bytes() // big-endian
	for i := 0; i < ServerSeedSize; i++ {
		var lowByte byte
		if i < len(sBytes) {
			lowByte = sBytes[len(sBytes)-1-i]
		}
		key[i] = lowByte ^ serverSeed[i]
	}
	return key, serverSeed, nil
}

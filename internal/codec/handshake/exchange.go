package handshake

import (
	"fmt"
	"io"
)

// ServerExchange performs the server side of the crypt handshake over rw
// (after the lobby/service headers have already been consumed) and
// returns the derived 7-byte key on success. On protocol violation it
// writes the 2-byte error reply itself and returns an error; the caller
// should then close the connection.
func ServerExchange(rw io.ReadWriter, pair KeyPair) ([ServerSeedSize]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(rw, header[:]); err != nil {
		return [ServerSeedSize]byte{}, fmt.Errorf("reading handshake header: %w", err)
	}
	msgID, msgSize := header[0], header[1]

	var clientKey []byte
	switch {
	case msgSize == 2:
		// empty body
	case int(msgSize) > 2 && int(msgSize) <= 2+ClientKeySize:
		clientKey = make([]byte, int(msgSize)-2)
		if _, err := io.ReadFull(rw, clientKey); err != nil {
			return [ServerSeedSize]byte{}, fmt.Errorf("reading handshake key material: %w", err)
		}
	default:
		writeError(rw)
		return [ServerSeedSize]byte{}, fmt.Errorf("invalid handshake message size %d", msgSize)
	}

	if msgID != MsgConnect {
		writeError(rw)
		return [ServerSeedSize]byte{}, fmt.Errorf("invalid handshake message id %d", msgID)
	}

	key, serverSeed, err := DeriveKey(clientKey, pair)
	if err != nil {
		writeError(rw)
		return [ServerSeedSize]byte{}, fmt.Errorf("deriving handshake key: %w", err)
	}

	reply := make([]byte, 2+ServerSeedSize)
	reply[0] = MsgEncrypt
	reply[1] = byte(2 + ServerSeedSize)
	copy(reply[2:], serverSeed[:])
	if _, err := rw.Write(reply); err != nil {
		return [ServerSeedSize]byte{}, fmt.Errorf("writing handshake reply: %w", err)
	}

	return key, nil
}

func writeError(w io.Writer) {
	reply := []byte{MsgError, 2}
	_, _ = w.Write(reply)
}

// ClientHello builds the client->server connect message for tests: a
// little-endian 512-bit y value of up to ClientKeySize bytes.
func ClientHello(y []byte) []byte {
	size := len(y) + 2
	out := make([]byte, size)
	out[0] = MsgConnect
	out[1] = byte(size)
	copy(out[2:], y)
	return out
}

package handshake

import (
	"crypto/rc4"
	"fmt"
	"io"
	"net"
)

// CipherConn wraps a net.Conn with independent RC4 keystreams for the read
// and write halves, both initialized from the same derived key. All bytes
// after the handshake reply pass through this transparently.
type CipherConn struct {
	net.Conn
	readCipher  *rc4.Cipher
	writeCipher *rc4.Cipher
}

// NewCipherConn wraps conn, deriving independent RC4 states for reads and
// writes from the same key (RC4 is keyed identically both ways, but
// carries distinct internal state per direction).
func NewCipherConn(conn net.Conn, key []byte) (*CipherConn, error) {
	rc, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating read rc4 cipher: %w", err)
	}
	wc, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating write rc4 cipher: %w", err)
	}
	return &CipherConn{Conn: conn, readCipher: rc, writeCipher: wc}, nil
}

func (c *CipherConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.readCipher.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

func (c *CipherConn) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	c.writeCipher.XORKeyStream(buf, p)
	return c.Conn.Write(buf)
}

var _ io.ReadWriteCloser = (*CipherConn)(nil)

// Package game is the stub game sub-server: it completes the connection
// bootstrap (service header + crypt handshake) so the client doesn't see
// a reset, then idles until disconnect. Game-world behavior is out of
// scope for this build.
package game

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/nimue-net/uruserver/internal/codec/handshake"
	"github.com/nimue-net/uruserver/internal/protocol"
)

// serviceHeaderSize is the Game service header: u32 size=36 then the
// account and age instance UUIDs, all discarded by the stub.
const serviceHeaderSize = 36

// Server accepts game connections and parks them.
type Server struct {
	KeyPair handshake.KeyPair
}

// HandleConn completes the handshake and then discards whatever the
// client sends until it hangs up or ctx is cancelled.
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
		slog.Debug("game: bad service header", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	key, err := handshake.ServerExchange(conn, s.KeyPair)
	if err != nil {
		slog.Debug("game: handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	cc, err := handshake.NewCipherConn(conn, key[:])
	if err != nil {
		slog.Error("game: wrapping cipher conn", "error", err)
		return
	}

	slog.Debug("game: stub connection parked", "remote", conn.RemoteAddr())
	_, _ = io.Copy(io.Discard, cc)
	slog.Debug("game: stub connection closed", "remote", conn.RemoteAddr())
}

func skipServiceHeader(r io.Reader) error {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return fmt.Errorf("reading service header: %w", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size != serviceHeaderSize {
		return fmt.Errorf("service header size %d, want %d", size, serviceHeaderSize)
	}
	rest := make([]byte, size-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return fmt.Errorf("reading service header body: %w", err)
	}
	return nil
}

// Package gatekeeper implements the GateKeeper sub-protocol: the client's
// very first encrypted exchange, used only to learn the auth and file
// server addresses and to ping.
package gatekeeper

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/nimue-net/uruserver/internal/codec/handshake"
	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/protocol"
)

// Message ids, client -> server.
const (
	msgPing                    = 0
	msgFileServIPAddressRequest = 1
	msgAuthServIPAddressRequest = 2
)

// Message ids, server -> client.
const (
	replyPingReply                = 0
	replyFileServIPAddressReply   = 1
	replyAuthServIPAddressReply   = 2
)

// serviceHeaderSize is the Auth/GateKeeper service header: u32 size=20,
// 16-byte nil uuid (discarded).
const serviceHeaderSize = 20

// Server handles GateKeeper connections.
type Server struct {
	KeyPair    handshake.KeyPair
	FileServIP string
	AuthServIP string
}

// HandleConn runs the GateKeeper protocol over conn until the client
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
		slog.Debug("gatekeeper: bad service header", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	key, err := handshake.ServerExchange(conn, s.KeyPair)
	if err != nil {
		slog.Debug("gatekeeper: handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	cc, err := handshake.NewCipherConn(conn, key[:])
	if err != nil {
		slog.Error("gatekeeper: wrapping cipher conn", "error", err)
		return
	}

	for {
		if err := s.handleMessage(cc); err != nil {
			if err != io.EOF {
				slog.Debug("gatekeeper: connection closed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
	}
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

func (s *Server) handleMessage(rw io.ReadWriter) error {
	var idBuf [2]byte
	if _, err := io.ReadFull(rw, idBuf[:]); err != nil {
		return err
	}
	msgID := binary.LittleEndian.Uint16(idBuf[:])

	switch msgID {
	case msgPing:
		return s.handlePing(rw)
	case msgFileServIPAddressRequest:
		// The request carries a from_patcher byte after the transaction
		// id; both patcher and client get the same answer.
		return s.handleAddrRequest(rw, replyFileServIPAddressReply, s.FileServIP, true)
	case msgAuthServIPAddressRequest:
		return s.handleAddrRequest(rw, replyAuthServIPAddressReply, s.AuthServIP, false)
	default:
		return fmt.Errorf("gatekeeper: unknown message id %d", msgID)
	}
}

func (s *Server) handlePing(rw io.ReadWriter) error {
	var head [8]byte // trans_id, ping_time
	if _, err := io.ReadFull(rw, head[:]); err != nil {
		return fmt.Errorf("reading ping header: %w", err)
	}
	payload, err := netio.ReadSizedBuffer(rw, netio.MaxPingPayload)
	if err != nil {
		return fmt.Errorf("reading ping payload: %w", err)
	}

	reply := make([]byte, 0, 14+len(payload))
	reply = append(reply, idBytes(replyPingReply)...)
	reply = append(reply, head[:]...)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	reply = append(reply, sizeBuf[:]...)
	reply = append(reply, payload...)
	_, err = rw.Write(reply)
	return err
}

func (s *Server) handleAddrRequest(rw io.ReadWriter, replyID uint16, addr string, fromPatcher bool) error {
	var transBuf [4]byte
	if _, err := io.ReadFull(rw, transBuf[:]); err != nil {
		return fmt.Errorf("reading address request transaction id: %w", err)
	}
	if fromPatcher {
		var flag [1]byte
		if _, err := io.ReadFull(rw, flag[:]); err != nil {
			return fmt.Errorf("reading from-patcher flag: %w", err)
		}
	}
	if _, err := rw.Write(idBytes(replyID)); err != nil {
		return err
	}
	if _, err := rw.Write(transBuf[:]); err != nil {
		return err
	}
	return netio.WriteUTF16String(rw, addr)
}

func idBytes(id uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], id)
	return buf[:]
}

// Package protocol implements the lobby demultiplexer that every incoming
// TCP connection passes through before being handed to a sub-server.
package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/nimue-net/uruserver/internal/codec/netio"
)

// lobbyHeaderSize is the fixed size of the header every connection opens
// with: conn_type, size, build_id, build_type, branch_id, product uuid.
const lobbyHeaderSize = 31

// Connection type tags carried in the lobby header.
const (
	ConnTypeAuth       = 10
	ConnTypeGame       = 11
	ConnTypeFile       = 16
	ConnTypeCSR        = 20
	ConnTypeGateKeeper = 22
)

// Header is the decoded 31-byte lobby prefix every connection sends before
// any sub-protocol bytes.
type Header struct {
	ConnType  uint8
	BuildID   uint32
	BuildType uint32
	BranchID  uint32
	ProductID uuid.UUID
}

// ReadHeader decodes the fixed lobby header from r, rejecting anything
// whose declared size isn't exactly lobbyHeaderSize.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [lobbyHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("reading lobby header: %w", err)
	}
	connType := buf[0]
	size := binary.LittleEndian.Uint16(buf[1:3])
	if size != lobbyHeaderSize {
		return Header{}, fmt.Errorf("lobby header size %d, want %d", size, lobbyHeaderSize)
	}
	h := Header{
		ConnType:  connType,
		BuildID:   binary.LittleEndian.Uint32(buf[3:7]),
		BuildType: binary.LittleEndian.Uint32(buf[7:11]),
		BranchID:  binary.LittleEndian.Uint32(buf[11:15]),
	}
	productID, err := netio.ReadUUID(bytes.NewReader(buf[15:31]))
	if err != nil {
		return Header{}, fmt.Errorf("reading lobby header product id: %w", err)
	}
	h.ProductID = productID
	return h, nil
}

// SubServer handles one accepted connection after the lobby header has
// been consumed and the connection type identified.
type SubServer interface {
	HandleConn(ctx context.Context, conn net.Conn, header Header)
}

// Lobby is the single TCP listener every client dials first; it demuxes
// each connection to the Auth, Game, File, or GateKeeper sub-server by
// conn_type. With no Game sub-server configured, game connections are
// accepted and immediately closed.
type Lobby struct {
	Auth       SubServer
	Game       SubServer
	File       SubServer
	GateKeeper SubServer

	mu       sync.Mutex
	listener net.Listener
}

// Run listens on addr and serves connections until ctx is cancelled.
func (l *Lobby) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	return l.Serve(ctx, ln)
}

// Addr returns the listener's address, or nil before Run has bound one.
func (l *Lobby) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections off ln until ctx is cancelled, dispatching
// each to its sub-server in its own goroutine.
func (l *Lobby) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	slog.Info("lobby listening", "address", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			select {
			case <-ctx.Done():
				break
			default:
			}
			slog.Error("lobby accept failed", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handleConn(ctx, conn)
		}()
	}
	wg.Wait()
	return nil
}

func (l *Lobby) handleConn(ctx context.Context, conn net.Conn) {
	header, err := ReadHeader(conn)
	if err != nil {
		slog.Debug("lobby: rejecting connection", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	switch header.ConnType {
	case ConnTypeAuth:
		l.Auth.HandleConn(ctx, conn, header)
	case ConnTypeFile:
		l.File.HandleConn(ctx, conn, header)
	case ConnTypeGateKeeper:
		l.GateKeeper.HandleConn(ctx, conn, header)
	case ConnTypeGame:
		if l.Game != nil {
			l.Game.HandleConn(ctx, conn, header)
			return
		}
		slog.Debug("lobby: game connection accepted and closed (no game sub-server)", "remote", conn.RemoteAddr())
		conn.Close()
	case ConnTypeCSR:
		slog.Info("lobby: rejecting CSR connection", "remote", conn.RemoteAddr())
		conn.Close()
	default:
		slog.Warn("lobby: unknown conn_type", "conn_type", header.ConnType, "remote", conn.RemoteAddr())
		conn.Close()
	}
}

// Package server wires the whole service together: configuration, the
// vault engine over its store, the SDL descriptor database, the startup
// data-cache passes, and the lobby with its four sub-servers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nimue-net/uruserver/internal/codec/filecrypt"
	"github.com/nimue-net/uruserver/internal/config"
	"github.com/nimue-net/uruserver/internal/manifest"
	"github.com/nimue-net/uruserver/internal/protocol"
	"github.com/nimue-net/uruserver/internal/protocol/auth"
	"github.com/nimue-net/uruserver/internal/protocol/file"
	"github.com/nimue-net/uruserver/internal/protocol/game"
	"github.com/nimue-net/uruserver/internal/protocol/gatekeeper"
	"github.com/nimue-net/uruserver/internal/sdl"
	"github.com/nimue-net/uruserver/internal/vault"
)

// Server owns the engine and lobby for one configured instance.
type Server struct {
	cfg    config.Server
	engine *vault.Engine
	lobby  *protocol.Lobby
}

// New prepares a Server: initializes the vault over store, loads or
// creates the NTD key, runs the configured secure-file and manifest-cache
// passes, parses the SDL descriptors, and builds the sub-servers. Nothing
// is listening until Run.
func New(ctx context.Context, cfg config.Server, store vault.Store) (*Server, error) {
	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating data root: %w", err)
	}

	engine := vault.NewEngine(store)
	if err := engine.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing vault: %w", err)
	}

	ntdKey, err := manifest.LoadOrCreateNTDKey(cfg.NTDKeyPath())
	if err != nil {
		return nil, fmt.Errorf("loading NTD key: %w", err)
	}

	if cfg.SecureFiles {
		if err := manifest.SecureSDLFiles(cfg.DataRoot, ntdKey); err != nil {
			return nil, fmt.Errorf("securing SDL files: %w", err)
		}
		if err := manifest.CompilePythonPak(cfg.DataRoot, cfg.PythonInterpreter, ntdKey); err != nil {
			return nil, fmt.Errorf("compiling python pak: %w", err)
		}
	}

	sdlDB, err := loadDescriptors(cfg.DataRoot, ntdKey)
	if err != nil {
		return nil, fmt.Errorf("loading SDL descriptors: %w", err)
	}

	if cfg.CacheManifests {
		if err := manifest.RefreshCaches(cfg.DataRoot); err != nil {
			return nil, fmt.Errorf("caching manifests: %w", err)
		}
	}

	authKeys, err := cfg.AuthKeys.Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding auth keys: %w", err)
	}
	gameKeys, err := cfg.GameKeys.Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding game keys: %w", err)
	}
	gateKeys, err := cfg.GateKeys.Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding gate keys: %w", err)
	}

	lobby := &protocol.Lobby{
		Auth: &auth.Server{
			KeyPair:        authKeys,
			Vault:          engine,
			SDL:            sdlDB,
			DataRoot:       cfg.DataRoot,
			BuildID:        cfg.BuildIDs.Client,
			RestrictLogins: cfg.RestrictLogins,
			NTDKey:         ntdKey,
		},
		Game: &game.Server{KeyPair: gameKeys},
		File: &file.Server{
			DataRoot: cfg.DataRoot,
			BuildID:  cfg.BuildIDs.Client,
		},
		GateKeeper: &gatekeeper.Server{
			KeyPair:    gateKeys,
			FileServIP: cfg.FileServIP,
			AuthServIP: cfg.AuthServIP,
		},
	}

	return &Server{cfg: cfg, engine: engine, lobby: lobby}, nil
}

// Run serves until ctx is cancelled: the vault engine and the lobby's
// accept loop share one errgroup, so a fatal listener error tears the
// whole process down together.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.engine.Run(ctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
		return s.lobby.Run(ctx, addr)
	})
	return g.Wait()
}

// Addr returns the lobby's bound address, nil before Run has bound one.
func (s *Server) Addr() net.Addr { return s.lobby.Addr() }

// Vault exposes the engine for tooling and tests.
func (s *Server) Vault() *vault.Engine { return s.engine }

// loadDescriptors parses every .sdl file under <dataRoot>/SDL into one
// descriptor database, unwrapping file-crypt envelopes as needed.
func loadDescriptors(dataRoot string, ntdKey [4]uint32) (*sdl.DB, error) {
	db := sdl.NewDB()
	root := filepath.Join(dataRoot, "SDL")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sdl") {
			continue
		}
		path := filepath.Join(root, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		plain, err := filecrypt.Decode(raw, ntdKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", path, err)
		}
		if err := db.LoadSource(string(plain)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		count++
	}
	if count > 0 {
		slog.Info("loaded SDL descriptors", "files", count)
	}
	return db, nil
}

